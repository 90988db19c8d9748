package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx used by PostgresBacking.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBacking keeps the document as one jsonb row keyed by name.
type PostgresBacking struct {
	db  DBTX
	key string
}

var _ Backing = (*PostgresBacking)(nil)

func NewPostgresBacking(db DBTX, key string) *PostgresBacking {
	if key == "" {
		key = DefaultKey
	}
	return &PostgresBacking{db: db, key: key}
}

// Migrate creates the state table if it does not exist.
func (p *PostgresBacking) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outreach_state (
			key        text PRIMARY KEY,
			doc        jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (p *PostgresBacking) Load(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := p.db.QueryRow(ctx, `
		SELECT doc
		FROM outreach_state
		WHERE key = $1
	`, p.key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresBacking) Save(ctx context.Context, doc []byte) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO outreach_state (key, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET doc = EXCLUDED.doc,
		    updated_at = now()
	`, p.key, doc)
	return err
}
