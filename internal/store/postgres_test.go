package store

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	doc []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.doc
	return nil
}

type fakeDB struct {
	rows  map[string][]byte
	execs []string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if strings.Contains(sql, "INSERT INTO outreach_state") {
		f.rows[args[0].(string)] = args[1].([]byte)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	doc, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{doc: doc}
}

func TestPostgresBacking_LoadSave(t *testing.T) {
	db := &fakeDB{rows: map[string][]byte{}}
	b := NewPostgresBacking(db, "")

	if err := b.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	if !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS outreach_state") {
		t.Fatalf("unexpected migration sql: %q", db.execs[0])
	}

	raw, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() on empty table error: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected nil document, got %q", raw)
	}

	if err := b.Save(context.Background(), []byte(`{"items":[]}`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got := string(db.rows[DefaultKey]); got != `{"items":[]}` {
		t.Fatalf("unexpected stored document %q", got)
	}

	raw, err = b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(raw) != `{"items":[]}` {
		t.Fatalf("unexpected loaded document %q", raw)
	}
}
