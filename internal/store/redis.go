package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const DefaultKey = "outreach:queue"

// RedisBacking keeps the document under one well-known key with no expiry.
type RedisBacking struct {
	rdb redis.Cmdable
	key string
}

var _ Backing = (*RedisBacking)(nil)

func NewRedisBacking(rdb redis.Cmdable, key string) *RedisBacking {
	if key == "" {
		key = DefaultKey
	}
	return &RedisBacking{rdb: rdb, key: key}
}

func (r *RedisBacking) Load(ctx context.Context) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (r *RedisBacking) Save(ctx context.Context, doc []byte) error {
	return r.rdb.Set(ctx, r.key, doc, 0).Err()
}
