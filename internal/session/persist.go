package session

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// Persister stores and retrieves the opaque register snapshot. The blob is
// owned entirely by the Store; implementations never inspect it.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// RedisPersister keeps the register snapshot under a single Redis key.
type RedisPersister struct {
	R   *redis.Client
	Key string
}

func (p RedisPersister) key() string {
	if p.Key == "" {
		return "kasir:register"
	}
	return p.Key
}

// Load returns the stored snapshot, or nil when none exists yet.
func (p RedisPersister) Load(ctx context.Context) ([]byte, error) {
	data, err := p.R.Get(ctx, p.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load register snapshot: %w", err)
	}
	return data, nil
}

// Save overwrites the stored snapshot.
func (p RedisPersister) Save(ctx context.Context, blob []byte) error {
	if err := p.R.Set(ctx, p.key(), blob, 0).Err(); err != nil {
		return fmt.Errorf("save register snapshot: %w", err)
	}
	return nil
}
