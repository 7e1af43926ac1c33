package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is not cached.
var ErrMiss = errors.New("cache miss")

// Cache stores encoded results keyed by image hash and backend.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrMiss }

func (Nop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error { return nil }
