// Package redis backs the cart store's durable key-value storage with Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gamevault/api/internal/cart"
)

const defaultCartKeyPrefix = "gamevault:cart:"

// CartStorage implements cart.Storage. Every write refreshes the TTL so abandoned carts expire.
type CartStorage struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// CartStorageOption customises CartStorage.
type CartStorageOption func(*CartStorage)

// WithKeyPrefix namespaces keys.
func WithKeyPrefix(prefix string) CartStorageOption {
	return func(s *CartStorage) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL sets key expiry. Zero keeps keys forever.
func WithTTL(ttl time.Duration) CartStorageOption {
	return func(s *CartStorage) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// NewCartStorage wraps client.
func NewCartStorage(client goredis.UniversalClient, opts ...CartStorageOption) (*CartStorage, error) {
	if client == nil {
		return nil, errors.New("redis cart storage: client is required")
	}
	s := &CartStorage{client: client, prefix: defaultCartKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *CartStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cart.ErrStorageMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cart storage: get: %w", err)
	}
	return data, nil
}

func (s *CartStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis cart storage: set: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable; used by readiness checks.
func (s *CartStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *CartStorage) key(key string) string {
	return s.prefix + key
}
