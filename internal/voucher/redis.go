package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the connection parameters for a Redis-backed store.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string

	// TTL expires unredeemed vouchers. Zero keeps them indefinitely.
	TTL time.Duration
}

// RedisStore is a durable voucher store on Redis. Single-use retrieval is
// implemented with GETDEL, which is atomic per key.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and returns a voucher store.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("voucher: redis address cannot be empty")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "voucher:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("voucher: redis connection failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Put stores the order under the token, applying the configured TTL.
func (s *RedisStore) Put(ctx context.Context, token string, order []byte) error {
	if err := s.client.Set(ctx, s.prefix+token, order, s.ttl).Err(); err != nil {
		return fmt.Errorf("voucher: redis put failed: %w", err)
	}
	return nil
}

// TakeOnce atomically reads and deletes the voucher via GETDEL.
func (s *RedisStore) TakeOnce(ctx context.Context, token string) ([]byte, error) {
	order, err := s.client.GetDel(ctx, s.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("voucher: redis take failed: %w", err)
	}
	return order, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
