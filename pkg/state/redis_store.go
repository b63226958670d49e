package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis as JSON records.
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix. Defaults to "querystate:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithRedisTTL expires partitions after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore[T any](redisURL string, opts ...RedisOption) (*RedisStore[T], error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("state: parse redis url: %w", err)
	}

	client := redis.NewClient(options)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("state: connect to redis: %w", err)
	}
	return NewRedisStoreWithClient[T](client, opts...), nil
}

// NewRedisStoreWithClient creates a store from an existing client.
func NewRedisStoreWithClient[T any](client *redis.Client, opts ...RedisOption) *RedisStore[T] {
	cfg := redisOptions{prefix: "querystate:"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &RedisStore[T]{client: client, prefix: cfg.prefix, ttl: cfg.ttl}
}

func (s *RedisStore[T]) key(ref Ref) (string, error) {
	id, err := ref.Identifier()
	if err != nil {
		return "", err
	}
	return s.prefix + id, nil
}

func (s *RedisStore[T]) Load(ctx context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := s.key(ref)
	if err != nil {
		return zero, Meta{}, false, err
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return zero, Meta{}, false, nil
	}
	if err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: redis load %s: %w", key, err)
	}

	snapshot, meta, err := decodeRecord[T](data)
	if err != nil {
		return zero, Meta{}, false, err
	}
	return snapshot, meta, true, nil
}

func (s *RedisStore[T]) Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := s.key(ref)
	if err != nil {
		return Meta{}, err
	}
	data, err := encodeRecord(snapshot, meta)
	if err != nil {
		return Meta{}, err
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return Meta{}, fmt.Errorf("state: redis save %s: %w", key, err)
	}
	return cloneMeta(meta), nil
}

// SaveIf watches the key, compares the stored ETag with etag and writes in a
// MULTI/EXEC block. A write by another client in between fails the save.
func (s *RedisStore[T]) SaveIf(ctx context.Context, ref Ref, etag string, snapshot T, meta Meta) (Meta, error) {
	key, err := s.key(ref)
	if err != nil {
		return Meta{}, err
	}
	data, err := encodeRecord(snapshot, meta)
	if err != nil {
		return Meta{}, err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored := ""
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			_, storedMeta, err := decodeRecord[T](current)
			if err != nil {
				return err
			}
			stored = storedMeta.ETag
		}
		if stored != etag {
			return mismatch(etag, stored)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return cloneMeta(meta), nil
	case errors.Is(err, ErrETagMismatch):
		return Meta{}, err
	case errors.Is(err, redis.TxFailedErr):
		return Meta{}, fmt.Errorf("%w: %s changed during save", ErrETagMismatch, key)
	default:
		return Meta{}, fmt.Errorf("state: redis save %s: %w", key, err)
	}
}

func (s *RedisStore[T]) Delete(ctx context.Context, ref Ref) error {
	key, err := s.key(ref)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("state: redis delete %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore[T]) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable.
func (s *RedisStore[T]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
