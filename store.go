package main

import (
	"context"
	"fmt"
	"strings"
)

// Store is the shared key-value surface the rest of the server is written
// against. Two implementations exist: RedisStore for multi-node deployments
// and MemoryStore for single-node runs and tests. All operations are safe
// for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)

	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// ScanKeys returns all keys matching a glob pattern; DelPattern removes
	// them. Patterns are the usual "prefix*" / "a::*::b" globs.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	DelPattern(ctx context.Context, pattern string) (int64, error)

	Publish(ctx context.Context, channel, payload string) error
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)

	Close() error
}

// PubSubMessage is one delivery from a pattern subscription.
type PubSubMessage struct {
	Channel string
	Payload string
}

// Subscription is a lazy stream of pub/sub deliveries. Messages is closed
// when the subscription ends.
type Subscription interface {
	Messages() <-chan PubSubMessage
	Close() error
}

// StoreError wraps any failure from the underlying store so callers can
// treat storage problems uniformly.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// openStore picks the store implementation from the configured url.
func openStore(cfg *Config) (Store, error) {
	if strings.EqualFold(cfg.redisURL, "memory") {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(cfg.redisURL)
}

// matchGlob reports whether a key matches a redis-style glob pattern.
// Only "*" wildcards are supported, which is all the key layout uses.
func matchGlob(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}

	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(key, parts[i])
		if idx < 0 {
			return false
		}
		key = key[idx+len(parts[i]):]
	}

	return strings.HasSuffix(key, parts[len(parts)-1])
}
