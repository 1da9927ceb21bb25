package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the Store interface with a shared redis instance, which
// is also the cross-node pub/sub transport.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, storeErr("parse-url", url, err)
	}

	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return storeErr("ping", "", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return storeErr("set", key, s.client.Set(ctx, key, value, 0).Err())
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, storeErr("del", keys[0], err)
	}
	return n, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, storeErr("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, storeErr("incrby", key, err)
	}
	return n, nil
}

func (s *RedisStore) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.DecrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, storeErr("decrby", key, err)
	}
	return n, nil
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.client.RPush(ctx, key, args...).Result()
	if err != nil {
		return 0, storeErr("rpush", key, err)
	}
	return n, nil
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.client.LPush(ctx, key, args...).Result()
	if err != nil {
		return 0, storeErr("lpush", key, err)
	}
	return n, nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, storeErr("lrange", key, err)
	}
	return vals, nil
}

func (s *RedisStore) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := s.client.LRem(ctx, key, count, value).Result()
	if err != nil {
		return 0, storeErr("lrem", key, err)
	}
	return n, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return storeErr("hset", key, s.client.HSet(ctx, key, field, value).Err())
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("hget", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, storeErr("hgetall", key, err)
	}
	return vals, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return storeErr("sadd", key, s.client.SAdd(ctx, key, args...).Err())
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return storeErr("srem", key, s.client.SRem(ctx, key, args...).Err())
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	vals, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, storeErr("smembers", key, err)
	}
	return vals, nil
}

func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, storeErr("scan", pattern, err)
	}

	return keys, nil
}

func (s *RedisStore) DelPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.Del(ctx, keys...)
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return storeErr("publish", channel, s.client.Publish(ctx, channel, payload).Err())
}

func (s *RedisStore) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	pubsub := s.client.PSubscribe(ctx, pattern)

	// Force the subscription onto the wire before returning, so callers
	// never miss messages published right after this call.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, storeErr("psubscribe", pattern, err)
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan PubSubMessage, 100),
	}
	go sub.pump()

	return sub, nil
}

func (s *RedisStore) Close() error {
	return storeErr("close", "", s.client.Close())
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan PubSubMessage
}

func (s *redisSubscription) pump() {
	defer close(s.messages)

	for msg := range s.pubsub.Channel() {
		s.messages <- PubSubMessage{
			Channel: msg.Channel,
			Payload: msg.Payload,
		}
	}
}

func (s *redisSubscription) Messages() <-chan PubSubMessage {
	return s.messages
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
