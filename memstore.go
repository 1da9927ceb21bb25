package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore is a process-local Store with the same semantics as the redis
// adapter, including pattern pub/sub. It serves single-node deployments
// (--redis-url=memory) and the test suite; nothing outside this file may
// assume which implementation is in use.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	lists   map[string][]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}

	subMu sync.Mutex
	subs  map[*memorySubscription]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		subs:    make(map[*memorySubscription]struct{}),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.strings[key]
	return val, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strings[key] = value
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, key := range keys {
		removed += s.delLocked(key)
	}
	return removed, nil
}

func (s *MemoryStore) delLocked(key string) int64 {
	var removed int64
	if _, ok := s.strings[key]; ok {
		delete(s.strings, key)
		removed++
	}
	if _, ok := s.lists[key]; ok {
		delete(s.lists, key)
		removed++
	}
	if _, ok := s.hashes[key]; ok {
		delete(s.hashes, key)
		removed++
	}
	if _, ok := s.sets[key]; ok {
		delete(s.sets, key)
		removed++
	}
	return removed
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.strings[key]; ok {
		return true, nil
	}
	if _, ok := s.lists[key]; ok {
		return true, nil
	}
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	if _, ok := s.sets[key]; ok {
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if val, ok := s.strings[key]; ok {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, storeErr("incrby", key, fmt.Errorf("value is not an integer"))
		}
		current = parsed
	}

	current += delta
	s.strings[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.IncrBy(ctx, key, -delta)
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], values...)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	s.lists[key] = list
	return int64(len(list)), nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[key]
	length := int64(len(list))

	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || length == 0 {
		return nil, nil
	}

	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirrors redis: count > 0 removes from the head, count < 0 removes
	// |count| from the tail, count == 0 removes every match.
	list := s.lists[key]
	limit := count
	if count == 0 {
		limit = int64(len(list))
	} else if count < 0 {
		limit = -count
	}

	var removed int64
	drop := make([]bool, len(list))
	if count >= 0 {
		for i, v := range list {
			if v == value && removed < limit {
				drop[i] = true
				removed++
			}
		}
	} else {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i] == value && removed < limit {
				drop[i] = true
				removed++
			}
		}
	}

	dst := list[:0]
	for i, v := range list {
		if !drop[i] {
			dst = append(dst, v)
		}
	}

	if len(dst) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = dst
	}
	return removed, nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	hash[field] = value
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.hashes[key][field]
	return val, ok, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.hashes[key]))
	for field, val := range s.hashes[key] {
		out[field] = val
	}
	return out, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range members {
		delete(s.sets[key], m)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.strings {
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range s.lists {
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range s.hashes {
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range s.sets {
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) DelPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return s.Del(ctx, keys...)
}

func (s *MemoryStore) Publish(_ context.Context, channel, payload string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for sub := range s.subs {
		if !matchGlob(sub.pattern, channel) {
			continue
		}
		select {
		case sub.messages <- PubSubMessage{Channel: channel, Payload: payload}:
		default:
			// Slow subscriber: drop, like the redis transport would.
		}
	}
	return nil
}

func (s *MemoryStore) PSubscribe(_ context.Context, pattern string) (Subscription, error) {
	sub := &memorySubscription{
		store:    s,
		pattern:  pattern,
		messages: make(chan PubSubMessage, 100),
	}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	return sub, nil
}

func (s *MemoryStore) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for sub := range s.subs {
		sub.closeOnce.Do(func() { close(sub.messages) })
		delete(s.subs, sub)
	}
	return nil
}

type memorySubscription struct {
	store     *MemoryStore
	pattern   string
	messages  chan PubSubMessage
	closeOnce sync.Once
}

func (s *memorySubscription) Messages() <-chan PubSubMessage {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.store.subMu.Lock()
	delete(s.store.subs, s)
	s.store.subMu.Unlock()

	s.closeOnce.Do(func() { close(s.messages) })
	return nil
}
