// Package cache provides the content-addressable response cache. Values are
// immutable completed results, so writes are last-write-wins within their
// TTL and reads are eventually consistent: a stale or failed read costs one
// extra provider call, never wrong data.
// Supports both in-memory (single instance) and Redis (distributed) backends.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Store is the backing key-value interface the cache layer requires:
// get, set-with-TTL, and prefix invalidation.
type Store interface {
	Get(ctx context.Context, key string) (*domain.Result, bool)
	Set(ctx context.Context, key string, res *domain.Result, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type InMemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*item
	stop      chan struct{}
	closeOnce sync.Once
}

type item struct {
	result    *domain.Result
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{items: make(map[string]*item), stop: make(chan struct{})}
	go s.cleanup()
	return s
}

// Close stops the expiry janitor. Safe to call more than once.
func (s *InMemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (*domain.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}

	// Copy so callers can set Cached without mutating the stored value.
	res := *it.result
	return &res, true
}

func (s *InMemoryStore) Set(ctx context.Context, key string, res *domain.Result, ttl time.Duration) error {
	cp := *res

	s.mu.Lock()
	s.items[key] = &item{result: &cp, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()

	return nil
}

func (s *InMemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			delete(s.items, key)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, it := range s.items {
				if now.After(it.expiresAt) {
					delete(s.items, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.Result, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var res domain.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}

	return &res, true
}

func (s *RedisStore) Set(ctx context.Context, key string, res *domain.Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var deleted int
	iter := s.client.Scan(ctx, 0, prefix+"*", 500).Iterator()

	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			n, err := s.client.Del(ctx, batch...).Result()
			deleted += int(n)
			if err != nil {
				return deleted, err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if len(batch) > 0 {
		n, err := s.client.Del(ctx, batch...).Result()
		deleted += int(n)
		if err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
