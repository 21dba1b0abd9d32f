package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertDeduplicator suppresses repeat alerts for the same caller and level.
// With multiple gateway instances the Redis implementation guarantees only
// one instance dispatches each alert.
type AlertDeduplicator interface {
	// ShouldAlert reports whether this alert is new and should be sent.
	ShouldAlert(ctx context.Context, userID string, level AlertLevel) bool

	// ClearAlert drops the alert state for a caller, re-arming all levels.
	ClearAlert(ctx context.Context, userID string)
}

// InMemoryDeduplicator tracks the last alert level per caller in process
// memory. Suitable for single-instance deployments.
type InMemoryDeduplicator struct {
	mu         sync.Mutex
	lastAlerts map[string]AlertLevel
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{lastAlerts: make(map[string]AlertLevel)}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, userID string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastAlerts[userID]; ok && last == level {
		return false
	}

	d.lastAlerts[userID] = level
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, userID string) {
	d.mu.Lock()
	delete(d.lastAlerts, userID)
	d.mu.Unlock()
}

// RedisDeduplicator shares alert state across instances. SETNX makes the
// check-and-set atomic: exactly one instance wins each alert.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

// NewRedisDeduplicator connects to Redis. lockTTL bounds how long an alert
// stays suppressed; an hour is reasonable for budgets that reset monthly.
func NewRedisDeduplicator(redisURL string, lockTTL time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDeduplicator{client: client, lockTTL: lockTTL}, nil
}

func NewRedisDeduplicatorWithClient(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, lockTTL: lockTTL}
}

func (d *RedisDeduplicator) alertKey(userID string, level AlertLevel) string {
	return fmt.Sprintf("budget:alert:%s:%s", userID, level)
}

func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, userID string, level AlertLevel) bool {
	acquired, err := d.client.SetNX(ctx, d.alertKey(userID, level), time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		// On Redis error, allow the alert (fail open).
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) ClearAlert(ctx context.Context, userID string) {
	pattern := fmt.Sprintf("budget:alert:%s:*", userID)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	d.client.Del(ctx, keys...)
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
