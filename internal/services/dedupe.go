package services

import (
	"context"
	"fmt"
	"time"

	"arena-registration/internal/models"

	"github.com/go-redis/redis/v8"
)

const defaultEventTTL = 24 * time.Hour

// RedisEventDeduper remembers applied provider events in Redis with a TTL
type RedisEventDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisEventDeduper creates a deduper on an existing client
func NewRedisEventDeduper(client *redis.Client, ttl time.Duration) *RedisEventDeduper {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &RedisEventDeduper{client: client, ttl: ttl, prefix: "webhook:event:"}
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis: %w", err)
	}
	return rdb, nil
}

func (d *RedisEventDeduper) key(provider models.PaymentProvider, eventID string) string {
	return d.prefix + string(provider) + ":" + eventID
}

// Seen reports whether the event was marked before
func (d *RedisEventDeduper) Seen(ctx context.Context, provider models.PaymentProvider, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Mark records the event as applied
func (d *RedisEventDeduper) Mark(ctx context.Context, provider models.PaymentProvider, eventID string) error {
	if err := d.client.Set(ctx, d.key(provider, eventID), time.Now().Unix(), d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}
