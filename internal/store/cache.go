package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/metrics"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache key and channel names
const (
	KeyModels         = "qp:genai:models"
	ChannelPostEvents = "qp:events:posts"
)

const memoryJanitorInterval = time.Minute

type Cache struct {
	// set when Redis answered the startup ping
	client *redis.Client
	// in-process fallbacks used otherwise
	mem *memoryStore
	hub *pubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to Redis at addr and falls back to an in-process
// store when the server does not answer.
func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		logger.Infow("no Redis address configured; using in-memory cache")
		return NewMemoryCache(logger, m), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache", "addr", addr, "error", err)
		_ = client.Close()
		return NewMemoryCache(logger, m), nil
	}

	logger.Infow("connected to Redis", "addr", addr)
	return &Cache{
		client:  client,
		logger:  logger,
		metrics: m,
	}, nil
}

func NewMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		mem:     newMemoryStore(memoryJanitorInterval),
		hub:     newPubSubHub(),
		logger:  logger,
		metrics: m,
	}
}

// keyPrefix keeps metric cardinality bounded by dropping ids from keys.
func keyPrefix(key string) string {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, ":")
}

// Get decodes the JSON value stored at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				c.metrics.RecordCacheMiss(ctx, keyPrefix(key))
				return ErrCacheMiss
			}
			c.logger.Errorw("cache get error", "key", key, "error", err)
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	} else {
		val, ok := c.mem.get(key)
		if !ok {
			c.metrics.RecordCacheMiss(ctx, keyPrefix(key))
			return ErrCacheMiss
		}
		data = val
	}

	c.metrics.RecordCacheHit(ctx, keyPrefix(key))
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// Set stores value as JSON. A zero ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Errorw("cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	c.mem.set(key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Errorw("cache delete error", "keys", keys, "error", err)
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	c.mem.del(keys...)
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	return c.mem.exists(key), nil
}

// Publish sends message as JSON to every subscriber of channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	n := c.hub.publish(channel, string(data))
	c.logger.Debugw("published to in-memory pubsub", "channel", channel, "subscribers", n)
	return nil
}

// Subscribe returns a subscription that ends when ctx is cancelled or
// the subscription is closed.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *Subscription {
	if c.client == nil {
		return c.hub.subscribe(ctx, channels...)
	}

	ps := c.client.Subscribe(ctx, channels...)
	sub := newSubscription(channels)
	sub.onClose = ps.Close

	go func() {
		for msg := range ps.Channel() {
			sub.deliver(&Message{Channel: msg.Channel, Payload: msg.Payload})
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closeCh:
		}
	}()
	return sub
}

func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	c.mem.close()
	return nil
}
