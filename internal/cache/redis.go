package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// ErrTokenNotFound is returned when a token is unknown, expired or used.
var ErrTokenNotFound = utils.NewAppError(utils.ErrCodeValidation, "Invalid or expired token")

// Cache wraps a Redis client with JSON values, one-shot tokens and queues
type Cache struct {
	client         *redis.Client
	prefix         string
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// New creates a cache from configuration. The connection is established
// lazily on first use.
func New(cfg config.CacheConfig, metricsManager *metrics.Manager) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid Redis URL", err.Error())
	}

	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	return NewWithClient(redis.NewClient(opts), cfg.KeyPrefix, metricsManager), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, prefix string, metricsManager *metrics.Manager) *Cache {
	return &Cache{
		client:         client,
		prefix:         prefix,
		logger:         utils.Component("cache"),
		metricsManager: metricsManager,
	}
}

// Client returns the underlying Redis client
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

func (c *Cache) record(operation, result string) {
	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().RecordCacheOperation(operation, result)
	}
}

// GetJSON loads key into dest and reports whether it was present
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record("get", "miss")
		return false, nil
	}
	if err != nil {
		c.record("get", "error")
		return false, utils.NewAppError(utils.ErrCodeConnection, "Cache read failed", err.Error())
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.record("get", "error")
		return false, utils.NewAppError(utils.ErrCodeInternal, "Cached value is corrupt", err.Error())
	}
	c.record("get", "hit")
	return true, nil
}

// SetJSON stores value under key for ttl
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode cache value", err.Error())
	}

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.record("set", "error")
		return utils.NewAppError(utils.ErrCodeConnection, "Cache write failed", err.Error())
	}
	c.record("set", "ok")
	return nil
}

// Delete removes keys
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Cache delete failed", err.Error())
	}
	return nil
}

func tokenKey(kind, token string) string {
	return "token:" + kind + ":" + token
}

// PutToken stores a one-shot token of the given kind
func (c *Cache) PutToken(ctx context.Context, kind, token, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(tokenKey(kind, token)), value, ttl).Err(); err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to store token", err.Error())
	}
	return nil
}

// ConsumeToken returns the token's value and deletes it atomically. Unknown
// or expired tokens yield ErrTokenNotFound.
func (c *Cache) ConsumeToken(ctx context.Context, kind, token string) (string, error) {
	key := c.key(tokenKey(kind, token))

	var get *redis.StringCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", utils.NewAppError(utils.ErrCodeConnection, "Failed to consume token", err.Error())
	}

	value, err := get.Result()
	if errors.Is(err, redis.Nil) {
		c.record("token", "miss")
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeConnection, "Failed to consume token", err.Error())
	}
	c.record("token", "hit")
	return value, nil
}

// Enqueue pushes payload onto the head of queue
func (c *Cache) Enqueue(ctx context.Context, queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode queue item", err.Error())
	}
	if err := c.client.LPush(ctx, c.key(queue), data).Err(); err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to enqueue", err.Error())
	}
	return nil
}

// Dequeue blocks up to timeout for the oldest item of queue and decodes it
// into dest. It reports false when the timeout elapsed with the queue empty.
func (c *Cache) Dequeue(ctx context.Context, queue string, timeout time.Duration, dest interface{}) (bool, error) {
	result, err := c.client.BRPop(ctx, timeout, c.key(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, utils.NewAppError(utils.ErrCodeConnection, "Failed to dequeue", err.Error())
	}

	// result is [queue, value]
	if err := json.Unmarshal([]byte(result[1]), dest); err != nil {
		c.logger.WithError(err).WithField("queue", queue).Error("Dropping undecodable queue item")
		return false, utils.NewAppError(utils.ErrCodeInternal, "Failed to decode queue item", err.Error())
	}
	return true, nil
}

// QueueLength returns the number of items waiting in queue
func (c *Cache) QueueLength(ctx context.Context, queue string) (int64, error) {
	n, err := c.client.LLen(ctx, c.key(queue)).Result()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Failed to read queue length", err.Error())
	}
	return n, nil
}
