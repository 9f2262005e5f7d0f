package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

// Retrier runs an operation, retrying it on failure
type Retrier interface {
	Do(ctx context.Context, operation func(context.Context) error) error
}

// Client is a byte-oriented Redis cache. Keys are namespaced with the
// configured prefix and values are optionally LZ4 compressed.
type Client struct {
	config  common.RedisConfig
	client  *redis.Client
	retrier Retrier
	logger  *zap.Logger
}

// NewClient connects to Redis and verifies the connection. A nil retrier runs
// every call once.
func NewClient(config common.RedisConfig, retrier Retrier, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := common.ValidatePort("redis", config.Port); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:        config.Address(),
		Password:    config.Password,
		DB:          config.Database,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
		IdleTimeout: config.IdleTimeout,
		// retries are owned by the retrier
		MaxRetries: -1,
	}

	c := &Client{
		config:  config,
		client:  redis.NewClient(opts),
		retrier: retrier,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		_ = c.client.Close()
		return nil, err
	}

	logger.Info("Redis cache client initialized",
		zap.String("address", config.Address()),
		zap.Int("database", config.Database),
		zap.Bool("compression", config.Compression))

	return c, nil
}

func (c *Client) key(key string) string {
	if c.config.KeyPrefix == "" {
		return key
	}
	return c.config.KeyPrefix + ":" + key
}

func (c *Client) do(ctx context.Context, operation func(context.Context) error) error {
	if c.retrier == nil {
		return operation(ctx)
	}
	return c.retrier.Do(ctx, operation)
}

// Ping tests the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Ping(ctx).Err()
	})
	return errors.Wrap(err, "failed to ping redis")
}

// Get returns the value stored under key. A missing key is a miss, not an error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	found := false

	err := c.do(ctx, func(ctx context.Context) error {
		value, err := c.client.Get(ctx, c.key(key)).Bytes()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		data, found = value, true
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	if !found {
		return nil, false, nil
	}

	value, err := unframe(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return value, true, nil
}

// Set stores value under key with ttl. A ttl of zero never expires.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload, err := frame(value, c.config.Compression)
	if err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}

	err = c.do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, c.key(key), payload, ttl).Err()
	})
	return errors.Wrapf(err, "redis set %s", key)
}

// Delete removes key
func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, c.key(key)).Err()
	})
	return errors.Wrapf(err, "redis del %s", key)
}

// Stats returns connection pool counters
func (c *Client) Stats() map[string]string {
	stats := c.client.PoolStats()
	return map[string]string{
		"hits":        strconv.FormatUint(uint64(stats.Hits), 10),
		"misses":      strconv.FormatUint(uint64(stats.Misses), 10),
		"timeouts":    strconv.FormatUint(uint64(stats.Timeouts), 10),
		"total_conns": strconv.FormatUint(uint64(stats.TotalConns), 10),
		"idle_conns":  strconv.FormatUint(uint64(stats.IdleConns), 10),
	}
}

// Close closes the Redis connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis cache client")
	return c.client.Close()
}
