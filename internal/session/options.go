package session

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Option configures a Registry.
type Option func(*registryConfig)

type registryConfig struct {
	ttl         time.Duration
	redisClient *redis.Client
	keyPrefix   string
}

// WithTTL sets how long a stop flag lives when nothing removes it.
func WithTTL(ttl time.Duration) Option {
	return func(c *registryConfig) {
		c.ttl = ttl
	}
}

// WithRedisClient sets the client for the redis registry. The registry
// takes ownership and closes it on Close.
func WithRedisClient(client *redis.Client) Option {
	return func(c *registryConfig) {
		c.redisClient = client
	}
}

// WithKeyPrefix namespaces redis keys, e.g. "localllama:".
func WithKeyPrefix(prefix string) Option {
	return func(c *registryConfig) {
		c.keyPrefix = prefix
	}
}
