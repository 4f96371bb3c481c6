package session

import (
	"context"
	"errors"
	"time"
)

// Kind selects a Registry backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// DefaultStopFlagTTL bounds how long a stop flag outlives its generation.
const DefaultStopFlagTTL = 10 * time.Minute

var (
	// ErrInvalidRegistry is returned for an unknown registry kind.
	ErrInvalidRegistry = errors.New("session: invalid registry kind")
	// ErrInvalidConfig is returned when a backend is missing a required option.
	ErrInvalidConfig = errors.New("session: invalid registry config")
)

// Registry maps session ids to stop flags. All methods are safe for
// concurrent use and each call is atomic with respect to the others.
type Registry interface {
	// Clear drops any stale flag before a new generation starts.
	Clear(ctx context.Context, id string) error
	// SignalStop marks id as stopped. Signalling twice is the same as once.
	SignalStop(ctx context.Context, id string) error
	// IsStopped reports whether a stop was signalled for id.
	IsStopped(ctx context.Context, id string) (bool, error)
	// Remove deletes the entry once the generation for id has ended.
	Remove(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// NewRegistry creates a Registry of the given kind.
// KindRedis requires WithRedisClient.
func NewRegistry(kind Kind, opts ...Option) (Registry, error) {
	cfg := &registryConfig{ttl: DefaultStopFlagTTL, keyPrefix: "localllama:"}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultStopFlagTTL
	}

	switch kind {
	case KindMemory, "":
		return newMemoryRegistry(cfg.ttl), nil
	case KindRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisRegistry{
			client: cfg.redisClient,
			prefix: cfg.keyPrefix,
			ttl:    cfg.ttl,
		}, nil
	default:
		return nil, ErrInvalidRegistry
	}
}
