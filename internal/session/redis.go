package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRegistry stores stop flags as expiring keys so that replicas behind a
// load balancer share them.
type redisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (r *redisRegistry) key(id string) string {
	return r.prefix + "stop:" + id
}

func (r *redisRegistry) Clear(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *redisRegistry) SignalStop(ctx context.Context, id string) error {
	return r.client.Set(ctx, r.key(id), "1", r.ttl).Err()
}

func (r *redisRegistry) IsStopped(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisRegistry) Remove(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *redisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisRegistry) Close() error {
	return r.client.Close()
}
