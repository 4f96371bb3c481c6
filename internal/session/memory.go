package session

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// memoryRegistry keeps stop flags in process. Entries expire after ttl so a
// flag for a session that never streams again is eventually dropped.
type memoryRegistry struct {
	flags     *ttlcache.Cache[string, struct{}]
	closeOnce sync.Once
}

func newMemoryRegistry(ttl time.Duration) *memoryRegistry {
	c := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go c.Start()
	return &memoryRegistry{flags: c}
}

func (r *memoryRegistry) Clear(ctx context.Context, id string) error {
	r.flags.Delete(id)
	return nil
}

func (r *memoryRegistry) SignalStop(ctx context.Context, id string) error {
	r.flags.Set(id, struct{}{}, ttlcache.DefaultTTL)
	return nil
}

func (r *memoryRegistry) IsStopped(ctx context.Context, id string) (bool, error) {
	return r.flags.Has(id), nil
}

func (r *memoryRegistry) Remove(ctx context.Context, id string) error {
	r.flags.Delete(id)
	return nil
}

func (r *memoryRegistry) Ping(ctx context.Context) error { return nil }

func (r *memoryRegistry) Close() error {
	r.closeOnce.Do(func() {
		r.flags.Stop()
		r.flags.DeleteAll()
	})
	return nil
}

// Len reports the number of live flags.
func (r *memoryRegistry) Len() int {
	return r.flags.Len()
}
