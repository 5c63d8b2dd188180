package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

// MetadataCache is a cache-aside view of vehicle id -> label and route.
// Entries leave on LRU eviction past capacity or after ttl, whichever
// comes first; nothing invalidates them actively.
type MetadataCache struct {
	store   domain.VehicleStore
	entries *expirable.LRU[string, domain.VehicleMeta]
	group   singleflight.Group
}

func NewMetadataCache(store domain.VehicleStore, size int, ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		store:   store,
		entries: expirable.NewLRU[string, domain.VehicleMeta](size, nil, ttl),
	}
}

// Resolve returns the vehicle's metadata. ok is false when the vehicle no
// longer exists; that is not an error and is not cached. Concurrent misses
// for the same id share one store query.
func (c *MetadataCache) Resolve(ctx context.Context, vehicleID string) (meta domain.VehicleMeta, ok bool, err error) {
	if meta, ok := c.entries.Get(vehicleID); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return meta, true, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(vehicleID, func() (any, error) {
		if meta, ok := c.entries.Get(vehicleID); ok {
			return meta, nil
		}
		meta, err := c.store.FindByID(ctx, vehicleID)
		if err != nil {
			return nil, err
		}
		c.entries.Add(vehicleID, meta)
		return meta, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		metrics.CacheLookups.WithLabelValues("not_found").Inc()
		return domain.VehicleMeta{}, false, nil
	}
	if err != nil {
		return domain.VehicleMeta{}, false, fmt.Errorf("resolve vehicle %s: %w", vehicleID, err)
	}
	return v.(domain.VehicleMeta), true, nil
}

// Peek returns a cached entry without touching the store or recency.
func (c *MetadataCache) Peek(vehicleID string) (domain.VehicleMeta, bool) {
	return c.entries.Peek(vehicleID)
}

func (c *MetadataCache) Len() int {
	return c.entries.Len()
}
