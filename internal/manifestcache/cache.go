// Package manifestcache implements the C3 Manifest Cache: a per-(dataset,
// shard) in-memory snapshot of the latest published manifest plus its
// partitions, invalidated on every C1 publish/replace. Grounded on the
// teacher's infrastructure/cache.Cache — generic key/TTL/version entries
// with an explicit invalidation hook — specialized here to the one key
// shape this component needs instead of the teacher's general string-keyed
// store.
package manifestcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

// Entry is one cached snapshot.
type Entry struct {
	Manifest   manifeststore.ManifestWithPartitions
	CachedAt   time.Time
	Expiration time.Time
}

// Stats tracks hit/miss/invalidation counters, surfaced by callers that
// expose cache-meta in observability endpoints (out of scope here, but the
// counters themselves are cheap to keep so a future caller doesn't need to
// re-plumb them).
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
}

// Cache is the C3 manifest cache.
type Cache struct {
	mu      sync.RWMutex
	keyLock sync.Map // per-key *sync.Mutex, so single-writer-per-key loads don't stampede
	ttl     time.Duration
	entries map[string]Entry
	stats   Stats
}

// New creates a Cache with the given default TTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{ttl: ttl, entries: make(map[string]Entry)}
}

func key(datasetID, shard string) string {
	return datasetID + "/" + shard
}

// Get returns the cached snapshot for (datasetID, shard) if present and
// unexpired.
func (c *Cache) Get(datasetID, shard string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key(datasetID, shard)]
	if !ok || time.Now().After(e.Expiration) {
		c.stats.Misses++
		return Entry{}, false
	}
	c.stats.Hits++
	return e, true
}

// Set stores a snapshot for (datasetID, shard).
func (c *Cache) Set(datasetID, shard string, manifest manifeststore.ManifestWithPartitions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.entries[key(datasetID, shard)] = Entry{Manifest: manifest, CachedAt: now, Expiration: now.Add(c.ttl)}
}

// Invalidate drops the cached entry for (datasetID, shard); called as the
// InvalidationHook passed to manifeststore.PostgresStore.
func (c *Cache) Invalidate(datasetID, shard string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key(datasetID, shard)]; ok {
		delete(c.entries, key(datasetID, shard))
		c.stats.Invalidations++
	}
}

// Stats returns a snapshot of the hit/miss/invalidation counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// keyMutex returns (creating if needed) the per-key lock used to serialize
// concurrent loads of the same (dataset, shard), per the single-writer-
// per-key shared-resource rule in spec.md §5.
func (c *Cache) keyMutex(datasetID, shard string) *sync.Mutex {
	actual, _ := c.keyLock.LoadOrStore(key(datasetID, shard), &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Loader fetches the latest published manifest for (datasetID, shard) on a
// cache miss, normally manifeststore.Store.GetLatestPublishedManifest.
type Loader func(ctx context.Context, datasetID, shard string) (manifeststore.ManifestWithPartitions, bool, error)

// GetOrLoad implements the cache-hit → per-shard DB read → fill order from
// spec.md §4.3's query lookup path.
func (c *Cache) GetOrLoad(ctx context.Context, datasetID, shard string, load Loader) (manifeststore.ManifestWithPartitions, bool, error) {
	if e, ok := c.Get(datasetID, shard); ok {
		return e.Manifest, true, nil
	}

	mu := c.keyMutex(datasetID, shard)
	mu.Lock()
	defer mu.Unlock()

	if e, ok := c.Get(datasetID, shard); ok {
		return e.Manifest, true, nil
	}

	manifest, found, err := load(ctx, datasetID, shard)
	if err != nil {
		return manifeststore.ManifestWithPartitions{}, false, err
	}
	if !found {
		return manifeststore.ManifestWithPartitions{}, false, nil
	}
	c.Set(datasetID, shard, manifest)
	return manifest, true, nil
}

// ShardLister enumerates the manifest shards belonging to a dataset,
// normally manifeststore.Store.ListManifestShards.
type ShardLister func(ctx context.Context, datasetID string) ([]string, error)

// DatasetLister enumerates active datasets, normally
// manifeststore.Store.ListActiveDatasets.
type DatasetLister func(ctx context.Context) ([]manifeststore.Dataset, error)

// Prime enumerates active datasets, groups manifests by shard, and loads the
// latest published manifest per shard, per spec.md §4.3's prime operation.
// Errors loading an individual shard are collected and returned together
// rather than aborting the whole prime pass, so one bad dataset doesn't
// block the others from warming.
func (c *Cache) Prime(ctx context.Context, listDatasets DatasetLister, listShards ShardLister, load Loader) error {
	datasets, err := listDatasets(ctx)
	if err != nil {
		return fmt.Errorf("manifestcache: prime: list active datasets: %w", err)
	}

	var errs []error
	for _, ds := range datasets {
		shards, err := listShards(ctx, ds.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("dataset %s: list shards: %w", ds.Slug, err))
			continue
		}
		for _, shard := range shards {
			if _, _, err := c.GetOrLoad(ctx, ds.ID, shard, load); err != nil {
				errs = append(errs, fmt.Errorf("dataset %s shard %s: %w", ds.Slug, shard, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("manifestcache: prime completed with %d error(s): %w", len(errs), errs[0])
	}
	return nil
}
