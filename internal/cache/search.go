package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/codefionn/grepbox/internal/logger"
)

// scopeDep records one file the cached result depends on, with the
// fingerprint snapshotted when the result was computed.
type scopeDep struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// searchEnvelope is the persisted form of a search-tier entry.
type searchEnvelope struct {
	Deps   []scopeDep `json:"deps"`
	Result []byte     `json:"result"`
}

// SearchCache caches search/listing results scoped to a bounded set of files.
// A result is stale as soon as any file in its scope is stale.
type SearchCache struct {
	store    *Store
	tracker  *Tracker
	locks    *keyedMutex
	maxScope int
	log      *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSearchCache builds the search tier. Results whose scope exceeds maxScope
// files are never cached; the loader runs directly.
func NewSearchCache(store *Store, tracker *Tracker, maxScope int, log *logger.Logger) *SearchCache {
	if log == nil {
		log = logger.Global()
	}
	return &SearchCache{
		store:    store,
		tracker:  tracker,
		locks:    newKeyedMutex(),
		maxScope: maxScope,
		log:      log.WithComponent("search"),
	}
}

// GetResult returns the cached result for key when every scope file is
// unchanged, otherwise runs the loader and caches its output together with
// fingerprints snapshotted inside the same lock.
func (c *SearchCache) GetResult(ctx context.Context, key string, scope []string, loader Loader) ([]byte, bool, error) {
	if len(scope) == 0 || len(scope) > c.maxScope {
		// Uncacheable: unbounded or unknown dependency set.
		c.misses.Add(1)
		data, err := loader(ctx)
		return data, false, err
	}

	unlock := c.locks.Lock(key)
	defer unlock()

	if raw, ok, err := c.store.Get(key); err != nil {
		c.log.Warn("cache read failed for %s, loading directly: %v", key, err)
	} else if ok {
		var env searchEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("corrupt cache entry %s, discarding: %v", key, err)
			_ = c.store.Delete(key)
		} else if !c.anyStale(env.Deps) {
			c.hits.Add(1)
			return env.Result, true, nil
		}
	}

	c.misses.Add(1)

	// Snapshot the scope before computing: a file modified mid-computation
	// then makes the entry stale on the next lookup instead of lingering.
	deps := make([]scopeDep, 0, len(scope))
	cacheable := true
	for _, path := range scope {
		fp, err := c.tracker.Snapshot(path)
		if err != nil {
			cacheable = false
			break
		}
		deps = append(deps, scopeDep{Path: path, Fingerprint: fp})
	}

	data, err := loader(ctx)
	if err != nil {
		return nil, false, err
	}

	if cacheable {
		env := searchEnvelope{Deps: deps, Result: data}
		if raw, err := json.Marshal(env); err == nil {
			if err := c.store.Set(key, raw); err != nil {
				c.log.Warn("failed to cache %s: %v", key, err)
			}
		}
	}

	return data, false, nil
}

// anyStale reports whether any dependency changed, short-circuiting at the
// first stale file.
func (c *SearchCache) anyStale(deps []scopeDep) bool {
	for _, dep := range deps {
		if c.tracker.IsStale(dep.Path, dep.Fingerprint) {
			return true
		}
	}
	return false
}

// Counters returns hit and miss counts since construction.
func (c *SearchCache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
