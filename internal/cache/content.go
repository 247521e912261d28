package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/codefionn/grepbox/internal/command"
	"github.com/codefionn/grepbox/internal/logger"
)

// Loader performs the underlying read or execution on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// contentEnvelope is what the content tier persists: the file bytes plus the
// fingerprint they were read under, committed in one Store.Set so no reader
// can ever observe content without its fingerprint.
type contentEnvelope struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Data        []byte      `json:"data"`
}

// ContentCache caches whole-file reads keyed by resolved path and invalidated
// through the Tracker.
type ContentCache struct {
	store   *Store
	tracker *Tracker
	locks   *keyedMutex
	log     *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewContentCache builds the content tier on top of store and tracker.
func NewContentCache(store *Store, tracker *Tracker, log *logger.Logger) *ContentCache {
	if log == nil {
		log = logger.Global()
	}
	return &ContentCache{
		store:   store,
		tracker: tracker,
		locks:   newKeyedMutex(),
		log:     log.WithComponent("content"),
	}
}

// GetContent returns the bytes of resolvedPath, via cache when fresh. The
// whole check-load-commit sequence holds the per-path lock, so concurrent
// callers for one path serialize and the loader runs at most once per
// staleness window. Store failures never fail the request.
func (c *ContentCache) GetContent(ctx context.Context, resolvedPath string, loader Loader) ([]byte, bool, error) {
	key := command.PathKey(resolvedPath)

	unlock := c.locks.Lock(resolvedPath)
	defer unlock()

	if raw, ok, err := c.store.Get(key); err != nil {
		c.log.Warn("cache read failed for %s, loading directly: %v", resolvedPath, err)
	} else if ok {
		var env contentEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("corrupt cache entry for %s, discarding: %v", resolvedPath, err)
			_ = c.store.Delete(key)
		} else if !c.tracker.IsStale(resolvedPath, env.Fingerprint) {
			c.hits.Add(1)
			return env.Data, true, nil
		}
	}

	c.misses.Add(1)

	// Fingerprint immediately before the read; the content hash is added
	// from the loaded bytes, making it atomic with the read itself.
	fp, fpErr := c.tracker.Snapshot(resolvedPath)

	data, err := loader(ctx)
	if err != nil {
		return nil, false, err
	}

	if fpErr == nil {
		env := contentEnvelope{
			Path:        resolvedPath,
			Fingerprint: c.tracker.WithContent(fp, data),
			Data:        data,
		}
		if raw, err := json.Marshal(env); err == nil {
			if err := c.store.Set(key, raw); err != nil {
				c.log.Warn("failed to cache %s: %v", resolvedPath, err)
			}
		}
	}

	return data, false, nil
}

// Invalidate drops the cached content for a resolved path.
func (c *ContentCache) Invalidate(resolvedPath string) {
	if err := c.store.Delete(command.PathKey(resolvedPath)); err != nil {
		c.log.Warn("failed to invalidate %s: %v", resolvedPath, err)
	}
}

// Counters returns hit and miss counts since construction.
func (c *ContentCache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
