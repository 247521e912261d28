package cache

import (
	"encoding/json"
	"strings"

	"github.com/codefionn/grepbox/internal/command"
	"github.com/codefionn/grepbox/internal/logger"
)

// Manager owns the store and both cache tiers and provides the
// administrative invalidation surface.
type Manager struct {
	store    *Store
	tracker  *Tracker
	Contents *ContentCache
	Searches *SearchCache
	watcher  *Watcher
	log      *logger.Logger
}

// Stats aggregates store usage and tier hit/miss counters.
type Stats struct {
	CacheEntries int64 `json:"cache_entries"`
	CacheBytes   int64 `json:"cache_bytes"`
	HitCount     int64 `json:"hit_count"`
	MissCount    int64 `json:"miss_count"`
}

// NewManager opens the persistent store under dir and wires both tiers.
func NewManager(dir string, maxBytes int64, maxScope int, hashContent bool, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Global()
	}
	log = log.WithComponent("cache")

	store, err := NewStore(dir, maxBytes, log)
	if err != nil {
		return nil, err
	}

	tracker := NewTracker(hashContent)
	return &Manager{
		store:    store,
		tracker:  tracker,
		Contents: NewContentCache(store, tracker, log),
		Searches: NewSearchCache(store, tracker, maxScope, log),
		log:      log,
	}, nil
}

// EnableWatcher starts fsnotify-driven invalidation for the tree under root.
// Purely an eagerness optimization: fingerprint checks alone already prevent
// stale reads.
func (m *Manager) EnableWatcher(root string) error {
	w, err := NewWatcher(m, root, m.log)
	if err != nil {
		return err
	}
	m.watcher = w
	return nil
}

// InvalidatePath drops the content entry for path and every search entry
// whose scope includes it.
func (m *Manager) InvalidatePath(path string) {
	m.Contents.Invalidate(path)

	keys, err := m.store.Keys(command.SearchKeyPrefix)
	if err != nil {
		m.log.Warn("failed to scan search entries: %v", err)
		return
	}

	// Collect victims against the snapshot, then delete. Peek keeps the
	// scan from reordering eviction recency.
	var victims []string
	for _, key := range keys {
		raw, ok, err := m.store.Peek(key)
		if err != nil || !ok {
			continue
		}
		var env searchEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			victims = append(victims, key)
			continue
		}
		for _, dep := range env.Deps {
			if dep.Path == path {
				victims = append(victims, key)
				break
			}
		}
	}
	if err := m.store.DeleteKeys(victims); err != nil {
		m.log.Warn("failed to invalidate search entries for %s: %v", path, err)
	}
}

// InvalidateScope drops every entry that depends on any path under prefix.
func (m *Manager) InvalidateScope(prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")

	var victims []string
	appendMatching := func(keys []string, depends func(raw []byte) bool) {
		for _, key := range keys {
			raw, ok, err := m.store.Peek(key)
			if err != nil || !ok {
				continue
			}
			if depends(raw) {
				victims = append(victims, key)
			}
		}
	}

	underPrefix := func(path string) bool {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}

	if keys, err := m.store.Keys(command.ContentKeyPrefix); err == nil {
		appendMatching(keys, func(raw []byte) bool {
			var env contentEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return true
			}
			return underPrefix(env.Path)
		})
	} else {
		m.log.Warn("failed to scan content entries: %v", err)
	}

	if keys, err := m.store.Keys(command.SearchKeyPrefix); err == nil {
		appendMatching(keys, func(raw []byte) bool {
			var env searchEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return true
			}
			for _, dep := range env.Deps {
				if underPrefix(dep.Path) {
					return true
				}
			}
			return false
		})
	} else {
		m.log.Warn("failed to scan search entries: %v", err)
	}

	if err := m.store.DeleteKeys(victims); err != nil {
		m.log.Warn("failed to invalidate scope %s: %v", prefix, err)
	}
}

// ClearAll removes every cache entry.
func (m *Manager) ClearAll() error {
	return m.store.Clear()
}

// Stats reports aggregate cache state.
func (m *Manager) Stats() Stats {
	var stats Stats
	if s, err := m.store.Stats(); err == nil {
		stats.CacheEntries = s.Entries
		stats.CacheBytes = s.BytesUsed
	} else {
		m.log.Warn("failed to read store stats: %v", err)
	}

	ch, cm := m.Contents.Counters()
	sh, sm := m.Searches.Counters()
	stats.HitCount = ch + sh
	stats.MissCount = cm + sm
	return stats
}

// Close stops the watcher (if any) and closes the store.
func (m *Manager) Close() error {
	if m.watcher != nil {
		m.watcher.Close()
	}
	return m.store.Close()
}
