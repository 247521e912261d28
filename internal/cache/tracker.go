// Package cache implements the persistent, invalidation-aware cache:
// stat-based file fingerprints, a SQLite-backed LRU byte-budget store, and
// the content/search cache tiers with per-key locking.
package cache

import (
	"os"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies one observed state of a resolved path. Compared by
// value; the content hash is optional and only consulted when the cheap
// fields match (defense against mtime granularity).
type Fingerprint struct {
	ModTimeNS   int64  `json:"mtime_ns"`
	Size        int64  `json:"size"`
	ContentHash uint64 `json:"content_hash,omitempty"`
	HasHash     bool   `json:"has_hash,omitempty"`
}

// Tracker produces and compares fingerprints. It holds no state of its own;
// lifecycle is entirely driven by the caches that consult it.
type Tracker struct {
	hashContent bool
}

// NewTracker creates a tracker. With hashContent enabled, fingerprints taken
// via WithContent carry an xxhash64 of the bytes read, and IsStale re-hashes
// the file when mtime and size alone look unchanged.
func NewTracker(hashContent bool) *Tracker {
	return &Tracker{hashContent: hashContent}
}

// Snapshot takes a stat-derived fingerprint of path. Errors (including
// deletion) leave the caller with no fingerprint; IsStale treats that state
// as always stale.
func (t *Tracker) Snapshot(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		ModTimeNS: info.ModTime().UnixNano(),
		Size:      info.Size(),
	}, nil
}

// WithContent attaches the content hash of data to a stat fingerprint. Call
// it with the bytes the loader just read so the hash is atomic with the read.
func (t *Tracker) WithContent(fp Fingerprint, data []byte) Fingerprint {
	if !t.hashContent {
		return fp
	}
	fp.ContentHash = xxhash.Sum64(data)
	fp.HasHash = true
	return fp
}

// IsStale recomputes a fresh fingerprint for path and compares it with fp.
// Cheap fields first; the content hash is only computed when they match and
// fp carries one.
func (t *Tracker) IsStale(path string, fp Fingerprint) bool {
	current, err := t.Snapshot(path)
	if err != nil {
		// Deleted or unreadable: always stale.
		return true
	}
	if current.ModTimeNS != fp.ModTimeNS || current.Size != fp.Size {
		return true
	}
	if fp.HasHash && t.hashContent {
		data, err := os.ReadFile(path)
		if err != nil {
			return true
		}
		return xxhash.Sum64(data) != fp.ContentHash
	}
	return false
}
