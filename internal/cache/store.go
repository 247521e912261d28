package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/grepbox/internal/logger"
)

// Store is the persistent key/value layer: a single SQLite file under the
// cache directory with a byte-size budget enforced by least-recently-used
// eviction. All mutations go through its own transactions; callers never see
// a half-written entry.
type Store struct {
	db       *sql.DB
	maxBytes int64
	log      *logger.Logger
}

// StoreStats is the observable state of the store.
type StoreStats struct {
	Entries   int64
	BytesUsed int64
}

// NewStore opens (or creates) the backing database under dir.
func NewStore(dir string, maxBytes int64, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, "cache.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// A single connection serializes writers; per-key work is already
	// parallelized above this layer.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		size INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_last_accessed ON entries(last_accessed);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &Store{db: db, maxBytes: maxBytes, log: log.WithComponent("store")}, nil
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key, bumping its recency on a hit.
func (s *Store) Get(key string) ([]byte, bool, error) {
	value, ok, err := s.Peek(key)
	if err != nil || !ok {
		return nil, false, err
	}

	if _, err := s.db.Exec(`UPDATE entries SET last_accessed = ? WHERE key = ?`, time.Now().UnixNano(), key); err != nil {
		s.log.Warn("failed to bump recency for %s: %v", key, err)
	}
	return value, true, nil
}

// Peek returns the value for key without touching its recency. Invalidation
// scans use it so inspecting entries does not reorder eviction.
func (s *Store) Peek(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	return value, true, nil
}

// Set stores value under key and evicts least-recently-used entries until the
// byte budget holds again. Insertion and eviction run in one transaction. A
// value that alone exceeds the budget is not stored.
func (s *Store) Set(key string, value []byte) error {
	size := int64(len(value))
	if s.maxBytes > 0 && size > s.maxBytes {
		s.log.Debug("value for %s (%d bytes) exceeds cache budget, not storing", key, size)
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO entries (key, value, size, last_accessed) VALUES (?, ?, ?, ?)`,
		key, value, size, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}

	if err := s.evictLocked(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// evictLocked deletes oldest-accessed entries inside tx until total size fits
// the budget. The victim set is collected first, then deleted.
func (s *Store) evictLocked(tx *sql.Tx) error {
	if s.maxBytes <= 0 {
		return nil
	}

	var used int64
	if err := tx.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM entries`).Scan(&used); err != nil {
		return fmt.Errorf("cache eviction failed: %w", err)
	}
	if used <= s.maxBytes {
		return nil
	}

	rows, err := tx.Query(`SELECT key, size FROM entries ORDER BY last_accessed ASC`)
	if err != nil {
		return fmt.Errorf("cache eviction failed: %w", err)
	}

	var victims []string
	for rows.Next() && used > s.maxBytes {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return fmt.Errorf("cache eviction failed: %w", err)
		}
		victims = append(victims, key)
		used -= size
	}
	rows.Close()

	for _, key := range victims {
		if _, err := tx.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
			return fmt.Errorf("cache eviction failed: %w", err)
		}
	}
	if len(victims) > 0 {
		s.log.Debug("evicted %d entries to fit budget", len(victims))
	}
	return nil
}

// Delete removes key. Idempotent.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// DeleteKeys removes a previously collected key set in one transaction.
func (s *Store) DeleteKeys(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
			return fmt.Errorf("cache delete failed: %w", err)
		}
	}
	return tx.Commit()
}

// Keys returns a snapshot of all keys with the given prefix. Bulk
// invalidation iterates this snapshot, never the live index.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM entries WHERE key >= ? AND key < ?`,
		prefix, prefix+"\xff",
	)
	if err != nil {
		return nil, fmt.Errorf("cache key scan failed: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("cache key scan failed: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	return nil
}

// Stats reports entry count and bytes used.
func (s *Store) Stats() (StoreStats, error) {
	var stats StoreStats
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries`).
		Scan(&stats.Entries, &stats.BytesUsed)
	if err != nil {
		return StoreStats{}, fmt.Errorf("cache stats failed: %w", err)
	}
	return stats, nil
}
