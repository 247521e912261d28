package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContentCache(t *testing.T, hashContent bool) *ContentCache {
	t.Helper()
	store := newTestStore(t, 1<<20)
	return NewContentCache(store, NewTracker(hashContent), nil)
}

func fileLoader(path string, calls *atomic.Int64) Loader {
	return func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return os.ReadFile(path)
	}
}

func TestGetContentSecondCallHits(t *testing.T) {
	cc := newTestContentCache(t, false)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "hello", time.Now().Add(-time.Hour))

	var calls atomic.Int64
	loader := fileLoader(path, &calls)

	data, hit, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("hello"), data)

	data, hit, err = cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, int64(1), calls.Load(), "unchanged file must not be re-read")

	hits, misses := cc.Counters()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetContentMissesAfterModification(t *testing.T) {
	cc := newTestContentCache(t, false)
	path := filepath.Join(t.TempDir(), "a.txt")
	base := time.Now().Add(-time.Hour)
	writeFileWithTime(t, path, "old", base)

	var calls atomic.Int64
	loader := fileLoader(path, &calls)

	_, _, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)

	writeFileWithTime(t, path, "new content", base.Add(time.Minute))

	data, hit, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)
	assert.False(t, hit, "modified file must be served fresh")
	assert.Equal(t, []byte("new content"), data)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetContentConcurrentSingleLoad(t *testing.T) {
	cc := newTestContentCache(t, false)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "shared", time.Now().Add(-time.Hour))

	var calls atomic.Int64
	loader := fileLoader(path, &calls)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, _, err := cc.GetContent(context.Background(), path, loader)
			assert.NoError(t, err)
			assert.Equal(t, []byte("shared"), data)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent readers must share one load")
}

func TestGetContentLoaderErrorPropagates(t *testing.T) {
	cc := newTestContentCache(t, false)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "x", time.Now())

	wantErr := errors.New("read failed")
	_, _, err := cc.GetContent(context.Background(), path, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	// Nothing cached after a failed load.
	var calls atomic.Int64
	_, hit, err := cc.GetContent(context.Background(), path, fileLoader(path, &calls))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetContentInvalidate(t *testing.T) {
	cc := newTestContentCache(t, false)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "data", time.Now().Add(-time.Hour))

	var calls atomic.Int64
	loader := fileLoader(path, &calls)

	_, _, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)

	cc.Invalidate(path)

	_, hit, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetContentCorruptEntryFallsBack(t *testing.T) {
	store := newTestStore(t, 1<<20)
	cc := NewContentCache(store, NewTracker(false), nil)

	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "real", time.Now().Add(-time.Hour))

	var calls atomic.Int64
	loader := fileLoader(path, &calls)

	_, _, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)

	// Overwrite the persisted entry with garbage; the next read must fall
	// back to the loader instead of failing.
	keys, err := store.Keys("content:")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, store.Set(keys[0], []byte("not json")))

	data, hit, err := cc.GetContent(context.Background(), path, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("real"), data)
}
