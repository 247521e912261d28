package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFileWithTime(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSnapshotAndFreshness(t *testing.T) {
	tr := NewTracker(false)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "hello", time.Now().Add(-time.Hour))

	fp, err := tr.Snapshot(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fp.Size)
	assert.False(t, tr.IsStale(path, fp))
}

func TestStaleOnContentChange(t *testing.T) {
	tr := NewTracker(false)
	path := filepath.Join(t.TempDir(), "a.txt")
	base := time.Now().Add(-time.Hour)
	writeFileWithTime(t, path, "hello", base)

	fp, err := tr.Snapshot(path)
	require.NoError(t, err)

	// Size change
	writeFileWithTime(t, path, "hello world", base)
	assert.True(t, tr.IsStale(path, fp))

	// mtime change, same size
	writeFileWithTime(t, path, "hello", base.Add(time.Second))
	assert.True(t, tr.IsStale(path, fp))
}

func TestStaleOnDeletion(t *testing.T) {
	tr := NewTracker(false)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFileWithTime(t, path, "hello", time.Now())

	fp, err := tr.Snapshot(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	assert.True(t, tr.IsStale(path, fp))
}

func TestMissingFileHasNoFingerprint(t *testing.T) {
	tr := NewTracker(false)
	_, err := tr.Snapshot(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestContentHashCatchesSameMtimeEdit(t *testing.T) {
	tr := NewTracker(true)
	path := filepath.Join(t.TempDir(), "a.txt")
	base := time.Now().Add(-time.Hour)
	writeFileWithTime(t, path, "aaaaa", base)

	fp, err := tr.Snapshot(path)
	require.NoError(t, err)
	fp = tr.WithContent(fp, []byte("aaaaa"))
	require.True(t, fp.HasHash)
	assert.False(t, tr.IsStale(path, fp))

	// Same size, mtime forced back: only the hash can tell
	writeFileWithTime(t, path, "bbbbb", base)
	assert.True(t, tr.IsStale(path, fp))
}

func TestWithContentDisabled(t *testing.T) {
	tr := NewTracker(false)
	fp := tr.WithContent(Fingerprint{Size: 3}, []byte("abc"))
	assert.False(t, fp.HasHash)
}

func TestSnapshotWorksOnDirectories(t *testing.T) {
	tr := NewTracker(false)
	dir := t.TempDir()

	fp, err := tr.Snapshot(dir)
	require.NoError(t, err)
	assert.False(t, tr.IsStale(dir, fp))
}
