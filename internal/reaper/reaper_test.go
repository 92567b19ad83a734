package reaper_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/internal/reaper"
)

type recorder struct {
	bytes int64
	files int
}

func (r *recorder) RecordEviction(bytes int64, files int) {
	r.bytes += bytes
	r.files += files
}

func writeFile(t *testing.T, path string, n int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweep_NoLimitIsNoop(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "files", "a"), 1024, time.Now().Add(-time.Hour))

	r := reaper.New(root, 0, reaper.FIFO)
	reclaimed, files, err := r.Sweep()
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Zero(t, files)
}

func TestSweep_UnderLimitIsNoop(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "files", "a"), 100, time.Now().Add(-time.Hour))

	r := reaper.New(root, 1<<20, reaper.FIFO)
	reclaimed, files, err := r.Sweep()
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Zero(t, files)
}

func TestSweep_FIFOEvictsOldestFirst(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	writeFile(t, filepath.Join(root, "files", "old"), 100, old)
	writeFile(t, filepath.Join(root, "files", "new"), 100, newer)

	rec := &recorder{}
	r := reaper.New(root, 100, reaper.FIFO)
	r.GraceWindow = 0
	r.Recorder = rec

	reclaimed, files, err := r.Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(100), reclaimed)
	assert.Equal(t, 1, files)

	_, err = os.Stat(filepath.Join(root, "files", "old"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "files", "new"))
	assert.NoError(t, err)

	assert.Equal(t, int64(100), rec.bytes)
	assert.Equal(t, 1, rec.files)
}

func TestSweep_IgnoresHeadsAndAPI(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	writeFile(t, filepath.Join(root, "heads", "a"), 1<<20, old)
	writeFile(t, filepath.Join(root, "api", "a"), 1<<20, old)
	writeFile(t, filepath.Join(root, "files", "small"), 50, old)

	r := reaper.New(root, 1, reaper.LRU)
	r.GraceWindow = 0
	reclaimed, files, err := r.Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(50), reclaimed)
	assert.Equal(t, 1, files)
}

func TestSweep_GraceWindowProtectsRecentlyAccessed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "files", "hot"), 100, time.Now())

	r := reaper.New(root, 1, reaper.LRU)
	reclaimed, files, err := r.Sweep()
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Zero(t, files)
}
