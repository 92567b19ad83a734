package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/internal/cache"
)

func newContainer(t *testing.T, blockSize uint64) (*cache.BlockCacheFile, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "container.olah")
	bcf, err := cache.Open(path, blockSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bcf.Close() })
	return bcf, path
}

// S1 — cold write/read round trip across a 40-byte, B=16 container.
func TestBlockCacheFile_S1_ColdFullRange(t *testing.T) {
	bcf, _ := newContainer(t, 16)
	require.NoError(t, bcf.Resize(40))

	allA := func(n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'A'
		}
		return b
	}

	require.NoError(t, bcf.WriteBlock(0, allA(16)))
	require.NoError(t, bcf.WriteBlock(1, allA(16)))
	require.NoError(t, bcf.WriteBlock(2, allA(16)))

	for i := uint64(0); i < 3; i++ {
		assert.True(t, bcf.HasBlock(i))
	}

	block2, err := bcf.ReadBlock(2)
	require.NoError(t, err)
	require.Len(t, block2, 16)
	assert.Equal(t, allA(8), block2[:8])
	assert.Equal(t, make([]byte, 8), block2[8:])
}

func TestBlockCacheFile_WriteBlock_Idempotent(t *testing.T) {
	bcf, _ := newContainer(t, 16)
	require.NoError(t, bcf.Resize(16))

	data := []byte("0123456789ABCDEF")
	require.NoError(t, bcf.WriteBlock(0, data))
	require.NoError(t, bcf.WriteBlock(0, data))

	got, err := bcf.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBlockCacheFile_ReadBlock_Unset(t *testing.T) {
	bcf, _ := newContainer(t, 16)
	require.NoError(t, bcf.Resize(32))

	got, err := bcf.ReadBlock(1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBlockCacheFile_WriteBlock_SizeMismatch(t *testing.T) {
	bcf, _ := newContainer(t, 16)
	require.NoError(t, bcf.Resize(16))

	err := bcf.WriteBlock(0, []byte("tooshort"))
	assert.ErrorIs(t, err, cache.ErrSizeMismatch)
}

func TestBlockCacheFile_BadIndex(t *testing.T) {
	bcf, _ := newContainer(t, 16)
	require.NoError(t, bcf.Resize(16))

	_, err := bcf.ReadBlock(5)
	assert.ErrorIs(t, err, cache.ErrBadIndex)
}

func TestBlockCacheFile_Resize_CannotShrink(t *testing.T) {
	bcf, _ := newContainer(t, 16)
	require.NoError(t, bcf.Resize(32))
	assert.ErrorIs(t, bcf.Resize(16), cache.ErrShrink)
}

func TestBlockCacheFile_ReopenPreservesMask(t *testing.T) {
	bcf, path := newContainer(t, 16)
	require.NoError(t, bcf.Resize(16))
	require.NoError(t, bcf.WriteBlock(0, []byte("0123456789ABCDEF")))
	require.NoError(t, bcf.Close())

	reopened, err := cache.Open(path, 16)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.HasBlock(0))
	assert.Equal(t, uint64(16), reopened.BlockSize())
	assert.Equal(t, uint64(16), reopened.FileSize())
}

func TestBlockCacheFile_BadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-container")
	require.NoError(t, os.WriteFile(path, []byte("not an olah cache file at all"), 0o644))

	_, err := cache.Open(path, 16)
	assert.ErrorIs(t, err, cache.ErrBadMagic)
}
