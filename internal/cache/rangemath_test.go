package cache_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/internal/cache"
)

func TestParseRange(t *testing.T) {
	const size = int64(40)

	cases := []struct {
		name    string
		header  string
		want    cache.Range
		wantErr bool
	}{
		{name: "full open", header: "bytes=0-", want: cache.Range{Start: 0, End: 40}},
		{name: "explicit both", header: "bytes=5-20", want: cache.Range{Start: 5, End: 21}},
		{name: "suffix S5", header: "bytes=-10", want: cache.Range{Start: 30, End: 40}},
		{name: "clamped end", header: "bytes=0-999", want: cache.Range{Start: 0, End: 40}},
		{name: "single byte", header: "bytes=39-39", want: cache.Range{Start: 39, End: 40}},
		{name: "missing prefix", header: "0-10", wantErr: true},
		{name: "start beyond size", header: "bytes=100-200", wantErr: true},
		{name: "garbage", header: "bytes=a-b", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := cache.ParseRange(tc.header, size)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRange_ZeroSize(t *testing.T) {
	got, err := cache.ParseRange("bytes=0-", 0)
	require.NoError(t, err)
	assert.Equal(t, cache.Range{Start: 0, End: 0}, got)
}

func TestContentRange(t *testing.T) {
	r := cache.Range{Start: 5, End: 21}
	assert.Equal(t, "bytes 5-20/40", r.ContentRange(40))
	assert.Equal(t, int64(16), r.Len())
}

func TestBlockOf(t *testing.T) {
	info := cache.BlockOf(20, 16, 40)
	assert.Equal(t, uint64(1), info.Index)
	assert.Equal(t, int64(16), info.Start)
	assert.Equal(t, int64(32), info.End)

	last := cache.BlockOf(39, 16, 40)
	assert.Equal(t, uint64(2), last.Index)
	assert.Equal(t, int64(32), last.Start)
	assert.Equal(t, int64(40), last.End) // clamped, not 48
}

// S3 — mixed GET: block 0 cached, blocks 1,2 remote.
func TestContiguousRanges_Mixed(t *testing.T) {
	dir := t.TempDir()
	bcf, err := cache.Open(filepath.Join(dir, "c.olah"), 16)
	require.NoError(t, err)
	defer bcf.Close()
	require.NoError(t, bcf.Resize(40))
	require.NoError(t, bcf.WriteBlock(0, []byte("XXXXXXXXXXXXXXXX")))

	runs := cache.ContiguousRanges(bcf, 0, 40)
	require.Len(t, runs, 2)
	assert.Equal(t, cache.Run{Start: 0, End: 16, IsRemote: false}, runs[0])
	assert.Equal(t, cache.Run{Start: 16, End: 40, IsRemote: true}, runs[1])
}

func TestContiguousRanges_AllCached(t *testing.T) {
	dir := t.TempDir()
	bcf, err := cache.Open(filepath.Join(dir, "c.olah"), 16)
	require.NoError(t, err)
	defer bcf.Close()
	require.NoError(t, bcf.Resize(32))
	require.NoError(t, bcf.WriteBlock(0, make([]byte, 16)))
	require.NoError(t, bcf.WriteBlock(1, make([]byte, 16)))

	runs := cache.ContiguousRanges(bcf, 0, 32)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].IsRemote)
}

func TestContiguousRanges_CoversInputExactly(t *testing.T) {
	dir := t.TempDir()
	bcf, err := cache.Open(filepath.Join(dir, "c.olah"), 16)
	require.NoError(t, err)
	defer bcf.Close()
	require.NoError(t, bcf.Resize(40))
	require.NoError(t, bcf.WriteBlock(1, make([]byte, 16)))

	runs := cache.ContiguousRanges(bcf, 5, 36)
	require.NotEmpty(t, runs)
	assert.Equal(t, int64(5), runs[0].Start)
	assert.Equal(t, int64(36), runs[len(runs)-1].End)
	for i := 1; i < len(runs); i++ {
		assert.Equal(t, runs[i-1].End, runs[i].Start)
		assert.NotEqual(t, runs[i-1].IsRemote, runs[i].IsRemote)
	}
}
