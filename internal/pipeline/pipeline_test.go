package pipeline_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	olahcache "github.com/vtuber-plan/olah/internal/cache"
	"github.com/vtuber-plan/olah/internal/pipeline"
	"github.com/vtuber-plan/olah/internal/upstream"
)

func clientFor(t *testing.T, srv *httptest.Server) *upstream.Client {
	t.Helper()
	netloc := strings.TrimPrefix(srv.URL, "http://")
	return upstream.NewClient("http", netloc, netloc)
}

func baseInputs(t *testing.T, srv *httptest.Server) pipeline.Inputs {
	t.Helper()
	dir := t.TempDir()
	return pipeline.Inputs{
		Method:        "GET",
		URL:           srv.URL + "/resolve/main/weights.bin",
		HeadPath:      filepath.Join(dir, "head.json"),
		FilePath:      filepath.Join(dir, "container.olah"),
		AllowCache:    true,
		MirrorLFSBase: "https://mirror.example",
		BlockSizeHint: 16,
	}
}

func readAll(t *testing.T, r io.ReadCloser) []byte {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// serveRanged honors an incoming "Range: bytes=a-b" header against content,
// the way a real origin does, so fetchRemote's exact-length check passes.
func serveRanged(w http.ResponseWriter, r *http.Request, content []byte) {
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	rng := r.Header.Get("Range")
	if rng == "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
		return
	}
	var start, end int
	_, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content[start : end+1])
}

// S1 — cold GET full range: 40-byte resource, B=16, nothing cached yet.
func TestPipeline_S1_ColdFullRange(t *testing.T) {
	var getHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "40")
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		getHits++
		assert.Equal(t, "bytes=0-39", r.Header.Get("Range"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("A", 40)))
	}))
	defer srv.Close()

	p := pipeline.New(clientFor(t, srv))
	in := baseInputs(t, srv)
	in.ClientRangeHeader = "bytes=0-39"

	res, err := p.Serve(t.Context(), in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)

	body := readAll(t, res.Body)
	assert.Equal(t, strings.Repeat("A", 40), string(body))
	assert.Equal(t, 1, getHits)

	bcf, err := olahcache.Open(in.FilePath, 16)
	require.NoError(t, err)
	defer bcf.Close()
	assert.True(t, bcf.HasBlock(0))
	assert.True(t, bcf.HasBlock(1))
	assert.True(t, bcf.HasBlock(2))

	block2, err := bcf.ReadBlock(2)
	require.NoError(t, err)
	require.Len(t, block2, 16)
	assert.Equal(t, strings.Repeat("A", 8), string(block2[:8]))
	assert.Equal(t, make([]byte, 8), block2[8:])
}

// S2 — warm partial GET following S1: no upstream traffic at all.
func TestPipeline_S2_WarmPartialGet(t *testing.T) {
	var getHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "40")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		getHits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("A", 40)))
	}))
	defer srv.Close()

	p := pipeline.New(clientFor(t, srv))
	in := baseInputs(t, srv)

	warm := in
	warm.ClientRangeHeader = "bytes=0-39"
	res, err := p.Serve(t.Context(), warm)
	require.NoError(t, err)
	readAll(t, res.Body)
	require.Equal(t, 1, getHits)

	partial := in
	partial.ClientRangeHeader = "bytes=5-20"
	res2, err := p.Serve(t.Context(), partial)
	require.NoError(t, err)
	body := readAll(t, res2.Body)

	assert.Equal(t, strings.Repeat("A", 16), string(body))
	assert.Len(t, body, 16)
	assert.Equal(t, 1, getHits, "no additional upstream GET for a fully-cached range")
}

// S3 — mixed GET: block 0 pre-populated directly, blocks 1,2 fetched.
func TestPipeline_S3_MixedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "40")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "bytes=16-39", r.Header.Get("Range"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("Y", 24)))
	}))
	defer srv.Close()

	in := baseInputs(t, srv)
	bcf, err := olahcache.Open(in.FilePath, 16)
	require.NoError(t, err)
	require.NoError(t, bcf.Resize(40))
	require.NoError(t, bcf.WriteBlock(0, []byte(strings.Repeat("X", 16))))
	require.NoError(t, bcf.Close())

	p := pipeline.New(clientFor(t, srv))
	in.ClientRangeHeader = "bytes=0-39"
	res, err := p.Serve(t.Context(), in)
	require.NoError(t, err)
	body := readAll(t, res.Body)

	assert.Equal(t, strings.Repeat("X", 16)+strings.Repeat("Y", 24), string(body))

	reopened, err := olahcache.Open(in.FilePath, 16)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.HasBlock(1))
	assert.True(t, reopened.HasBlock(2))
}

// S4 — HEAD offline, no envelope cached: synthesized 200 with a derived etag.
func TestPipeline_S4_HeadOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("offline mode must never contact upstream")
	}))
	defer srv.Close()

	p := pipeline.New(clientFor(t, srv))
	in := baseInputs(t, srv)
	in.Method = "HEAD"
	in.Offline = true

	res, err := p.Serve(t.Context(), in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)

	etag := res.Headers.Get("ETag")
	require.True(t, strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `-10"`))
	assert.Len(t, etag, len(`"`)+32+len(`-10"`))

	body := readAll(t, res.Body)
	assert.Empty(t, body)
}

// S5 — suffix range on a 40-byte resource: last 10 bytes (30-39), spanning
// the last 2 bytes of block 1 and the 8 valid bytes of the short block 2.
func TestPipeline_S5_SuffixRange(t *testing.T) {
	content := []byte(strings.Repeat("A", 40))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRanged(w, r, content)
	}))
	defer srv.Close()

	p := pipeline.New(clientFor(t, srv))
	in := baseInputs(t, srv)
	in.ClientRangeHeader = "bytes=-10"

	res, err := p.Serve(t.Context(), in)
	require.NoError(t, err)
	body := readAll(t, res.Body)

	assert.Equal(t, strings.Repeat("A", 10), string(body))
	assert.Len(t, body, 10)
}

// S6 — redirect normalization: a 302 from upstream is rewritten to carry
// oriloc so a follow-up request can reconstruct the original CDN URL.
func TestPipeline_S6_RedirectNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://cdn.example/abc?x=1")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	p := pipeline.New(clientFor(t, srv))
	in := baseInputs(t, srv)
	in.Method = "HEAD"

	res, err := p.Serve(t.Context(), in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, res.Status)

	want := "https://mirror.example/abc?x=1&oriloc=https%3A%2F%2Fcdn.example%2Fabc%3Fx%3D1"
	assert.Equal(t, want, res.Headers.Get("Location"))

	resolved, hadOriloc, err := pipeline.NormalizeURL(want)
	require.NoError(t, err)
	assert.True(t, hadOriloc)
	assert.Equal(t, "https://cdn.example/abc?x=1", resolved)
}

// Trace hook surfaces the exact state sequence the state machine promises
// for a simple cold full-range GET.
func TestPipeline_TraceSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "16")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("Z", 16)))
	}))
	defer srv.Close()

	p := pipeline.New(clientFor(t, srv))
	var states []string
	p.Trace = func(s pipeline.State) { states = append(states, s.String()) }

	in := baseInputs(t, srv)
	in.ClientRangeHeader = fmt.Sprintf("bytes=0-%d", 15)
	res, err := p.Serve(t.Context(), in)
	require.NoError(t, err)
	readAll(t, res.Body)

	assert.Equal(t, []string{
		"Start", "NormalizeURL", "HeaderProbe", "HeaderOK", "GET:Streaming", "Done",
	}, states)
}
