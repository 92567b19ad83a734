package upstream_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/internal/coordinate"
	"github.com/vtuber-plan/olah/internal/envelope"
	"github.com/vtuber-plan/olah/internal/upstream"
)

func coord() coordinate.Coordinate {
	return coordinate.Coordinate{Type: coordinate.Models, Org: "meta-llama", Repo: "Llama-3"}
}

func newClientFor(t *testing.T, srv *httptest.Server) *upstream.Client {
	t.Helper()
	u := srv.URL
	// strip scheme for Netloc
	netloc := u[len("http://"):]
	return upstream.NewClient("http", netloc, netloc)
}

func TestNewestCommit_Online(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sha":"deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}`))
	}))
	defer srv.Close()

	r := upstream.NewCommitResolver(newClientFor(t, srv), t.TempDir(), false)
	sha, err := r.NewestCommit(t.Context(), coord(), "")
	require.NoError(t, err)
	assert.Equal(t, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", sha)
}

func TestNewestCommit_OfflineFallback(t *testing.T) {
	reposPath := t.TempDir()
	c := coord()

	path, err := coordinate.MetaSavePath(reposPath, c, "main", "head")
	require.NoError(t, err)
	e := envelope.New(200, nil, []byte(`{"sha":"cafebabecafebabecafebabecafebabecafebabe","lastModified":"2024-01-02T15:04:05Z"}`))
	require.NoError(t, envelope.Write(path, e))

	olderPath, err := coordinate.MetaSavePath(reposPath, c, "older", "head")
	require.NoError(t, err)
	older := envelope.New(200, nil, []byte(`{"sha":"0000000000000000000000000000000000000000","lastModified":"2023-01-02T15:04:05Z"}`))
	require.NoError(t, envelope.Write(olderPath, older))

	r := upstream.NewCommitResolver(upstream.NewClient("http", "unreachable.invalid", "unreachable.invalid"), reposPath, true)
	sha, err := r.NewestCommit(t.Context(), c, "")
	require.NoError(t, err)
	assert.Equal(t, "cafebabecafebabecafebabecafebabecafebabe", sha)
}

func TestResolve_PassesThroughSHA(t *testing.T) {
	r := upstream.NewCommitResolver(upstream.NewClient("http", "unreachable.invalid", "unreachable.invalid"), t.TempDir(), true)
	sha := "1111111111111111111111111111111111111111"
	got, err := r.Resolve(t.Context(), coord(), sha, "")
	require.NoError(t, err)
	assert.Equal(t, sha, got)
}

func TestExists_SingleAttemptOnSuccess(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := upstream.NewCommitResolver(newClientFor(t, srv), t.TempDir(), false)
	ok, err := r.Exists(t.Context(), coord(), "", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, attempts)
}
