package envelope_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/internal/envelope"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "meta_get.json")

	e := envelope.New(200, map[string]string{"Content-Type": "application/json", "ETag": `"abc"`}, []byte(`{"sha":"deadbeef"}`))
	require.NoError(t, envelope.Write(path, e))

	assert.True(t, envelope.Exists(path))

	got, err := envelope.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, "application/json", got.Headers["content-type"])

	body, err := got.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sha":"deadbeef"}`, string(body))
}

func TestRead_Absent(t *testing.T) {
	_, err := envelope.Read(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
