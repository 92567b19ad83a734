package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/contrib/log"
	"github.com/vtuber-plan/olah/internal/logging"
)

func TestNew_WritesJSONToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.log")

	l := logging.New(logging.Config{
		Level:   "debug",
		Path:    path,
		NoPid:   true,
		MaxSize: 1,
	})

	require.NoError(t, l.Log(log.LevelInfo, "msg", "hello", "route", "/api/models/x"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"route":"/api/models/x"`)
}

func TestInstall_RoutesGlobalFacadeThroughZap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.log")
	defer log.SetLogger(log.DefaultLogger)

	logging.Install(logging.Config{Level: "info", Path: path, NoPid: true})
	log.Errorf("boom: %s", "disk full")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom: disk full")
}
