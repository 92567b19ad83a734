package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtuber-plan/olah/internal/metrics"
)

func TestMustParseRequestID_ReusesInbound(t *testing.T) {
	h := http.Header{}
	h.Set("X-Request-ID", "req-123")
	assert.Equal(t, "req-123", metrics.MustParseRequestID(h))
}

func TestMustParseRequestID_GeneratesUUIDWhenAbsent(t *testing.T) {
	id := metrics.MustParseRequestID(http.Header{})
	assert.Len(t, id, 36)
}

func TestWithRequestMetric_RoundTripsThroughContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req, m := metrics.WithRequestMetric(req)

	got := metrics.FromContext(req.Context())
	assert.Same(t, m, got)
	assert.NotEmpty(t, got.RequestID)
}

func TestCollectors_RecordEviction(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollectors(reg)

	c.RecordEviction(1024, 2)
	c.ObserveRequest("/api/models/x", http.StatusOK)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Equal(t, int64(1), c.RequestsPerSecond())
}
