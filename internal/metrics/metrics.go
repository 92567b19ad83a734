// Package metrics carries per-request observability: a request ID
// threaded through context (grounded on the teacher's
// metrics/request_info.go WithRequestMetric/FromContext/
// MustParseRequestID), a rolling requests-per-second counter (the
// teacher's paulbellamy/ratecounter usage in storage/bucket/disk/disk.go),
// and the prometheus collectors server/server.go and internal/reaper
// report into.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vtuber-plan/olah/internal/constants"
)

type requestMetricKey struct{}

// RequestMetric tracks one request's lifecycle, the same shape the
// teacher's access-log field buffer accumulates fields into.
type RequestMetric struct {
	StartAt     time.Time
	RequestID   string
	CacheStatus string // "hit", "miss", "bypass"
	RemoteAddr  string
}

// WithRequestMetric attaches a fresh RequestMetric to req's context,
// reusing an inbound X-Request-ID header when present.
func WithRequestMetric(req *http.Request) (*http.Request, *RequestMetric) {
	m := &RequestMetric{
		StartAt:   time.Now(),
		RequestID: MustParseRequestID(req.Header),
	}
	return req.WithContext(context.WithValue(req.Context(), requestMetricKey{}, m)), m
}

// FromContext returns the RequestMetric stashed by WithRequestMetric, or a
// fresh zero-value one if none was attached.
func FromContext(ctx context.Context) *RequestMetric {
	if v, ok := ctx.Value(requestMetricKey{}).(*RequestMetric); ok {
		return v
	}
	return &RequestMetric{}
}

// MustParseRequestID returns the inbound X-Request-ID header, or a
// generated google/uuid when the client didn't supply one — replacing the
// teacher's hand-rolled crypto/rand hex generator with a real UUID.
func MustParseRequestID(h http.Header) string {
	if id := h.Get(constants.ProtocolRequestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}

// Collectors groups the request-facing prometheus series this mirror
// exposes on /metrics. CacheResult and OpenContainers are registered but
// nothing in this module updates them, so they stay at zero.
type Collectors struct {
	RequestsTotal   *prometheus.CounterVec
	CacheResult     *prometheus.CounterVec
	EvictedBytes    prometheus.Counter
	EvictedFiles    prometheus.Counter
	OpenContainers  prometheus.Gauge
	requestsPerSec  *ratecounter.RateCounter
}

// NewCollectors builds and registers every series against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "olah_mirror_requests_total",
			Help: "Requests served, by route and status code.",
		}, []string{"route", "status"}),
		CacheResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "olah_mirror_cache_result_total",
			Help: "RangeStreamingPipeline run outcomes, by source.",
		}, []string{"source"}), // "cache" | "remote"
		EvictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "olah_mirror_reaper_evicted_bytes_total",
			Help: "Bytes reclaimed by the disk reaper.",
		}),
		EvictedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "olah_mirror_reaper_evicted_files_total",
			Help: "Files deleted by the disk reaper.",
		}),
		OpenContainers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "olah_mirror_open_containers",
			Help: "BlockCacheFile containers currently open.",
		}),
		requestsPerSec: ratecounter.NewRateCounter(time.Second),
	}
	reg.MustRegister(c.RequestsTotal, c.CacheResult, c.EvictedBytes, c.EvictedFiles, c.OpenContainers)
	return c
}

// ObserveRequest records one served request for the rolling RPS counter
// and the route/status counter.
func (c *Collectors) ObserveRequest(route string, status int) {
	c.requestsPerSec.Incr(1)
	c.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// RequestsPerSecond returns the current rolling rate, surfaced on
// /healthz.
func (c *Collectors) RequestsPerSecond() int64 {
	return c.requestsPerSec.Rate()
}

// RecordEviction implements reaper.Recorder.
func (c *Collectors) RecordEviction(bytesReclaimed int64, files int) {
	c.EvictedBytes.Add(float64(bytesReclaimed))
	c.EvictedFiles.Add(float64(files))
}
