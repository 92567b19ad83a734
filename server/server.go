package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vtuber-plan/olah/contrib/log"
	"github.com/vtuber-plan/olah/internal/metrics"
	"github.com/vtuber-plan/olah/internal/pipeline"
	"github.com/vtuber-plan/olah/internal/rules"
	"github.com/vtuber-plan/olah/internal/upstream"
	"github.com/vtuber-plan/olah/server/middleware/accesslog"
	"github.com/vtuber-plan/olah/server/middleware/mirror"
)

// Server is the mirror's HTTP front end: a route table over
// RangeStreamingPipeline plus the /metrics and /healthz endpoints,
// grounded on the teacher's server/server.go (same promhttp + stdlib
// ServeMux shape, same read/write/idle timeout fields).
type Server struct {
	http *http.Server

	mirror    *mirror.Handler
	resolver  *upstream.CommitResolver
	rules     *rules.Engine
	metrics   *metrics.Collectors
	accessLog *accesslog.Logger
	gatherer  *prometheus.Registry

	reposPath string
	offline   bool

	tlsCert, tlsKey string
}

// Options bundles Server's collaborators. Addr/timeouts/TLS come
// straight off config.Bootstrap.Server; the rest off the already-built
// runtime pieces (pipeline, resolver, rule engine, metrics, reaper
// recorder uses metrics too, but the reaper is driven by cmd/olah-mirror
// directly, not through Server).
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCert      string
	TLSKey       string

	Pipeline *pipeline.Pipeline
	Resolver *upstream.CommitResolver
	Rules    *rules.Engine
	CacheACL *rules.Engine
	Client   *upstream.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Collectors

	ReposPath     string
	Offline       bool
	BlockSizeHint uint64

	MirrorScheme string
	MirrorNetloc string

	AccessLogEnabled bool
	AccessLogPath    string
}

// New builds a Server wired end to end; call Run to start serving.
func New(opt Options) *Server {
	h := &mirror.Handler{
		Pipeline:      opt.Pipeline,
		Resolver:      opt.Resolver,
		Rules:         opt.Rules,
		CacheACL:      opt.CacheACL,
		Client:        opt.Client,
		ReposPath:     opt.ReposPath,
		MirrorScheme:  opt.MirrorScheme,
		MirrorNetloc:  opt.MirrorNetloc,
		Offline:       opt.Offline,
		BlockSizeHint: opt.BlockSizeHint,
		Metrics:       opt.Metrics,
	}

	s := &Server{
		mirror:    h,
		resolver:  opt.Resolver,
		rules:     opt.Rules,
		metrics:   opt.Metrics,
		accessLog: accesslog.New(opt.AccessLogEnabled, opt.AccessLogPath),
		gatherer:  opt.Registry,
		reposPath: opt.ReposPath,
		offline:   opt.Offline,
		tlsCert:   opt.TLSCert,
		tlsKey:    opt.TLSKey,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.http = &http.Server{
		Addr:         opt.Addr,
		Handler:      mux,
		ReadTimeout:  opt.ReadTimeout,
		WriteTimeout: opt.WriteTimeout,
		IdleTimeout:  opt.IdleTimeout,
	}
	return s
}

func (s *Server) metricsHandler() http.HandlerFunc {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP
	}
	return promhttp.Handler().ServeHTTP
}

// Run starts serving and blocks until the listener stops (via Shutdown
// or a fatal accept error). Matches the teacher's server.go pattern of
// choosing ListenAndServeTLS only when both cert and key are configured.
func (s *Server) Run() error {
	log.Infof("server: listening on %s", s.http.Addr)
	if s.tlsCert != "" && s.tlsKey != "" {
		return s.http.ListenAndServeTLS(s.tlsCert, s.tlsKey)
	}
	return s.http.ListenAndServe()
}

// ServeListener serves on a caller-supplied listener instead of binding
// its own — the hook tableflip's graceful-restart needs, since the
// upgrader (not net/http) owns the listen/inherit step.
func (s *Server) ServeListener(ln net.Listener) error {
	log.Infof("server: serving on %s", ln.Addr())
	if s.tlsCert != "" && s.tlsKey != "" {
		return s.http.ServeTLS(ln, s.tlsCert, s.tlsKey)
	}
	return s.http.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
