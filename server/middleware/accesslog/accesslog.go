// Package accesslog writes one line per request in the teacher's
// space-separated field format (server/mod/field.go's WithNormalFields),
// adapted from a http.RoundTripper-wrapping middleware to a plain
// func(http.HandlerFunc) http.HandlerFunc wrap, since RangeStreamingPipeline's
// Serve is a direct call returning a *pipeline.Result rather than
// something that composes as a RoundTripper.
package accesslog

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vtuber-plan/olah/contrib/log"
	"github.com/vtuber-plan/olah/internal/metrics"
)

// Logger writes access-log lines to Path (or through the process logger in
// contrib/log when Path is empty),
// via the request's attached *metrics.RequestMetric for timing/cache
// status fields.
type Logger struct {
	Enabled bool
	Path    string

	writer *zap.Logger
}

// New builds a Logger, lazily opening its lumberjack-rotated sink.
func New(enabled bool, path string) *Logger {
	l := &Logger{Enabled: enabled, Path: path}
	if !enabled {
		log.Infof("access-log is turned off")
		return l
	}
	if path == "" {
		log.Warnf("access-log path is empty, writing to the process logger")
		return l
	}
	l.writer = newSink(path)
	return l
}

func newSink(path string) *zap.Logger {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 3, MaxAge: 1, LocalTime: true}

	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(zapcore.Level, zapcore.PrimitiveArrayEncoder) {}

	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(f), zapcore.InfoLevel))
}

// Wrap attaches a RequestMetric to the request and logs one line after
// next returns, matching every field the teacher's WithNormalFields wrote
// except the ones that depended on the CDN product's own URL rewriting.
func (l *Logger) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, metric := metrics.WithRequestMetric(r)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer l.write(req, rec, metric)

		next(rec, req)
	}
}

func (l *Logger) write(r *http.Request, rec *statusRecorder, m *metrics.RequestMetric) {
	if !l.Enabled {
		return
	}
	line := NewFieldBuffer(' ')
	line.Append(clientIP(r))
	line.Append(r.URL.Hostname())
	line.FAppend(rec.Header().Get("Content-Type"))
	line.Append(time.Now().Format("[02/Jan/2006:15:04:05 -0700]"))
	line.FAppend(r.Method + " " + r.URL.String() + " " + r.Proto)
	line.Append(strconv.Itoa(rec.status))
	line.Append(strconv.FormatInt(rec.written, 10))
	line.FAppend(r.Header.Get("Referer"))
	line.FAppend(r.Header.Get("User-Agent"))
	line.Append(strconv.FormatInt(time.Since(m.StartAt).Milliseconds(), 10))
	line.FAppend(r.Header.Get("Range"))
	line.Append(m.CacheStatus)
	line.Append(m.RequestID)

	if l.writer != nil {
		l.writer.Info(line.String())
	} else {
		log.Infow("access", "line", line.String())
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}
