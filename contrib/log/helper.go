package log

import (
	"context"
	"fmt"
	"os"
)

// Helper wraps a Logger with the printf/keyvals convenience methods every
// call site in this module actually uses.
type Helper struct {
	logger Logger
	ctx    context.Context
}

// NewHelper wraps logger. The zero-value ctx is context.Background.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger, ctx: context.Background()}
}

// WithContext returns a Helper bound to ctx, leaving the receiver untouched.
func (h *Helper) WithContext(ctx context.Context) *Helper {
	return &Helper{logger: WithContext(ctx, h.logger), ctx: ctx}
}

func (h *Helper) log(level Level, keyvals ...interface{}) {
	if err := h.logger.Log(level, keyvals...); err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
	}
}

func (h *Helper) Debug(a ...interface{})                { h.log(LevelDebug, "msg", fmt.Sprint(a...)) }
func (h *Helper) Debugf(format string, a ...interface{}) { h.log(LevelDebug, "msg", fmt.Sprintf(format, a...)) }
func (h *Helper) Debugw(keyvals ...interface{})         { h.log(LevelDebug, keyvals...) }

func (h *Helper) Info(a ...interface{})                 { h.log(LevelInfo, "msg", fmt.Sprint(a...)) }
func (h *Helper) Infof(format string, a ...interface{})  { h.log(LevelInfo, "msg", fmt.Sprintf(format, a...)) }
func (h *Helper) Infow(keyvals ...interface{})          { h.log(LevelInfo, keyvals...) }

func (h *Helper) Warn(a ...interface{})                 { h.log(LevelWarn, "msg", fmt.Sprint(a...)) }
func (h *Helper) Warnf(format string, a ...interface{})  { h.log(LevelWarn, "msg", fmt.Sprintf(format, a...)) }
func (h *Helper) Warnw(keyvals ...interface{})          { h.log(LevelWarn, keyvals...) }

func (h *Helper) Error(a ...interface{})                { h.log(LevelError, "msg", fmt.Sprint(a...)) }
func (h *Helper) Errorf(format string, a ...interface{}) { h.log(LevelError, "msg", fmt.Sprintf(format, a...)) }
func (h *Helper) Errorw(keyvals ...interface{})         { h.log(LevelError, keyvals...) }

func (h *Helper) Fatal(a ...interface{}) {
	h.log(LevelFatal, "msg", fmt.Sprint(a...))
	os.Exit(1)
}
func (h *Helper) Fatalf(format string, a ...interface{}) {
	h.log(LevelFatal, "msg", fmt.Sprintf(format, a...))
	os.Exit(1)
}
func (h *Helper) Fatalw(keyvals ...interface{}) {
	h.log(LevelFatal, keyvals...)
	os.Exit(1)
}
