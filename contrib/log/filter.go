package log

// Filter wraps a Logger and drops records below level before they reach it.
type Filter struct {
	logger Logger
	level  Level
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// FilterLevel sets the minimum level that passes through.
func FilterLevel(level Level) FilterOption {
	return func(f *Filter) { f.level = level }
}

// NewFilter builds a Filter over logger.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	f := &Filter{logger: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}
