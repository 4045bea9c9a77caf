package log

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	tterrors "github.com/imdad19/treetune/pkg/errors"
)

// ZerologLogger implements Logger on top of zerolog. Loggers derived with
// With share the level of their parent, so Provider.SetLevel applies to
// every logger it handed out.
type ZerologLogger struct {
	zl    zerolog.Logger
	level *atomic.Int64
}

// NewZerologLogger returns a JSON logger writing to w.
func NewZerologLogger(w io.Writer, level Level) *ZerologLogger {
	lv := &atomic.Int64{}
	lv.Store(int64(level))
	return &ZerologLogger{
		zl:    zerolog.New(w).With().Timestamp().Logger(),
		level: lv,
	}
}

func (l *ZerologLogger) Debug(msg string, fields ...any) {
	l.log(LevelDebug, msg, fields)
}

func (l *ZerologLogger) Info(msg string, fields ...any) {
	l.log(LevelInfo, msg, fields)
}

func (l *ZerologLogger) Warn(msg string, fields ...any) {
	l.log(LevelWarn, msg, fields)
}

func (l *ZerologLogger) Error(msg string, fields ...any) {
	l.log(LevelError, msg, fields)
}

// With returns a child logger carrying fields on every record.
func (l *ZerologLogger) With(fields ...any) Logger {
	if len(fields) == 0 {
		return l
	}
	return &ZerologLogger{
		zl:    l.zl.With().Fields(evenFields(fields)).Logger(),
		level: l.level,
	}
}

func (l *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return int64(level) >= l.level.Load()
}

func (l *ZerologLogger) log(level Level, msg string, fields []any) {
	if !l.Enabled(context.Background(), level) {
		return
	}

	var e *zerolog.Event
	switch level {
	case LevelDebug:
		e = l.zl.Debug()
	case LevelInfo:
		e = l.zl.Info()
	case LevelWarn:
		e = l.zl.Warn()
	default:
		e = l.zl.Error()
	}

	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			e = e.AnErr(ErrAttrKey, err)
			if st := extractStacktrace(err); st != "" {
				e = e.Str(StacktraceAttrKey, st)
			}
			var m zerolog.LogObjectMarshaler
			if tterrors.As(err, &m) {
				e = e.Object("error_detail", m)
			}
			fields = fields[1:]
		}
	}
	if len(fields) > 0 {
		e = e.Fields(evenFields(fields))
	}
	e.Msg(msg)
}

// evenFields drops a trailing key without a value.
func evenFields(fields []any) []any {
	if len(fields)%2 == 1 {
		return fields[:len(fields)-1]
	}
	return fields
}

// ZerologProvider hands out zerolog-backed loggers sharing one writer and level.
type ZerologProvider struct {
	root *ZerologLogger
}

// NewZerologProvider creates a provider writing JSON to stderr.
func NewZerologProvider(level Level) *ZerologProvider {
	return NewZerologProviderWithWriter(os.Stderr, level)
}

// NewZerologProviderWithWriter creates a provider writing JSON to w.
func NewZerologProviderWithWriter(w io.Writer, level Level) *ZerologProvider {
	return &ZerologProvider{root: NewZerologLogger(w, level)}
}

func (p *ZerologProvider) GetLogger() Logger {
	return p.root
}

func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return p.root.With(ComponentKey, name)
}

func (p *ZerologProvider) SetLevel(level Level) {
	p.root.level.Store(int64(level))
}

var (
	globalMu       sync.RWMutex
	globalProvider LoggerProvider
)

func init() {
	SetGlobalProvider(NewZerologProvider(LevelInfo))
}

// SetGlobalProvider replaces the process-wide provider and routes
// errors.Warn through it.
func SetGlobalProvider(p LoggerProvider) {
	globalMu.Lock()
	globalProvider = p
	globalMu.Unlock()

	warnLogger := p.GetLoggerWithName("warnings")
	tterrors.SetZerologWarnFunc(func(w error) {
		warnLogger.Warn(w.Error(), ErrorTypeKey, "warning")
	})
}

// GetLogger returns the default logger of the global provider.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalProvider.GetLogger()
}

// GetLoggerWithName returns a named logger from the global provider.
func GetLoggerWithName(name string) Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalProvider.GetLoggerWithName(name)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return NewZerologLogger(io.Discard, LevelError+1)
}
