package logger

import (
	"fmt"
	"sync"
)

var (
	mu         sync.RWMutex
	installed  Logger
	generation uint64
)

// Init installs the process-wide logger. Loggers obtained from With before
// Init start writing through it.
func Init(config Config) error {
	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create slog logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if installed != nil {
		l.Shutdown()
		return fmt.Errorf("logger already initialized; call Shutdown() before re-initializing")
	}
	installed = l
	generation++
	return nil
}

// Get returns the process-wide logger, or a NullLogger before Init
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()
	if installed == nil {
		return nullLogger
	}
	return installed
}

func current() (Logger, uint64) {
	mu.RLock()
	defer mu.RUnlock()
	if installed == nil {
		return nullLogger, generation
	}
	return installed, generation
}

// With returns a child of the process-wide logger carrying args. The child
// follows later Init and Shutdown calls.
func With(args ...any) Logger {
	return &boundLogger{args: args}
}

// Sync flushes buffered output
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the installed logger's writers and reverts to discarding
func Shutdown() error {
	mu.Lock()
	l := installed
	installed = nil
	generation++
	mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}

// SetLevel changes the minimum level at runtime
func SetLevel(level Level) {
	if l, ok := Get().(*SlogLogger); ok {
		l.SetLevel(level)
	}
}

// boundLogger resolves its child lazily and rebuilds it when the installed
// logger changes
type boundLogger struct {
	args []any

	mu    sync.Mutex
	gen   uint64
	child Logger
}

func (b *boundLogger) get() Logger {
	parent, gen := current()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.child == nil || b.gen != gen {
		b.child = parent.With(b.args...)
		b.gen = gen
	}
	return b.child
}

func (b *boundLogger) Debug(msg string, args ...any) { b.get().Debug(msg, args...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.get().Info(msg, args...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.get().Warn(msg, args...) }
func (b *boundLogger) Error(msg string, args ...any) { b.get().Error(msg, args...) }
func (b *boundLogger) Sync() error                   { return b.get().Sync() }
func (b *boundLogger) Shutdown() error               { return nil }

func (b *boundLogger) With(args ...any) Logger {
	merged := make([]any, 0, len(b.args)+len(args))
	merged = append(merged, b.args...)
	return &boundLogger{args: append(merged, args...)}
}

var nullLogger = &NullLogger{}

// NullLogger discards everything
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Sync() error                   { return nil }
func (n *NullLogger) Shutdown() error               { return nil }
