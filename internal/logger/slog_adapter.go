package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// sink is shared by a logger and every child derived from it
type sink struct {
	level     *slog.LevelVar
	sanitizer *Sanitizer
	writers   []io.WriteCloser
	closeOnce sync.Once
	closeErr  error
}

func (s *sink) close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, w := range s.writers {
			errs = append(errs, w.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// SlogLogger writes sanitized records through log/slog. Only the logger
// returned by NewSlogLogger owns the writers; children share its level.
type SlogLogger struct {
	logger *slog.Logger
	sink   *sink
	owner  bool
}

// NewSlogLogger builds a logger from config
func NewSlogLogger(config Config) (*SlogLogger, error) {
	var writers []io.Writer
	var owned []io.WriteCloser

	for _, output := range config.Outputs {
		switch output.Type {
		case OutputStdout, OutputStderr:
			w, c := streamWriter(output)
			writers = append(writers, w)
			if c != nil {
				owned = append(owned, c)
			}
		case OutputFile:
			if !config.File.Enabled {
				continue
			}
			fw, err := createFileWriter(config.File)
			if err != nil {
				return nil, fmt.Errorf("failed to create file writer: %w", err)
			}
			writers = append(writers, fw)
			owned = append(owned, fw)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	s := &sink{
		level:     new(slog.LevelVar),
		sanitizer: NewSanitizer(),
		writers:   owned,
	}
	s.level.Set(convertLevel(config.Level))

	opts := &slog.HandlerOptions{Level: s.level}
	out := io.MultiWriter(writers...)
	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SlogLogger{logger: slog.New(handler), sink: s, owner: true}, nil
}

// streamWriter resolves a console output. Custom writers other than the
// standard streams are returned as owned so Shutdown closes them.
func streamWriter(output OutputConfig) (io.Writer, io.WriteCloser) {
	if output.Writer == nil {
		if output.Type == OutputStderr {
			return os.Stderr, nil
		}
		return os.Stdout, nil
	}
	if wc, ok := output.Writer.(io.WriteCloser); ok {
		if wc != os.Stdout && wc != os.Stderr && wc != os.Stdin {
			return output.Writer, wc
		}
	}
	return output.Writer, nil
}

// createFileWriter returns a size-rotated file writer
func createFileWriter(config FileConfig) (io.WriteCloser, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

func convertLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetLevel changes the minimum level of this logger and all its relatives
func (l *SlogLogger) SetLevel(level Level) {
	l.sink.level.Set(convertLevel(level))
}

func (l *SlogLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, l.sink.sanitizer.Sanitize(msg), l.sink.sanitizer.SanitizeArgs(args)...)
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// With returns a child that adds args to every record
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(l.sink.sanitizer.SanitizeArgs(args)...),
		sink:   l.sink,
	}
}

// Sync is a no-op; lumberjack writes through
func (l *SlogLogger) Sync() error {
	return nil
}

// Shutdown closes the owned writers. It does nothing on children.
func (l *SlogLogger) Shutdown() error {
	if !l.owner {
		return nil
	}
	return l.sink.close()
}
