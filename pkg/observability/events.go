package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// EventLog appends structured service events as NDJSON lines, one
// object per line with ts, level, service, and event fields plus the
// call's own attributes. It is separate from the process log: events
// are the machine-readable audit trail, the log is for operators.
type EventLog struct {
	logger  *slog.Logger
	service string

	mu   sync.Mutex
	file *os.File
}

// OpenEventLog opens (creating if needed) the NDJSON sink at path.
func OpenEventLog(path, service string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.MessageKey:
				a.Key = "event"
			}
			return a
		},
	})
	return &EventLog{
		logger:  slog.New(handler).With("service", service),
		service: service,
		file:    file,
	}, nil
}

// Log appends one event line. Fields alternate key, value as in slog.
// A nil receiver drops the event.
func (e *EventLog) Log(level slog.Level, event string, fields ...any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Log(context.Background(), level, event, fields...)
}

// Info appends an info-level event.
func (e *EventLog) Info(event string, fields ...any) {
	e.Log(slog.LevelInfo, event, fields...)
}

// Warn appends a warn-level event.
func (e *EventLog) Warn(event string, fields ...any) {
	e.Log(slog.LevelWarn, event, fields...)
}

// Error appends an error-level event.
func (e *EventLog) Error(event string, fields ...any) {
	e.Log(slog.LevelError, event, fields...)
}

// Close flushes and closes the sink.
func (e *EventLog) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}
