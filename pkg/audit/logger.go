package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/crestline/gatekeeper/pkg/contextkeys"
)

// Logger is the interface for audit trail writers.
//
// Log is best-effort: a failed write is logged and absorbed, never failing
// the primary business operation. LogTx writes inside the caller's
// transaction and does propagate its error, so a rolled-back mutation never
// leaves an orphan audit entry.
type Logger interface {
	Log(ctx context.Context, event *Event)
	LogTx(ctx context.Context, tx *sql.Tx, event *Event) error
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NewEvent builds an event stamped with the current time and the request ID
// from context, if any.
func NewEvent(ctx context.Context, action Action, status Status) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Status:    status,
		RequestID: contextkeys.RequestID(ctx),
	}
}

// NopLogger discards every event; used when no logger is configured
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) {}

func (NopLogger) LogTx(ctx context.Context, tx *sql.Tx, event *Event) error { return nil }

func (NopLogger) Close() error { return nil }
