package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crestline/gatekeeper/pkg/observability"
)

// DBLogger writes the audit trail to PostgreSQL
type DBLogger struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDBLogger creates a new database-backed audit logger and ensures the
// audit_logs table exists. metrics may be nil.
func NewDBLogger(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	l := &DBLogger{db: db, logger: logger, metrics: metrics}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return l, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		action VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		tenant_id BIGINT,
		actor_user_id BIGINT,
		target_user_id BIGINT,
		request_id VARCHAR(100),
		message TEXT,
		metadata JSONB,
		changes JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_user_id ON audit_logs(actor_user_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log appends one event outside any transaction. Failures are logged and
// absorbed; an audit-write failure never fails the primary operation.
func (l *DBLogger) Log(ctx context.Context, event *Event) {
	if err := l.insert(ctx, l.db, event); err != nil {
		l.logger.WithError(err).
			WithField("action", string(event.Action)).
			Error("audit write failed")
		l.observe("failure")
		return
	}
	l.observe("success")
}

// LogTx appends one event inside the caller's transaction. The error
// propagates: if the audit row cannot be written, the whole mutation rolls
// back with it.
func (l *DBLogger) LogTx(ctx context.Context, tx *sql.Tx, event *Event) error {
	if err := l.insert(ctx, tx, event); err != nil {
		l.observe("failure")
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	l.observe("success")
	return nil
}

// Close is a no-op for the database logger; the pool is owned by the caller
func (l *DBLogger) Close() error { return nil }

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (l *DBLogger) insert(ctx context.Context, db execer, event *Event) error {
	var metadataJSON, changesJSON []byte
	var err error

	if event.Metadata != nil {
		if metadataJSON, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if event.Changes != nil {
		if changesJSON, err = json.Marshal(event.Changes); err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, action, status,
			tenant_id, actor_user_id, target_user_id,
			request_id, message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	return db.QueryRowContext(ctx, query,
		event.Timestamp, event.Action, event.Status,
		event.TenantID, event.ActorUserID, event.TargetUserID,
		event.RequestID, event.Message, nullableJSON(metadataJSON), nullableJSON(changesJSON),
	).Scan(&event.ID)
}

func (l *DBLogger) observe(status string) {
	if l.metrics != nil {
		l.metrics.AuditWritesTotal.WithLabelValues(status).Inc()
	}
}

// nullableJSON maps empty buffers to NULL so JSONB columns stay clean
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
