package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Store queries the append-only audit trail. Entries are immutable once
// written; there is no update or delete path here.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit trail query store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Search returns audit events matching the filter, newest first
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= "+arg(*filter.EndTime))
	}
	if filter.TenantID != nil {
		conditions = append(conditions, "tenant_id = "+arg(*filter.TenantID))
	}
	if filter.ActorUserID != nil {
		conditions = append(conditions, "actor_user_id = "+arg(*filter.ActorUserID))
	}
	if filter.TargetUserID != nil {
		conditions = append(conditions, "target_user_id = "+arg(*filter.TargetUserID))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = "+arg(string(*filter.Status)))
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, action := range filter.Actions {
			placeholders[i] = arg(string(action))
		}
		conditions = append(conditions, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT id, timestamp, action, status, tenant_id, actor_user_id, target_user_id,
		       COALESCE(request_id, ''), COALESCE(message, ''), metadata, changes
		FROM audit_logs
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var metadataJSON, changesJSON []byte
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &event.Action, &event.Status,
			&event.TenantID, &event.ActorUserID, &event.TargetUserID,
			&event.RequestID, &event.Message, &metadataJSON, &changesJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &event.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// Export searches the trail and renders it in the requested format
func (s *Store) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return exportJSON(events)
	case FormatNDJSON:
		return exportNDJSON(events)
	case FormatCSV:
		return exportCSV(events)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}
