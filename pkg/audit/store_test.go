package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchColumns() []string {
	return []string{"id", "timestamp", "action", "status", "tenant_id", "actor_user_id", "target_user_id", "request_id", "message", "metadata", "changes"}
}

func TestStoreSearch(t *testing.T) {
	now := time.Now().UTC()

	t.Run("no filters applies the default limit", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`FROM audit_logs\s+ORDER BY timestamp DESC LIMIT \$1`).
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows(searchColumns()).
				AddRow(2, now, "membership.create", "success", 1, 5, 9, "req-2", "", []byte(`{"rank":"member"}`), nil).
				AddRow(1, now.Add(-time.Minute), "entitlement.set", "success", 1, 5, nil, "req-1", "", nil, nil))

		events, err := NewStore(db).Search(context.Background(), SearchFilter{})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, ActionMembershipCreate, events[0].Action)
		assert.Equal(t, "member", events[0].Metadata["rank"])
		assert.Nil(t, events[1].TargetUserID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters compose in argument order", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		tenantID := int64(1)
		status := StatusDenied
		mock.ExpectQuery(`WHERE tenant_id = \$1 AND status = \$2 AND action IN \(\$3, \$4\) ORDER BY timestamp DESC LIMIT \$5 OFFSET \$6`).
			WithArgs(tenantID, "denied", "access.denied", "membership.create", 10, 20).
			WillReturnRows(sqlmock.NewRows(searchColumns()))

		_, err := NewStore(db).Search(context.Background(), SearchFilter{
			TenantID: &tenantID,
			Status:   &status,
			Actions:  []Action{ActionAccessDenied, ActionMembershipCreate},
			Limit:    10,
			Offset:   20,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreExportFormats(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tenantID := int64(1)
	actorID := int64(5)

	events := []*Event{
		{
			ID:          1,
			Timestamp:   now,
			Action:      ActionAccessDenied,
			Status:      StatusDenied,
			TenantID:    &tenantID,
			ActorUserID: &actorID,
			RequestID:   "req-1",
			Metadata:    map[string]interface{}{"reason": "module_disabled"},
		},
		{
			ID:        2,
			Timestamp: now.Add(time.Minute),
			Action:    ActionSessionCreate,
			Status:    StatusSuccess,
		},
	}

	t.Run("csv", func(t *testing.T) {
		out, err := exportCSV(events)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "id,timestamp,action,status,tenant_id,actor_user_id,target_user_id,request_id,message,metadata", lines[0])
		assert.Contains(t, lines[1], "1,2026-08-01T12:00:00Z,access.denied,denied,1,5,,req-1,")
		assert.Contains(t, lines[1], `module_disabled`)
		// Nullable ids render as empty cells.
		assert.Contains(t, lines[2], "2,2026-08-01T12:01:00Z,session.create,success,,,,,,")
	})

	t.Run("ndjson", func(t *testing.T) {
		out, err := exportNDJSON(events)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"action":"access.denied"`)
		assert.Contains(t, lines[1], `"action":"session.create"`)
	})

	t.Run("json", func(t *testing.T) {
		out, err := exportJSON(nil)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(out))
	})
}

func TestStoreExportUnsupportedFormat(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM audit_logs`).
		WillReturnRows(sqlmock.NewRows(searchColumns()))

	_, err := NewStore(db).Export(context.Background(), SearchFilter{}, ExportFormat("xml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}
