package audit

import (
	"encoding/json"
	"time"
)

// Action names an authorization-relevant mutation or check
type Action string

const (
	// Membership graph mutations
	ActionMembershipCreate       Action = "membership.create"
	ActionMembershipRankChange   Action = "membership.rank_change"
	ActionMembershipActivate     Action = "membership.activate"
	ActionMembershipDeactivate   Action = "membership.deactivate"
	ActionMembershipSupervisor   Action = "membership.supervisor_change"
	ActionMembershipUserDelete   Action = "membership.user_delete"
	ActionOwnershipTransfer      Action = "membership.ownership_transfer"

	// Entitlement mutations
	ActionEntitlementSet     Action = "entitlement.set"
	ActionUserEntitlementSet Action = "entitlement.user_override_set"

	// Access decisions worth trailing
	ActionAccessDenied Action = "access.denied"

	// Session lifecycle
	ActionSessionCreate  Action = "session.create"
	ActionSessionRevoke  Action = "session.revoke"
	ActionPreviewStart   Action = "session.preview_start"

	// Platform role grants
	ActionPlatformRoleGrant  Action = "platform_role.grant"
	ActionPlatformRoleRevoke Action = "platform_role.revoke"
)

// Status represents the outcome of the documented operation
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is one immutable audit trail row. Metadata is an opaque structured
// document; no schema is enforced on it beyond valid JSON.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`

	// Actor and subject
	TenantID     *int64 `json:"tenant_id,omitempty"`
	ActorUserID  *int64 `json:"actor_user_id,omitempty"` // nil for unauthenticated or system actions
	TargetUserID *int64 `json:"target_user_id,omitempty"`

	// Request correlation
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Changes  *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for querying the audit trail
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	TenantID     *int64
	ActorUserID  *int64
	TargetUserID *int64

	Actions []Action
	Status  *Status

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit trail entries
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)
