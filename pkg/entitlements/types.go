package entitlements

import "time"

// Entitlement is the per (tenant, module) master switch plus configuration
// limits. A missing row or IsEnabled=false makes the module categorically
// unavailable to every user in the tenant.
type Entitlement struct {
	ID        int64                  `json:"id"`
	TenantID  int64                  `json:"tenant_id"`
	ModuleKey string                 `json:"module_key"`
	IsEnabled bool                   `json:"is_enabled"`
	Limits    map[string]interface{} `json:"limits,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// UserEntitlement overrides the module toggle for one user. Meaningful only
// while the tenant entitlement is enabled; the master switch still wins.
type UserEntitlement struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TenantID  int64     `json:"tenant_id"`
	ModuleKey string    `json:"module_key"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
