package tenants

import (
	"errors"
	"fmt"
	"time"
)

// TenantStatus represents the lifecycle status of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant is an isolated customer workspace. Tenants are owned by the
// platform and mutated only through administrative actions.
type Tenant struct {
	ID                  int64        `json:"id"`
	Name                string       `json:"name"`
	DisplayName         string       `json:"display_name"`
	Status              TenantStatus `json:"status"`
	ActivationExpiresAt *time.Time   `json:"activation_expires_at,omitempty"`
	Industry            *string      `json:"industry,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// IsActive reports whether the tenant is usable: active status and, when an
// activation expiry is set, not past it.
func (t *Tenant) IsActive(now time.Time) bool {
	if t.Status != TenantStatusActive {
		return false
	}
	if t.ActivationExpiresAt != nil && now.After(*t.ActivationExpiresAt) {
		return false
	}
	return true
}

// User is an account living in one home tenant. Users are soft-deleted by
// marking DeletedAt; the only hard delete is the cascading user-delete
// transaction in the hierarchy engine.
type User struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"` // Never expose hash
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsDeleted reports whether the user carries a soft-delete marker
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Module is a catalog entry for an optional capability area
type Module struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// NotFoundError indicates a referenced tenant, user, or module does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsNotFound checks whether an error is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
