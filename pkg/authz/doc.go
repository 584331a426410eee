// Package authz classifies actor levels and resolves module access.
//
// Access checks deny with a reason code, never free text. The tenant
// entitlement is an absolute ceiling: when the master switch is off no
// rank or override grants access.
package authz
