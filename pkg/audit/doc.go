// Package audit writes and queries the immutable authorization audit trail.
//
// Mutations in the membership and entitlement engines log through LogTx so
// the trail row commits or rolls back with the change it documents. Access
// denials and session lifecycle events use the best-effort Log path, which
// never fails the request it is attached to.
package audit
