// Package hierarchy maintains the membership and supervision graph.
//
// The Engine is the only write path. Each mutation locks the tenant row,
// validates the change, applies it, re-asserts the structural invariants
// under the same transaction, and writes the audit row before committing.
// The partial unique index on active owners backs the single-owner
// invariant at the storage level in case a write path ever bypasses the
// Engine.
package hierarchy
