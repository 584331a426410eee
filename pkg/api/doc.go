// Package api exposes the authorization engine over HTTP: access checks,
// membership graph mutations, entitlement toggles, module config reads,
// session lifecycle, platform role grants, and audit trail queries.
package api
