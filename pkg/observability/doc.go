// Package observability provides structured logging, Prometheus metrics, and
// health checks for the Gatekeeper control plane.
//
// Logging is structured JSON over stdlib slog. Loggers are constructed once at
// startup and passed down explicitly or via context; there is no global logger.
//
// Metrics cover the authorization hot path (access checks by decision and
// reason code), membership graph mutations (including rejected invariant
// violations and cascade reassignment sizes), the decision cache, the audit
// trail, and the database pool.
//
// The health checker exposes Kubernetes-style liveness and readiness probes
// on a dedicated listener, separate from the API port.
package observability
