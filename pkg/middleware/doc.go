// Package middleware provides the HTTP middleware chain: request IDs,
// request logging and metrics, and actor resolution from session and
// preview credentials.
package middleware
