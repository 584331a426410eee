package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/entitlements"
	"github.com/crestline/gatekeeper/pkg/hierarchy"
	"github.com/crestline/gatekeeper/pkg/identity"
	"github.com/crestline/gatekeeper/pkg/middleware"
	"github.com/crestline/gatekeeper/pkg/observability"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

// Server is the authorization API server
type Server struct {
	router *mux.Router

	sessionTTL time.Duration
	previewTTL time.Duration

	tenants      tenants.Service
	engine       *hierarchy.Engine
	platform     *hierarchy.PlatformStore
	resolver     *authz.Resolver
	entitlements *entitlements.PostgresStore
	pipeline     *entitlements.Pipeline
	sessions     *identity.Store
	auditStore   *audit.Store
	auditor      audit.Logger
	logger       *observability.Logger
}

// Deps bundles the server's collaborators
type Deps struct {
	Tenants      tenants.Service
	Engine       *hierarchy.Engine
	Platform     *hierarchy.PlatformStore
	Resolver     *authz.Resolver
	Entitlements *entitlements.PostgresStore
	Pipeline     *entitlements.Pipeline
	Sessions     *identity.Store
	Identity     *identity.Resolver
	AuditStore   *audit.Store
	Auditor      audit.Logger
	Logger       *observability.Logger
	Metrics      *observability.Metrics

	SessionTTL time.Duration
	PreviewTTL time.Duration
}

// NewServer creates the API server and wires its routes and middleware
func NewServer(deps Deps) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		sessionTTL:   deps.SessionTTL,
		previewTTL:   deps.PreviewTTL,
		tenants:      deps.Tenants,
		engine:       deps.Engine,
		platform:     deps.Platform,
		resolver:     deps.Resolver,
		entitlements: deps.Entitlements,
		pipeline:     deps.Pipeline,
		sessions:     deps.Sessions,
		auditStore:   deps.AuditStore,
		auditor:      deps.Auditor,
		logger:       deps.Logger,
	}
	if s.auditor == nil {
		s.auditor = audit.NopLogger{}
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 24 * time.Hour
	}
	if s.previewTTL <= 0 {
		s.previewTTL = time.Hour
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Observe(deps.Logger, deps.Metrics))
	s.router.Use(middleware.NewSessionMiddleware(deps.Identity).Handler)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Access checks and module config
	v1.HandleFunc("/access-checks", s.accessCheck).Methods("POST")
	v1.HandleFunc("/tenants/{tenantID}/modules/{key}/config", s.moduleConfig).Methods("GET")

	// Membership graph mutations
	v1.HandleFunc("/tenants/{tenantID}/members", s.addMember).Methods("POST")
	v1.HandleFunc("/tenants/{tenantID}/members/{userID}", s.mutateMember).Methods("PATCH")
	v1.HandleFunc("/tenants/{tenantID}/members/{userID}", s.deleteMember).Methods("DELETE")
	v1.HandleFunc("/tenants/{tenantID}/ownership-transfers", s.transferOwnership).Methods("POST")

	// Entitlements
	v1.HandleFunc("/tenants/{tenantID}/modules/{key}", s.setEntitlement).Methods("PUT")
	v1.HandleFunc("/tenants/{tenantID}/modules", s.listEntitlements).Methods("GET")
	v1.HandleFunc("/tenants/{tenantID}/members/{userID}/modules/{key}", s.setUserOverride).Methods("PUT")
	v1.HandleFunc("/tenants/{tenantID}/members/{userID}/modules/{key}", s.removeUserOverride).Methods("DELETE")

	// Sessions
	v1.HandleFunc("/sessions", s.createSession).Methods("POST")
	v1.HandleFunc("/sessions/current", s.revokeSession).Methods("DELETE")
	v1.HandleFunc("/previews", s.startPreview).Methods("POST")

	// Platform administration
	v1.HandleFunc("/platform-roles", s.grantPlatformRole).Methods("POST")
	v1.HandleFunc("/platform-roles", s.revokePlatformRole).Methods("DELETE")

	// Audit trail
	v1.HandleFunc("/audit-logs", s.searchAuditLogs).Methods("GET")
	v1.HandleFunc("/audit-logs/export", s.exportAuditLogs).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
