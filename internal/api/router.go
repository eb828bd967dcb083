package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/api/handlers"
	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// UserStore covers login and user administration. users.Service
// implements it.
type UserStore interface {
	handlers.Authenticator
	handlers.UserService
}

// HistoryStore covers history listing and export ownership. history.Service
// implements it.
type HistoryStore interface {
	handlers.HistoryReader
	handlers.ExportOwnership
}

// Dependencies are the services the HTTP API is built from.
type Dependencies struct {
	Config     config.Config
	Logger     zerolog.Logger
	JWTManager *auth.JWTManager
	Health     *handlers.HealthChecker
	Users      UserStore
	Searcher   handlers.Searcher
	Exporter   handlers.Exporter
	History    HistoryStore
	Sources    handlers.SourceService
	Policy     handlers.PolicyStore
	AuditStore audit.Store
	Auditor    audit.Recorder
	// MCP, when set, is mounted at /mcp. It authenticates on its own.
	MCP http.Handler

	Version   string
	GitCommit string
	BuildDate string
}

// NewRouter wires every route and the global middleware chain.
func NewRouter(deps Dependencies) http.Handler {
	env := deps.Config.Environment

	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWTManager, env)
	searchHandler := handlers.NewSearchHandler(deps.Searcher, deps.Exporter, deps.History, env)
	historyHandler := handlers.NewHistoryHandler(deps.History, env)
	sourcesHandler := handlers.NewAdminSourcesHandler(deps.Sources, deps.Policy, env)
	usersHandler := handlers.NewAdminUsersHandler(deps.Users, env)
	auditHandler := handlers.NewAuditHandler(deps.AuditStore, deps.Auditor, env)
	policyHandler := handlers.NewPolicyHandler(deps.Policy, deps.Auditor, env)

	rateLimit := middleware.RateLimit(deps.Config.RateLimit)
	jwtAuth := middleware.JWTAuth(deps.JWTManager, env)

	// tiered applies the rate limit tier before the shared limiter runs.
	tiered := func(tier middleware.RateLimitTier, h http.Handler) http.Handler {
		return middleware.WithRateLimitTierHandler(tier)(rateLimit(h))
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return tiered(middleware.TierUser, jwtAuth(middleware.DefaultRequestSize()(h)))
	}
	searching := func(h http.HandlerFunc) http.Handler {
		return tiered(middleware.TierSearch, jwtAuth(middleware.DefaultRequestSize()(h)))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return tiered(middleware.TierAdmin, jwtAuth(middleware.RequireRole(auth.RoleAdmin, env)(middleware.AdminRequestSize()(h))))
	}
	superAdmin := func(h http.HandlerFunc) http.Handler {
		return tiered(middleware.TierAdmin, jwtAuth(middleware.RequireRole(auth.RoleSuperAdmin, env)(middleware.AdminRequestSize()(h))))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", handlers.Healthz())
	if deps.Health != nil {
		mux.Handle("GET /readyz", deps.Health.Health())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{Registry: metrics.Registry}))
	mux.Handle("GET /version", VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate))
	mux.Handle("GET /api/v1/openapi.json", OpenAPIHandler())

	mux.Handle("POST /api/v1/auth/login", tiered(middleware.TierLogin, middleware.DefaultRequestSize()(http.HandlerFunc(authHandler.Login))))

	mux.Handle("POST /api/v1/search", searching(searchHandler.Search))
	mux.Handle("POST /api/v1/search/export", searching(searchHandler.Export))
	mux.Handle("GET /api/v1/exports/{name}", authed(searchHandler.Download))
	mux.Handle("GET /api/v1/history/searches", authed(historyHandler.Searches))
	mux.Handle("GET /api/v1/history/exports", authed(historyHandler.Exports))

	mux.Handle("/api/v1/admin/sources", methodMux(map[string]http.Handler{
		http.MethodGet:  admin(sourcesHandler.List),
		http.MethodPost: admin(sourcesHandler.Create),
	}))
	mux.Handle("/api/v1/admin/sources/{name}", methodMux(map[string]http.Handler{
		http.MethodGet:    admin(sourcesHandler.Get),
		http.MethodPut:    admin(sourcesHandler.Update),
		http.MethodDelete: admin(sourcesHandler.Deactivate),
	}))
	mux.Handle("POST /api/v1/admin/sources/{name}/activate", admin(sourcesHandler.Activate))
	mux.Handle("POST /api/v1/admin/sources/{name}/test", admin(sourcesHandler.Test))
	mux.Handle("GET /api/v1/admin/sources/{name}/schema", admin(sourcesHandler.Schema))

	mux.Handle("GET /api/v1/admin/audit", admin(auditHandler.List))
	mux.Handle("GET /api/v1/admin/audit/export", admin(auditHandler.Export))

	mux.Handle("/api/v1/admin/policy", methodMux(map[string]http.Handler{
		http.MethodGet: admin(policyHandler.Get),
		http.MethodPut: superAdmin(policyHandler.Update),
	}))

	mux.Handle("/api/v1/admin/users", methodMux(map[string]http.Handler{
		http.MethodGet:  admin(usersHandler.ListUsers),
		http.MethodPost: admin(usersHandler.CreateUser),
	}))
	mux.Handle("/api/v1/admin/users/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: admin(usersHandler.GetUser),
		http.MethodPut: admin(usersHandler.UpdateUser),
	}))
	mux.Handle("POST /api/v1/admin/users/{id}/deactivate", admin(usersHandler.DeactivateUser))
	mux.Handle("POST /api/v1/admin/users/{id}/activate", admin(usersHandler.ActivateUser))

	if deps.MCP != nil {
		mux.Handle("/mcp", tiered(middleware.TierSearch, deps.MCP))
	}

	// metrics.HTTPMiddleware sits directly on the mux so it sees the
	// matched pattern.
	var handler http.Handler = metrics.HTTPMiddleware(mux)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.RequestLogging(deps.Logger)(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	return handler
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
