package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/auth"
	"github.com/hongminglow/authz-be/internal/config"
	"github.com/hongminglow/authz-be/internal/http/handlers"
	"github.com/hongminglow/authz-be/internal/metrics"
	"github.com/hongminglow/authz-be/internal/middleware"
	"github.com/hongminglow/authz-be/internal/storage"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store   storage.Store
	Tokens  *auth.TokenManager
	Hasher  auth.PasswordHasher
	Resets  *auth.ResetManager
	Metrics *metrics.Metrics
	Log     *logrus.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewHandler(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{inner: httpServer}
}

// NewHandler builds the full routing tree. The permission gate verifies tokens
// without the admin-only predicate; the role admin routes keep it.
func NewHandler(cfg config.Config, deps Deps) http.Handler {
	log := deps.Log
	component := func(name string) *logrus.Entry { return log.WithField("component", name) }

	resolver := auth.NewResolver(deps.Store)
	permissionTokens := deps.Tokens.WithRevocation(auth.NeverRevoked)
	authz := middleware.NewAuthorizer(permissionTokens, deps.Store, resolver, component("authz"), deps.Metrics)

	router := mux.NewRouter()
	router.Use(middleware.RouteLabel)

	handlers.NewHealthHandler(time.Now()).Register(router)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := router
	if cfg.APIPrefix != "" {
		api = router.PathPrefix(cfg.APIPrefix).Subrouter()
	}
	handlers.NewAuthHandler(deps.Store, deps.Tokens, deps.Hasher, cfg.DefaultRole, component("auth")).Register(api)
	handlers.NewUsersHandler(deps.Store, deps.Hasher, resolver, cfg.DefaultRole, component("users")).Register(api, authz)
	handlers.NewPasswordHandler(deps.Resets, component("password")).Register(api, authz)
	handlers.NewRolesHandler(deps.Store, component("roles")).Register(api, authz)

	var handler http.Handler = router
	handler = middleware.Recovery(component("http"))(handler)
	handler = middleware.Logging(component("http"), deps.Metrics)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.inner.Addr
}
