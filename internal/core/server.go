// Package core provides the API chassis for the Pulseboard billing service.
// It creates a chi router and enforces cross-cutting concerns -- security,
// logging, observability, and error handling -- before requests reach
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulseboard/internal/config"
	"pulseboard/internal/types"
)

// Authenticator resolves dashboard session tokens to Actors. Implementations
// call the external identity provider; tests inject lightweight fakes.
type Authenticator interface {
	// ResolveToken resolves a bearer token to the authenticated Actor.
	// Returns a *types.AppError with an auth_ code on failure.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RouteRegistrar mounts a group of domain handler routes onto a router.
// Handler packages provide registrars to the application entry point, which
// passes them to the Server. This indirection avoids import cycles between
// core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the billing API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator

	// HealthProbes are executed concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount authenticated dashboard routes under /v1.
	V1RouteRegistrars []RouteRegistrar

	// WebhookRouteRegistrars mount provider callback routes under /webhooks.
	// These routes bypass bearer authentication; each handler performs its
	// own signature verification.
	WebhookRouteRegistrars []RouteRegistrar

	// shutdownHooks run in registration order during Shutdown.
	shutdownHooks []func(context.Context) error

	// Internal router
	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a "fail-fast" check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook to run during graceful shutdown. Hooks run in
// registration order; the first error aborts the remaining hooks.
func (s *Server) OnShutdown(hook func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Shutdown performs a graceful termination of server resources, running all
// registered shutdown hooks (database pool close, queue client flush).
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			return fmt.Errorf("running shutdown hook: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
