// Package server wires the chi router: public activation endpoints behind a
// rate limit, the admin API behind session auth, and the operational
// endpoints (health probes, OpenAPI document).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygatehq/keygate/internal/handler"
	"github.com/keygatehq/keygate/internal/openapi"
	"github.com/keygatehq/keygate/internal/server/middleware"
	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RatePerMinute   int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RatePerMinute:   60,
	}
}

// Server is the top-level HTTP server for keygate. It owns the chi router,
// the store, and the three services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	licensing  *service.Licensing
	catalog    *service.Catalog
	auth       *service.Auth
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, licensing *service.Licensing, catalog *service.Catalog, auth *service.Auth, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		licensing: licensing,
		catalog:   catalog,
		auth:      auth,
		logger:    logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	spec := openapi.GenerateSpec(fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port))
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(spec)
	})

	r.Route("/api/v1", func(r chi.Router) {

		// Public activation protocol. Unauthenticated, so rate limited by
		// license key when the client identifies one, by IP otherwise.
		r.Route("/license", func(r chi.Router) {
			r.Use(middleware.RateLimitByLicenseKey(s.cfg.RatePerMinute))

			lic := handler.NewLicenseHandler(s.licensing)
			r.Post("/activate", lic.Activate)
			r.Post("/validate", lic.Validate)
			r.Post("/deactivate", lic.Deactivate)
		})

		// Admin API.
		r.Route("/admin", func(r chi.Router) {
			sys := handler.NewSystemHandler(s.auth)

			// Login is unauthenticated and a password oracle, so it gets its
			// own IP budget; logout is self-authenticated by the token it
			// destroys.
			r.With(middleware.RateLimit(s.cfg.RatePerMinute)).Post("/session", sys.Login)
			r.Delete("/session", sys.Logout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.auth))

				r.Get("/session", sys.Me)
				r.Post("/admins", sys.CreateAdmin)

				apps := handler.NewAppHandler(s.catalog)
				r.Get("/apps", apps.List)
				r.Post("/apps", apps.Create)
				r.Get("/apps/{appId}", apps.Get)
				r.Patch("/apps/{appId}", apps.Update)
				r.Delete("/apps/{appId}", apps.Delete)

				lics := handler.NewAdminLicenseHandler(s.licensing)
				r.Get("/licenses", lics.List)
				r.Post("/licenses", lics.Issue)
				r.Get("/licenses/{licenseId}", lics.Get)
				r.Patch("/licenses/{licenseId}", lics.Update)
				r.Put("/licenses/{licenseId}/status", lics.SetStatus)
				r.Delete("/licenses/{licenseId}", lics.Delete)

				acts := handler.NewActivationHandler(s.licensing)
				r.Get("/activations", acts.List)
				r.Post("/activations", acts.Create)
				r.Get("/activations/stats", acts.Stats)
				r.Get("/activations/{activationId}", acts.Get)
				r.Get("/activations/{activationId}/logs", acts.Logs)
				r.Post("/activations/{activationId}/approve", acts.Approve)
				r.Post("/activations/{activationId}/revoke", acts.Revoke)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the database is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"database": s.store.Driver(),
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the database.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go s.purgeSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// purgeSessions drops expired admin sessions on an hourly tick so the
// sessions table does not grow without bound.
func (s *Server) purgeSessions(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.store.PurgeExpiredSessions(ctx)
			if err != nil {
				s.logger.Warn("purge sessions", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired sessions purged", "count", n)
			}
		}
	}
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
