package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Smart-Samurai/Krapi-sub010/internal/handler"
	"github.com/Smart-Samurai/Krapi-sub010/internal/metrics"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/server/middleware"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	BasePath        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	MaxBodySize     int64 // bytes
	LoginRateLimit  int   // per minute per IP, 0 disables
	TLSCertFile     string
	TLSKeyFile      string
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            3470,
		BasePath:        "/krapi/k1",
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		MaxBodySize:     1 << 20,
		LoginRateLimit:  20,
	}
}

// Pinger is a dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the routes are wired to.
type Deps struct {
	Auth      *service.AuthService
	Admins    *service.AdminManager
	Changelog *service.ChangelogReader
	Guard     *service.Guard
	Metrics   *metrics.Metrics
	// Checks are pinged by /readyz, keyed by name.
	Checks map[string]Pinger
	Logger *slog.Logger
}

// Server is the top-level HTTP server. It owns the chi router and the
// http.Server bound to it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server with all routes and middleware wired. Call
// ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	s := &Server{cfg: cfg, deps: deps, logger: deps.Logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger, s.deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   append(append([]string(nil), s.cfg.CORSMethods...), "OPTIONS"),
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Health checks and metrics (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	authH := handler.NewAuthHandler(s.deps.Auth, s.deps.Metrics)
	adminH := handler.NewAdminHandler(s.deps.Admins)
	keyH := handler.NewKeyHandler(s.deps.Auth)
	logH := handler.NewChangelogHandler(s.deps.Changelog)
	docH := handler.NewOpenAPIHandler(s.cfg.BasePath, s.cfg.Version)

	r.Route(s.cfg.BasePath, func(r chi.Router) {
		r.Get("/openapi.json", docH.ServeSpec)

		// Credential exchange endpoints take no session. Logout reads the
		// bearer token itself: 401 without one, 200 for unknown or consumed.
		r.Group(func(r chi.Router) {
			r.Use(middleware.LoginRateLimit(s.cfg.LoginRateLimit))
			r.Post("/auth/admin/login", authH.Login)
			r.Post("/auth/admin/api-login", authH.APILogin)
		})
		r.Post("/auth/session/validate", authH.ValidateSession)
		r.Post("/auth/logout", authH.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Guard))

			r.Get("/auth/me", authH.Me)
			r.Post("/auth/change-password", authH.ChangePassword)
			r.Post("/auth/regenerate-api-key", authH.RegenerateAPIKey)

			r.Route("/admin/users", func(r chi.Router) {
				r.Get("/", adminH.ListAdmins)
				r.Post("/", adminH.CreateAdmin)
				r.Get("/{id}", adminH.GetAdmin)
				r.Put("/{id}", adminH.UpdateAdmin)
				r.Delete("/{id}", adminH.DeleteAdmin)
			})

			r.Get("/apikeys", keyH.ListAPIKeys)
			r.Post("/apikeys", keyH.CreateAPIKey)
			r.Delete("/apikeys/{id}", keyH.RevokeAPIKey)

			r.With(middleware.RequireScope(s.deps.Guard, model.ScopeAdminRead)).
				Get("/changelog", logH.ListChangelog)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	s.router = r
}

// handleHealthz is the liveness check. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is the readiness check. Returns 200 when every dependency
// answers a ping, or 503 if any is unreachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for name, p := range s.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
// It then performs a graceful shutdown, draining in-flight requests for up
// to the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "base_path", s.cfg.BasePath)
		var err error
		if s.cfg.TLSCertFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
