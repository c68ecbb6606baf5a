// Package server assembles the HTTP surface of the gateway: the chi router,
// the middleware chains for each route group, health and readiness probes,
// and graceful shutdown. All domain behavior lives in the handler, service,
// and quota packages; this package only wires them together.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/handler"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/server/middleware"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/internal/tool"
	"github.com/gatewarden/gatewarden/internal/usage"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// MaxBodySize caps request bodies in bytes before any handler or
	// signature check reads them.
	MaxBodySize int64
	// IPRequestsPerMinute is the pre-authentication per-IP budget on the
	// tool surface. It exists to blunt credential stuffing, not to meter
	// legitimate traffic; the per-key quota does that.
	IPRequestsPerMinute int
	// PurgeInterval is how often the expired-key sweeper runs. Zero or
	// negative disables the sweeper.
	PurgeInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                8080,
		ShutdownTimeout:     30 * time.Second,
		CORSOrigins:         []string{"*"},
		MaxBodySize:         1 << 20, // 1 MB
		IPRequestsPerMinute: 600,
		PurgeInterval:       time.Hour,
	}
}

// Deps carries everything the router needs. All fields are required except
// Signed, which disables the HMAC caller path when nil.
type Deps struct {
	Store    *store.Store
	Enforcer quota.Enforcer
	Verifier *service.Verifier
	Sessions *service.Sessions
	Issuer   *service.Issuer
	Audit    *audit.Recorder
	Usage    *usage.Recorder
	Runner   tool.Runner
	Signed   *middleware.SignedCaller
}

func (d Deps) signingSecret() []byte {
	if d.Signed == nil {
		return nil
	}
	return d.Signed.Secret
}

// Server is the HTTP server for the gateway API.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

// New creates a Server with all routes and middleware configured.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware. Order matters: request ID first so the logger can
	// emit it, recovery before anything that can panic, body cap before
	// anything that reads the body.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Gatewarden-Signature"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Quota-Limit", "X-Quota-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(chimw.RequestSize(s.cfg.MaxBodySize))

	tools := handler.NewTools(s.deps.Runner, s.deps.signingSecret(), s.logger)
	keys := handler.NewKeys(s.deps.Issuer, s.deps.Store, s.logger)
	usg := handler.NewUsage(s.deps.Store, s.deps.Enforcer, s.logger)
	admin := handler.NewAdmin(s.deps.Issuer, s.deps.Store, s.logger)

	// Probes and the API document are open; everything else authenticates.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", handler.NewOpenAPI().Serve)

	// Tool surface: credential admission, then per-route permission and
	// quota. Usage touch sits after the quota gate so only served requests
	// count against a key's usage.
	r.Route("/tools", func(r chi.Router) {
		r.Get("/health", tools.Health)

		r.Group(func(r chi.Router) {
			r.Use(middleware.IPLimit(s.cfg.IPRequestsPerMinute))
			r.Use(middleware.Admission(s.deps.Verifier, s.deps.Signed, s.deps.Audit))

			r.With(
				middleware.RequirePermission(model.PermToolsRead, s.deps.Audit),
				middleware.QuotaGate(s.deps.Enforcer, quota.ClassGeneral, s.deps.Audit),
				middleware.UsageTouch(s.deps.Usage),
			).Post("/get_price", tools.GetPrice)

			r.With(
				middleware.RequirePermission(model.PermToolsRead, s.deps.Audit),
				middleware.QuotaGate(s.deps.Enforcer, quota.ClassGeneral, s.deps.Audit),
				middleware.UsageTouch(s.deps.Usage),
			).Post("/analyze_market", tools.AnalyzeMarket)

			r.With(
				middleware.RequirePermission(model.PermToolsWrite, s.deps.Audit),
				middleware.QuotaGate(s.deps.Enforcer, quota.ClassCostly, s.deps.Audit),
				middleware.UsageTouch(s.deps.Usage),
			).Post("/feed_oracle", tools.FeedOracle)
		})
	})

	// Self-service key management, session JWT required.
	r.Route("/user", func(r chi.Router) {
		r.Use(middleware.Session(s.deps.Sessions, s.deps.Audit))

		r.Post("/api-keys", keys.Create)
		r.Get("/api-keys", keys.ListMine)
		r.Patch("/api-keys/{keyID}", keys.Update)
		r.Delete("/api-keys/{keyID}", keys.Revoke)
		r.Get("/usage", usg.Summary)
	})

	r.Route("/org", func(r chi.Router) {
		r.Use(middleware.Session(s.deps.Sessions, s.deps.Audit))

		r.Get("/api-keys", keys.ListOrg)
	})

	// Admin surface, session JWT with the admin claim.
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Session(s.deps.Sessions, s.deps.Audit))
		r.Use(middleware.RequireAdmin(s.deps.Audit))

		r.Get("/api-keys", admin.ListKeys)
		r.Put("/api-keys/{keyID}/tier", admin.ChangeTier)
		r.Post("/purge-expired", admin.PurgeExpired)
		r.Get("/audit", admin.ListAudit)
	})

	s.router = r
}

// ---------------------------------------------------------------------------
// Health endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}

// handleReadyz reports whether the store and the quota backend are reachable.
// Any failing dependency degrades readiness to 503.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, 2)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if err := s.deps.Enforcer.Ping(r.Context()); err != nil {
		checks["quota"] = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		checks["quota"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"status": status,
		"checks": checks,
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ListenAndServe starts the HTTP server and blocks until the context is
// cancelled or the process receives SIGINT/SIGTERM. On shutdown it drains
// in-flight requests for up to ShutdownTimeout, then stops the usage
// recorder and closes the quota backend and store.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	notifyCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.cfg.PurgeInterval > 0 {
		go s.purgeLoop(notifyCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-notifyCtx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", "error", err)
	}

	// Release resources only after the listener has drained so in-flight
	// requests never see a closed store.
	if s.deps.Usage != nil {
		s.deps.Usage.Shutdown()
	}
	if s.deps.Enforcer != nil {
		if err := s.deps.Enforcer.Close(); err != nil {
			s.logger.Error("close quota backend", "error", err)
		}
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Close(); err != nil {
			s.logger.Error("close store", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// purgeLoop deletes expired keys on a fixed interval until ctx is cancelled.
func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.deps.Issuer.PurgeExpired(ctx, model.ActorSystem, "scheduler")
			if err != nil {
				s.logger.Error("purge expired keys", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired keys", "count", n)
			}
		}
	}
}

// Router exposes the underlying chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
