package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"premium-access/internal/config"
	"premium-access/internal/infra/i18n"
	red "premium-access/internal/infra/redis"
	"premium-access/internal/infra/security"
	"premium-access/internal/usecase"
)

// Deps groups everything the HTTP layer calls into.
type Deps struct {
	Codes        usecase.CodeRegistryUseCase
	Entitlements usecase.EntitlementUseCase
	Sessions     usecase.DeviceSessionUseCase
	Admission    usecase.AdmissionUseCase
	Tokens       *security.DeviceTokens
	// RedeemLimiter caps redemption attempts per user; nil disables it.
	RedeemLimiter *red.RateLimiter
	// Messages localises error messages; nil leaves them in English.
	Messages *i18n.Catalog
}

type Server struct {
	deps   Deps
	cfg    config.Config
	log    *zerolog.Logger
	now    func() time.Time
	server *http.Server
}

func NewServer(cfg config.Config, deps Deps, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{deps: deps, cfg: cfg, log: &l, now: time.Now}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	timeout := s.cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(Timeout(timeout), BearerAuth(s.cfg.Server.AdminAPIKey, s.log))

		r.Post("/codes", s.handleGenerateCodes)
		r.Get("/codes", s.handleListCodes)
		r.Post("/codes/delete", s.handleDeleteCodes)
		r.Get("/codes/stats", s.handleCodeStats)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/entitlement", s.handleStatus)
			r.Delete("/entitlement", s.handleRevoke)
			r.Post("/revoke-all", s.handleRevokeAll)
			r.Get("/sessions", s.handleListSessions)
		})

		r.Get("/snapshot", s.handleExportSnapshot)
		r.Put("/snapshot", s.handleImportSnapshot)
		r.Post("/reconcile", s.handleReconcile)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(timeout), BearerAuth(s.cfg.Server.ServiceAPIKey, s.log))
		r.Use(RateLimit(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/redeem", s.handleRedeem)
			r.Get("/status", s.handleStatus)
			r.Post("/trial", s.handleTrial)
			r.Post("/login", s.handleLogin)
			r.Get("/sessions", s.handleListSessions)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/logout", s.handleLogout)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("HTTP server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
