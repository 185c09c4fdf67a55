// Package server wires the REST API onto a gorilla/mux router.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/dtxcloud/internal/artifacts"
	"github.com/goodtune/dtxcloud/internal/audit"
	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/ratelimit"
	"github.com/goodtune/dtxcloud/internal/rollout"
	"github.com/goodtune/dtxcloud/internal/server/api"
	"github.com/goodtune/dtxcloud/internal/sessions"
	"github.com/goodtune/dtxcloud/internal/stats"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	AdminSetupKey  string
	RateLimit      *ratelimit.Policy // nil disables rate limiting
}

// Services are the domain components the handlers call into.
type Services struct {
	Store      storage.Store
	Auth       *auth.Service
	Limiter    ratelimit.Limiter
	Reconciler *sessions.Reconciler
	Recomputer *stats.Recomputer
	Checker    *rollout.Checker
	Analytics  *stats.Analytics
	Recorder   *audit.Recorder
	Signer     artifacts.Signer
	Runner     *besteffort.Runner
	Clock      clock.Clock
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	services Services
	router   *mux.Router
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, services Services, logger zerolog.Logger) *Server {
	s := &Server{
		config:   cfg,
		services: services,
		router:   mux.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		s.handler = CORSMiddleware(cfg.AllowedOrigins)(s.router)
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	svc := s.services
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Public routes, limited per client address
	public := s.router.NewRoute().Subrouter()
	if s.config.RateLimit != nil {
		public.Use(RateLimitMiddleware(svc.Limiter, *s.config.RateLimit, s.logger))
	}

	authHandler := api.NewAuthHandler(svc.Auth, s.logger)
	adminHandler := api.NewAdminHandler(svc.Store, svc.Recorder, svc.Clock, s.config.AdminSetupKey, s.logger)
	public.HandleFunc("/api/auth/signup", authHandler.Signup).Methods("POST")
	public.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	public.HandleFunc("/api/admin/setup", adminHandler.Setup).Methods("POST")

	// Authenticated routes, limited per user
	authRouter := s.router.NewRoute().Subrouter()
	authRouter.Use(AuthMiddleware(svc.Auth, s.logger))
	if s.config.RateLimit != nil {
		authRouter.Use(RateLimitMiddleware(svc.Limiter, *s.config.RateLimit, s.logger))
	}

	authRouter.HandleFunc("/api/auth/logout", authHandler.Logout).Methods("POST")
	authRouter.HandleFunc("/api/auth/me", authHandler.Me).Methods("GET")

	deviceHandler := api.NewDeviceHandler(svc.Store.Devices(), svc.Store.Users(), svc.Clock, s.logger)
	authRouter.HandleFunc("/api/devices", deviceHandler.List).Methods("GET")
	authRouter.HandleFunc("/api/devices", deviceHandler.Register).Methods("POST")
	authRouter.HandleFunc("/api/devices/{id}", deviceHandler.Get).Methods("GET")
	authRouter.HandleFunc("/api/devices/{id}", deviceHandler.Update).Methods("PUT")
	authRouter.HandleFunc("/api/devices/{id}", deviceHandler.Delete).Methods("DELETE")
	authRouter.HandleFunc("/api/devices/{id}/transfer", deviceHandler.Transfer).Methods("POST")

	sessionHandler := api.NewSessionHandler(svc.Reconciler, svc.Store.Sessions(), svc.Recomputer, svc.Runner, s.logger)
	authRouter.HandleFunc("/api/sessions", sessionHandler.List).Methods("GET")
	authRouter.HandleFunc("/api/sessions/upload", sessionHandler.Upload).Methods("POST")
	authRouter.HandleFunc("/api/sessions/export", sessionHandler.Export).Methods("GET")
	authRouter.HandleFunc("/api/sessions/{id}", sessionHandler.Delete).Methods("DELETE")

	statsHandler := api.NewStatsHandler(svc.Store.Stats(), svc.Clock, s.logger)
	authRouter.HandleFunc("/api/stats/daily", statsHandler.Daily).Methods("GET")
	authRouter.HandleFunc("/api/stats/range", statsHandler.Range).Methods("GET")

	firmwareHandler := api.NewFirmwareHandler(svc.Store.Firmware(), svc.Checker, s.logger)
	authRouter.HandleFunc("/api/firmware/latest", firmwareHandler.Latest).Methods("GET")
	authRouter.HandleFunc("/api/firmware/check", firmwareHandler.Check).Methods("GET")

	goalHandler := api.NewGoalHandler(svc.Store.Goals(), svc.Clock, s.logger)
	authRouter.HandleFunc("/api/goals", goalHandler.List).Methods("GET")
	authRouter.HandleFunc("/api/goals", goalHandler.Create).Methods("POST")
	authRouter.HandleFunc("/api/goals/{id}", goalHandler.Update).Methods("PUT")
	authRouter.HandleFunc("/api/goals/{id}", goalHandler.Delete).Methods("DELETE")

	announcementHandler := api.NewAnnouncementHandler(svc.Store.Announcements(), s.logger)
	authRouter.HandleFunc("/api/announcements", announcementHandler.List).Methods("GET")

	// Admin routes
	adminRouter := authRouter.PathPrefix("/api/admin").Subrouter()
	adminRouter.Use(AdminMiddleware())

	adminRouter.HandleFunc("/promote", adminHandler.Promote).Methods("POST")
	adminRouter.HandleFunc("/stats", adminHandler.Stats).Methods("GET")
	adminRouter.HandleFunc("/users", adminHandler.ListUsers).Methods("GET")
	adminRouter.HandleFunc("/users/{id}", adminHandler.GetUser).Methods("GET")
	adminRouter.HandleFunc("/users/{id}", adminHandler.UpdateUser).Methods("PUT")
	adminRouter.HandleFunc("/devices", adminHandler.ListDevices).Methods("GET")
	adminRouter.HandleFunc("/logs", adminHandler.ListLogs).Methods("GET")

	contentHandler := api.NewContentHandler(svc.Store, svc.Recorder, svc.Signer, svc.Clock, s.logger)
	adminRouter.HandleFunc("/announcements", contentHandler.ListAnnouncements).Methods("GET")
	adminRouter.HandleFunc("/announcements", contentHandler.CreateAnnouncement).Methods("POST")
	adminRouter.HandleFunc("/announcements/{id}", contentHandler.UpdateAnnouncement).Methods("PUT")
	adminRouter.HandleFunc("/announcements/{id}", contentHandler.DeleteAnnouncement).Methods("DELETE")
	adminRouter.HandleFunc("/firmware", contentHandler.ListFirmware).Methods("GET")
	adminRouter.HandleFunc("/firmware", contentHandler.CreateFirmware).Methods("POST")
	adminRouter.HandleFunc("/firmware/rollouts", contentHandler.ListRollouts).Methods("GET")
	adminRouter.HandleFunc("/firmware/rollouts", contentHandler.CreateRollout).Methods("POST")
	adminRouter.HandleFunc("/firmware/rollouts/{id}", contentHandler.UpdateRollout).Methods("PUT")
	adminRouter.HandleFunc("/firmware/upload", contentHandler.UploadURL).Methods("POST")
	adminRouter.HandleFunc("/firmware/upload", contentHandler.DownloadURL).Methods("GET")

	analyticsHandler := api.NewAnalyticsHandler(svc.Analytics, s.logger)
	adminRouter.HandleFunc("/analytics/overview", analyticsHandler.Overview).Methods("GET")
	adminRouter.HandleFunc("/analytics/usage-trends", analyticsHandler.UsageTrends).Methods("GET")
	adminRouter.HandleFunc("/analytics/feature-usage", analyticsHandler.FeatureUsage).Methods("GET")
	adminRouter.HandleFunc("/analytics/heatmap", analyticsHandler.Heatmap).Methods("GET")
	adminRouter.HandleFunc("/analytics/termination", analyticsHandler.Terminations).Methods("GET")
	adminRouter.HandleFunc("/analytics/firmware-dist", analyticsHandler.FirmwareDistribution).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
