package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"ringrelay/internal/auth"
	"ringrelay/internal/httputil"
	"ringrelay/internal/middleware"
	"ringrelay/internal/models"
	"ringrelay/internal/service"
)

// HealthChecker reports whether the store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PresenceReader exposes the local and cluster rosters
type PresenceReader interface {
	OnlineUsers() []string
	ClusterOnlineUsers(ctx context.Context) ([]string, error)
}

type Services struct {
	Messages *service.MessageService
	Calls    *service.CallService
	Friends  *service.FriendService
	Presence PresenceReader
	Health   HealthChecker
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	services Services
	verifier *auth.Verifier
	realtime http.Handler
	server   *http.Server
}

func NewServer(cfg *models.Config, services Services, verifier *auth.Verifier, realtime http.Handler, logger *logrus.Logger, verbose bool) (*Server, error) {
	ips, err := httputil.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		services: services,
		verifier: verifier,
		realtime: realtime,
	}

	s.router.Use(middleware.Observability(logger, ips))
	s.router.Use(verboseContext(verbose))
	s.router.Use(middleware.MaxBodySize(cfg.Server.MaxRequestBodySize))
	if verbose {
		s.router.Use(middleware.DetailedLogging(logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.Handle("/ws", s.realtime).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireIdentity)
	api.HandleFunc("/messages/{userId}", s.handleSendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{userId}", s.handleConversation()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversationId}", s.handleConversationByID()).Methods(http.MethodGet)
	api.HandleFunc("/calls", s.handleCallHistory()).Methods(http.MethodGet)
	api.HandleFunc("/friends", s.handleFriends()).Methods(http.MethodGet)
	api.HandleFunc("/friends/requests", s.handleFriendRequests()).Methods(http.MethodGet)
	api.HandleFunc("/friends/{userId}/request", s.handleSendFriendRequest()).Methods(http.MethodPost)
	api.HandleFunc("/friends/{userId}/accept", s.handleAcceptFriendRequest()).Methods(http.MethodPost)
	api.HandleFunc("/presence", s.handlePresence()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	// WriteTimeout stays zero: websocket sessions outlive any fixed response deadline.
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{"status": "healthy"}
		code := http.StatusOK

		if s.services.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.services.Health.HealthCheck(ctx); err != nil {
				s.logger.WithError(err).Warn("Database health check failed")
				status["status"] = "unhealthy"
				status["database"] = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}

		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
