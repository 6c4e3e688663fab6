package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/kmetric/sessiond/internal/session"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the HTTP server the browser extension reports activity to.
type Server struct {
	config   Config
	store    storage.Store
	user     *session.Manager
	chart    *session.Manager
	clock    quartz.Clock
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, store storage.Store, user, chart *session.Manager, clock quartz.Clock, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		user:   user,
		chart:  chart,
		clock:  clock,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	eventsHandler := NewEventsHandler(s.user, s.chart, s.clock, s.logger)
	s.router.HandleFunc("/api/events/page-load", eventsHandler.PageLoad).Methods("POST")
	s.router.HandleFunc("/api/events/user-input", eventsHandler.UserInput).Methods("POST")

	sessionsHandler := NewSessionsHandler(s.user, s.chart, s.store.Logs(), s.logger)
	s.router.HandleFunc("/api/sessions", sessionsHandler.List).Methods("GET")
	s.router.HandleFunc("/api/sessions", sessionsHandler.Terminate).Methods("DELETE")
	s.router.HandleFunc("/api/sessions/logs", sessionsHandler.QueryLogs).Methods("GET")

	usageHandler := NewUsageHandler(s.store.Usage(), s.logger)
	s.router.HandleFunc("/api/usage/today", usageHandler.GetToday).Methods("GET")
	s.router.HandleFunc("/api/usage/{date}", usageHandler.GetDaily).Methods("GET")

	settingsHandler := NewSettingsHandler(s.user, s.chart, s.logger)
	s.router.HandleFunc("/api/settings/timeout", settingsHandler.GetTimeout).Methods("GET")
	s.router.HandleFunc("/api/settings/timeout", settingsHandler.SetTimeout).Methods("PUT")

	tabsHandler := NewTabsHandler(s.user, s.chart, s.logger)
	s.router.HandleFunc("/api/tabs/{tabID}/removed", tabsHandler.Removed).Methods("POST")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"user_sessions":  len(s.user.Sessions()),
		"chart_sessions": len(s.chart.Sessions()),
	})
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
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

// LoggingMiddleware logs every request after it is served.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
