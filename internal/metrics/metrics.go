package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session lifecycle metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_started_total",
			Help: "Total sessions that saw their first activity event",
		},
		[]string{"type"},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_ended_total",
			Help: "Total sessions terminated",
		},
		[]string{"type", "reason"},
	)

	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessiond_active_sessions",
			Help: "Number of sessions currently in memory",
		},
		[]string{"type"},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_session_duration_seconds",
			Help:    "Duration of terminated sessions in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)

	// Activity metrics
	ActivityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_activity_events_total",
			Help: "Total activity events processed",
		},
		[]string{"type", "kind"},
	)

	// Usage metrics
	UsageSecondsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_usage_seconds_total",
			Help: "Total session seconds folded into daily usage",
		},
		[]string{"type", "org"},
	)

	// Persistence metrics
	PersistWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessiond_persist_writes_total",
			Help: "Total session table persistence writes",
		},
	)

	PersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessiond_persist_errors_total",
			Help: "Total failed persistence writes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		ActiveSessions,
		SessionDuration,
		ActivityEvents,
		UsageSecondsConsumed,
		PersistWrites,
		PersistErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
