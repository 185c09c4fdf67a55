package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Request metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_http_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dtxcloud_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"bucket"},
	)

	// Upload metrics
	SessionItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_session_items_total",
			Help: "Uploaded session items by outcome",
		},
		[]string{"outcome"},
	)

	AggregateRecomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_aggregate_recomputes_total",
			Help: "Daily aggregate recomputations by result",
		},
		[]string{"result"},
	)

	BestEffortFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_best_effort_failures_total",
			Help: "Side effects that failed without failing the request",
		},
		[]string{"operation"},
	)

	// Firmware metrics
	FirmwareChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_firmware_checks_total",
			Help: "Firmware update checks by outcome",
		},
		[]string{"outcome"},
	)

	// Audit metrics
	AuditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtxcloud_audit_records_total",
			Help: "Admin audit records by write result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitedTotal,
		SessionItemsTotal,
		AggregateRecomputesTotal,
		BestEffortFailuresTotal,
		FirmwareChecksTotal,
		AuditRecordsTotal,
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
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
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
