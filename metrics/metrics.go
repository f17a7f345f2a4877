// Package metrics exposes slnatd counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultPath = "/metrics"
	namespace   = "slnatd"
)

// Metrics implements the observer interfaces of the mapping and server
// packages.
type Metrics struct {
	requests    *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	rules       prometheus.Gauge
	lastSuccess prometheus.Gauge
	registry    *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests by command and result status.",
		}, []string{"command", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Mapping source refresh passes by result.",
		}, []string{"result"}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mapping_rules",
			Help:      "Number of rules in the active mapping table.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.requests, m.refreshes, m.rules, m.lastSuccess)
	return m
}

// ObserveRequest counts a served request. Unknown commands are folded into
// a single label value.
func (m *Metrics) ObserveRequest(command, status string) {
	switch command {
	case "resolve_ip", "get_global_ip", "get2kip", "ping":
	default:
		command = "other"
	}
	m.requests.WithLabelValues(command, status).Inc()
}

func (m *Metrics) ObserveRefresh(rules int, err error) {
	if err != nil {
		m.refreshes.WithLabelValues("failure").Inc()
		return
	}
	m.refreshes.WithLabelValues("success").Inc()
	m.rules.Set(float64(rules))
	m.lastSuccess.SetToCurrentTime()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves the metrics handler over HTTP.
type Server struct {
	srv *http.Server
	log *log.Logger
}

func NewServer(listenAddr string, m *Metrics, logger *log.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, m.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger,
	}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Info("starting Prometheus metrics server", "listen", s.srv.Addr, "path", DefaultPath)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("metrics server failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
