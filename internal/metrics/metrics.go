// Package metrics exposes directory and sync counters to Prometheus and
// serves the /metrics and /healthz endpoints.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

const namespace = "virtual_ldap"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	syncTotal         *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	lastSyncSuccess   prometheus.Gauge
	snapshotEntries   *prometheus.GaugeVec
	snapshotInfo      *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "LDAP operations by type and outcome.",
			},
			[]string{"operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "LDAP operation latency in seconds.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		syncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_passes_total",
				Help:      "Roster sync passes by provider and outcome.",
			},
			[]string{"provider", "result"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Roster sync pass duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"provider"},
		),
		lastSyncSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sync_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync pass.",
		}),
		snapshotEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_entries",
				Help:      "Entries in the published snapshot by kind.",
			},
			[]string{"kind"},
		),
		snapshotInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_info",
				Help:      "Generation id of the published snapshot (always 1).",
			},
			[]string{"generation"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operationsTotal,
		m.operationDuration,
		m.syncTotal,
		m.syncDuration,
		m.lastSyncSuccess,
		m.snapshotEntries,
		m.snapshotInfo,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation records one bind, search or modify.
func (m *Metrics) ObserveOperation(operation string, err error, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SyncCompleted implements roster.Recorder.
func (m *Metrics) SyncCompleted(provider string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.syncTotal.WithLabelValues(provider, result).Inc()
	m.syncDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err == nil {
		m.lastSyncSuccess.SetToCurrentTime()
	}
}

// SnapshotPublished implements roster.Recorder.
func (m *Metrics) SnapshotPublished(stats ldap.SnapshotStats) {
	m.snapshotEntries.WithLabelValues("group").Set(float64(stats.Groups))
	m.snapshotEntries.WithLabelValues("organizational_unit").Set(float64(stats.OrganizationalUnits))
	m.snapshotEntries.WithLabelValues("person").Set(float64(stats.Persons))
	m.snapshotEntries.WithLabelValues("custom_group").Set(float64(stats.CustomGroups))

	m.snapshotInfo.Reset()
	m.snapshotInfo.WithLabelValues(stats.Generation).Set(1)
}

// resultLabel maps an operation error to a low-cardinality label.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return string(ldap.GetErrorCategory(err))
}

// ReadinessChecker reports whether the service can answer queries.
type ReadinessChecker interface {
	Ready() bool
}

// Handler serves /metrics and /healthz. /healthz returns 503 until ready
// reports true.
func (m *Metrics) Handler(ready ReadinessChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if ready != nil && !ready.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("waiting for first roster sync\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Server is the HTTP listener for the operational endpoints.
type Server struct {
	http   *http.Server
	logger ldap.Logger
}

// NewServer creates the operational HTTP server.
func NewServer(addr string, m *Metrics, ready ReadinessChecker, logger ldap.Logger) *Server {
	if logger == nil {
		logger = ldap.NewNullLogger()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           m.Handler(ready),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Serving metrics", map[string]any{"address": ln.Addr().String()})
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
