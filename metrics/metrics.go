// Package metrics exposes Prometheus counters for the registry node and
// serves them on a dedicated address.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status labels.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds the node counters. A nil *Metrics records nothing.
type Metrics struct {
	Transactions *prometheus.CounterVec
	InputProofs  *prometheus.CounterVec
	Decryptions  *prometheus.CounterVec
	ShareUnlocks *prometheus.CounterVec
}

// NewMetrics registers the node counters with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Registry transactions by method and outcome.",
		}, []string{"method", "status"}),
		InputProofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_proofs_total",
			Help:      "Input proof requests by outcome.",
		}, []string{"status"}),
		Decryptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_decryptions_total",
			Help:      "User decryption requests by outcome.",
		}, []string{"status"}),
		ShareUnlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_submissions_total",
			Help:      "Shamir share submissions by outcome.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Transactions, m.InputProofs, m.Decryptions, m.ShareUnlocks)
	return m
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusOK
}

// RecordTransaction counts one registry transaction.
func (m *Metrics) RecordTransaction(method string, err error) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(method, status(err)).Inc()
}

// RecordInputProof counts one input proof request.
func (m *Metrics) RecordInputProof(err error) {
	if m == nil {
		return
	}
	m.InputProofs.WithLabelValues(status(err)).Inc()
}

// RecordDecryption counts one user decryption request.
func (m *Metrics) RecordDecryption(err error) {
	if m == nil {
		return
	}
	m.Decryptions.WithLabelValues(status(err)).Inc()
}

// RecordShare counts one share submission.
func (m *Metrics) RecordShare(err error) {
	if m == nil {
		return
	}
	m.ShareUnlocks.WithLabelValues(status(err)).Inc()
}

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	*Metrics

	registry *prometheus.Registry
	srv      *http.Server
}

// New creates the node counters and a server exposing them on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &MetricsServer{
		Metrics:  NewMetrics(namespace, registry),
		registry: registry,
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", s.Handler())
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the Prometheus exposition handler.
func (s *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
