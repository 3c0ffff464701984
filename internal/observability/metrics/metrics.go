// Package metrics exposes settlement counters through a private Prometheus
// registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"AgentEscrow-Chain/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// Recorder is what the engines and the payment processor report to.
type Recorder interface {
	ObserveOperation(engine, operation, outcome string)
	ObservePayout(kind string, amount uint64)
	ObserveJobState(state string)
	ObserveSlash(amount uint64)
	ObservePayment(outcome string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveOperation(string, string, string) {}
func (Nop) ObservePayout(string, uint64)            {}
func (Nop) ObserveJobState(string)                  {}
func (Nop) ObserveSlash(uint64)                     {}
func (Nop) ObservePayment(string)                   {}

// Metrics holds every collector of the service.
type Metrics struct {
	operations *prometheus.CounterVec
	payouts    *prometheus.CounterVec
	jobStates  *prometheus.CounterVec
	slashed    prometheus.Counter
	payments   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New builds the collectors and registers them on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Engine operations by outcome",
			},
			[]string{"engine", "operation", "outcome"},
		),
		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_payout_amount_total",
				Help: "Base units paid out of custody by payout kind",
			},
			[]string{"kind"},
		),
		jobStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_jobs_state_total",
				Help: "Job state transitions by target state",
			},
			[]string{"state"},
		),
		slashed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "validation_slashed_amount_total",
				Help: "Validator stake removed by upheld challenges",
			},
		),
		payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_processed_total",
				Help: "Inbound payments by processing outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_http_requests_total",
				Help: "HTTP requests by handler, method and status code",
			},
			[]string{"handler", "method", "code"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"handler", "method"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.operations,
		m.payouts,
		m.jobStates,
		m.slashed,
		m.payments,
		m.httpRequests,
		m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveOperation(engine, operation, outcome string) {
	m.operations.WithLabelValues(engine, operation, outcome).Inc()
}

func (m *Metrics) ObservePayout(kind string, amount uint64) {
	m.payouts.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) ObserveJobState(state string) {
	m.jobStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveSlash(amount uint64) {
	m.slashed.Add(float64(amount))
}

func (m *Metrics) ObservePayment(outcome string) {
	m.payments.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer serves /metrics on addr until ctx is cancelled.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Named("metrics").Info("metrics server listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = Nop{}
)
