// Package telemetry exposes the validator's Prometheus metrics, grounded
// on x/oracle/keeper/metrics.go's promauto-built struct of
// CounterVec/GaugeVec/Histogram fields and cmd/pawd/metrics.go's
// promhttp server.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics registry, built once.
type Metrics struct {
	FanoutRequests     *prometheus.CounterVec
	FanoutLatency      *prometheus.HistogramVec
	ValidationResults  *prometheus.CounterVec
	PriceFetchFailures prometheus.Counter
	CRPSFailures       prometheus.Counter
	ScoredRequests     prometheus.Counter
	SkippedRequests    *prometheus.CounterVec
	RewardWeightGauge  *prometheus.GaugeVec
	ChainSubmissions   *prometheus.CounterVec
	SchedulerCycleLag  *prometheus.GaugeVec
}

var (
	once     sync.Once
	instance *Metrics
)

// New returns the process-wide Metrics singleton, mirroring
// x/oracle/keeper/metrics.go's sync.Once pattern so repeated construction
// (tests, multiple components) never double-registers collectors.
func New() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			FanoutRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "transport",
				Name:      "fanout_requests_total",
				Help:      "Miner fan-out calls by classified error code.",
			}, []string{"status"}),
			FanoutLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "voldy",
				Subsystem: "transport",
				Name:      "fanout_latency_seconds",
				Help:      "Per-call fan-out latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			ValidationResults: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "validate",
				Name:      "results_total",
				Help:      "Response validation outcomes.",
			}, []string{"result"}),
			PriceFetchFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "prices",
				Name:      "fetch_failures_total",
				Help:      "Price provider requests exhausted without success.",
			}),
			CRPSFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "crps",
				Name:      "failures_total",
				Help:      "CRPS computations that returned the -1 sentinel or NaN.",
			}),
			ScoredRequests: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "scoring",
				Name:      "requests_scored_total",
				Help:      "ValidatorRequests successfully scored.",
			}),
			SkippedRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "scoring",
				Name:      "requests_skipped_total",
				Help:      "ValidatorRequests skipped by reason.",
			}, []string{"reason"}),
			RewardWeightGauge: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "voldy",
				Subsystem: "reward",
				Name:      "weight",
				Help:      "Most recent per-miner reward weight by horizon.",
			}, []string{"horizon", "miner_id"}),
			ChainSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voldy",
				Subsystem: "chain",
				Name:      "weight_submissions_total",
				Help:      "set_weights outcomes.",
			}, []string{"outcome"}),
			SchedulerCycleLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "voldy",
				Subsystem: "scheduler",
				Name:      "cycle_lag_seconds",
				Help:      "Drift between a cycle's intended start and its actual start.",
			}, []string{"cycle"}),
		}
	})
	return instance
}

// Server serves /metrics the way cmd/pawd/metrics.go's
// StartPrometheusServer does: a dedicated mux, short read-header timeout.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the metrics HTTP server without starting it.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start runs the metrics server in the background; errors other than a
// clean shutdown are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// Stop gracefully drains the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
