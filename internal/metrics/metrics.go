// Package metrics exposes prometheus instruments for the log follower.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Calculation outcomes.
const (
	ResultProfit     = "profit"
	ResultRejected   = "rejected"
	ResultNoSolution = "no_solution"
	ResultError      = "error"
)

// Metrics holds the follower instruments.
type Metrics struct {
	Calculations        *prometheus.CounterVec
	CalculationDuration prometheus.Histogram
	PoolUpdates         *prometheus.CounterVec
	Reorgs              prometheus.Counter
	Opportunities       prometheus.Counter
	LastProcessedBlock  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the instruments on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		registry := prometheus.NewRegistry()
		reg, gatherer = registry, registry
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Cycle calculations by result.",
		}, []string{"cycle", "result"}),
		CalculationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_seconds",
			Help:      "Time spent searching one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		PoolUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_updates_total",
			Help:      "Pool events applied by event name.",
		}, []string{"event", "changed"}),
		Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_total",
			Help:      "Removed logs that rolled a pool back.",
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Profitable cycles written to storage.",
		}),
		LastProcessedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_processed_block",
			Help:      "Last block whose logs were applied.",
		}),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{
		m.Calculations,
		m.CalculationDuration,
		m.PoolUpdates,
		m.Reorgs,
		m.Opportunities,
		m.LastProcessedBlock,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCalculation records one finished calculation.
func (m *Metrics) ObserveCalculation(cycle, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Calculations.WithLabelValues(cycle, result).Inc()
	m.CalculationDuration.Observe(elapsed.Seconds())
}

// ObserveUpdate records one applied pool event.
func (m *Metrics) ObserveUpdate(event string, changed bool) {
	if m == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.PoolUpdates.WithLabelValues(event, label).Inc()
}

// ObserveReorg records a rollback.
func (m *Metrics) ObserveReorg() {
	if m == nil {
		return
	}
	m.Reorgs.Inc()
}

// ObserveOpportunities records stored opportunities.
func (m *Metrics) ObserveOpportunities(n int) {
	if m == nil {
		return
	}
	m.Opportunities.Add(float64(n))
}

// ObserveBlock records the last processed block.
func (m *Metrics) ObserveBlock(block uint64) {
	if m == nil {
		return
	}
	m.LastProcessedBlock.Set(float64(block))
}

// Handler serves the registered instruments.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
