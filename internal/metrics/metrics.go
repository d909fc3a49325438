package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the extraction pipeline on
// a dedicated registry so multiple pipelines can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	FetchesTotal      *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	ProductsTotal     prometheus.Counter
	VariationsTotal   prometheus.Counter
	RetriesTotal      *prometheus.CounterVec
	BatchesTotal      prometheus.Counter
	BatchSize         prometheus.Gauge
	BatchSuccessRate  prometheus.Gauge
	SelectorAttempts  *prometheus.CounterVec
	CircuitOpensTotal prometheus.Counter
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_fetches_total",
			Help: "Total page fetches by backend engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_fetch_duration_seconds",
			Help:    "Latency of page fetches across all backends.",
			Buckets: prometheus.DefBuckets,
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_products_scraped_total",
			Help: "Total product records persisted.",
		},
	)
	variations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_variations_scraped_total",
			Help: "Total variation records persisted.",
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_retries_total",
			Help: "Total retry attempts by failure category.",
		},
		[]string{"category"},
	)
	batches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_batches_total",
			Help: "Total batches dispatched.",
		},
	)
	batchSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_batch_size",
			Help: "Most recently computed adaptive batch size.",
		},
	)
	successRate := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_batch_success_rate",
			Help: "Success rate of the most recent batch.",
		},
	)
	selectorAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_selector_attempts_total",
			Help: "Selector attempts by field and outcome.",
		},
		[]string{"field", "outcome"},
	)
	circuitOpens := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_circuit_opens_total",
			Help: "Times a per-host circuit breaker opened.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, products, variations,
		retries, batches, batchSize, successRate, selectorAttempts, circuitOpens)

	return &Metrics{
		Registry:          registry,
		FetchesTotal:      fetches,
		FetchDuration:     fetchDuration,
		ProductsTotal:     products,
		VariationsTotal:   variations,
		RetriesTotal:      retries,
		BatchesTotal:      batches,
		BatchSize:         batchSize,
		BatchSuccessRate:  successRate,
		SelectorAttempts:  selectorAttempts,
		CircuitOpensTotal: circuitOpens,
	}
}

// IncFetch records one fetch attempt. All helpers are nil-safe so the
// pipeline can run without metrics wired.
func (m *Metrics) IncFetch(engine, outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(engine, outcome).Inc()
}

// ObserveFetch records a fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncProducts adds persisted product records.
func (m *Metrics) IncProducts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// IncVariations adds persisted variation records.
func (m *Metrics) IncVariations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.VariationsTotal.Add(float64(n))
}

// IncRetry records one retry in a failure category.
func (m *Metrics) IncRetry(category string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(category).Inc()
}

// RecordBatch records the size and success rate of a dispatched batch.
func (m *Metrics) RecordBatch(size int, successRate float64) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.BatchSize.Set(float64(size))
	m.BatchSuccessRate.Set(successRate)
}

// IncSelectorAttempt records a selector attempt outcome for a field.
func (m *Metrics) IncSelectorAttempt(field, outcome string) {
	if m == nil {
		return
	}
	m.SelectorAttempts.WithLabelValues(field, outcome).Inc()
}

// IncCircuitOpen records a circuit breaker transition to open.
func (m *Metrics) IncCircuitOpen() {
	if m == nil {
		return
	}
	m.CircuitOpensTotal.Inc()
}
