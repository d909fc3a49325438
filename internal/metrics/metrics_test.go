package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersRegisterAndIncrement(t *testing.T) {
	m := New()

	m.IncFetch("http", "ok")
	m.IncFetch("http", "ok")
	m.IncProducts(3)
	m.IncRetry("network_error")

	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("http", "ok")); got != 2 {
		t.Fatalf("expected 2 fetches, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProductsTotal); got != 3 {
		t.Fatalf("expected 3 products, got %v", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("network_error")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.IncFetch("http", "ok")
	m.IncProducts(1)
	m.IncVariations(2)
	m.IncRetry("parse_error")
	m.RecordBatch(30, 0.9)
	m.IncSelectorAttempt("price", "success")
	m.IncCircuitOpen()
	m.ObserveFetch(0)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.IncProducts(5)
	if got := testutil.ToFloat64(b.ProductsTotal); got != 0 {
		t.Fatalf("expected isolated registries, got %v on b", got)
	}
}
