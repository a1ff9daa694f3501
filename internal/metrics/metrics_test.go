package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsHandler(t *testing.T) {
	m, err := New(nil, "arbscope")
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.ObserveCalculation("weth-v2-v3", ResultProfit, 3*time.Millisecond)
	m.ObserveUpdate("Sync", true)
	m.ObserveReorg()
	m.ObserveOpportunities(2)
	m.ObserveBlock(19000000)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`arbscope_calculations_total{cycle="weth-v2-v3",result="profit"} 1`,
		`arbscope_pool_updates_total{changed="true",event="Sync"} 1`,
		`arbscope_reorgs_total 1`,
		`arbscope_opportunities_total 2`,
		`arbscope_last_processed_block 1.9e+07`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, "arbscope"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := New(reg, "arbscope"); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveCalculation("c", ResultError, time.Second)
	m.ObserveUpdate("Swap", false)
	m.ObserveReorg()
	m.ObserveOpportunities(1)
	m.ObserveBlock(1)
}
