package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.ObserveOperation("escrow", "approve_milestone", OutcomeSuccess)
	m.ObserveOperation("escrow", "approve_milestone", OutcomeSuccess)
	m.ObservePayout("agent", 3960)
	m.ObservePayout("platform_fee", 40)
	m.ObserveSlash(10000)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("escrow", "approve_milestone", OutcomeSuccess)); got != 2 {
		t.Fatalf("operations counter = %v", got)
	}
	if got := testutil.ToFloat64(m.payouts.WithLabelValues("agent")); got != 3960 {
		t.Fatalf("payout counter = %v", got)
	}
	if got := testutil.ToFloat64(m.slashed); got != 10000 {
		t.Fatalf("slashed counter = %v", got)
	}
}

func TestMetricsHandlerExposition(t *testing.T) {
	m := New()
	m.ObservePayment(OutcomeRejected)
	m.ObserveHTTPRequest("/api/v1/jobs", http.MethodPost, http.StatusCreated, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`payments_processed_total{outcome="rejected"} 1`,
		`escrow_http_requests_total{code="201",handler="/api/v1/jobs",method="POST"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}
