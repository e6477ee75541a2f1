package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandlerExposesSeries(t *testing.T) {
	m := New()
	m.PayoutProcessed("SETTLED", "THUNES")
	m.SetPendingSettlements(2)
	m.ObserveJob("payout", "success", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `revshare_payouts_processed_total{provider="THUNES",status="SETTLED"} 1`)
	assert.Contains(t, body, "revshare_pending_settlements 2")
	assert.Contains(t, body, "revshare_job_duration_seconds_count")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PayoutProcessed("FAILED", "RAPYD")
		m.ObserveJob("payout", "error", time.Second)
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
		m.SetPendingSettlements(1)
	})
}

func TestHandlerIncludesDefaultRegistry(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
