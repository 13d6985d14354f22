package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Sample(t *testing.T) {
	m := New()

	m.Sample(23.5, true)
	m.Sample(0, false)

	if got := testutil.ToFloat64(m.samplesTotal); got != 2 {
		t.Errorf("samples_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sentinelSamples); got != 1 {
		t.Errorf("samples_unavailable_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastTemperature); got != 23.5 {
		t.Errorf("temperature_celsius = %v, want 23.5", got)
	}
}

func TestMetrics_Labels(t *testing.T) {
	m := New()

	m.AlertFired("above_max")
	m.AlertFired("above_max")
	m.SinkFailure("webhook", "alert")
	m.AssociationAttempts(7)
	m.ProvisioningState(3)

	if got := testutil.ToFloat64(m.alertsFired.WithLabelValues("above_max")); got != 2 {
		t.Errorf("alerts_fired_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sinkFailures.WithLabelValues("webhook", "alert")); got != 1 {
		t.Errorf("sink_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.associationAttempts); got != 7 {
		t.Errorf("association_attempts_total = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.provisioningState); got != 3 {
		t.Errorf("provisioning_state = %v, want 3", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Sample(1, true)
	m.AlertFired("x")
	m.SinkFailure("a", "b")
	m.AssociationAttempts(1)
	m.ProvisioningState(1)

	h := m.WrapHandler("/x", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMetrics_HandlerExposesWrappedRoutes(t *testing.T) {
	m := New()

	h := m.WrapHandler("/data", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/data", nil))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `temper_http_requests_total{route="/data",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}
