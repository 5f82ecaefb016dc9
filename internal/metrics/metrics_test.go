package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveOutcome(t *testing.T) {
	m := New()

	m.ObserveOutcome("fulfilled", "", false, 120*time.Millisecond)
	m.ObserveOutcome("fulfilled", "", true, 0)
	m.ObserveOutcome("rejected", "timeout", false, time.Second)
	m.ObserveOutcome("rejected", "timeout", false, time.Second)

	tests := []struct {
		status string
		reason string
		want   float64
	}{
		{"fulfilled", "", 2},
		{"rejected", "timeout", 2},
		{"rejected", "network-error", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.outcomesTotal.WithLabelValues(tt.status, tt.reason))
		if got != tt.want {
			t.Errorf("outcomes_total{%s,%s} = %v, want %v", tt.status, tt.reason, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(m.cachedTotal); got != 1 {
		t.Errorf("cached_total = %v, want 1", got)
	}
	// cached attempts are not timed
	if got := testutil.CollectAndCount(m.fetchDuration); got != 2 {
		t.Errorf("fetch_duration series = %d, want 2", got)
	}
}

func TestMetrics_ObserveRun(t *testing.T) {
	m := New()

	m.ObserveRun(3, 7)
	m.ObserveRun(1, 9)

	if got := testutil.ToFloat64(m.runsTotal); got != 2 {
		t.Errorf("runs_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lastRunFailed); got != 1 {
		t.Errorf("last_run_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.loadedImages); got != 9 {
		t.Errorf("loaded_images = %v, want 9", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveOutcome("rejected", "invalid-url", false, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	want := `imgpreload_outcomes_total{reason="invalid-url",status="rejected"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("body missing %q:\n%s", want, body)
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveRun(0, 1)

	if got := testutil.ToFloat64(b.runsTotal); got != 0 {
		t.Errorf("second registry runs_total = %v, want 0", got)
	}
}
