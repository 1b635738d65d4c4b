package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsAndServes(t *testing.T) {
	r := New()
	r.Transition("approve", "confirmed")
	r.Transition("approve", "confirmed")
	r.Rejection("deposit", "no_allowance")
	r.RefreshFailure("allowance")
	r.PollAttempts(3)

	if got := testutil.ToFloat64(r.transitions.WithLabelValues("approve", "confirmed")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(r.rejections.WithLabelValues("deposit", "no_allowance")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "stakeflow_cache_refresh_failures_total") {
		t.Fatalf("metrics output missing refresh failures:\n%s", body)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Transition("approve", "idle")
	r.Rejection("withdraw", "insufficient_staked")
	r.RefreshFailure("wallet_balance")
	r.PollAttempts(10)
}
