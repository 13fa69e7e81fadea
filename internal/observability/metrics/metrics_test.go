package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveRun("manual", ResultOK, 2*time.Second)
	m.ObserveRun("manual", ResultOK, time.Second)
	m.ObserveTask(Result(errors.New("x")))
	m.ObserveFullHarvest(Result(nil))
	m.ObserveGitHub("GET", 200)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("manual", "ok")); got != 2 {
		t.Fatalf("runs = %v", got)
	}
	if got := testutil.ToFloat64(m.taskInvocations.WithLabelValues("error")); got != 1 {
		t.Fatalf("task invocations = %v", got)
	}
	if got := testutil.ToFloat64(m.githubRequests.WithLabelValues("GET", "200")); got != 1 {
		t.Fatalf("github requests = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveRun("manual", ResultOK, time.Second)
	m.ObserveTask(ResultOK)
	m.ObserveFullHarvest(ResultOK)
	m.ObserveGitHub("GET", 0)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have nil registry")
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveFullHarvest(ResultOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "harvestbot_full_harvests_total") {
		t.Fatalf("missing metric in output:\n%s", rec.Body.String())
	}
}
