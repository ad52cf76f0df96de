package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.Restarted("web", "commit")
	m.Restarted("web", "commit")
	m.Restarted("web", "crash")
	m.SetUp("web", true)
	m.SetUp("api", false)
	m.Incident("web", "startup_failure")
	m.FetchFailed("/srv/web")
	m.Pulled("/srv/web", true)
	m.Pulled("/srv/web", false)
	m.Tick()

	if got := testutil.ToFloat64(m.restarts.WithLabelValues("web", "commit")); got != 2 {
		t.Fatalf("restarts{commit} = %v", got)
	}
	if got := testutil.ToFloat64(m.up.WithLabelValues("web")); got != 1 {
		t.Fatalf("up{web} = %v", got)
	}
	if got := testutil.ToFloat64(m.up.WithLabelValues("api")); got != 0 {
		t.Fatalf("up{api} = %v", got)
	}
	if got := testutil.ToFloat64(m.pulls.WithLabelValues("/srv/web", "error")); got != 1 {
		t.Fatalf("pulls{error} = %v", got)
	}
	if got := testutil.ToFloat64(m.ticks); got != 1 {
		t.Fatalf("ticks = %v", got)
	}

	expected := `
# HELP autowatch_incidents_total Incidents recorded, by project and kind
# TYPE autowatch_incidents_total counter
autowatch_incidents_total{kind="startup_failure",project="web"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "autowatch_incidents_total"); err != nil {
		t.Fatalf("GatherAndCompare: %v", err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Restarted("a", "b")
	m.SetUp("a", true)
	m.Incident("a", "b")
	m.FetchFailed("a")
	m.Pulled("a", true)
	m.Tick()
	if m.Registry() != nil {
		t.Fatalf("nil metrics must have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Tick()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	for _, want := range []string{"autowatch_ticks_total 1", "autowatch_host_memory_used_percent", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
