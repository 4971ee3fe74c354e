package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveTick(0.001, false)
	c.ObserveTick(0.02, true)
	c.SyncRequest()
	c.SyncTimeout()
	c.AsyncControl(true)
	c.AsyncControl(false)
	c.AdminCommand("reset", true)
	c.AdminCommand("bogus", false)
	c.BroadcastDrop("state")
	c.SubscriberDelta("state", 2)
	c.SubscriberDelta("state", -1)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"ticks", testutil.ToFloat64(c.Ticks), 2},
		{"overruns", testutil.ToFloat64(c.Overruns), 1},
		{"sync requests", testutil.ToFloat64(c.SyncRequests), 1},
		{"sync timeouts", testutil.ToFloat64(c.SyncTimeouts), 1},
		{"async accepted", testutil.ToFloat64(c.AsyncAccepted), 1},
		{"async stale", testutil.ToFloat64(c.AsyncStale), 1},
		{"admin ok", testutil.ToFloat64(c.AdminCommands.WithLabelValues("reset", "ok")), 1},
		{"admin error", testutil.ToFloat64(c.AdminCommands.WithLabelValues("bogus", "error")), 1},
		{"drops", testutil.ToFloat64(c.BroadcastDrops.WithLabelValues("state")), 1},
		{"subscribers", testutil.ToFloat64(c.Subscribers.WithLabelValues("state")), 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	first.Reset()
	if got := testutil.ToFloat64(second.Resets); got != 1 {
		t.Errorf("expected shared reset counter, got %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveTick(1, true)
	c.SyncTimeout()
	c.AdminCommand("run", true)
	c.BroadcastDrop("schema")
	if c.Handler() == nil {
		t.Error("expected default handler")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObserveTick(0.001, false)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "vehsim_ticks_total 1") {
		t.Errorf("expected tick counter in output:\n%s", rr.Body.String())
	}
}
