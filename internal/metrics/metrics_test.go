package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	TicksTotal.WithLabelValues("SOLUSDT").Inc()
	EngineEvents.WithLabelValues("order_submitted").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"ticks_total": false, "engine_events_total": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
}

func TestGuardRejectionsByReason(t *testing.T) {
	before := testutil.ToFloat64(GuardRejections.WithLabelValues("spread"))
	GuardRejections.WithLabelValues("spread").Inc()
	if got := testutil.ToFloat64(GuardRejections.WithLabelValues("spread")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
