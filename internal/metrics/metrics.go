package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Malformed ticks dropped before aggregation"},
		[]string{"symbol"},
	)
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_total", Help: "One-minute bars finalized"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signal events emitted"},
		[]string{"symbol", "signal"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	EngineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_events_total", Help: "Execution lifecycle events emitted"},
		[]string{"type"},
	)
	GuardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "guard_rejections_total", Help: "Entries blocked by preflight guards"},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, TicksDropped, BarsTotal, SignalsTotal, OrdersTotal, EngineEvents, GuardRejections)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
