// Package metrics exposes the engine's Prometheus metrics and the /healthz
// endpoint.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emafutures/internal/model"
)

// Metrics holds all Prometheus metrics for the decision engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	CyclesTotal    prometheus.Counter
	CycleErrors    *prometheus.CounterVec // labels: stage
	CycleDur       prometheus.Histogram
	CyclesSkipped  prometheus.Counter // overlapping or paused
	DecisionsTotal *prometheus.CounterVec // labels: action

	AnnotatorCalls    prometheus.Counter
	AnnotatorFailures *prometheus.CounterVec // labels: reason
	AnnotatorDur      prometheus.Histogram

	TrendState    prometheus.Gauge // 1=UP, -1=DOWN, 0=NEUTRAL
	Equity        prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	RealizedPnL   prometheus.Gauge

	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name

	RedisBufferedWrites prometheus.Counter
	SQLiteCommitDur     prometheus.Histogram
	WSClients           prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emafutures_cycles_total",
			Help: "Evaluation cycles completed",
		}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emafutures_cycle_errors_total",
			Help: "Errors inside an evaluation cycle (by stage)",
		}, []string{"stage"}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emafutures_cycle_duration_seconds",
			Help:    "Evaluation cycle latency including the annotator",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emafutures_cycles_skipped_total",
			Help: "Cycles skipped because the runner was paused or a cycle was in flight",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emafutures_decisions_total",
			Help: "Decisions produced (by action)",
		}, []string{"action"}),

		AnnotatorCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emafutures_annotator_calls_total",
			Help: "Annotator calls attempted",
		}),
		AnnotatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emafutures_annotator_failures_total",
			Help: "Annotator calls that fell back to default narrative (by reason)",
		}, []string{"reason"}),
		AnnotatorDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emafutures_annotator_duration_seconds",
			Help:    "Annotator call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),

		TrendState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emafutures_trend_state",
			Help: "Higher-timeframe trend (1=UP, -1=DOWN, 0=NEUTRAL)",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emafutures_equity",
			Help: "Account total equity",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emafutures_unrealized_pnl",
			Help: "Unrealized PnL of the open position",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emafutures_realized_pnl",
			Help: "Realized PnL net of fees",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emafutures_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emafutures_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emafutures_redis_buffered_writes_total",
			Help: "Decisions buffered locally while the Redis breaker was open",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emafutures_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emafutures_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleErrors,
		m.CycleDur,
		m.CyclesSkipped,
		m.DecisionsTotal,
		m.AnnotatorCalls,
		m.AnnotatorFailures,
		m.AnnotatorDur,
		m.TrendState,
		m.Equity,
		m.UnrealizedPnL,
		m.RealizedPnL,
		m.BreakerState,
		m.BreakerTrips,
		m.RedisBufferedWrites,
		m.SQLiteCommitDur,
		m.WSClients,
	)
	return m
}

// ObserveCycle records a completed cycle and its decision.
func (m *Metrics) ObserveCycle(d model.Decision, took time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDur.Observe(took.Seconds())
	m.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	m.TrendState.Set(trendValue(d.Trend))
}

// CycleError counts a failed cycle stage.
func (m *Metrics) CycleError(stage string) {
	if m == nil {
		return
	}
	m.CycleErrors.WithLabelValues(stage).Inc()
}

// CycleSkipped counts a cycle that did not run.
func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.CyclesSkipped.Inc()
}

// ObserveAnnotator records one annotator attempt. reason is "" on success.
func (m *Metrics) ObserveAnnotator(reason string, took time.Duration) {
	if m == nil {
		return
	}
	m.AnnotatorCalls.Inc()
	m.AnnotatorDur.Observe(took.Seconds())
	if reason != "" {
		m.AnnotatorFailures.WithLabelValues(reason).Inc()
	}
}

// SetAccount publishes the account gauges.
func (m *Metrics) SetAccount(equity, unrealized, realized float64) {
	if m == nil {
		return
	}
	m.Equity.Set(equity)
	m.UnrealizedPnL.Set(unrealized)
	m.RealizedPnL.Set(realized)
}

// SetBreakerState publishes a breaker transition; opening counts as a trip.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
	if state == 1 {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}

// BufferedWrite counts a decision held back while Redis was unavailable.
func (m *Metrics) BufferedWrite() {
	if m == nil {
		return
	}
	m.RedisBufferedWrites.Inc()
}

// ObserveCommit records a SQLite commit latency.
func (m *Metrics) ObserveCommit(took time.Duration) {
	if m == nil {
		return
	}
	m.SQLiteCommitDur.Observe(took.Seconds())
}

// SetWSClients publishes the connected WebSocket client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

func trendValue(d model.Direction) float64 {
	switch d {
	case model.DirectionUp:
		return 1
	case model.DirectionDown:
		return -1
	default:
		return 0
	}
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
