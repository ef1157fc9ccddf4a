// Package telemetry implements the Reporter the Executor calls into after
// every gate, plus the read-only HTTP/WS surface operators use to watch a
// running pipeline (health, Prometheus metrics, a live event stream).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the dedicated Prometheus registry for pipeline metrics, kept
// separate from the default global registry so a host process embedding
// this package doesn't collide with its own metric names.
var Registry = prometheus.NewRegistry()

var (
	cyclesStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "cycles_started_total",
			Help:      "Strategy passes that reached signal generation.",
		},
		[]string{"strategy"},
	)

	executionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Completed executions by terminal status.",
		},
		[]string{"strategy", "status"},
	)

	executionLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "execution_latency_seconds",
			Help:      "Execution service round-trip latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"strategy"},
	)

	realizedPnL = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "last_realized_pnl",
			Help:      "Realized PnL of the most recent execution.",
		},
		[]string{"strategy"},
	)

	noSignalTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "no_signal_total",
			Help:      "Passes where a strategy declined to generate a signal.",
		},
		[]string{"strategy"},
	)

	errorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "errors_total",
			Help:      "Strategy generation or dispatch errors.",
		},
		[]string{"strategy"},
	)

	riskRejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "ValidateSignal outcomes by result code.",
		},
		[]string{"strategy", "result"},
	)

	trustScore = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipeline",
			Subsystem: "risk",
			Name:      "trust_score",
			Help:      "Current per-strategy trust score.",
		},
		[]string{"strategy"},
	)

	consecutiveLosses = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipeline",
			Subsystem: "risk",
			Name:      "consecutive_losses",
			Help:      "Current per-strategy consecutive loss streak.",
		},
		[]string{"strategy"},
	)

	strategyActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipeline",
			Subsystem: "risk",
			Name:      "strategy_active",
			Help:      "Whether the strategy is currently allowed to trade (1) or disabled (0).",
		},
		[]string{"strategy"},
	)

	trustRejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "risk",
			Name:      "trust_rejections_total",
			Help:      "Passes hard-rejected by the trust policy floor.",
		},
		[]string{"strategy"},
	)

	softWarningsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "risk",
			Name:      "soft_warnings_total",
			Help:      "Soft trust-score warnings emitted without rejecting the pass.",
		},
		[]string{"strategy"},
	)

	customEventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "executor",
			Name:      "custom_events_total",
			Help:      "Named feedback/governance events emitted outside the core gate chain.",
		},
		[]string{"event"},
	)
)

// Init registers the standard Go/process collectors alongside the
// pipeline-specific metrics above. Call once at startup.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
