package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "breakwatch",
			Name:      "hub_connections",
			Help:      "Currently open hub connections.",
		},
	)

	identified = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "breakwatch",
			Name:      "hub_identified_connections",
			Help:      "Hub connections bound to a worker identity.",
		},
	)

	relayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "breakwatch",
			Name:      "hub_events_relayed_total",
			Help:      "Events relayed by the hub, by event and addressing mode.",
		},
		[]string{"event", "mode"},
	)

	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "breakwatch",
			Name:      "hub_events_dropped_total",
			Help:      "Inbound or outbound frames the hub discarded, by reason.",
		},
		[]string{"reason"},
	)

	schedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "breakwatch",
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks by outcome.",
		},
		[]string{"outcome"},
	)

	schedulerTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "breakwatch",
			Name:      "scheduler_triggers_total",
			Help:      "Break auto-start triggers emitted.",
		},
	)

	schedulerParseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "breakwatch",
			Name:      "scheduler_parse_failures_total",
			Help:      "Breaks skipped because their scheduled start could not be parsed.",
		},
	)

	breaksPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "breakwatch",
			Name:      "breaks_persisted_total",
			Help:      "Break lifecycle transitions written to the attendance store.",
		},
		[]string{"transition", "result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			connections,
			identified,
			relayed,
			dropped,
			schedulerTicks,
			schedulerTriggers,
			schedulerParseFailures,
			breaksPersisted,
		)
	})
}

func SetConnections(n int) {
	connections.Set(float64(n))
}

func SetIdentified(n int) {
	identified.Set(float64(n))
}

func IncRelayed(event, mode string) {
	relayed.WithLabelValues(event, mode).Inc()
}

func IncDropped(reason string) {
	dropped.WithLabelValues(reason).Inc()
}

func IncSchedulerTick(outcome string) {
	schedulerTicks.WithLabelValues(outcome).Inc()
}

func IncSchedulerTrigger() {
	schedulerTriggers.Inc()
}

func IncSchedulerParseFailure() {
	schedulerParseFailures.Inc()
}

func IncBreakPersisted(transition, result string) {
	breaksPersisted.WithLabelValues(transition, result).Inc()
}
