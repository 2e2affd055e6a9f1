package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server spawns.",
		}, []string{"server"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or forced).",
		}, []string{"server"},
	)
	serverCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of unexpected non-zero exits.",
		}, []string{"server"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Number of restarts, manual or automatic.",
		}, []string{"server", "reason"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"server", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "current_state",
			Help:      "Current lifecycle state of servers (1 = active state, 0 = inactive).",
		}, []string{"server", "state"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage percentage.",
		}, []string{"server"},
	)
	memoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "memory_mb",
			Help:      "Last sampled resident memory in MB.",
		}, []string{"server"},
	)
	consoleSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "console_subscribers",
			Help:      "Live console subscribers per server.",
		}, []string{"server"},
	)

	scheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "schedule",
			Name:      "runs_total",
			Help:      "Scheduled task runs by schedule, type and result.",
		}, []string{"schedule", "type", "result"},
	)
	scheduleNextRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "schedule",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled run.",
		}, []string{"schedule"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverCrashes, serverRestarts,
		stateTransitions, currentStates, cpuPercent, memoryMB, consoleSubscribers,
		scheduleRuns, scheduleNextRun,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registry: keep existing
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(server string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(server).Inc()
	}
}

func IncStop(server string) {
	if regOK.Load() {
		serverStops.WithLabelValues(server).Inc()
	}
}

func IncCrash(server string) {
	if regOK.Load() {
		serverCrashes.WithLabelValues(server).Inc()
	}
}

func IncRestart(server, reason string) {
	if regOK.Load() {
		serverRestarts.WithLabelValues(server, reason).Inc()
	}
}

func RecordStateTransition(server, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(server, from, to).Inc()
	}
}

func SetCurrentState(server, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(server, state).Set(value)
	}
}

func SetUsage(server string, cpu, memMB float64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(server).Set(cpu)
		memoryMB.WithLabelValues(server).Set(memMB)
	}
}

// ClearUsage drops the usage series of a server that is no longer running.
func ClearUsage(server string) {
	if regOK.Load() {
		cpuPercent.DeleteLabelValues(server)
		memoryMB.DeleteLabelValues(server)
	}
}

func SetConsoleSubscribers(server string, n int) {
	if regOK.Load() {
		consoleSubscribers.WithLabelValues(server).Set(float64(n))
	}
}

func IncScheduleRun(schedule, typ, result string) {
	if regOK.Load() {
		scheduleRuns.WithLabelValues(schedule, typ, result).Inc()
	}
}

func SetScheduleNextRun(schedule string, unix float64) {
	if regOK.Load() {
		scheduleNextRun.WithLabelValues(schedule).Set(unix)
	}
}

// ClearSchedule drops the next-run series of a removed schedule.
func ClearSchedule(schedule string) {
	if regOK.Load() {
		scheduleNextRun.DeleteLabelValues(schedule)
	}
}
