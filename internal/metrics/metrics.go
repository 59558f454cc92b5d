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

	backendStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Number of successful backend spawns.",
		}, []string{"name"},
	)
	backendStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Number of requested backend stops that signalled a live process.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts.",
		}, []string{"name"},
	)
	unexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "unexpected_exits_total",
			Help:      "Number of backend exits that were not requested via stop.",
		}, []string{"name"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "output_lines_total",
			Help:      "Lines relayed from the backend, per stream.",
		}, []string{"name", "stream"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "running",
			Help:      "1 while the backend is in the running state, 0 otherwise.",
		}, []string{"name"},
	)
	lastExitCode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "backendvisor",
			Subsystem: "backend",
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent backend run (-1 when killed by a signal).",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{backendStarts, backendStops, spawnFailures, unexpectedExits, outputLines, running, lastExitCode}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep existing
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

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers below no-op until Register has succeeded.

func IncStart(name string) {
	if regOK.Load() {
		backendStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		backendStops.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncUnexpectedExit(name string) {
	if regOK.Load() {
		unexpectedExits.WithLabelValues(name).Inc()
	}
}

func IncOutputLine(name, stream string) {
	if regOK.Load() {
		outputLines.WithLabelValues(name, stream).Inc()
	}
}

func SetRunning(name string, v bool) {
	if regOK.Load() {
		var f float64
		if v {
			f = 1
		}
		running.WithLabelValues(name).Set(f)
	}
}

func SetLastExitCode(name string, code int) {
	if regOK.Load() {
		lastExitCode.WithLabelValues(name).Set(float64(code))
	}
}
