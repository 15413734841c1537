// Package metrics provides Prometheus metrics for the psyche sync layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psyche_polls_total",
			Help: "Poll attempts by view kind and resulting scheduler state",
		},
		[]string{"kind", "state"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psyche_poll_duration_seconds",
			Help:    "Duration of individual daemon poll requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "psyche_cache_entries",
			Help: "Number of query keys with cached result rows",
		},
	)

	activeViews = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "psyche_active_views",
			Help: "Number of open views with a live poll scheduler",
		},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psyche_commands_total",
			Help: "Daemon commands issued, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	daemonOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "psyche_daemon_online",
			Help: "1 when the last daemon contact succeeded",
		},
	)
)

// RecordPoll counts one completed poll attempt.
func RecordPoll(kind, state string) {
	pollsTotal.WithLabelValues(kind, state).Inc()
}

// ObservePollDuration records how long one poll request took.
func ObservePollDuration(kind string, d time.Duration) {
	pollDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetCacheEntries updates the cached-key gauge.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// SetActiveViews updates the open-view gauge.
func SetActiveViews(n int) {
	activeViews.Set(float64(n))
}

// RecordCommand counts one daemon command.
func RecordCommand(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// SetDaemonOnline updates the connectivity gauge.
func SetDaemonOnline(online bool) {
	if online {
		daemonOnline.Set(1)
	} else {
		daemonOnline.Set(0)
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
