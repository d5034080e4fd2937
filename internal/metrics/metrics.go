// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bracket_ticks_total",
		Help: "Scheduler ticks processed, by guild and result",
	}, []string{"guild", "result"})

	TaskErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bracket_task_errors",
		Help: "Consecutive tick failures per guild; the loop stops at the budget",
	}, []string{"guild"})

	ProviderRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bracket_provider_retries_total",
		Help: "Bracket provider calls that were retried after a transient failure",
	})

	MatchesLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bracket_matches_launched_total",
		Help: "Matches given a channel and called to play",
	})

	Disqualifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bracket_disqualifications_total",
		Help: "Participants disqualified for inactivity or by staff",
	})

	BridgesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bracket_bridges_connected",
		Help: "Chat bridges currently connected to the gateway",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
