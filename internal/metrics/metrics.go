// Package metrics provides Prometheus metrics for IMAP sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsTotal counts finished sessions by outcome
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "imap",
			Name:      "sessions_total",
			Help:      "Total number of IMAP sessions by outcome",
		},
		[]string{"outcome"},
	)

	// SessionsActive tracks sessions holding an open connection
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailthread",
			Subsystem: "imap",
			Name:      "sessions_active",
			Help:      "Number of IMAP sessions with an open connection",
		},
	)

	// CommandsTotal counts commands by name and tagged status
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "imap",
			Name:      "commands_total",
			Help:      "Total number of IMAP commands by command and status",
		},
		[]string{"command", "status"},
	)

	// CommandDuration measures the round trip of one command
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailthread",
			Subsystem: "imap",
			Name:      "command_duration_seconds",
			Help:      "IMAP command round trip in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command"},
	)

	// LiteralBytes counts literal payload bytes read from servers
	LiteralBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "imap",
			Name:      "literal_bytes_total",
			Help:      "Total literal payload bytes read",
		},
	)
)

var (
	// MessagesFetched counts envelopes parsed from FETCH responses
	MessagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "parse",
			Name:      "messages_fetched_total",
			Help:      "Total number of envelopes parsed",
		},
	)

	// DateFallbacks counts envelopes whose Date header did not parse
	DateFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "parse",
			Name:      "date_fallbacks_total",
			Help:      "Total number of envelopes using the fetch time as date",
		},
	)

	// PartialDecodes counts bodies that were only partly decoded
	PartialDecodes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "mime",
			Name:      "partial_decodes_total",
			Help:      "Total number of message bodies with partially decoded content",
		},
	)

	// ThreadsBuilt counts reconstructed threads
	ThreadsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailthread",
			Subsystem: "thread",
			Name:      "threads_built_total",
			Help:      "Total number of conversation threads reconstructed",
		},
	)
)

// ObserveCommand records one command round trip.
func ObserveCommand(command, status string, elapsed time.Duration) {
	if command == "" {
		command = "unknown"
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
	CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
