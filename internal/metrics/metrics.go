// Package metrics exposes the ambient observability surface: a handful
// of prometheus gauges/counters mirroring the diagnostics already logged
// on eviction and capacity events, promoted to scrapeable metrics rather
// than log lines alone. gw and gs only update them; no behaviour depends
// on their values.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GWSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtype",
		Subsystem: "gw",
		Name:      "sessions",
		Help:      "Number of open Gateway stream sessions.",
	})

	GWParseErrorEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtype",
		Subsystem: "gw",
		Name:      "parse_error_evictions_total",
		Help:      "Stream peers evicted for crossing the parse-error quota.",
	})

	GSAuthenticatedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtype",
		Subsystem: "gs",
		Name:      "authenticated_sessions",
		Help:      "Number of authenticated datagram client sessions.",
	})

	GSAuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtype",
		Subsystem: "gs",
		Name:      "auth_attempts_total",
		Help:      "AUTH attempts by outcome.",
	}, []string{"outcome"})

	GSFragmentBuffers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtype",
		Subsystem: "gs",
		Name:      "fragment_buffers",
		Help:      "Live fragment-reassembly buffers.",
	})

	GSRetransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtype",
		Subsystem: "gs",
		Name:      "retransmits_total",
		Help:      "Datagrams retransmitted by the reliability engine.",
	})
)

// MustRegister registers every ambient metric against reg. Call once at
// boot with prometheus.DefaultRegisterer (or a test registry).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		GWSessions,
		GWParseErrorEvictions,
		GSAuthenticatedSessions,
		GSAuthAttempts,
		GSFragmentBuffers,
		GSRetransmits,
	)
}
