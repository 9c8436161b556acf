package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's operator-visible counters. Registered on the
// registry the HTTP server exposes at /metrics.
type Metrics struct {
	EventsPersisted  prometheus.Counter
	FallbackWrites   prometheus.Counter
	BlocksReconciled prometheus.Counter
	PendingBuffered  prometheus.Counter
	PendingExpired   prometheus.Counter
	PendingDropped   prometheus.Counter
	LookupFailures   prometheus.Counter
}

// NewMetrics builds and registers the counter set. A nil registerer keeps
// the counters unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "events_persisted_total",
			Help: "Domain events written to the off-chain store.",
		}),
		FallbackWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "fallback_writes_total",
			Help: "Domain events appended to the local fallback file.",
		}),
		BlocksReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "blocks_reconciled_total",
			Help: "Event rows that received their block linkage.",
		}),
		PendingBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "pending_blocks_buffered_total",
			Help: "Block facts buffered while waiting for their event row.",
		}),
		PendingExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "pending_blocks_expired_total",
			Help: "Buffered block facts dropped after the pending TTL.",
		}),
		PendingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "pending_blocks_dropped_total",
			Help: "Block facts dropped because the pending buffer was full.",
		}),
		LookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unitap", Subsystem: "relay", Name: "block_lookup_failures_total",
			Help: "Best-effort block lookups that failed during event processing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsPersisted,
			m.FallbackWrites,
			m.BlocksReconciled,
			m.PendingBuffered,
			m.PendingExpired,
			m.PendingDropped,
			m.LookupFailures,
		)
	}
	return m
}
