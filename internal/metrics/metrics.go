// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the handlers and workers update. Registered on a
// caller-supplied registry so tests can use a fresh one.
type Metrics struct {
	CheckIns        *prometheus.CounterVec
	CheckInRejects  *prometheus.CounterVec
	ChainMismatches prometheus.Counter
	OfflineSynced   prometheus.Counter
	RotatingCodes   prometheus.Gauge
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CheckIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geoattend_checkins_total",
			Help: "Check-ins appended to the ledger, by origin.",
		}, []string{"origin"}),
		CheckInRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geoattend_checkin_rejects_total",
			Help: "Check-in attempts rejected at the gate, by reason.",
		}, []string{"reason"}),
		ChainMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "geoattend_chain_mismatches_total",
			Help: "Tampered records flagged by integrity verification.",
		}),
		OfflineSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "geoattend_offline_synced_total",
			Help: "Offline check-ins replayed into the ledger.",
		}),
		RotatingCodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geoattend_rotating_sessions",
			Help: "Sessions with an active code rotation loop.",
		}),
	}
}
