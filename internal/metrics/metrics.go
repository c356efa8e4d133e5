// Package metrics exposes Prometheus instrumentation for the transport's
// loss rate, FEC rate, deadline-miss rate and per-tx-count receive
// histograms.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LossRate is the sender's current estimated loss rate.
	LossRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sparkrtc",
		Name:      "loss_rate",
		Help:      "Current sender-side estimated loss rate.",
	})

	// FECRate is the most recent FEC rate decided by the active policy.
	FECRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sparkrtc",
		Name:      "fec_rate",
		Help:      "Most recent FEC rate chosen by the active policy.",
	})

	// DeadlineMissRate is the receiver's frame deadline-miss ratio.
	DeadlineMissRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sparkrtc",
		Name:      "deadline_miss_rate",
		Help:      "Fraction of frames never completed before their deadline.",
	})

	// PacketsReceivedByTxCount counts received DATA/FEC packets bucketed
	// by their retransmission generation (0 = first transmission).
	PacketsReceivedByTxCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkrtc",
		Name:      "packets_received_total",
		Help:      "Packets received, labeled by tx_count and packet kind.",
	}, []string{"tx_count", "kind"})

	// GroupsCompletedByMaxTxCount counts completed groups bucketed by the
	// maximum tx_count among their members.
	GroupsCompletedByMaxTxCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkrtc",
		Name:      "groups_completed_total",
		Help:      "Completed groups, labeled by their highest member tx_count.",
	}, []string{"max_tx_count"})
)

// MustRegister registers every metric on reg. Call once at startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(LossRate, FECRate, DeadlineMissRate, PacketsReceivedByTxCount, GroupsCompletedByMaxTxCount)
}
