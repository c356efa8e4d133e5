// Package netstate holds the network-condition estimate shared between a
// sender's FEC policy and its retransmission timers: round-trip time and
// its variance, bandwidth, loss rate and the recent loss sequence, and
// one-way/round-trip dispersion estimates.
package netstate

import (
	"time"

	"github.com/hkust-spark/sparkrtc/wire"
)

// NetStat is the live network estimate a FEC policy reads on every decision.
type NetStat struct {
	// CurRTT is the most recently sampled round-trip time.
	CurRTT time.Duration
	// SRTT/RTTVar are the Jacobson/Karels smoothed RTT and its mean
	// deviation.
	SRTT   time.Duration
	RTTVar time.Duration
	// MinRTT is the minimum RTT observed this session.
	MinRTT time.Duration
	// CurBandwidthBps is the last throughput sample reported by the peer.
	CurBandwidthBps float64
	// CurLossRate is the loss rate the receiver reported in its last
	// NetStatePacket; the sender's LossEstimator does not update it.
	CurLossRate float64
	// LossSeq is the most recent run-length-encoded loss sequence reported
	// in a NetStatePacket.
	LossSeq []wire.LossRun
	// OneWayDispersion is the receiver-measured spread of arrival times
	// within a group.
	OneWayDispersion time.Duration
	// RTDispersion is the sender-side IIR-smoothed round-trip dispersion.
	RTDispersion time.Duration
}

// UpdateRTTSample applies one RTT sample using the Jacobson/Karels EWMA
// (alpha=1/8, beta=1/4), matching the original estimator.
func (s *NetStat) UpdateRTTSample(sample time.Duration) {
	s.CurRTT = sample
	if s.MinRTT == 0 || sample < s.MinRTT {
		s.MinRTT = sample
	}
	if s.SRTT == 0 {
		s.SRTT = sample
		s.RTTVar = sample / 2
		return
	}
	diff := sample - s.SRTT
	if diff < 0 {
		diff = -diff
	}
	s.RTTVar = s.RTTVar + (diff-s.RTTVar)/4
	s.SRTT = s.SRTT + (sample-s.SRTT)/8
}

// UpdateRTDispersion folds a fresh round-trip dispersion sample into the IIR
// estimate: 0.2 new + 0.8 old.
func (s *NetStat) UpdateRTDispersion(sample time.Duration) {
	if s.RTDispersion == 0 {
		s.RTDispersion = sample
		return
	}
	s.RTDispersion = time.Duration(0.2*float64(sample) + 0.8*float64(s.RTDispersion))
}

// RTO returns the retransmission timeout used by dup-ack/PTO loss detection:
// max(srtt + 4*rttvar, 2*srtt).
func (s *NetStat) RTO() time.Duration {
	a := s.SRTT + 4*s.RTTVar
	b := 2 * s.SRTT
	if a > b {
		return a
	}
	return b
}

// TightRTO is the shortened timeout used once a group has already been
// retransmitted at least once under the Hairpin policy:
// max(srtt + 4*rttvar, 1.5*srtt).
func (s *NetStat) TightRTO() time.Duration {
	a := s.SRTT + 4*s.RTTVar
	b := time.Duration(1.5 * float64(s.SRTT))
	if a > b {
		return a
	}
	return b
}
