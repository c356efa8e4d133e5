// Package fecpolicy implements the pluggable FEC/RTX decision interface and
// its concrete strategies, ported from the FEC policy hierarchy of the
// original simulator.
package fecpolicy

import (
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
)

// Param is a FEC decision: how many packets make up a group (or block), and
// what fraction of that group should be parity.
type Param struct {
	GroupSize int
	FECRate   float64
}

// Policy decides how aggressively to protect a batch of packets with FEC.
//
// stats is the live network estimate, bitrateBps the target send bitrate,
// ddl the frame's full deadline, ddlLeft the time remaining to it, isRtx
// whether this decision is for a retransmission batch rather than a
// first-transmission one, frameSize the number of data packets in the
// frame, maxGroupSize an upper bound on the returned group size, and
// fixGroupSize (when > 0) a caller-forced group size for a trailing
// remainder batch.
type Policy interface {
	Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
		isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param
}

// Wrapper applies the fixed-loss override and max-fec-rate clamp that every
// concrete policy is subject to, matching FECPolicy::GetFECParam.
type Wrapper struct {
	Inner Policy

	// FixedLossFlag, when true, substitutes FixedLoss for the live
	// estimator's loss rate before the inner policy runs.
	FixedLossFlag bool
	FixedLoss     float64

	// MaxFECRate clamps the inner policy's decision.
	MaxFECRate float64
}

// NewWrapper returns a Wrapper with MaxFECRate defaulted to 1.0 (no clamp).
func NewWrapper(inner Policy) *Wrapper {
	return &Wrapper{Inner: inner, MaxFECRate: 1.0}
}

func (w *Wrapper) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	if w.FixedLossFlag {
		stats.CurLossRate = w.FixedLoss
	}
	p := w.Inner.Decide(stats, bitrateBps, ddl, ddlLeft, isRtx, frameSize, maxGroupSize, fixGroupSize)
	if w.MaxFECRate > 0 && p.FECRate > w.MaxFECRate {
		p.FECRate = w.MaxFECRate
	}
	if p.FECRate < 0 {
		p.FECRate = 0
	}
	return p
}

func pickGroupSize(frameSize, maxGroupSize, fixGroupSize int) int {
	if fixGroupSize > 0 {
		return fixGroupSize
	}
	if frameSize > 0 && frameSize < maxGroupSize {
		return frameSize
	}
	return maxGroupSize
}
