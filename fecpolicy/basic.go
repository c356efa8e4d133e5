package fecpolicy

import (
	"math"
	"math/rand"
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
)

// Fixed always returns the configured group size and rate, dropping FEC
// entirely on retransmission batches (rate 0), matching FixedPolicy.
type Fixed struct {
	GroupSize int
	Rate      float64
}

func (p *Fixed) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	gs := pickGroupSize(frameSize, p.GroupSize, fixGroupSize)
	if isRtx {
		return Param{GroupSize: gs, FECRate: 0}
	}
	return Param{GroupSize: gs, FECRate: p.Rate}
}

// FixedRtx is Fixed, but also protects retransmission batches at the same
// configured rate, matching FixedRtxPolicy.
type FixedRtx struct {
	GroupSize int
	Rate      float64
}

func (p *FixedRtx) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	gs := pickGroupSize(frameSize, p.GroupSize, fixGroupSize)
	return Param{GroupSize: gs, FECRate: p.Rate}
}

// RtxOnly never generates proactive FEC; recovery relies entirely on
// selective retransmission. It is Fixed(rate=0) with an rtx-detection
// policy selected elsewhere, matching RtxOnlyPolicy.
type RtxOnly struct {
	GroupSize int
}

func (p *RtxOnly) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	return Param{GroupSize: pickGroupSize(frameSize, p.GroupSize, fixGroupSize), FECRate: 0}
}

// PtoOnly is identical to RtxOnly in its FEC decision; the two differ only
// in which retransmission-timeout policy the sender pairs them with
// (dup-ack vs PTO), matching PtoOnlyPolicy.
type PtoOnly struct {
	GroupSize int
}

func (p *PtoOnly) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	return Param{GroupSize: pickGroupSize(frameSize, p.GroupSize, fixGroupSize), FECRate: 0}
}

// TokenRtx flips a coin on every initial (non-rtx) transmission: heads
// reserves a frameSize*lossRate token budget to be spent on a later rtx
// batch instead of protecting the initial send; tails protects the initial
// send directly at the measured loss rate and reserves nothing. A later rtx
// batch spends down the reserved budget at rate 1.0 (full protection),
// falling back to whatever fraction of a full group the remaining budget
// covers once it runs out, matching TokenRtxPolicy.
type TokenRtx struct {
	GroupSize int
	Rand      *rand.Rand // nil uses the package-global source

	token  float64 // remaining reserved budget for the current round
	addRtx bool    // true if this round's budget is reserved for rtx, not spent now
}

func (p *TokenRtx) flip() bool {
	if p.Rand != nil {
		return p.Rand.Intn(2) == 0
	}
	return rand.Intn(2) == 0
}

func (p *TokenRtx) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	gs := pickGroupSize(frameSize, p.GroupSize, fixGroupSize)

	if !isRtx {
		p.token = float64(frameSize) * stats.CurLossRate
		p.addRtx = p.flip()
		if p.addRtx {
			return Param{GroupSize: gs, FECRate: 0}
		}
		return Param{GroupSize: gs, FECRate: stats.CurLossRate}
	}

	if !p.addRtx {
		return Param{GroupSize: gs, FECRate: 0}
	}
	if gs <= 0 {
		return Param{GroupSize: gs, FECRate: 0}
	}
	if p.token >= float64(gs) {
		p.token -= float64(gs)
		return Param{GroupSize: gs, FECRate: 1.0}
	}
	rate := math.Max(p.token, 0) / float64(gs)
	p.token = 0
	return Param{GroupSize: gs, FECRate: rate}
}
