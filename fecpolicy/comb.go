package fecpolicy

import (
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
)

// combState walks a finite-state "protection comb": a table index into a
// reward/rate pair, raised when recent loss worsens and lowered when it
// improves, as used by Bolot and Usf.
type combState struct {
	idx int
}

func (c *combState) clamp(n int) {
	if c.idx < 0 {
		c.idx = 0
	}
	if c.idx >= n {
		c.idx = n - 1
	}
}

// Bolot is the protection-comb policy from Bolot & Turletti, using the
// 10-entry reward/rate tables from the original's BolotPolicy.
type Bolot struct {
	GroupSize int
	comb      combState

	lossBefore float64
	hasPrev    bool
}

var bolotReward = []int{1, 4, 4, 8, 8, 8, 8, 18, 18, 18}
var bolotRate = []int{0, 1, 1, 2, 2, 2, 2, 3, 3, 4}

const bolotLow = 0.03
const bolotHigh = 0.03

func (p *Bolot) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	gs := pickGroupSize(frameSize, p.GroupSize, fixGroupSize)
	if isRtx {
		return Param{GroupSize: gs, FECRate: 0}
	}

	loss := stats.CurLossRate
	if p.hasPrev {
		if loss > bolotHigh {
			p.comb.idx++
		} else if p.lossBefore < bolotLow {
			p.comb.idx--
		}
	}
	p.comb.clamp(len(bolotReward))
	p.lossBefore = loss
	p.hasPrev = true

	reward := bolotReward[p.comb.idx]
	rate := bolotRate[p.comb.idx]
	if reward == 0 {
		return Param{GroupSize: gs, FECRate: 0}
	}
	return Param{GroupSize: gs, FECRate: float64(rate) / float64(reward)}
}

// Usf is the protection-comb policy from the original's UsfPolicy: like
// Bolot but with a 9-entry table, an additional minimum-loss-difference
// threshold before lowering the comb, and a hard reset to comb 0 once
// measured loss falls under 1%.
type Usf struct {
	GroupSize int
	comb      combState

	lossBefore float64
	hasPrev    bool
}

var usfReward = []int{1, 4, 4, 8, 8, 18, 18, 18, 18}
var usfRate = []int{0, 1, 1, 2, 2, 3, 3, 3, 4}

const usfMinThresh = 0.03

func (p *Usf) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	gs := pickGroupSize(frameSize, p.GroupSize, fixGroupSize)
	if isRtx {
		return Param{GroupSize: gs, FECRate: 0}
	}

	loss := stats.CurLossRate
	if loss < 0.01 {
		p.comb.idx = 0
	} else if p.hasPrev {
		lossDiff := p.lossBefore - loss
		if loss > bolotHigh {
			p.comb.idx++
		} else if lossDiff > usfMinThresh {
			p.comb.idx--
		}
	}
	p.comb.clamp(len(usfReward))
	p.lossBefore = loss
	p.hasPrev = true

	reward := usfReward[p.comb.idx]
	rate := usfRate[p.comb.idx]
	if reward == 0 {
		return Param{GroupSize: gs, FECRate: 0}
	}
	return Param{GroupSize: gs, FECRate: float64(rate) / float64(reward)}
}
