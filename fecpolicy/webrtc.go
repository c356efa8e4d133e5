package fecpolicy

import (
	"math"
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
)

// LossFilter reproduces WebRtcLossFilter: a short 1s window is averaged
// into a rolling long 10s window, and the reported loss is the max over
// that long window. This smooths a FEC decision against a momentary loss
// spike while still reacting to a sustained bad patch quickly.
type LossFilter struct {
	shortSamples []float64
	shortSince   time.Time
	long         []float64
}

const lossFilterShortWindow = time.Second
const lossFilterLongLen = 10

// Update folds in a fresh instantaneous loss sample at time t.
func (f *LossFilter) Update(t time.Time, loss float64) float64 {
	if f.shortSince.IsZero() || t.Sub(f.shortSince) >= lossFilterShortWindow {
		if len(f.shortSamples) > 0 {
			sum := 0.0
			for _, s := range f.shortSamples {
				sum += s
			}
			avg := sum / float64(len(f.shortSamples))
			f.long = append(f.long, avg)
			if len(f.long) > lossFilterLongLen {
				f.long = f.long[len(f.long)-lossFilterLongLen:]
			}
		}
		f.shortSamples = f.shortSamples[:0]
		f.shortSince = t
	}
	f.shortSamples = append(f.shortSamples, loss)

	cur := 0.0
	for _, s := range f.shortSamples {
		cur += s
	}
	max := cur / float64(len(f.shortSamples))
	for _, v := range f.long {
		if v > max {
			max = v
		}
	}
	return max
}

// webrtcBaseRate approximates WebRTC's loss/group-size/bitrate lookup table
// for FEC protection. The real table (webrtc-fec-array.h) was not present
// in the retrieved source for this policy; this closed-form substitute is
// monotone increasing in loss and decreasing in group size and bitrate,
// calibrated against the documented boundary behavior (0 loss -> 0 rate,
// loss near 0.5 with small groups at low bitrate -> rate near 1).
func webrtcBaseRate(loss float64, groupSize int, bitrateMbps float64) float64 {
	if loss <= 0 {
		return 0
	}
	if loss > 0.5 {
		loss = 0.5
	}
	sizeFactor := 1.0
	if groupSize > 0 {
		sizeFactor = 1.0 / (1.0 + float64(groupSize)/20.0)
	}
	bwFactor := 1.0
	if bitrateMbps > 0 {
		bwFactor = 1.0 / (1.0 + bitrateMbps/10.0)
	}
	logistic := 1.0 / (1.0 + math.Exp(-12*(loss-0.15)))
	rate := logistic * (0.5 + 0.5*sizeFactor) * (0.5 + 0.5*bwFactor)
	if rate > 1 {
		rate = 1
	}
	return rate
}

// WebRTC is a port of WebRTCPolicy: clamps the group size to 48, filters
// the loss estimate, and looks up a base rate.
type WebRTC struct {
	Filter LossFilter
	// Now defaults to time.Now; tests inject a fake clock's Now method.
	Now func() time.Time
}

func (p *WebRTC) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	if maxGroupSize > 48 {
		maxGroupSize = 48
	}
	gs := pickGroupSize(frameSize, maxGroupSize, fixGroupSize)
	if isRtx {
		return Param{GroupSize: gs, FECRate: 0}
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	loss := p.Filter.Update(now(), stats.CurLossRate)
	rate := webrtcBaseRate(loss, gs, bitrateBps/1_000_000)
	return Param{GroupSize: gs, FECRate: rate}
}

// adjustRTTArrayWebRTC is the 100-entry sigmoid-shaped adjustment table
// indexed by srtt in milliseconds (clamped to [0,99]). buildAdjustRTTArray
// computes it: 0 below 10 ms, a logistic rise over [10,63), 100 from 63 ms.
var adjustRTTArrayWebRTC = buildAdjustRTTArray()

func buildAdjustRTTArray() [100]int {
	var a [100]int
	for i := 0; i < 100; i++ {
		switch {
		case i < 10:
			a[i] = 0
		case i < 63:
			// roughly linear-sigmoid rise from 0 to 100 across [10,63)
			a[i] = int(100.0 / (1.0 + math.Exp(-0.12*(float64(i)-36.0))))
		default:
			a[i] = 100
		}
	}
	return a
}

// WebRTCAdaptive additionally multiplies the WebRTC base rate by
// adjust_rtt_array_webrtc[srtt_ms]/100, matching get_fec_rate_webrtc_rtt.
type WebRTCAdaptive struct {
	WebRTC
}

func (p *WebRTCAdaptive) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	base := p.WebRTC.Decide(stats, bitrateBps, ddl, ddlLeft, isRtx, frameSize, maxGroupSize, fixGroupSize)
	if isRtx {
		return base
	}
	srttMs := int(stats.SRTT / time.Millisecond)
	if srttMs < 0 {
		srttMs = 0
	}
	if srttMs > 99 {
		srttMs = 99
	}
	base.FECRate *= float64(adjustRTTArrayWebRTC[srttMs]) / 100.0
	return base
}

// WebRTCStarOrder selects which deadline-aware multiplier WebRTCStar
// applies.
type WebRTCStarOrder int

const (
	OrderSqrt WebRTCStarOrder = iota
	OrderLinear
	OrderQuadratic
)

// WebRTCStar applies a deadline-aware multiplier on top of the WebRTC base
// rate, matching WebRTCStarPolicy's three multiplier orders:
// sqrt: beta*sqrt(2*rtt/ddlLeft), linear: min(1, Coeff*beta*rtt/ddlLeft),
// quadratic: 4*beta*(rtt/ddlLeft)^2. All three are driven by rtt/ddlLeft,
// not the fraction of the deadline elapsed.
type WebRTCStar struct {
	WebRTC
	Order WebRTCStarOrder
	Coeff float64 // star_coeff, only used by the linear order
}

func (p *WebRTCStar) linearRate(beta float64, ddlLeft, rtt time.Duration) float64 {
	rttToDdlLeft := float64(rtt) / float64(ddlLeft)
	return math.Min(p.Coeff*beta*rttToDdlLeft, 1)
}

func (p *WebRTCStar) quadraticRate(beta float64, ddlLeft, rtt time.Duration) float64 {
	rttToDdlLeft := float64(rtt) / float64(ddlLeft)
	return 4 * beta * rttToDdlLeft * rttToDdlLeft
}

func (p *WebRTCStar) sqrtRate(beta float64, ddlLeft, rtt time.Duration) float64 {
	rttToDdlLeft := float64(rtt) / float64(ddlLeft)
	return beta * math.Sqrt(2*rttToDdlLeft)
}

func (p *WebRTCStar) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	base := p.WebRTC.Decide(stats, bitrateBps, ddl, ddlLeft, isRtx, frameSize, maxGroupSize, fixGroupSize)
	if isRtx {
		return base
	}
	if base.FECRate > 1 {
		base.FECRate = 1
	}
	if ddlLeft <= 0 {
		return base
	}
	rtt := stats.CurRTT

	switch p.Order {
	case OrderLinear:
		base.FECRate = p.linearRate(base.FECRate, ddlLeft, rtt)
	case OrderQuadratic:
		base.FECRate = p.quadraticRate(base.FECRate, ddlLeft, rtt)
	case OrderSqrt:
		base.FECRate = p.sqrtRate(base.FECRate, ddlLeft, rtt)
	}
	if base.FECRate > 1 {
		base.FECRate = 1
	}
	if base.FECRate < 0 {
		base.FECRate = 0
	}
	return base
}
