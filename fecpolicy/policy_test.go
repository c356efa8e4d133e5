package fecpolicy

import (
	"testing"
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
	"github.com/stretchr/testify/require"
)

func TestFixedPolicyDropsFECOnRtx(t *testing.T) {
	p := &Fixed{GroupSize: 10, Rate: 0.3}
	stats := &netstate.NetStat{}
	first := p.Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	require.InDelta(t, 0.3, first.FECRate, 1e-9)
	rtx := p.Decide(stats, 1e6, time.Second, time.Second, true, 8, 50, 0)
	require.Equal(t, 0.0, rtx.FECRate)
}

func TestFixedRtxPolicyKeepsRateOnRtx(t *testing.T) {
	p := &FixedRtx{GroupSize: 10, Rate: 0.3}
	stats := &netstate.NetStat{}
	rtx := p.Decide(stats, 1e6, time.Second, time.Second, true, 8, 50, 0)
	require.InDelta(t, 0.3, rtx.FECRate, 1e-9)
}

func TestRtxOnlyAndPtoOnlyNeverProtect(t *testing.T) {
	stats := &netstate.NetStat{}
	r := (&RtxOnly{GroupSize: 10}).Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	require.Equal(t, 0.0, r.FECRate)
	pt := (&PtoOnly{GroupSize: 10}).Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	require.Equal(t, 0.0, pt.FECRate)
}

func TestWrapperClampsMaxFECRate(t *testing.T) {
	w := NewWrapper(&Fixed{GroupSize: 10, Rate: 0.9})
	w.MaxFECRate = 0.5
	stats := &netstate.NetStat{}
	p := w.Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	require.Equal(t, 0.5, p.FECRate)
}

func TestWrapperAppliesFixedLossOverride(t *testing.T) {
	inner := &TokenRtx{GroupSize: 10}
	w := NewWrapper(inner)
	w.FixedLossFlag = true
	w.FixedLoss = 0.2
	stats := &netstate.NetStat{CurLossRate: 0.9}
	_ = w.Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	require.InDelta(t, 0.2, stats.CurLossRate, 1e-9)
}

func TestBolotCombRaisesOnSustainedLoss(t *testing.T) {
	p := &Bolot{GroupSize: 10}
	stats := &netstate.NetStat{CurLossRate: 0.2}
	var last Param
	for i := 0; i < 5; i++ {
		last = p.Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	}
	require.Greater(t, last.FECRate, 0.0)
}

func TestUsfCombResetsBelowOnePercentLoss(t *testing.T) {
	p := &Usf{GroupSize: 10}
	stats := &netstate.NetStat{CurLossRate: 0.2}
	for i := 0; i < 5; i++ {
		p.Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	}
	require.Greater(t, p.comb.idx, 0)
	stats.CurLossRate = 0.005
	p.Decide(stats, 1e6, time.Second, time.Second, false, 8, 50, 0)
	require.Equal(t, 0, p.comb.idx)
}

func TestWebRTCPolicyClampsGroupSizeTo48(t *testing.T) {
	p := &WebRTC{}
	stats := &netstate.NetStat{CurLossRate: 0.1}
	got := p.Decide(stats, 2_000_000, time.Second, time.Second, false, 100, 200, 0)
	require.LessOrEqual(t, got.GroupSize, 48)
}

func TestWebRTCBaseRateMonotoneInLoss(t *testing.T) {
	lo := webrtcBaseRate(0.01, 20, 5)
	hi := webrtcBaseRate(0.4, 20, 5)
	require.Less(t, lo, hi)
}

func TestWebRTCAdaptiveScalesBySRTT(t *testing.T) {
	base := &WebRTC{}
	stats := &netstate.NetStat{CurLossRate: 0.2, SRTT: 5 * time.Millisecond}
	low := (&WebRTCAdaptive{WebRTC: *base}).Decide(stats, 2_000_000, time.Second, time.Second, false, 20, 50, 0)

	stats2 := &netstate.NetStat{CurLossRate: 0.2, SRTT: 80 * time.Millisecond}
	high := (&WebRTCAdaptive{WebRTC: *base}).Decide(stats2, 2_000_000, time.Second, time.Second, false, 20, 50, 0)
	require.LessOrEqual(t, low.FECRate, high.FECRate)
}

func TestWebRTCStarUrgencyIncreasesRate(t *testing.T) {
	stats := &netstate.NetStat{CurLossRate: 0.2, CurRTT: 20 * time.Millisecond}
	far := (&WebRTCStar{Order: OrderQuadratic}).Decide(stats, 2_000_000, 100*time.Millisecond, 90*time.Millisecond, false, 20, 50, 0)
	near := (&WebRTCStar{Order: OrderQuadratic}).Decide(stats, 2_000_000, 100*time.Millisecond, 5*time.Millisecond, false, 20, 50, 0)
	require.GreaterOrEqual(t, near.FECRate, far.FECRate)
}
