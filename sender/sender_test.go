package sender

import (
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/hkust-spark/sparkrtc/clock"
	"github.com/hkust-spark/sparkrtc/fecpolicy"
	"github.com/hkust-spark/sparkrtc/wire"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T) *Sender {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxGroupSize = 4
	clk := clock.NewFake(time.Unix(1000, 0))
	logger := &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}
	policy := fecpolicy.NewWrapper(&fecpolicy.Fixed{GroupSize: 4, Rate: 0.25})
	return New(cfg, clk, logger, policy)
}

func testFrame(id uint32, n int, now time.Time, ddl time.Duration) Frame {
	pkts := make([][]byte, n)
	for i := range pkts {
		pkts[i] = []byte{byte(i)}
	}
	return Frame{FrameID: id, EncodeTime: now, DelayDDL: ddl, Packets: pkts}
}

func TestSendFrameSplitsIntoGroupsAndRegistersHistory(t *testing.T) {
	s := newTestSender(t)
	now := s.clk.Now()
	s.onSendFrame(testFrame(1, 6, now, 200*time.Millisecond), now)

	require.Equal(t, 6, s.hist.len())
	require.Len(t, s.groups, 2) // 4 + 2, per MaxGroupSize=4
	require.Contains(t, s.frameToGroups, uint32(1))
	require.True(t, len(s.pacing) >= 6)
}

func TestFECPacketEnqueuedWhenRateNonZero(t *testing.T) {
	s := newTestSender(t)
	now := s.clk.Now()
	s.onSendFrame(testFrame(1, 4, now, 200*time.Millisecond), now)

	var sawFEC bool
	for _, p := range s.pacing {
		if _, ok := p.(*wire.FECPacket); ok {
			sawFEC = true
		}
	}
	require.True(t, sawFEC)
}

func TestOnAckEvictsMatchingHistoryEntry(t *testing.T) {
	s := newTestSender(t)
	now := s.clk.Now()
	s.onSendFrame(testFrame(1, 2, now, 200*time.Millisecond), now)
	require.Equal(t, 2, s.hist.len())

	// both data packets are group 0, pkt_id_in_group 0 and 1; acking the
	// one carrying global id 0 should evict only that entry.
	e, ok := s.hist.getByKey(0, 0)
	require.True(t, ok)
	ack := &wire.AckPacket{
		Entries:   []wire.AckEntry{{GroupID: 0, PktIDInGroup: 0, GlobalID: e.globalID}},
		LastPktID: e.globalID,
	}
	s.onAck(ack, now)
	require.Equal(t, 1, s.hist.len())
}

func TestOnAckMarksStaleWhenGlobalIDMismatches(t *testing.T) {
	s := newTestSender(t)
	now := s.clk.Now()
	s.onSendFrame(testFrame(1, 2, now, 200*time.Millisecond), now)

	e, ok := s.hist.getByKey(0, 0)
	require.True(t, ok)
	// Ack stamps every entry with a single LastPktID different from e's
	// own global id - reproducing the wire format's documented quirk.
	ack := &wire.AckPacket{
		Entries:   []wire.AckEntry{{GroupID: 0, PktIDInGroup: 0, GlobalID: e.globalID + 99}},
		LastPktID: e.globalID + 99,
	}
	s.onAck(ack, now)
	stillThere, ok := s.hist.getByKey(0, 0)
	require.True(t, ok)
	require.Equal(t, stateRcvdPrevData, stillThere.state)
}

func TestOnFrameAckPurgesAllGroupsOfFrame(t *testing.T) {
	s := newTestSender(t)
	now := s.clk.Now()
	s.onSendFrame(testFrame(1, 6, now, 200*time.Millisecond), now)
	require.Equal(t, 6, s.hist.len())

	fa := &wire.FrameAckPacket{FrameID: 1, FrameEncodeUs: uint64(now.UnixMicro())}
	s.onFrameAck(fa, now)
	require.Equal(t, 0, s.hist.len())
	require.NotContains(t, s.frameToGroups, uint32(1))
	require.Equal(t, 1, s.finishedFrames)
}

func TestCheckRetransmissionDropsDeadlineMissedFront(t *testing.T) {
	s := newTestSender(t)
	s.cfg.DelayDDL = 10 * time.Millisecond
	now := s.clk.Now()
	s.onSendFrame(testFrame(1, 1, now, 10*time.Millisecond), now)
	require.Equal(t, 1, s.hist.len())

	fake := s.clk.(*clock.Fake)
	fake.Advance(50 * time.Millisecond)
	s.checkRetransmission(s.clk.Now())
	require.Equal(t, 0, s.hist.len())
}

func TestGoodputRatioStartsAtOneWithNoTraffic(t *testing.T) {
	s := newTestSender(t)
	require.Equal(t, 1.0, s.GoodputRatio())
}

func TestUpdateQuotaAndBitrateHalvesTarget(t *testing.T) {
	s := newTestSender(t)
	s.cfg.CCAEnable = true
	s.cfg.CCATargetBps = 4_000_000
	s.cfg.FPS = 30
	s.cfg.MaxPayload = 1200
	s.updateQuotaAndBitrate()
	require.InDelta(t, 2_000_000, s.cfg.BitrateBps, 1e-6)
	require.Greater(t, s.ccaQuotaPkt, 0)
}
