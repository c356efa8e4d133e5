package receiver

import (
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/hkust-spark/sparkrtc/clock"
	"github.com/hkust-spark/sparkrtc/wire"
	"github.com/stretchr/testify/require"
)

func newTestReceiver(t *testing.T) (*Receiver, *[]interface{}) {
	t.Helper()
	sent := &[]interface{}{}
	clk := clock.NewFake(time.Unix(1000, 0))
	logger := &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}
	r := New(DefaultConfig(), clk, logger, func(p interface{}) {
		*sent = append(*sent, p)
	})
	return r, sent
}

func dataPkt(groupID uint32, groupDataNum, pktIDInGroup uint16, frameID uint32, framePktNum, pktIDInFrame, globalID uint16, encodeMs uint64) *wire.DataPacket {
	return &wire.DataPacket{
		Video: wire.VideoHeader{
			EncodeTimeMs: encodeMs, GlobalID: globalID, GroupID: groupID,
			GroupDataNum: groupDataNum, GroupFECNum: 0, PktIDInGroup: pktIDInGroup,
		},
		Data: wire.DataHeader{FrameID: frameID, FramePktNum: framePktNum, PktIDInFrame: pktIDInFrame},
	}
}

func TestGroupBecomesCompleteAndFrameAcked(t *testing.T) {
	r, sent := newTestReceiver(t)
	r.OnDataPacket(dataPkt(1, 2, 0, 10, 2, 0, 100, 1_000_000))
	r.OnDataPacket(dataPkt(1, 2, 1, 10, 2, 1, 101, 1_000_000))

	var gotFrameAck bool
	for _, p := range *sent {
		if _, ok := p.(*wire.FrameAckPacket); ok {
			gotFrameAck = true
		}
	}
	require.True(t, gotFrameAck)
	require.Equal(t, 1, r.Decoder().PlayedFrames())
}

func TestGroupRecoverableViaFECWithoutAllDataPackets(t *testing.T) {
	r, _ := newTestReceiver(t)
	r.OnDataPacket(dataPkt(2, 3, 0, 20, 3, 0, 200, 1_000_000))
	fec := &wire.FECPacket{
		Video: wire.VideoHeader{EncodeTimeMs: 1_000_000, GlobalID: 201, GroupID: 2, GroupDataNum: 3, PktIDInGroup: 1},
		Digests: []wire.FECDigest{
			{PktIDInGroup: 1, FrameID: 20, FramePktNum: 3, PktIDInFrame: 1},
			{PktIDInGroup: 2, FrameID: 20, FramePktNum: 3, PktIDInFrame: 2},
		},
	}
	r.OnFECPacket(fec)
	anotherFec := &wire.FECPacket{
		Video: wire.VideoHeader{EncodeTimeMs: 1_000_000, GlobalID: 202, GroupID: 2, GroupDataNum: 3, PktIDInGroup: 2},
	}
	r.OnFECPacket(anotherFec)
	require.Equal(t, 1, r.Decoder().PlayedFrames())
}

func TestAckCarriesLatestGlobalID(t *testing.T) {
	r, sent := newTestReceiver(t)
	r.OnDataPacket(dataPkt(3, 5, 0, 30, 5, 0, 555, 3000))
	found := false
	for _, p := range *sent {
		if ack, ok := p.(*wire.AckPacket); ok {
			require.Equal(t, uint16(555), ack.LastPktID)
			found = true
		}
	}
	require.True(t, found)
}

func TestGroupTimesOutWithoutCompleting(t *testing.T) {
	r, _ := newTestReceiver(t)
	r.cfg.DelayDDL = 10 * time.Millisecond
	r.OnDataPacket(dataPkt(4, 5, 0, 40, 5, 0, 1, 1_000_000))
	fake := r.clk.(*clock.Fake)
	fake.Advance(50 * time.Millisecond)
	// trigger a sweep via another packet on an unrelated group
	r.OnDataPacket(dataPkt(99, 1, 0, 90, 1, 0, 2, 1_000_040))
	_, stillIncomplete := r.incomplete[4]
	_, timedOut := r.timedOut[4]
	require.False(t, stillIncomplete)
	require.True(t, timedOut)
}

func TestBuildLossSeqEncodesGapsAsNegativeRuns(t *testing.T) {
	records := []recvRecord{{globalID: 1}, {globalID: 2}, {globalID: 5}, {globalID: 6}}
	seq := buildLossSeq(records)
	require.Equal(t, []wire.LossRun{
		{Received: true, Count: 2},
		{Received: false, Count: 2},
		{Received: true, Count: 2},
	}, seq)
}

func TestWrapSpanWrapsAround(t *testing.T) {
	require.Equal(t, 1, wrapSpan(65535, 0))
	require.Equal(t, 10, wrapSpan(5, 15))
}
