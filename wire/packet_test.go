package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataPacketRoundTrip(t *testing.T) {
	p := &DataPacket{
		Video: VideoHeader{
			EncodeTimeMs: 12345, GlobalID: 7, GroupID: 2, GroupDataNum: 4, GroupFECNum: 1,
			PktIDInGroup: 1, BatchID: 9, BatchDataNum: 4, BatchFECNum: 1, PktIDInBatch: 1, TxCount: 0,
		},
		Data:    DataHeader{FrameID: 99, FramePktNum: 3, PktIDInFrame: 1},
		Payload: []byte("hello world"),
	}
	raw := p.Marshal()

	typ, decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeData, typ)
	got := decoded.(*DataPacket)
	require.Equal(t, p.Video, got.Video)
	require.Equal(t, p.Data, got.Data)
	require.Equal(t, p.Payload, got.Payload)
}

func TestFECPacketRoundTripAndDupTag(t *testing.T) {
	p := &FECPacket{
		Video: VideoHeader{EncodeTimeMs: 1, GroupID: 5},
		Digests: []FECDigest{
			{PktIDInBatch: 0, PktIDInGroup: 0, FrameID: 1, FramePktNum: 2, PktIDInFrame: 0},
			{PktIDInBatch: 1, PktIDInGroup: 1, FrameID: 1, FramePktNum: 2, PktIDInFrame: 1},
		},
		Payload: []byte{1, 2, 3},
	}
	raw := p.Marshal()
	typ, decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeFEC, typ)
	got := decoded.(*FECPacket)
	require.False(t, got.IsDup)
	require.Equal(t, p.Digests, got.Digests)

	p.IsDup = true
	raw = p.Marshal()
	typ, decoded, err = Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeDupFEC, typ)
	require.True(t, decoded.(*FECPacket).IsDup)
}

func TestFECDigestRTXSentinel(t *testing.T) {
	d := FECDigest{PktIDInGroup: RTXFECGroupID}
	require.Equal(t, uint16(0xFFFF), d.PktIDInGroup)
}

func TestAckPacketStampsLastPktIDOntoEveryEntry(t *testing.T) {
	p := &AckPacket{
		Entries: []AckEntry{
			{GroupID: 1, PktIDInGroup: 0},
			{GroupID: 1, PktIDInGroup: 1},
			{GroupID: 2, PktIDInGroup: 0},
		},
		LastPktID: 42,
	}
	raw := p.Marshal()
	typ, decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeAck, typ)
	got := decoded.(*AckPacket)
	require.Equal(t, uint16(42), got.LastPktID)
	for _, e := range got.Entries {
		require.Equal(t, uint16(42), e.GlobalID, "every decoded entry must carry the single trailing last_pkt_id")
	}
}

func TestFrameAckPacketRoundTrip(t *testing.T) {
	p := &FrameAckPacket{FrameID: 77, FrameEncodeUs: 1_500_000}
	raw := p.Marshal()
	typ, decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeFrameAck, typ)
	got := decoded.(*FrameAckPacket)
	require.Equal(t, p.FrameID, got.FrameID)
	require.Equal(t, p.FrameEncodeUs, got.FrameEncodeUs)
}

func TestNetStatePacketRoundTrip(t *testing.T) {
	p := &NetStatePacket{
		ThroughputKbps:  2500,
		FECGroupDelayUs: 700,
		LossSeq: []LossRun{
			{Received: true, Count: 10},
			{Received: false, Count: 2},
			{Received: true, Count: 5},
		},
		RecvSamples: []RecvSample{
			{PktID: 1, RecvTime: 100},
			{PktID: 2, RecvTime: 250},
		},
	}
	p.EncodeLossRate(0.025)
	raw := p.Marshal()
	typ, decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeNetState, typ)
	got := decoded.(*NetStatePacket)
	require.InDelta(t, 0.025, got.LossRateFloat(), 1e-9)
	require.Equal(t, p.ThroughputKbps, got.ThroughputKbps)
	require.Equal(t, p.LossSeq, got.LossSeq)
	require.Equal(t, p.RecvSamples, got.RecvSamples)
}

func TestUint16LessWrapsAround(t *testing.T) {
	require.True(t, Uint16Less(5, 10))
	require.False(t, Uint16Less(10, 5))
	// wrap-around: 65530 precedes 5 (distance 11 forward vs 65525 backward)
	require.True(t, Uint16Less(65530, 5))
	require.False(t, Uint16Less(5, 65530))
}

func TestUint64LessWrapsAround(t *testing.T) {
	require.True(t, Uint64Less(5, 10))
	var max uint64 = 1<<64 - 1
	require.True(t, Uint64Less(max-2, 2))
	require.False(t, Uint64Less(2, max-2))
}

func TestDecodeRejectsShortBuffers(t *testing.T) {
	_, _, err := Decode(nil)
	require.Error(t, err)
	_, _, err = Decode(EncodeType(TypeData))
	require.Error(t, err)
}
