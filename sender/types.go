package sender

import (
	"time"

	"github.com/hkust-spark/sparkrtc/wire"
)

// Frame is one unit of source media handed to the sender: a deadline, an
// encode time, and the data packets it splits into.
type Frame struct {
	FrameID    uint32
	EncodeTime time.Time
	DelayDDL   time.Duration
	Packets    [][]byte // pre-split payloads, one per data packet
}

// historyState tracks what the sender believes about one previously-sent
// data packet.
type historyState int

const (
	statePending historyState = iota
	stateRcvdPrevData
)

// historyEntry is one data packet's bookkeeping record, kept until it is
// acked, superseded, or dropped as stale.
type historyEntry struct {
	globalID     uint16
	dataGlobalID uint16 // DATA-packet-only counter, mirrors PacketSender::m_dataGlobalId
	groupID      uint32
	pktIDInGroup uint16
	frameID      uint32

	packet *wire.DataPacket

	encodeTime   time.Time
	enqueueTime  time.Time
	lastSendTime time.Time
	txCount      int

	state historyState
}

func historyKey(groupID uint32, pktIDInGroup uint16) [2]uint64 {
	return [2]uint64{uint64(groupID), uint64(pktIDInGroup)}
}

// group is the sender's own bookkeeping for one FEC group in flight:
// enough to decide when to retransmit it and to rebuild a fresh batch.
type group struct {
	groupID  uint32
	dataNum  int
	fecNum   int
	frameID  uint32
	members  []uint16 // pkt_id_in_group values belonging to this group, in order
	isRtx    bool
}
