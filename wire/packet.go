// Package wire implements the on-the-wire packet headers exchanged between a
// Sender and a Receiver: fixed big-endian binary layouts for data, FEC, ack,
// frame-ack and net-state packets, plus the wrap-aware id comparators used
// throughout the transport.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtcp"
)

// PacketType tags every packet on the wire with a 4-byte big-endian value,
// mirroring the network-packet-header's type prefix.
type PacketType uint32

const (
	TypeData PacketType = iota
	TypeFEC
	TypeDupFEC
	TypeAck
	TypeFrameAck
	TypeNetState
	TypePLI
)

func (t PacketType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeFEC:
		return "FEC"
	case TypeDupFEC:
		return "DUP_FEC"
	case TypeAck:
		return "ACK"
	case TypeFrameAck:
		return "FRAME_ACK"
	case TypeNetState:
		return "NET_STATE"
	case TypePLI:
		return "PLI"
	default:
		return fmt.Sprintf("PacketType(%d)", uint32(t))
	}
}

// RTXFECGroupID is the sentinel pkt_id_in_group value a FEC packet's
// VideoHeader carries when the FEC packet protects a retransmission batch
// rather than a group assembled at first-transmission time.
const RTXFECGroupID uint16 = 0xFFFF

const typeHeaderLen = 4

// EncodeType writes the 4-byte type tag that precedes every packet payload.
func EncodeType(t PacketType) []byte {
	b := make([]byte, typeHeaderLen)
	binary.BigEndian.PutUint32(b, uint32(t))
	return b
}

// DecodeType reads the leading type tag and returns the remaining payload.
func DecodeType(b []byte) (PacketType, []byte, error) {
	if len(b) < typeHeaderLen {
		return 0, nil, fmt.Errorf("wire: short packet header: %d bytes", len(b))
	}
	return PacketType(binary.BigEndian.Uint32(b)), b[typeHeaderLen:], nil
}

// VideoHeader is the header shared by DATA, FEC and DUP_FEC packets: it
// carries a packet's position within its FEC group and its RTX batch.
type VideoHeader struct {
	EncodeTimeMs  uint64
	GlobalID      uint16
	GroupID       uint32
	GroupDataNum  uint16
	GroupFECNum   uint16
	PktIDInGroup  uint16
	BatchID       uint32
	BatchDataNum  uint16
	BatchFECNum   uint16
	PktIDInBatch  uint16
	TxCount       uint8
}

const videoHeaderLen = 8 + 2 + 4 + 2 + 2 + 2 + 4 + 2 + 2 + 2 + 1

func (h *VideoHeader) Marshal() []byte {
	b := make([]byte, videoHeaderLen)
	i := 0
	binary.BigEndian.PutUint64(b[i:], h.EncodeTimeMs)
	i += 8
	binary.BigEndian.PutUint16(b[i:], h.GlobalID)
	i += 2
	binary.BigEndian.PutUint32(b[i:], h.GroupID)
	i += 4
	binary.BigEndian.PutUint16(b[i:], h.GroupDataNum)
	i += 2
	binary.BigEndian.PutUint16(b[i:], h.GroupFECNum)
	i += 2
	binary.BigEndian.PutUint16(b[i:], h.PktIDInGroup)
	i += 2
	binary.BigEndian.PutUint32(b[i:], h.BatchID)
	i += 4
	binary.BigEndian.PutUint16(b[i:], h.BatchDataNum)
	i += 2
	binary.BigEndian.PutUint16(b[i:], h.BatchFECNum)
	i += 2
	binary.BigEndian.PutUint16(b[i:], h.PktIDInBatch)
	i += 2
	b[i] = h.TxCount
	return b
}

func (h *VideoHeader) Unmarshal(b []byte) (int, error) {
	if len(b) < videoHeaderLen {
		return 0, fmt.Errorf("wire: short video header: %d bytes", len(b))
	}
	i := 0
	h.EncodeTimeMs = binary.BigEndian.Uint64(b[i:])
	i += 8
	h.GlobalID = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.GroupID = binary.BigEndian.Uint32(b[i:])
	i += 4
	h.GroupDataNum = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.GroupFECNum = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.PktIDInGroup = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.BatchID = binary.BigEndian.Uint32(b[i:])
	i += 4
	h.BatchDataNum = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.BatchFECNum = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.PktIDInBatch = binary.BigEndian.Uint16(b[i:])
	i += 2
	h.TxCount = b[i]
	i++
	return i, nil
}

// DataHeader follows a VideoHeader on DATA packets and places the packet
// within its source frame.
type DataHeader struct {
	FrameID      uint32
	FramePktNum  uint16
	PktIDInFrame uint16
}

const dataHeaderLen = 4 + 2 + 2

func (h *DataHeader) Marshal() []byte {
	b := make([]byte, dataHeaderLen)
	binary.BigEndian.PutUint32(b[0:], h.FrameID)
	binary.BigEndian.PutUint16(b[4:], h.FramePktNum)
	binary.BigEndian.PutUint16(b[6:], h.PktIDInFrame)
	return b
}

func (h *DataHeader) Unmarshal(b []byte) (int, error) {
	if len(b) < dataHeaderLen {
		return 0, fmt.Errorf("wire: short data header: %d bytes", len(b))
	}
	h.FrameID = binary.BigEndian.Uint32(b[0:])
	h.FramePktNum = binary.BigEndian.Uint16(b[4:])
	h.PktIDInFrame = binary.BigEndian.Uint16(b[6:])
	return dataHeaderLen, nil
}

// DataPacket is a complete DATA packet: video header, data header and the
// opaque media payload.
type DataPacket struct {
	Video   VideoHeader
	Data    DataHeader
	Payload []byte
}

func (p *DataPacket) Marshal() []byte {
	b := append(EncodeType(TypeData), p.Video.Marshal()...)
	b = append(b, p.Data.Marshal()...)
	return append(b, p.Payload...)
}

func UnmarshalDataPacket(b []byte) (*DataPacket, error) {
	p := &DataPacket{}
	n, err := p.Video.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	n, err = p.Data.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	p.Payload = append([]byte(nil), b[n:]...)
	return p, nil
}

// FECDigest identifies one data packet protected by a FEC packet.
type FECDigest struct {
	PktIDInBatch uint16
	PktIDInGroup uint16
	FrameID      uint32
	FramePktNum  uint16
	PktIDInFrame uint16
}

const fecDigestLen = 2 + 2 + 4 + 2 + 2

func (d *FECDigest) marshalInto(b []byte) {
	binary.BigEndian.PutUint16(b[0:], d.PktIDInBatch)
	binary.BigEndian.PutUint16(b[2:], d.PktIDInGroup)
	binary.BigEndian.PutUint32(b[4:], d.FrameID)
	binary.BigEndian.PutUint16(b[8:], d.FramePktNum)
	binary.BigEndian.PutUint16(b[10:], d.PktIDInFrame)
}

func (d *FECDigest) unmarshalFrom(b []byte) {
	d.PktIDInBatch = binary.BigEndian.Uint16(b[0:])
	d.PktIDInGroup = binary.BigEndian.Uint16(b[2:])
	d.FrameID = binary.BigEndian.Uint32(b[4:])
	d.FramePktNum = binary.BigEndian.Uint16(b[8:])
	d.PktIDInFrame = binary.BigEndian.Uint16(b[10:])
}

// FECPacket is a complete FEC (or DUP_FEC) packet: video header, the digest
// list of every data packet it protects, and opaque parity payload.
type FECPacket struct {
	Video   VideoHeader
	Digests []FECDigest
	Payload []byte
	// IsDup marks a FEC packet re-sent as part of a retransmission batch;
	// it selects the DUP_FEC wire tag instead of FEC.
	IsDup bool
}

func (p *FECPacket) Marshal() []byte {
	t := TypeFEC
	if p.IsDup {
		t = TypeDupFEC
	}
	b := append(EncodeType(t), p.Video.Marshal()...)
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(p.Digests)))
	b = append(b, count...)
	for i := range p.Digests {
		d := make([]byte, fecDigestLen)
		p.Digests[i].marshalInto(d)
		b = append(b, d...)
	}
	return append(b, p.Payload...)
}

func UnmarshalFECPacket(b []byte, isDup bool) (*FECPacket, error) {
	p := &FECPacket{IsDup: isDup}
	n, err := p.Video.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	if len(b) < 2 {
		return nil, fmt.Errorf("wire: short fec digest count")
	}
	count := binary.BigEndian.Uint16(b)
	b = b[2:]
	if len(b) < int(count)*fecDigestLen {
		return nil, fmt.Errorf("wire: short fec digest list")
	}
	p.Digests = make([]FECDigest, count)
	for i := 0; i < int(count); i++ {
		p.Digests[i].unmarshalFrom(b[i*fecDigestLen:])
	}
	b = b[int(count)*fecDigestLen:]
	p.Payload = append([]byte(nil), b...)
	return p, nil
}

// AckEntry names one (group, packet) pair being acknowledged.
type AckEntry struct {
	GroupID      uint32
	PktIDInGroup uint16
	// GlobalID is overwritten on decode with the packet's trailing
	// LastPktID field, reproducing the original decoder's behavior: every
	// entry in a multi-entry AckPacket ends up stamped with the same
	// global id, not its own.
	GlobalID uint16
}

// AckPacket acknowledges one or more data packets by (group, pkt-in-group).
type AckPacket struct {
	Entries   []AckEntry
	LastPktID uint16
}

func (p *AckPacket) Marshal() []byte {
	b := EncodeType(TypeAck)
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(p.Entries)))
	b = append(b, count...)
	for _, e := range p.Entries {
		entry := make([]byte, 6)
		binary.BigEndian.PutUint32(entry[0:], e.GroupID)
		binary.BigEndian.PutUint16(entry[4:], e.PktIDInGroup)
		b = append(b, entry...)
	}
	last := make([]byte, 2)
	binary.BigEndian.PutUint16(last, p.LastPktID)
	return append(b, last...)
}

func UnmarshalAckPacket(b []byte) (*AckPacket, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("wire: short ack count")
	}
	count := binary.BigEndian.Uint32(b)
	b = b[4:]
	need := int(count)*6 + 2
	if len(b) < need {
		return nil, fmt.Errorf("wire: short ack body")
	}
	p := &AckPacket{Entries: make([]AckEntry, count)}
	for i := 0; i < int(count); i++ {
		e := b[i*6:]
		p.Entries[i].GroupID = binary.BigEndian.Uint32(e[0:])
		p.Entries[i].PktIDInGroup = binary.BigEndian.Uint16(e[4:])
	}
	p.LastPktID = binary.BigEndian.Uint16(b[int(count)*6:])
	for i := range p.Entries {
		p.Entries[i].GlobalID = p.LastPktID
	}
	return p, nil
}

// FrameAckPacket acknowledges that every data packet of a frame has been
// decoded.
type FrameAckPacket struct {
	FrameID         uint32
	FrameEncodeUs   uint64
}

const frameAckLen = 4 + 8

func (p *FrameAckPacket) Marshal() []byte {
	b := EncodeType(TypeFrameAck)
	body := make([]byte, frameAckLen)
	binary.BigEndian.PutUint32(body[0:], p.FrameID)
	binary.BigEndian.PutUint64(body[4:], p.FrameEncodeUs)
	return append(b, body...)
}

func UnmarshalFrameAckPacket(b []byte) (*FrameAckPacket, error) {
	if len(b) < frameAckLen {
		return nil, fmt.Errorf("wire: short frame ack")
	}
	p := &FrameAckPacket{}
	p.FrameID = binary.BigEndian.Uint32(b[0:])
	p.FrameEncodeUs = binary.BigEndian.Uint64(b[4:])
	return p, nil
}

// PLIPacket is the receiver's signal that a group timed out before it could
// be assembled (FEC and RTX both failed to recover it in time) and the
// sender should treat the group's frame as unrecoverable. It is carried as
// a standard RTCP Picture Loss Indication, the same signal GameServer's
// WebRTC-facing peers use to request recovery after uncorrected loss - here
// GroupID stands in for the RTCP MediaSSRC the wire format expects.
type PLIPacket struct {
	GroupID uint32
}

func (p *PLIPacket) Marshal() []byte {
	body, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.GroupID}})
	if err != nil {
		// rtcp.PictureLossIndication.Marshal never fails for a populated
		// struct; fall back to an empty body rather than dropping the type
		// tag that already precedes it.
		body = nil
	}
	return append(EncodeType(TypePLI), body...)
}

func UnmarshalPLIPacket(b []byte) (*PLIPacket, error) {
	pkts, err := rtcp.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("wire: bad PLI body: %w", err)
	}
	for _, pkt := range pkts {
		if pli, ok := pkt.(*rtcp.PictureLossIndication); ok {
			return &PLIPacket{GroupID: pli.MediaSSRC}, nil
		}
	}
	return nil, fmt.Errorf("wire: PLI body carried no PictureLossIndication")
}

// LossRun is one run in the run-length-encoded receive/loss sequence: a
// positive Count of consecutively received packets, or a negative run
// (encoded as Received=false) describing a gap of Count lost packets.
type LossRun struct {
	Received bool
	Count    uint16
}

// RecvSample is a single packet's observed receive time, in microseconds
// since the estimator's epoch.
type RecvSample struct {
	PktID    uint32
	RecvTime uint32
}

// NetStatePacket is the receiver's periodic feedback: loss rate, throughput,
// the run-length loss sequence, and raw per-packet receive-time samples
// accumulated since the previous NetStatePacket.
type NetStatePacket struct {
	// LossRateScaled is loss rate scaled by 10000 (i.e. units of 1/10000,
	// basis points): 10000 means a loss rate of 1.0.
	LossRateScaled  uint16
	ThroughputKbps  uint32
	FECGroupDelayUs uint16
	LossSeq         []LossRun
	RecvSamples     []RecvSample
}

func (p *NetStatePacket) Marshal() []byte {
	b := EncodeType(TypeNetState)
	head := make([]byte, 2+4+2)
	binary.BigEndian.PutUint16(head[0:], p.LossRateScaled)
	binary.BigEndian.PutUint32(head[2:], p.ThroughputKbps)
	binary.BigEndian.PutUint16(head[6:], p.FECGroupDelayUs)
	b = append(b, head...)

	seqCount := make([]byte, 2)
	binary.BigEndian.PutUint16(seqCount, uint16(len(p.LossSeq)))
	b = append(b, seqCount...)
	for _, r := range p.LossSeq {
		entry := make([]byte, 4)
		sign := uint16(0)
		if r.Received {
			sign = 1
		}
		binary.BigEndian.PutUint16(entry[0:], sign)
		binary.BigEndian.PutUint16(entry[2:], r.Count)
		b = append(b, entry...)
	}

	sampleCount := make([]byte, 2)
	binary.BigEndian.PutUint16(sampleCount, uint16(len(p.RecvSamples)))
	b = append(b, sampleCount...)
	for _, s := range p.RecvSamples {
		entry := make([]byte, 8)
		binary.BigEndian.PutUint32(entry[0:], s.PktID)
		binary.BigEndian.PutUint32(entry[4:], s.RecvTime)
		b = append(b, entry...)
	}
	return b
}

func UnmarshalNetStatePacket(b []byte) (*NetStatePacket, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("wire: short net state header")
	}
	p := &NetStatePacket{}
	p.LossRateScaled = binary.BigEndian.Uint16(b[0:])
	p.ThroughputKbps = binary.BigEndian.Uint32(b[2:])
	p.FECGroupDelayUs = binary.BigEndian.Uint16(b[6:])
	b = b[8:]

	if len(b) < 2 {
		return nil, fmt.Errorf("wire: short loss-seq count")
	}
	seqCount := binary.BigEndian.Uint16(b)
	b = b[2:]
	if len(b) < int(seqCount)*4 {
		return nil, fmt.Errorf("wire: short loss-seq body")
	}
	p.LossSeq = make([]LossRun, seqCount)
	for i := 0; i < int(seqCount); i++ {
		e := b[i*4:]
		sign := binary.BigEndian.Uint16(e[0:])
		p.LossSeq[i] = LossRun{Received: sign > 0, Count: binary.BigEndian.Uint16(e[2:])}
	}
	b = b[int(seqCount)*4:]

	if len(b) < 2 {
		return nil, fmt.Errorf("wire: short recv-sample count")
	}
	sampleCount := binary.BigEndian.Uint16(b)
	b = b[2:]
	if len(b) < int(sampleCount)*8 {
		return nil, fmt.Errorf("wire: short recv-sample body")
	}
	p.RecvSamples = make([]RecvSample, sampleCount)
	for i := 0; i < int(sampleCount); i++ {
		e := b[i*8:]
		p.RecvSamples[i] = RecvSample{
			PktID:    binary.BigEndian.Uint32(e[0:]),
			RecvTime: binary.BigEndian.Uint32(e[4:]),
		}
	}
	return p, nil
}

// LossRateFloat returns the decoded loss rate as a float in [0, 1].
func (p *NetStatePacket) LossRateFloat() float64 {
	return float64(p.LossRateScaled) / 10000.0
}

// EncodeLossRate sets LossRateScaled from a float in [0, 1].
func (p *NetStatePacket) EncodeLossRate(rate float64) {
	p.LossRateScaled = uint16(rate * 10000.0)
}

// Decode dispatches on the leading type tag and returns the decoded packet
// value (one of *DataPacket, *FECPacket, *AckPacket, *FrameAckPacket,
// *NetStatePacket, *PLIPacket) together with its PacketType.
func Decode(b []byte) (PacketType, interface{}, error) {
	t, body, err := DecodeType(b)
	if err != nil {
		return 0, nil, err
	}
	switch t {
	case TypeData:
		p, err := UnmarshalDataPacket(body)
		return t, p, err
	case TypeFEC:
		p, err := UnmarshalFECPacket(body, false)
		return t, p, err
	case TypeDupFEC:
		p, err := UnmarshalFECPacket(body, true)
		return t, p, err
	case TypeAck:
		p, err := UnmarshalAckPacket(body)
		return t, p, err
	case TypeFrameAck:
		p, err := UnmarshalFrameAckPacket(body)
		return t, p, err
	case TypeNetState:
		p, err := UnmarshalNetStatePacket(body)
		return t, p, err
	case TypePLI:
		p, err := UnmarshalPLIPacket(body)
		return t, p, err
	default:
		return t, nil, fmt.Errorf("wire: unknown packet type %d", uint32(t))
	}
}

// Uint16Less reports whether a precedes b in a wrap-aware 16-bit sequence
// space, matching the original Uint16Less/lessThan_simple comparators.
func Uint16Less(a, b uint16) bool {
	noWrap := b - a
	wrap := a - b
	return noWrap < wrap
}

// Uint64Less reports whether a precedes b in a wrap-aware 64-bit sequence
// space.
func Uint64Less(a, b uint64) bool {
	noWrap := b - a
	wrap := a - b
	return noWrap < wrap
}
