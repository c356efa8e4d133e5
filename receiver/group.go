package receiver

import "time"

// DataDigest identifies one data packet that a group claims to contain,
// collected either from a DATA packet's own header or from a FEC packet's
// digest list.
type DataDigest struct {
	PktIDInGroup uint16
	FrameID      uint32
	FramePktNum  int
	PktIDInFrame uint16
}

// Group is one FEC recovery unit being assembled on the receive side.
// Because the FEC recovery math itself is out of scope (opaque predicate,
// per the Non-goals), a group is considered fully decoded the moment it has
// received enough distinct packets (data or FEC) to cover its data-packet
// count - at that point every data packet digest known for the group is
// handed to the decoder, whether or not it physically arrived.
type Group struct {
	GroupID  uint32
	DataNum  int
	FECNum   int
	IsRtx    bool

	receivedSlots map[uint16]struct{} // pkt_id_in_group -> received (data or in-place FEC)
	receivedExtra int                 // rtx FEC packets with no single group slot

	digests map[uint16]DataDigest // pkt_id_in_group -> digest, once known
	decoded map[uint16]struct{}

	EncodeTime    time.Time
	FirstRecvTime time.Time
	LastRecvTime  time.Time
	recvTimes     []time.Time

	CreatedAt time.Time
}

// NewGroup creates an empty group; DataNum/FECNum are filled in as soon as
// the first packet naming them arrives.
func NewGroup(groupID uint32, now time.Time) *Group {
	return &Group{
		GroupID:       groupID,
		receivedSlots: make(map[uint16]struct{}),
		digests:       make(map[uint16]DataDigest),
		decoded:       make(map[uint16]struct{}),
		CreatedAt:     now,
	}
}

// MarkReceived records that the packet at pktIDInGroup has arrived.
func (g *Group) MarkReceived(pktIDInGroup uint16, recvTime time.Time, encodeTime time.Time) {
	g.receivedSlots[pktIDInGroup] = struct{}{}
	g.touch(recvTime, encodeTime)
}

// MarkReceivedExtra records an RTX FEC packet that protects the group
// without occupying one of its numbered slots.
func (g *Group) MarkReceivedExtra(recvTime, encodeTime time.Time) {
	g.receivedExtra++
	g.touch(recvTime, encodeTime)
}

func (g *Group) touch(recvTime, encodeTime time.Time) {
	if g.FirstRecvTime.IsZero() || recvTime.Before(g.FirstRecvTime) {
		g.FirstRecvTime = recvTime
	}
	if recvTime.After(g.LastRecvTime) {
		g.LastRecvTime = recvTime
	}
	if g.EncodeTime.IsZero() || encodeTime.Before(g.EncodeTime) {
		g.EncodeTime = encodeTime
	}
	g.recvTimes = append(g.recvTimes, recvTime)
}

// AddDigest registers the data-packet identity carried at pktIDInGroup,
// learned either from that DATA packet directly or from a FEC packet's
// digest list.
func (g *Group) AddDigest(pktIDInGroup uint16, d DataDigest) {
	if _, ok := g.digests[pktIDInGroup]; !ok {
		d.PktIDInGroup = pktIDInGroup
		g.digests[pktIDInGroup] = d
	}
}

// ReceivedCount is the number of distinct slots (or slot-less rtx FEC
// packets) received so far.
func (g *Group) ReceivedCount() int {
	return len(g.receivedSlots) + g.receivedExtra
}

// CheckComplete reports whether enough distinct packets have arrived to
// consider every data packet in the group decoded.
func (g *Group) CheckComplete() bool {
	return g.DataNum > 0 && g.ReceivedCount() >= g.DataNum
}

// UndecodedDigests returns every known digest not yet handed to the
// decoder, and marks them handed off. Call only once CheckComplete is true.
func (g *Group) UndecodedDigests() []DataDigest {
	var out []DataDigest
	for id, d := range g.digests {
		if _, done := g.decoded[id]; done {
			continue
		}
		g.decoded[id] = struct{}{}
		out = append(out, d)
	}
	return out
}

// AvgPktInterval is the average spacing between consecutive packet arrivals
// within the group, used to estimate one-way dispersion.
func (g *Group) AvgPktInterval() time.Duration {
	if len(g.recvTimes) < 2 {
		return 0
	}
	span := g.LastRecvTime.Sub(g.FirstRecvTime)
	return span / time.Duration(len(g.recvTimes)-1)
}

// TimedOut reports whether the group's deadline has passed as of now,
// relative to its minimum constituent encode time.
func (g *Group) TimedOut(now time.Time, delayDDL time.Duration) bool {
	if g.EncodeTime.IsZero() {
		return false
	}
	return now.Sub(g.EncodeTime) > delayDDL
}
