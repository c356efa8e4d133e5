// Package receiver implements the receive-side packet-group assembly, ack
// emission, frame-completion tracking and periodic network-state feedback.
package receiver

import (
	"time"

	"github.com/apex/log"
	"github.com/hkust-spark/sparkrtc/clock"
	"github.com/hkust-spark/sparkrtc/decoder"
	"github.com/hkust-spark/sparkrtc/wire"
)

// Config holds the receiver's fixed parameters.
type Config struct {
	// DelayDDL is the per-frame deadline used to time out incomplete
	// groups.
	DelayDDL time.Duration
	// FeedbackInterval is how often a NetStatePacket is emitted (16ms by
	// default, per the original's m_feedback_interval).
	FeedbackInterval time.Duration
	// RecvWindow bounds how far back the throughput/loss-rate feedback
	// window looks.
	RecvWindow time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DelayDDL:         200 * time.Millisecond,
		FeedbackInterval: 16 * time.Millisecond,
		RecvWindow:       500 * time.Millisecond,
	}
}

type recvRecord struct {
	globalID uint16
	at       time.Time
	size     int
}

// Receiver assembles incoming packets into groups and frames, emits acks
// and periodic net-state feedback. Its state is confined to the goroutine
// running Run; Deliver and Close are the only methods safe to call from
// other goroutines.
type Receiver struct {
	cfg    Config
	clk    clock.Clock
	log    log.Interface
	decode *decoder.Decoder

	incomplete map[uint32]*Group
	complete   map[uint32]struct{}
	timedOut   map[uint32]struct{}

	record         []recvRecord
	bytesInWindow  int
	lastFeedback   time.Time
	haveLastGlobal bool
	lastGlobalID   uint16

	sendPacket func(p interface{})

	oneWayDispersion time.Duration

	packetCh chan interface{}
	closeCh  chan struct{}
}

// New constructs a Receiver. sendPacket is invoked with *wire.AckPacket,
// *wire.FrameAckPacket, *wire.NetStatePacket or *wire.PLIPacket values to
// transmit.
func New(cfg Config, clk clock.Clock, logger log.Interface, sendPacket func(p interface{})) *Receiver {
	r := &Receiver{
		cfg:        cfg,
		clk:        clk,
		log:        logger,
		incomplete: make(map[uint32]*Group),
		complete:   make(map[uint32]struct{}),
		timedOut:   make(map[uint32]struct{}),
		sendPacket: sendPacket,
		packetCh:   make(chan interface{}, 256),
		closeCh:    make(chan struct{}),
	}
	r.decode = decoder.New(cfg.DelayDDL, r.onFrameComplete)
	return r
}

// Deliver hands the receiver an inbound packet from the network (a
// *wire.DataPacket or *wire.FECPacket). Safe to call from any goroutine.
func (r *Receiver) Deliver(p interface{}) { r.packetCh <- p }

// Close stops Run.
func (r *Receiver) Close() { close(r.closeCh) }

// Run drives the receiver's event loop: incoming packets are folded into
// group/frame state, and a FeedbackInterval-period ticker both sweeps
// timed-out groups and emits a NetStatePacket. All mutable state is
// confined to the goroutine running Run, matching the sender's model.
func (r *Receiver) Run() {
	ticker := r.clk.NewTicker(r.cfg.FeedbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.closeCh:
			return
		case p := <-r.packetCh:
			switch v := p.(type) {
			case *wire.DataPacket:
				r.OnDataPacket(v)
			case *wire.FECPacket:
				r.OnFECPacket(v)
			}
		case <-ticker.C():
			now := r.clk.Now()
			r.sweepTimeouts(now)
			r.EmitNetState(now)
		}
	}
}

func (r *Receiver) onFrameComplete(frameID uint32, encodeTime time.Time) {
	r.sendPacket(&wire.FrameAckPacket{
		FrameID:       frameID,
		FrameEncodeUs: uint64(encodeTime.UnixMicro()),
	})
}

func (r *Receiver) groupFor(groupID uint32, now time.Time) *Group {
	if _, done := r.complete[groupID]; done {
		return nil
	}
	if _, to := r.timedOut[groupID]; to {
		return nil
	}
	g, ok := r.incomplete[groupID]
	if !ok {
		g = NewGroup(groupID, now)
		r.incomplete[groupID] = g
	}
	return g
}

// OnDataPacket processes one received DATA packet: step 1-7 of the receive
// algorithm -- drop if its group is already resolved, fold it into group
// assembly, forward any newly-decodable digests to the decoder, ack it, and
// sweep every incomplete group for a deadline miss.
func (r *Receiver) OnDataPacket(pkt *wire.DataPacket) {
	now := r.clk.Now()
	encodeTime := time.UnixMilli(int64(pkt.Video.EncodeTimeMs))

	g := r.groupFor(pkt.Video.GroupID, now)
	r.recordArrival(pkt.Video.GlobalID, now, len(pkt.Payload))
	if g == nil {
		r.replyAck(nil, nil, pkt.Video.GlobalID)
		r.sweepTimeouts(now)
		return
	}
	if g.DataNum == 0 {
		g.DataNum = int(pkt.Video.GroupDataNum)
		g.FECNum = int(pkt.Video.GroupFECNum)
		g.IsRtx = pkt.Video.TxCount > 0
	}
	g.AddDigest(pkt.Video.PktIDInGroup, DataDigest{
		FrameID:      pkt.Data.FrameID,
		FramePktNum:  int(pkt.Data.FramePktNum),
		PktIDInFrame: pkt.Data.PktIDInFrame,
	})
	g.MarkReceived(pkt.Video.PktIDInGroup, now, encodeTime)

	decoded := r.finishReceive(g, now)
	r.replyAck(g, decoded, pkt.Video.GlobalID)
	r.sweepTimeouts(now)
}

// OnFECPacket processes one received FEC or DUP_FEC packet: it contributes
// to its group's recoverability count and registers the digests of every
// data packet it protects.
func (r *Receiver) OnFECPacket(pkt *wire.FECPacket) {
	now := r.clk.Now()
	encodeTime := time.UnixMilli(int64(pkt.Video.EncodeTimeMs))

	g := r.groupFor(pkt.Video.GroupID, now)
	r.recordArrival(pkt.Video.GlobalID, now, len(pkt.Payload))
	if g == nil {
		r.replyAck(nil, nil, pkt.Video.GlobalID)
		r.sweepTimeouts(now)
		return
	}
	if g.DataNum == 0 {
		g.DataNum = int(pkt.Video.GroupDataNum)
		g.FECNum = int(pkt.Video.GroupFECNum)
		g.IsRtx = pkt.Video.TxCount > 0
	}
	for _, d := range pkt.Digests {
		g.AddDigest(d.PktIDInGroup, DataDigest{
			FrameID:      d.FrameID,
			FramePktNum:  int(d.FramePktNum),
			PktIDInFrame: d.PktIDInFrame,
		})
	}
	if pkt.Video.PktIDInGroup == wire.RTXFECGroupID {
		g.MarkReceivedExtra(now, encodeTime)
	} else {
		g.MarkReceived(pkt.Video.PktIDInGroup, now, encodeTime)
	}

	decoded := r.finishReceive(g, now)
	r.replyAck(g, decoded, pkt.Video.GlobalID)
	r.sweepTimeouts(now)
}

// finishReceive hands every newly-decodable digest of g to the decoder once
// enough packets have arrived, and returns those digests so the caller can
// ack each one by its own (group, pkt-in-group) id, matching
// GameClient::ReplyACK which acks one GroupPacketInfo per decoded packet.
func (r *Receiver) finishReceive(g *Group, now time.Time) []DataDigest {
	if !g.CheckComplete() {
		return nil
	}
	decoded := g.UndecodedDigests()
	for _, d := range decoded {
		r.decode.DecodeDataPacket(d.FrameID, d.FramePktNum, d.PktIDInFrame, g.GroupID, g.EncodeTime, now)
	}
	delete(r.incomplete, g.GroupID)
	r.complete[g.GroupID] = struct{}{}
	if !g.IsRtx {
		if avg := g.AvgPktInterval(); avg > 0 {
			r.oneWayDispersion = avg
		}
	}
	return decoded
}

// replyAck emits an AckPacket with one entry per packet newly confirmed
// decoded in this event (possibly zero, if the group hasn't completed or
// the packet belonged to an already-resolved group), matching
// GameClient::ReplyACK's per-packet GroupPacketInfo construction.
func (r *Receiver) replyAck(g *Group, decoded []DataDigest, globalID uint16) {
	var entries []wire.AckEntry
	if g != nil {
		for _, d := range decoded {
			entries = append(entries, wire.AckEntry{GroupID: g.GroupID, PktIDInGroup: d.PktIDInGroup})
		}
	}
	r.sendPacket(&wire.AckPacket{Entries: entries, LastPktID: globalID})
}

func (r *Receiver) sweepTimeouts(now time.Time) {
	for id, g := range r.incomplete {
		if g.TimedOut(now, r.cfg.DelayDDL) {
			delete(r.incomplete, id)
			r.timedOut[id] = struct{}{}
			r.log.WithField("group", id).Debug("group timed out before completion")
			r.sendPacket(&wire.PLIPacket{GroupID: id})
		}
	}
}

func (r *Receiver) recordArrival(globalID uint16, at time.Time, size int) {
	r.record = append(r.record, recvRecord{globalID: globalID, at: at, size: size})
	r.bytesInWindow += size
	cutoff := at.Add(-r.cfg.RecvWindow)
	i := 0
	for i < len(r.record) && r.record[i].at.Before(cutoff) {
		r.bytesInWindow -= r.record[i].size
		i++
	}
	if i > 0 {
		r.record = r.record[i:]
	}
}

// OneWayDispersion returns the most recent one-way dispersion estimate,
// derived only from first-transmission (non-rtx) groups.
func (r *Receiver) OneWayDispersion() time.Duration { return r.oneWayDispersion }

// Decoder exposes the underlying frame-completion tracker for statistics.
func (r *Receiver) Decoder() *decoder.Decoder { return r.decode }

// EmitNetState computes and sends one NetStatePacket covering the receive
// window as of now, and advances the feedback cursor. Call this from a
// FeedbackInterval-period ticker.
func (r *Receiver) EmitNetState(now time.Time) {
	if len(r.record) == 0 {
		r.lastFeedback = now
		return
	}
	first := r.record[0]
	last := r.record[len(r.record)-1]

	pktsInWindow := wrapSpan(first.globalID, last.globalID) + 1

	throughputKbps := 0.0
	if r.cfg.RecvWindow > 0 {
		throughputKbps = float64(r.bytesInWindow) / r.cfg.RecvWindow.Seconds() * 8 / 1000
	}

	lossSeq := buildLossSeq(r.record)
	losses := 0
	for _, run := range lossSeq {
		if !run.Received {
			losses += int(run.Count)
		}
	}
	lossRate := 0.0
	if pktsInWindow >= 1 {
		lossRate = float64(losses) / float64(pktsInWindow)
	}

	var samples []wire.RecvSample
	for _, rec := range r.record {
		if !r.haveLastGlobal || rec.at.After(r.lastFeedback) {
			samples = append(samples, wire.RecvSample{
				PktID:    uint32(rec.globalID),
				RecvTime: uint32(rec.at.UnixMicro()),
			})
		}
	}

	p := &wire.NetStatePacket{
		ThroughputKbps:  uint32(throughputKbps),
		FECGroupDelayUs: uint16(r.oneWayDispersion.Microseconds()),
		LossSeq:         lossSeq,
		RecvSamples:     samples,
	}
	p.EncodeLossRate(lossRate)
	r.sendPacket(p)

	r.lastFeedback = now
	r.haveLastGlobal = true
	r.lastGlobalID = last.globalID
}

func wrapSpan(from, to uint16) int {
	return int((uint32(to) - uint32(from) + 65536) % 65536)
}

// buildLossSeq run-length encodes the received-id sequence into positive
// (received) and negative (lost, recorded with Received=false) runs,
// matching the original Feedback_NetState loss_seq construction.
func buildLossSeq(records []recvRecord) []wire.LossRun {
	if len(records) == 0 {
		return nil
	}
	var out []wire.LossRun
	runLen := uint16(1)
	prev := records[0].globalID
	for i := 1; i < len(records); i++ {
		cur := records[i].globalID
		gap := wrapSpan(prev, cur)
		if gap == 1 {
			runLen++
		} else {
			out = append(out, wire.LossRun{Received: true, Count: runLen})
			if gap > 1 {
				out = append(out, wire.LossRun{Received: false, Count: uint16(gap - 1)})
			}
			runLen = 1
		}
		prev = cur
	}
	out = append(out, wire.LossRun{Received: true, Count: runLen})
	return out
}
