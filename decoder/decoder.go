// Package decoder tracks frame completion and deadline-miss accounting on
// the receive side, decoupled from the packet-group assembly that feeds it.
package decoder

import "time"

// Frame accumulates the data packets of one video frame as they are
// decoded out of their packet groups.
type Frame struct {
	FrameID        uint32
	DataPktNum     int
	EncodeTime     time.Time
	FirstRecvTime  time.Time
	LastRecvTime   time.Time
	groupIDs       map[uint32]struct{}
	seenInFrame    map[uint16]struct{}
}

func newFrame(id uint32, dataPktNum int) *Frame {
	return &Frame{
		FrameID:     id,
		DataPktNum:  dataPktNum,
		groupIDs:    make(map[uint32]struct{}),
		seenInFrame: make(map[uint16]struct{}),
	}
}

// Complete reports whether every data packet of the frame has been decoded.
func (f *Frame) Complete() bool {
	return len(f.seenInFrame) >= f.DataPktNum
}

// Delay is the elapsed time between the frame's (minimum) encode time and
// the receive time of its last constituent packet.
func (f *Frame) Delay() time.Duration {
	return f.LastRecvTime.Sub(f.EncodeTime)
}

// Decoder is the receive-side facade that turns individually-decoded data
// packets into completed frames and tracks deadline-miss statistics.
type Decoder struct {
	unplayed map[uint32]*Frame
	played   map[uint32]*Frame

	minFrameID uint32
	maxFrameID uint32
	haveAny    bool

	delayDDL   time.Duration
	lateCount  int // played frames whose Delay() exceeded delayDDL

	onFrameComplete func(frameID uint32, encodeTime time.Time)
}

// New returns an empty Decoder. delayDDL is the per-frame delay deadline
// DeadlineMissRate checks played frames against. onFrameComplete, if
// non-nil, is invoked the moment a frame becomes complete, to drive a
// FrameAck reply.
func New(delayDDL time.Duration, onFrameComplete func(frameID uint32, encodeTime time.Time)) *Decoder {
	return &Decoder{
		unplayed:        make(map[uint32]*Frame),
		played:          make(map[uint32]*Frame),
		delayDDL:        delayDDL,
		onFrameComplete: onFrameComplete,
	}
}

// DecodeDataPacket feeds one decoded data packet into its frame.
// frameID/framePktNum/pktIDInFrame identify it; encodeTime and recvTime are
// the packet's send- and receive-side timestamps.
func (d *Decoder) DecodeDataPacket(frameID uint32, framePktNum int, pktIDInFrame uint16,
	groupID uint32, encodeTime, recvTime time.Time) {
	if _, played := d.played[frameID]; played {
		return
	}

	if !d.haveAny {
		d.minFrameID, d.maxFrameID = frameID, frameID
		d.haveAny = true
	} else {
		if frameID < d.minFrameID {
			d.minFrameID = frameID
		}
		if frameID > d.maxFrameID {
			d.maxFrameID = frameID
		}
	}

	f, ok := d.unplayed[frameID]
	if !ok {
		f = newFrame(frameID, framePktNum)
		f.EncodeTime = encodeTime
		f.FirstRecvTime = recvTime
		d.unplayed[frameID] = f
	}
	if encodeTime.Before(f.EncodeTime) {
		f.EncodeTime = encodeTime
	}
	f.groupIDs[groupID] = struct{}{}
	f.seenInFrame[pktIDInFrame] = struct{}{}
	if recvTime.After(f.LastRecvTime) {
		f.LastRecvTime = recvTime
	}

	if f.Complete() {
		delete(d.unplayed, frameID)
		d.played[frameID] = f
		if d.delayDDL > 0 && f.Delay() > d.delayDDL {
			d.lateCount++
		}
		if d.onFrameComplete != nil {
			d.onFrameComplete(frameID, f.EncodeTime)
		}
	}
}

// DeadlineMissRate is the true per-frame deadline-miss ratio: a frame
// counts as missed if it was never completed, or if it completed after its
// Delay() exceeded delayDDL (the original's commented-out
// "missddl? frame_delay > delay_ddl" check in VideoDecoder::Insert),
// divided by the total number of frame ids observed so far.
func (d *Decoder) DeadlineMissRate() float64 {
	if !d.haveAny {
		return 0
	}
	total := float64(d.maxFrameID-d.minFrameID) + 1
	neverPlayed := total - float64(len(d.played))
	missed := neverPlayed + float64(d.lateCount)
	return missed / total
}

// PopulationMissRatio is (frame_total - played) / frame_total over the
// frame ids observed so far, matching VideoDecoder::GetDDLMissRate exactly
// - a looser accounting than DeadlineMissRate since it does not count a
// late-but-completed frame as missed.
func (d *Decoder) PopulationMissRatio() float64 {
	if !d.haveAny {
		return 0
	}
	total := float64(d.maxFrameID-d.minFrameID) + 1
	return (total - float64(len(d.played))) / total
}

// PlayedFrames returns the number of frames fully decoded so far.
func (d *Decoder) PlayedFrames() int {
	return len(d.played)
}

// Frame returns the played frame with the given id, if any.
func (d *Decoder) Frame(frameID uint32) (*Frame, bool) {
	f, ok := d.played[frameID]
	return f, ok
}
