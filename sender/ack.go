package sender

import (
	"time"

	"github.com/hkust-spark/sparkrtc/wire"
)

// onAck applies an AckPacket's entries to history. Because every entry in
// a decoded AckPacket carries the packet's single trailing LastPktID as its
// GlobalID (the wire format's documented quirk, reproduced faithfully in
// wire.UnmarshalAckPacket), a multi-entry ack can mark entries
// stateRcvdPrevData instead of evicting them outright whenever the
// recorded history globalID does not match that shared id - this is the
// ack-dedupe invariant carried over from the original decoder.
func (s *Sender) onAck(pkt *wire.AckPacket, now time.Time) {
	s.updateRxHighest(pkt.LastPktID)
	for _, entry := range pkt.Entries {
		e, ok := s.hist.getByKey(entry.GroupID, entry.PktIDInGroup)
		if !ok {
			continue
		}
		if e.globalID == entry.GlobalID {
			s.hist.remove(e)
			if wire.Uint16Less(s.curRxHighestDataGlobalID, e.dataGlobalID) {
				s.curRxHighestDataGlobalID = e.dataGlobalID
			}
		} else {
			e.state = stateRcvdPrevData
		}
	}
	s.hist.compact()
}

// updateRxHighest applies one AckPacket's shared global id, matching
// RcvACKPacket: the contiguous-ack frontier only advances while not already
// in recovery, and a gap against curRxHighestGlobalID flips isRecovery on.
func (s *Sender) updateRxHighest(globalID uint16) {
	if !s.haveRxHighest {
		s.haveRxHighest = true
		s.curRxHighestGlobalID = globalID
		s.curContRxHighestGlobalID = globalID
		return
	}
	if !s.isRecovery {
		s.curContRxHighestGlobalID = globalID
		if wire.Uint16Less(s.curRxHighestGlobalID+1, globalID) {
			s.isRecovery = true
		}
	}
	s.curRxHighestGlobalID = globalID
}

// onFrameAck purges every history entry belonging to every
// group of the acked frame, matching RcvFrameAckPacket.
func (s *Sender) onFrameAck(pkt *wire.FrameAckPacket, now time.Time) {
	groups, ok := s.frameToGroups[pkt.FrameID]
	if !ok {
		return
	}
	for gid := range groups {
		g := s.groups[gid]
		if g == nil {
			continue
		}
		for _, pktIDInGroup := range g.members {
			if e, ok := s.hist.getByKey(gid, pktIDInGroup); ok {
				s.hist.remove(e)
			}
		}
		delete(s.delayedRtx, gid)
	}
	s.hist.compact()
	delete(s.frameToGroups, pkt.FrameID)

	encodeTime := time.UnixMicro(int64(pkt.FrameEncodeUs))
	if now.Sub(encodeTime) <= s.cfg.DelayDDL+time.Millisecond {
		s.finishedFrames++
	} else {
		s.timeoutFrames++
	}
}

// onPLI handles the receiver's report that a group timed out unrecovered:
// there is nothing left worth retransmitting once the receiver has given up
// on it, so this only drops the group's bookkeeping and counts the event.
func (s *Sender) onPLI(pkt *wire.PLIPacket, now time.Time) {
	s.pliCount++
	if g, ok := s.groups[pkt.GroupID]; ok {
		for _, pktIDInGroup := range g.members {
			if e, ok := s.hist.getByKey(pkt.GroupID, pktIDInGroup); ok {
				s.hist.remove(e)
			}
		}
		s.hist.compact()
		delete(s.delayedRtx, pkt.GroupID)
	}
	s.log.WithField("group", pkt.GroupID).Warn("sender: received PLI, group unrecoverable at receiver")
}

// onNetState folds a receiver NetStatePacket into the live RTT/loss
// estimate.
func (s *Sender) onNetState(pkt *wire.NetStatePacket, now time.Time) {
	s.stats.CurBandwidthBps = float64(pkt.ThroughputKbps) * 1000 / 8
	s.stats.CurLossRate = pkt.LossRateFloat()
	s.stats.LossSeq = pkt.LossSeq
	s.stats.OneWayDispersion = time.Duration(pkt.FECGroupDelayUs) * time.Microsecond

	for _, sample := range pkt.RecvSamples {
		sentAt, ok := s.sentAtFor(uint16(sample.PktID))
		if !ok {
			continue
		}
		rtt := now.Sub(sentAt)
		if rtt > 0 {
			s.stats.UpdateRTTSample(rtt)
		}
	}
}

func (s *Sender) sentAtFor(globalID uint16) (time.Time, bool) {
	e, ok := s.hist.byID[globalID]
	if !ok || e.lastSendTime.IsZero() {
		return time.Time{}, false
	}
	return e.lastSendTime, true
}
