package sender

import (
	"time"

	"github.com/hkust-spark/sparkrtc/wire"
)

// dispersion returns the scheduling slack added on top of the RTO before a
// group is considered overdue: min(groupSize*oneWayDispersion + 500us,
// frameInterval), matching GetDispersion.
func (s *Sender) dispersion(groupSize int) time.Duration {
	d := time.Duration(groupSize)*s.stats.OneWayDispersion + 500*time.Microsecond
	frameInterval := time.Second
	if s.cfg.FPS > 0 {
		frameInterval = time.Duration(float64(time.Second) / s.cfg.FPS)
	}
	if d > frameInterval {
		return frameInterval
	}
	return d
}

// missesDDL reports whether a data packet's frame deadline has already
// passed, crediting half the measured min RTT the way MissesDdl does.
func (s *Sender) missesDDL(e *historyEntry, now time.Time) bool {
	return now.Sub(e.encodeTime)+s.stats.MinRTT/2 > s.cfg.DelayDDL
}

// isRtxTimeout reports whether a data packet is overdue for retransmission:
// dup-ack/PTO timeout plus per-group dispersion slack.
func (s *Sender) isRtxTimeout(e *historyEntry, g *group, now time.Time) bool {
	rto := s.stats.RTO()
	if s.cfg.RetryTightRTO && e.txCount > 1 {
		rto = s.stats.TightRTO()
	}
	groupSize := 1
	if g != nil {
		groupSize = g.dataNum
	}
	rto += s.dispersion(groupSize)
	return now.After(e.enqueueTime) && now.Sub(e.lastSendTime) > rto
}

// checkRetransmission runs the two-sweep loss-detection pass: a forward
// sweep drops history entries that are stale or superseded, then a
// backward sweep runs the two-mode hole check (primary: a gap in the
// data_global_id sequence, always on; secondary: a gap in the global_id
// sequence, gated by isRecovery so it only fires once per recovery episode)
// scheduling delayed retransmission for the groups behind any hole found,
// and flags individually-overdue packets for immediate retransmission.
func (s *Sender) checkRetransmission(now time.Time) {
	for {
		e, ok := s.hist.front()
		if !ok {
			break
		}
		drop := e.state == stateRcvdPrevData || s.missesDDL(e, now)
		if !drop {
			break
		}
		s.hist.remove(e)
	}
	s.hist.compact()

	rtxGroups := make(map[uint32]bool)

	// Delayed-rtx entries whose dispersion window has elapsed fire before
	// the backward sweep, so the sweep's "already retransmitting this
	// round" skip sees them - matching CheckRetransmission's ordering.
	for gid, due := range s.delayedRtx {
		if due.Before(now) {
			rtxGroups[gid] = true
			delete(s.delayedRtx, gid)
		}
	}

	// Reproduced as-is: if history is empty at this point, any delayed-rtx
	// groups collected above are dropped without being retransmitted,
	// matching CheckRetransmission's early return.
	if len(s.hist.order) == 0 {
		return
	}

	hasHole := false
	lastDataGlobalID := s.curRxHighestDataGlobalID

	for i := len(s.hist.order) - 1; i >= 0; i-- {
		e, ok := s.hist.byID[s.hist.order[i]]
		if !ok {
			continue
		}

		if e.state == stateRcvdPrevData {
			lastDataGlobalID = e.dataGlobalID
			continue
		}

		g := s.groups[e.groupID]

		if now.Sub(e.encodeTime) < s.stats.MinRTT || rtxGroups[e.groupID] {
			lastDataGlobalID = e.dataGlobalID
			continue
		}

		if !hasHole {
			if wire.Uint16Less(e.dataGlobalID+1, lastDataGlobalID) {
				hasHole = true
			} else if s.isRecovery && wire.Uint16Less(e.globalID, s.curContRxHighestGlobalID) {
				hasHole = true
			}
		}
		if hasHole {
			s.isRecovery = false // a hole has been found; keep sweeping for the next one
			due := now.Add(s.dispersion(groupSizeOf(g)))
			if cur, ok := s.delayedRtx[e.groupID]; !ok || due.Before(cur) {
				s.delayedRtx[e.groupID] = due
			}
		}

		if s.isRtxTimeout(e, g, now) {
			rtxGroups[e.groupID] = true
		}

		lastDataGlobalID = e.dataGlobalID
	}

	for gid := range rtxGroups {
		delete(s.delayedRtx, gid)
		s.retransmitGroup(gid, now)
	}
}

func groupSizeOf(g *group) int {
	if g == nil {
		return 1
	}
	return g.dataNum
}

// retransmitGroup re-sends every still-unacked data packet of a group as an
// RTX batch that keeps the group's original group_id, inserted at the
// front of the pacing queue, matching CreateRTXPacketBatch's new_group=false
// behavior: a retransmission never mints a new group, it just resends the
// one the receiver is already assembling.
func (s *Sender) retransmitGroup(groupID uint32, now time.Time) {
	g, ok := s.groups[groupID]
	if !ok {
		return
	}
	var entries []*historyEntry
	for _, pktIDInGroup := range g.members {
		e, ok := s.hist.getByKey(groupID, pktIDInGroup)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		e.txCount++
	}
	s.lossEstimator.RtxUpdate(now, len(entries))

	frameID := g.frameID
	encodeTime := entries[0].encodeTime
	ddlLeft := s.cfg.DelayDDL - now.Sub(encodeTime)
	if ddlLeft < 0 {
		ddlLeft = 0
	}
	param := s.policy.Decide(&s.stats, s.cfg.BitrateBps, s.cfg.DelayDDL, ddlLeft, true,
		len(entries), s.cfg.MaxGroupSize, len(entries))
	s.createRTXGroupBatch(groupID, g, frameID, encodeTime, entries, param.FECRate, now)
}
