package sender

import (
	"math"
	"time"

	"github.com/hkust-spark/sparkrtc/wire"
)

func (s *Sender) onSendFrame(f Frame, now time.Time) {
	s.updateQuotaAndBitrate()
	s.lossEstimator.SendUpdate(now, len(f.Packets))

	ddlLeft := f.DelayDDL - time.Duration(len(f.Packets))*s.stats.OneWayDispersion
	if ddlLeft < 0 {
		ddlLeft = 0
	}
	s.sendPackets(f.FrameID, f.EncodeTime, f.Packets, false, f.DelayDDL, ddlLeft, now)
}

// sendPackets splits payloads into groups, asking the FEC policy for each
// group's size and rate, and enqueues every resulting data/FEC packet onto
// the pacing queue.
func (s *Sender) sendPackets(frameID uint32, encodeTime time.Time, payloads [][]byte, isRtx bool,
	ddl, ddlLeft time.Duration, now time.Time) {
	i := 0
	pktIDInFrame := uint16(0)
	for i < len(payloads) {
		remaining := payloads[i:]
		fix := 0
		if len(remaining) <= s.cfg.MaxGroupSize {
			fix = len(remaining)
		}
		param := s.policy.Decide(&s.stats, s.cfg.BitrateBps, ddl, ddlLeft, isRtx, len(remaining), s.cfg.MaxGroupSize, fix)
		groupSize := param.GroupSize
		if groupSize <= 0 {
			groupSize = 1
		}
		if groupSize > len(remaining) {
			groupSize = len(remaining)
		}
		chunk := remaining[:groupSize]
		s.createGroupBatch(frameID, encodeTime, len(payloads), chunk, i, pktIDInFrame, param.FECRate, isRtx, now)
		i += groupSize
		pktIDInFrame += uint16(groupSize)
	}
}

func (s *Sender) nextGlobal() uint16 {
	id := s.nextGlobalID
	s.nextGlobalID++
	return id
}

// nextDataGlobal mirrors PacketSender::m_dataGlobalId: a counter advanced
// only for DATA packets, never FEC, used purely for the sender's own
// outstanding-packet hole detection - it never reaches the wire.
func (s *Sender) nextDataGlobal() uint16 {
	id := s.nextDataGlobalID
	s.nextDataGlobalID++
	return id
}

// createGroupBatch assembles one FEC group's data packets, computes the
// FEC count clamped by the admission quota, builds the FEC digest packet,
// registers history/group bookkeeping, and enqueues everything for pacing.
func (s *Sender) createGroupBatch(frameID uint32, encodeTime time.Time, framePktNum int,
	payloads [][]byte, startIdxInFrame int, startPktIDInFrame uint16, fecRate float64, isRtx bool, now time.Time) {

	groupID := s.nextGroupID
	s.nextGroupID++
	batchID := s.nextBatchID
	s.nextBatchID++

	groupDataNum := uint16(len(payloads))

	maxFEC := math.MaxUint16
	if s.cfg.CCAEnable {
		m := s.ccaQuotaPkt
		if m < 1 {
			m = 1
		}
		maxFEC = m
	}
	fecCount := int(math.Round(float64(len(payloads)) * fecRate))
	if fecCount > maxFEC {
		fecCount = maxFEC
	}
	if fecCount > len(payloads) && len(payloads) > 0 {
		fecCount = len(payloads)
	}

	g := &group{groupID: groupID, dataNum: len(payloads), fecNum: fecCount, frameID: frameID, isRtx: isRtx}
	s.groups[groupID] = g
	if s.frameToGroups[frameID] == nil {
		s.frameToGroups[frameID] = make(map[uint32]struct{})
	}
	s.frameToGroups[frameID][groupID] = struct{}{}

	var digests []wire.FECDigest
	for i, payload := range payloads {
		pktIDInGroup := uint16(i)
		globalID := s.nextGlobal()
		dp := &wire.DataPacket{
			Video: wire.VideoHeader{
				EncodeTimeMs: uint64(encodeTime.UnixMilli()), GlobalID: globalID, GroupID: groupID,
				GroupDataNum: groupDataNum, GroupFECNum: uint16(fecCount), PktIDInGroup: pktIDInGroup,
				BatchID: batchID, BatchDataNum: groupDataNum, BatchFECNum: uint16(fecCount),
				PktIDInBatch: pktIDInGroup, TxCount: 0,
			},
			Data: wire.DataHeader{
				FrameID: frameID, FramePktNum: uint16(framePktNum),
				PktIDInFrame: startPktIDInFrame + uint16(i),
			},
			Payload: payload,
		}
		g.members = append(g.members, pktIDInGroup)
		s.hist.insert(&historyEntry{
			globalID: globalID, dataGlobalID: s.nextDataGlobal(), groupID: groupID, pktIDInGroup: pktIDInGroup, frameID: frameID,
			packet: dp, encodeTime: encodeTime, enqueueTime: now,
		})
		s.enqueuePaced(dp, isRtx)
		digests = append(digests, wire.FECDigest{
			PktIDInBatch: pktIDInGroup, PktIDInGroup: pktIDInGroup,
			FrameID: frameID, FramePktNum: uint16(framePktNum), PktIDInFrame: startPktIDInFrame + uint16(i),
		})
	}

	for k := 0; k < fecCount; k++ {
		fp := &wire.FECPacket{
			Video: wire.VideoHeader{
				EncodeTimeMs: uint64(encodeTime.UnixMilli()), GlobalID: s.nextGlobal(), GroupID: groupID,
				GroupDataNum: groupDataNum, GroupFECNum: uint16(fecCount), PktIDInGroup: groupDataNum + uint16(k),
				BatchID: batchID, BatchDataNum: groupDataNum, BatchFECNum: uint16(fecCount),
				PktIDInBatch: groupDataNum + uint16(k), TxCount: 0,
			},
			Digests: digests,
			IsDup:   isRtx,
		}
		s.enqueuePaced(fp, isRtx)
	}

	s.lossEstimator.SendUpdate(now, len(payloads))
}

// createRTXGroupBatch re-sends a group's still-outstanding data packets
// under their original group_id/pkt_id_in_group/group_data_num, matching
// GameServer::CreateRTXPacketBatch's new_group=false path - unlike
// createGroupBatch, which mints a fresh group for a first transmission,
// retransmission must stay inside the group the receiver already knows
// about. The FEC packet protecting the batch carries the RTXFECGroupID
// sentinel instead of a real slot index, since it no longer occupies one
// of the group's original data slots.
func (s *Sender) createRTXGroupBatch(groupID uint32, g *group, frameID uint32, encodeTime time.Time,
	entries []*historyEntry, fecRate float64, now time.Time) {

	batchID := s.nextBatchID
	s.nextBatchID++

	groupDataNum := uint16(g.dataNum)

	maxFEC := math.MaxUint16
	if s.cfg.CCAEnable {
		m := s.ccaQuotaPkt
		if m < 1 {
			m = 1
		}
		maxFEC = m
	}
	fecCount := int(math.Round(float64(len(entries)) * fecRate))
	if fecCount > maxFEC {
		fecCount = maxFEC
	}
	if fecCount > len(entries) && len(entries) > 0 {
		fecCount = len(entries)
	}
	g.fecNum = fecCount

	var digests []wire.FECDigest
	for i, e := range entries {
		globalID := s.nextGlobal()
		dataGlobalID := s.nextDataGlobal()
		dp := &wire.DataPacket{
			Video: wire.VideoHeader{
				EncodeTimeMs: uint64(encodeTime.UnixMilli()), GlobalID: globalID, GroupID: groupID,
				GroupDataNum: groupDataNum, GroupFECNum: uint16(fecCount), PktIDInGroup: e.pktIDInGroup,
				BatchID: batchID, BatchDataNum: uint16(len(entries)), BatchFECNum: uint16(fecCount),
				PktIDInBatch: uint16(i), TxCount: uint8(e.txCount),
			},
			Data:    e.packet.Data,
			Payload: e.packet.Payload,
		}
		s.hist.remove(e)
		s.hist.insert(&historyEntry{
			globalID: globalID, dataGlobalID: dataGlobalID, groupID: groupID, pktIDInGroup: e.pktIDInGroup,
			frameID: frameID, packet: dp, encodeTime: encodeTime, enqueueTime: now, txCount: e.txCount,
		})
		s.enqueuePaced(dp, true)
		digests = append(digests, wire.FECDigest{
			PktIDInBatch: uint16(i), PktIDInGroup: e.pktIDInGroup,
			FrameID: frameID, FramePktNum: dp.Data.FramePktNum, PktIDInFrame: dp.Data.PktIDInFrame,
		})
	}

	for k := 0; k < fecCount; k++ {
		fp := &wire.FECPacket{
			Video: wire.VideoHeader{
				EncodeTimeMs: uint64(encodeTime.UnixMilli()), GlobalID: s.nextGlobal(), GroupID: groupID,
				GroupDataNum: groupDataNum, GroupFECNum: uint16(fecCount), PktIDInGroup: wire.RTXFECGroupID,
				BatchID: batchID, BatchDataNum: uint16(len(entries)), BatchFECNum: uint16(fecCount),
				PktIDInBatch: uint16(len(entries) + k), TxCount: 0,
			},
			Digests: digests,
			IsDup:   true,
		}
		s.enqueuePaced(fp, true)
	}

	s.lossEstimator.SendUpdate(now, len(entries))
}
