package sender

// history is the sender's record of outstanding (unacked) data packets: an
// ordered sequence (oldest first, for the forward/backward sweeps of
// checkRetransmission) plus a secondary index by (group, pkt-in-group) for
// O(1) ack lookup.
type history struct {
	order []uint16 // global ids, oldest first
	byID  map[uint16]*historyEntry
	byKey map[[2]uint64]*historyEntry
}

func newHistory() *history {
	return &history{
		byID:  make(map[uint16]*historyEntry),
		byKey: make(map[[2]uint64]*historyEntry),
	}
}

func (h *history) insert(e *historyEntry) {
	h.order = append(h.order, e.globalID)
	h.byID[e.globalID] = e
	h.byKey[historyKey(e.groupID, e.pktIDInGroup)] = e
}

func (h *history) getByKey(groupID uint32, pktIDInGroup uint16) (*historyEntry, bool) {
	e, ok := h.byKey[historyKey(groupID, pktIDInGroup)]
	return e, ok
}

func (h *history) remove(e *historyEntry) {
	delete(h.byID, e.globalID)
	delete(h.byKey, historyKey(e.groupID, e.pktIDInGroup))
}

// compact drops from order every id whose entry has already been evicted
// from the maps.
func (h *history) compact() {
	kept := h.order[:0]
	for _, id := range h.order {
		if _, ok := h.byID[id]; ok {
			kept = append(kept, id)
		}
	}
	h.order = kept
}

func (h *history) len() int { return len(h.byID) }

func (h *history) front() (*historyEntry, bool) {
	for _, id := range h.order {
		if e, ok := h.byID[id]; ok {
			return e, true
		}
	}
	return nil, false
}
