package fecpolicy

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
)

// Hairpin quantization steps, ported from hairpin-policy.cc.
const (
	hairpinLossStep       = 0.01
	hairpinLossSteps      = 51 // [0, 0.5] inclusive, step 0.01
	hairpinFrameSizeStep  = 5
	hairpinFrameSizeSteps = 11 // [5, 55] inclusive, step 5
	hairpinLayerSteps     = 15 // [1, 15] inclusive
	hairpinPacketSteps    = 55 // [1, 55] inclusive

	blockLossSteps      = 51
	blockFrameSizeSteps  = 11
	blockDDLStep        = 20
	blockDDLSteps       = 7  // [20,140] inclusive, step 20
	blockRTTStep        = 2
	blockRTTSteps       = 36 // [10,80] inclusive, step 2
	blockRDispStep      = 0.02
	blockRDispSteps     = 51 // [0,1] inclusive, step 0.02
)

// BetaArrayLen is the documented size of the beta (FEC-count) table.
const BetaArrayLen = hairpinLossSteps * hairpinFrameSizeSteps * hairpinLayerSteps * hairpinPacketSteps

// BlockArrayLen is the documented size of the block-size table.
const BlockArrayLen = blockLossSteps * blockFrameSizeSteps * blockDDLSteps * blockRTTSteps * blockRDispSteps

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Hairpin is the table-driven policy from hairpin-policy.cc: the FEC count
// and block size are looked up from two precomputed arrays quantized over
// (loss, frame size, deadline/rtt derived "layer", packet count) and
// (loss, frame size, deadline, rtt, dispersion) respectively.
//
// The real precomputed arrays are an external asset not shipped with this
// repository (see DESIGN.md); NewHairpin loads them from an io.Reader and
// validates their length against BetaArrayLen/BlockArrayLen.
type Hairpin struct {
	beta  []byte // fec count, length BetaArrayLen
	block []byte // block size, length BlockArrayLen

	// DelayDDLZero, when true, selects "hairpinone" behavior: the layer index
	// is pinned to 0 instead of derived from remaining-time/rtt.
	DelayDDLZero bool
	// UseBlockSizeOpt enables the block-size lookup branch; when false,
	// GroupSize always equals the packet count passed in.
	UseBlockSizeOpt bool
}

// NewHairpin loads the beta and block arrays from the given readers. Each
// reader must yield exactly the documented number of raw uint8 entries
// (BetaArrayLen / BlockArrayLen bytes, one byte per table cell); a short or
// malformed file is a fatal configuration error, matching the original's
// fail-fast ifstream load of a uint8_t[k_betaArraySize]/uint8_t[k_blockArraySize].
func NewHairpin(beta, block io.Reader) (*Hairpin, error) {
	b, err := readByteArray(beta, BetaArrayLen)
	if err != nil {
		return nil, fmt.Errorf("fecpolicy: loading hairpin beta table: %w", err)
	}
	k, err := readByteArray(block, BlockArrayLen)
	if err != nil {
		return nil, fmt.Errorf("fecpolicy: loading hairpin block table: %w", err)
	}
	return &Hairpin{beta: b, block: k}, nil
}

func readByteArray(r io.Reader, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", n, err)
	}
	return out, nil
}

func (h *Hairpin) betaIndex(lossIdx, frameSizeIdx, layerIdx, packetIdx int) int {
	return lossIdx*(hairpinFrameSizeSteps*hairpinLayerSteps*hairpinPacketSteps) +
		frameSizeIdx*(hairpinLayerSteps*hairpinPacketSteps) +
		layerIdx*hairpinPacketSteps +
		packetIdx
}

func (h *Hairpin) blockIndex(lossIdx, frameSizeIdx, ddlIdx, rttIdx, rdispIdx int) int {
	return lossIdx*(blockFrameSizeSteps*blockDDLSteps*blockRTTSteps*blockRDispSteps) +
		frameSizeIdx*(blockDDLSteps*blockRTTSteps*blockRDispSteps) +
		ddlIdx*(blockRTTSteps*blockRDispSteps) +
		rttIdx*blockRDispSteps +
		rdispIdx
}

// GetFecCnt looks up the FEC packet count for the given quantized inputs.
func (h *Hairpin) GetFecCnt(loss float64, frameSize int, remainingTime, rtt time.Duration, packets int) int {
	loss = clampFloat(loss, 0, 0.5)
	lossIdx := int(math.Round(loss / hairpinLossStep))

	fsClamped := clampInt(int(math.Ceil(float64(frameSize)/hairpinFrameSizeStep))*hairpinFrameSizeStep, 5, 55)
	fsIdx := (fsClamped - 5) / hairpinFrameSizeStep

	var layer int
	if h.DelayDDLZero {
		layer = 0
	} else {
		l := 1
		if rtt > 0 {
			l = int(remainingTime / rtt)
		}
		layer = clampInt(l, 1, 15) - 1
	}

	pktClamped := clampInt(packets, 1, 55)
	pktIdx := pktClamped - 1

	idx := h.betaIndex(lossIdx, fsIdx, layer, pktIdx)
	if idx < 0 || idx >= len(h.beta) {
		return 0
	}
	return int(h.beta[idx])
}

// GetBlockSize looks up the block (group) size for the given quantized
// inputs.
func (h *Hairpin) GetBlockSize(loss float64, frameSize int, ddl, rtt time.Duration, rdisp float64) int {
	loss = clampFloat(loss, 0, 0.5)
	lossIdx := int(math.Round(loss / hairpinLossStep))

	fsClamped := clampInt(int(math.Ceil(float64(frameSize)/hairpinFrameSizeStep))*hairpinFrameSizeStep, 5, 55)
	fsIdx := (fsClamped - 5) / hairpinFrameSizeStep

	ddlMs := clampInt(int(ddl/time.Millisecond), blockDDLStep, 140)
	ddlIdx := (ddlMs - blockDDLStep) / blockDDLStep

	rttMs := clampInt(int(rtt/time.Millisecond), 10, 80)
	rttIdx := (rttMs - 10) / blockRTTStep

	rdispClamped := clampFloat(rdisp, 0, 1)
	rdispIdx := int(math.Round(rdispClamped / blockRDispStep))

	idx := h.blockIndex(lossIdx, fsIdx, ddlIdx, rttIdx, rdispIdx)
	if idx < 0 || idx >= len(h.block) {
		return 0
	}
	return int(h.block[idx])
}

func (h *Hairpin) Decide(stats *netstate.NetStat, bitrateBps float64, ddl, ddlLeft time.Duration,
	isRtx bool, frameSize, maxGroupSize, fixGroupSize int) Param {
	rtt := stats.SRTT + stats.RTTVar
	if rtt < 0 {
		rtt = 0
	}
	left := ddlLeft - rtt
	if left < 0 {
		left = 0
	}

	groupSize := pickGroupSize(frameSize, maxGroupSize, fixGroupSize)
	if h.UseBlockSizeOpt {
		bs := h.GetBlockSize(stats.CurLossRate, frameSize, ddl, rtt, float64(stats.RTDispersion)/float64(time.Second))
		if bs > 0 {
			groupSize = bs
		}
	}

	fecCnt := h.GetFecCnt(stats.CurLossRate, frameSize, left, rtt, groupSize)
	rate := 0.0
	if groupSize > 0 {
		rate = float64(fecCnt) / float64(groupSize)
	}
	return Param{GroupSize: groupSize, FECRate: rate}
}
