package fecpolicy

import (
	"bytes"
	"testing"
	"time"

	"github.com/hkust-spark/sparkrtc/netstate"
	"github.com/stretchr/testify/require"
)

// buildArray writes n raw uint8 entries, each equal to fn(i), one byte per
// cell - the same layout NewHairpin expects to read back.
func buildArray(n int, fn func(i int) byte) *bytes.Buffer {
	buf := new(bytes.Buffer)
	for i := 0; i < n; i++ {
		buf.WriteByte(fn(i))
	}
	return buf
}

func TestNewHairpinRejectsShortTables(t *testing.T) {
	beta := buildArray(10, func(i int) byte { return 0 })
	block := buildArray(BlockArrayLen, func(i int) byte { return 0 })
	_, err := NewHairpin(beta, block)
	require.Error(t, err)
}

func TestNewHairpinLoadsExactSizedTables(t *testing.T) {
	beta := buildArray(BetaArrayLen, func(i int) byte { return byte(i % 5) })
	block := buildArray(BlockArrayLen, func(i int) byte { return 16 })
	h, err := NewHairpin(beta, block)
	require.NoError(t, err)
	require.Len(t, h.beta, BetaArrayLen)
	require.Len(t, h.block, BlockArrayLen)
}

func TestHairpinGetFecCntIndexesWithinBounds(t *testing.T) {
	beta := buildArray(BetaArrayLen, func(i int) byte { return 3 })
	block := buildArray(BlockArrayLen, func(i int) byte { return 20 })
	h, err := NewHairpin(beta, block)
	require.NoError(t, err)

	cnt := h.GetFecCnt(0.1, 12, 50*time.Millisecond, 20*time.Millisecond, 10)
	require.Equal(t, 3, cnt)
}

func TestHairpinGetBlockSizeIndexesWithinBounds(t *testing.T) {
	beta := buildArray(BetaArrayLen, func(i int) byte { return 0 })
	block := buildArray(BlockArrayLen, func(i int) byte { return 24 })
	h, err := NewHairpin(beta, block)
	require.NoError(t, err)

	bs := h.GetBlockSize(0.05, 20, 100*time.Millisecond, 30*time.Millisecond, 0.1)
	require.Equal(t, 24, bs)
}

func TestHairpinDecideUsesClampedDeadline(t *testing.T) {
	beta := buildArray(BetaArrayLen, func(i int) byte { return 2 })
	block := buildArray(BlockArrayLen, func(i int) byte { return 10 })
	h, err := NewHairpin(beta, block)
	require.NoError(t, err)

	stats := &netstate.NetStat{SRTT: 30 * time.Millisecond, RTTVar: 5 * time.Millisecond, CurLossRate: 0.05}
	p := h.Decide(stats, 2_000_000, 100*time.Millisecond, 10*time.Millisecond, false, 10, 50, 0)
	require.Greater(t, p.GroupSize, 0)
	require.GreaterOrEqual(t, p.FECRate, 0.0)
}
