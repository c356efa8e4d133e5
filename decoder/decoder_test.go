package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeDataPacketCompletesFrame(t *testing.T) {
	var completed []uint32
	d := New(0, func(frameID uint32, encodeTime time.Time) {
		completed = append(completed, frameID)
	})
	base := time.Unix(0, 0)
	d.DecodeDataPacket(1, 2, 0, 10, base, base.Add(5*time.Millisecond))
	require.Empty(t, completed)
	d.DecodeDataPacket(1, 2, 1, 10, base, base.Add(7*time.Millisecond))
	require.Equal(t, []uint32{1}, completed)
	require.Equal(t, 1, d.PlayedFrames())
}

func TestDecodeDataPacketIgnoresDuplicatesAfterPlay(t *testing.T) {
	d := New(0, nil)
	base := time.Unix(0, 0)
	d.DecodeDataPacket(1, 1, 0, 10, base, base)
	require.Equal(t, 1, d.PlayedFrames())
	// A duplicate/late packet for an already-played frame must not panic
	// or double-count.
	d.DecodeDataPacket(1, 1, 0, 10, base, base)
	require.Equal(t, 1, d.PlayedFrames())
}

func TestDeadlineMissRate(t *testing.T) {
	d := New(0, nil)
	base := time.Unix(0, 0)
	d.DecodeDataPacket(1, 1, 0, 10, base, base)
	d.DecodeDataPacket(3, 1, 0, 10, base, base) // frame 2 never arrives
	require.InDelta(t, 1.0/3.0, d.DeadlineMissRate(), 1e-9)
}

func TestDeadlineMissRateCountsLatePlayedFramesSeparately(t *testing.T) {
	d := New(10*time.Millisecond, nil)
	base := time.Unix(0, 0)
	// Frame 1 completes within the deadline.
	d.DecodeDataPacket(1, 1, 0, 10, base, base.Add(2*time.Millisecond))
	// Frame 3 completes, but only after the deadline has passed.
	d.DecodeDataPacket(3, 1, 0, 11, base, base.Add(50*time.Millisecond))
	// Frame 2 never arrives.

	require.InDelta(t, 1.0/3.0, d.PopulationMissRatio(), 1e-9)
	require.InDelta(t, 2.0/3.0, d.DeadlineMissRate(), 1e-9)
}

func TestFrameDelay(t *testing.T) {
	d := New(0, nil)
	base := time.Unix(0, 0)
	d.DecodeDataPacket(1, 1, 0, 10, base, base.Add(20*time.Millisecond))
	f, ok := d.Frame(1)
	require.True(t, ok)
	require.Equal(t, 20*time.Millisecond, f.Delay())
}
