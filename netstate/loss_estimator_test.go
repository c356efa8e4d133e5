package netstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLossEstimatorZeroWhenEmpty(t *testing.T) {
	e := NewLossEstimator(time.Second)
	require.Equal(t, 0.0, e.GetLoss(time.Unix(0, 0)))
}

func TestLossEstimatorRatio(t *testing.T) {
	e := NewLossEstimator(time.Second)
	base := time.Unix(100, 0)
	e.SendUpdate(base, 100)
	e.RtxUpdate(base, 5)
	require.InDelta(t, 0.05, e.GetLoss(base), 1e-9)
}

func TestLossEstimatorOneWhenOnlyRtx(t *testing.T) {
	e := NewLossEstimator(time.Second)
	base := time.Unix(100, 0)
	e.RtxUpdate(base, 3)
	require.Equal(t, 1.0, e.GetLoss(base))
}

func TestLossEstimatorWindowExpires(t *testing.T) {
	e := NewLossEstimator(time.Second)
	base := time.Unix(100, 0)
	e.SendUpdate(base, 100)
	e.RtxUpdate(base, 10)
	later := base.Add(2 * time.Second)
	require.Equal(t, 0.0, e.GetLoss(later))
}
