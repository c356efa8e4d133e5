package netstate

import "time"

type countSample struct {
	at    time.Time
	count int
}

// LossEstimator tracks a sliding window of send/retransmit counts and
// reports their ratio as the current loss rate, mirroring the original
// LossEstimator used to feed FEC policy decisions.
type LossEstimator struct {
	window time.Duration
	sends  []countSample
	rtxs   []countSample
}

// NewLossEstimator returns a LossEstimator with the given sliding window.
func NewLossEstimator(window time.Duration) *LossEstimator {
	return &LossEstimator{window: window}
}

// SendUpdate records n newly-sent (first-transmission) packets at time t.
func (e *LossEstimator) SendUpdate(t time.Time, n int) {
	e.sends = append(e.sends, countSample{t, n})
}

// RtxUpdate records n retransmitted packets at time t.
func (e *LossEstimator) RtxUpdate(t time.Time, n int) {
	e.rtxs = append(e.rtxs, countSample{t, n})
}

func trim(samples []countSample, before time.Time) []countSample {
	i := 0
	for i < len(samples) && samples[i].at.Before(before) {
		i++
	}
	return samples[i:]
}

// GetLoss trims the window to [now-window, now] and returns
// sum(rtx)/sum(send); 0 if no sends were recorded, 1 if only
// retransmissions were recorded with no corresponding sends.
func (e *LossEstimator) GetLoss(now time.Time) float64 {
	cutoff := now.Add(-e.window)
	e.sends = trim(e.sends, cutoff)
	e.rtxs = trim(e.rtxs, cutoff)

	sendSum := 0
	for _, s := range e.sends {
		sendSum += s.count
	}
	rtxSum := 0
	for _, s := range e.rtxs {
		rtxSum += s.count
	}
	if sendSum == 0 {
		if rtxSum == 0 {
			return 0
		}
		return 1
	}
	return float64(rtxSum) / float64(sendSum)
}
