package netstate

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// TraceSample is one scheduled override of the live NetStat, read from a
// trace file: at TimeMs after the trace starts, the sender's NetStat RTT,
// bandwidth and loss rate are overwritten with these values.
type TraceSample struct {
	TimeMs   int64
	RTT      time.Duration
	BWBps    float64
	LossRate float64
}

// TraceFeed replays a recorded sequence of network conditions into a
// NetStat on a schedule, instead of deriving them from live acks. This is
// optional scaffolding for scripted test conditions; it does not emulate a
// network on its own.
type TraceFeed struct {
	samples []TraceSample
	next    int
	start   time.Time
}

// ParseTrace reads "time_ms,rtt_ms,bw_mbps,loss_rate" rows (a header line is
// tolerated and skipped).
func ParseTrace(r io.Reader) (*TraceFeed, error) {
	scanner := bufio.NewScanner(r)
	var samples []TraceSample
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("netstate: trace line %d: expected 4 fields, got %d", lineNo, len(fields))
		}
		timeMs, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			if lineNo == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("netstate: trace line %d: bad time_ms: %w", lineNo, err)
		}
		rttMs, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("netstate: trace line %d: bad rtt_ms: %w", lineNo, err)
		}
		bwMbps, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("netstate: trace line %d: bad bw_mbps: %w", lineNo, err)
		}
		loss, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("netstate: trace line %d: bad loss_rate: %w", lineNo, err)
		}
		samples = append(samples, TraceSample{
			TimeMs:   timeMs,
			RTT:      time.Duration(rttMs * float64(time.Millisecond)),
			BWBps:    bwMbps * 1_000_000 / 8,
			LossRate: loss,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("netstate: trace contains no samples")
	}
	return &TraceFeed{samples: samples}, nil
}

// Start anchors the trace's time_ms=0 at t.
func (f *TraceFeed) Start(t time.Time) {
	f.start = t
	f.next = 0
}

// Apply overwrites s's RTT, bandwidth and loss rate with every sample whose
// scheduled time has passed as of now, advancing through the trace in order.
func (f *TraceFeed) Apply(now time.Time, s *NetStat) {
	for f.next < len(f.samples) {
		sample := f.samples[f.next]
		due := f.start.Add(time.Duration(sample.TimeMs) * time.Millisecond)
		if now.Before(due) {
			break
		}
		s.CurRTT = sample.RTT
		s.CurBandwidthBps = sample.BWBps
		s.CurLossRate = sample.LossRate
		f.next++
	}
}
