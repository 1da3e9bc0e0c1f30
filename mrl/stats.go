package mrl

import (
	"fmt"
	"sync"
	"time"
)

// rttKind names the command/response pairs the session times. The
// gateway has no explicit acknowledgements, so a "round trip" is the
// gap between a write and the next frame that answers it: any event
// for the heartbeat's GetDevices, the SuccessComplete frame for
// GetDevicesMetadata.
type rttKind int

const (
	rttHeartbeat rttKind = iota
	rttMetadata
)

func (k rttKind) String() string {
	switch k {
	case rttHeartbeat:
		return "heartbeat"
	case rttMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// slowRTTThreshold flags round trips slow enough to suggest the link is
// degrading (supervision-timeout territory) well before the stale-data
// watchdog would fire.
const slowRTTThreshold = 2 * time.Second

// rttStats accumulates round-trip observations for one rttKind over the
// life of a session. Pointer-owned so the mutex is never copied when
// stored in the session's map.
type rttStats struct {
	mu       sync.Mutex
	kind     rttKind
	count    int64
	total    time.Duration
	min, max time.Duration
	last     time.Duration
	slow     int64
}

func newRTTStats(kind rttKind) *rttStats {
	return &rttStats{kind: kind}
}

func (r *rttStats) Sample(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	r.total += d
	r.last = d
	if r.count == 1 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	if d > slowRTTThreshold {
		r.slow++
	}
}

func (r *rttStats) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return fmt.Sprintf("%s: no samples", r.kind)
	}
	mean := time.Duration(int64(r.total) / r.count)
	return fmt.Sprintf("%s: n=%d last=%v min=%v mean=%v max=%v slow=%d",
		r.kind, r.count, r.last, r.min, mean, r.max, r.slow)
}
