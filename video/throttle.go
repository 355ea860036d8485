package video

import "time"

// throttle rate-limits how many inference results are processed into output
// frames. Results arriving inside the window are discarded outright, which
// bounds the annotation and encode cost per stream no matter how fast the
// accelerator runs. A non-positive interval admits every result.
type throttle struct {
	interval time.Duration
	last     time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// allow reports whether a result arriving at the given time should be
// processed, and marks the window consumed when it is.
func (t *throttle) allow(at time.Time) bool {
	if t.interval <= 0 {
		return true
	}
	if !t.last.IsZero() && at.Sub(t.last) < t.interval {
		return false
	}
	t.last = at
	return true
}
