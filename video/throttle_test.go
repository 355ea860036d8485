package video

import (
	"testing"
	"time"
)

func TestThrottleWindow(t *testing.T) {
	base := time.Now()
	th := newThrottle(50 * time.Millisecond)

	if !th.allow(base) {
		t.Fatalf("first frame should always be inferred")
	}
	if th.allow(base.Add(10 * time.Millisecond)) {
		t.Errorf("frame inside the window was inferred")
	}
	if th.allow(base.Add(49 * time.Millisecond)) {
		t.Errorf("frame at the window edge was inferred")
	}
	if !th.allow(base.Add(60 * time.Millisecond)) {
		t.Errorf("frame past the window was skipped")
	}
	if th.allow(base.Add(70 * time.Millisecond)) {
		t.Errorf("window did not restart after the second inference")
	}
}

func TestThrottleDisabled(t *testing.T) {
	base := time.Now()
	th := newThrottle(0)
	for i := 0; i < 5; i++ {
		if !th.allow(base.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("frame %d skipped with throttling disabled", i)
		}
	}
}
