package notify

import (
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"firewatch/accel"
	"firewatch/video/source"
)

type recordingListener struct {
	l    sync.Mutex
	sent []*Notification
}

func (r *recordingListener) Notify(n *Notification) error {
	r.l.Lock()
	defer r.l.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingListener) count() int {
	r.l.Lock()
	defer r.l.Unlock()
	return len(r.sent)
}

func (r *recordingListener) latest() *Notification {
	r.l.Lock()
	defer r.l.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func at(hour int, extra time.Duration) time.Time {
	return time.Date(2026, 8, 22, hour, 0, 0, 0, time.Local).Add(extra)
}

func detection(label string, score float32) []accel.Detection {
	return []accel.Detection{{Label: label, Score: score}}
}

func waitForCount(t *testing.T, l *recordingListener, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("listener saw %d notifications, want %d", l.count(), want)
}

func TestNotifierThreshold(t *testing.T) {
	l := &recordingListener{}
	n := NewNotifier(Options{Confidence: 0.8})
	n.Listeners = []NotifyListener{l}

	n.Detected("s1", source.Image{Time: at(12, 0)}, detection("fire", 0.5))
	n.Detected("s1", source.Image{Time: at(12, time.Second)}, detection("smoke", 0.9))

	waitForCount(t, l, 1)
	got := l.latest()
	if got.Label != "smoke" || got.Score != 0.9 || got.Stream != "s1" {
		t.Errorf("notification = %+v", got)
	}
}

func TestNotifierPicksStrongestDetection(t *testing.T) {
	l := &recordingListener{}
	n := NewNotifier(Options{Confidence: 0.5})
	n.Listeners = []NotifyListener{l}

	dets := []accel.Detection{
		{Label: "smoke", Score: 0.6},
		{Label: "fire", Score: 0.95},
		{Label: "smoke", Score: 0.7},
	}
	n.Detected("s1", source.Image{Time: at(12, 0)}, dets)

	waitForCount(t, l, 1)
	if got := l.latest(); got.Label != "fire" || got.Score != 0.95 {
		t.Errorf("notification = %+v, want the strongest detection", got)
	}
}

func TestNotifierCooldown(t *testing.T) {
	l := &recordingListener{}
	n := NewNotifier(Options{Confidence: 0.5, Cooldown: time.Minute})
	n.Listeners = []NotifyListener{l}

	n.Detected("s1", source.Image{Time: at(12, 0)}, detection("fire", 0.9))
	n.Detected("s1", source.Image{Time: at(12, 10*time.Second)}, detection("fire", 0.9))
	waitForCount(t, l, 1)

	// A different stream is not affected by the first stream's cooldown.
	n.Detected("s2", source.Image{Time: at(12, 20*time.Second)}, detection("fire", 0.9))
	waitForCount(t, l, 2)

	// Past the cooldown the original stream may alert again.
	n.Detected("s1", source.Image{Time: at(12, 2*time.Minute)}, detection("fire", 0.9))
	waitForCount(t, l, 3)
}

func TestNotifierForgetResetsCooldown(t *testing.T) {
	l := &recordingListener{}
	n := NewNotifier(Options{Confidence: 0.5, Cooldown: time.Hour})
	n.Listeners = []NotifyListener{l}

	n.Detected("s1", source.Image{Time: at(12, 0)}, detection("fire", 0.9))
	waitForCount(t, l, 1)

	n.Forget("s1")
	n.Detected("s1", source.Image{Time: at(12, time.Second)}, detection("fire", 0.9))
	waitForCount(t, l, 2)
}

func TestNotifierQuietHours(t *testing.T) {
	l := &recordingListener{}
	n := NewNotifier(Options{Confidence: 0.5, QuietStart: 6, QuietEnd: 20})
	n.Listeners = []NotifyListener{l}

	n.Detected("s1", source.Image{Time: at(3, 0)}, detection("fire", 0.9))
	n.Detected("s2", source.Image{Time: at(21, 0)}, detection("fire", 0.9))
	time.Sleep(50 * time.Millisecond)
	if l.count() != 0 {
		t.Fatalf("alerts sent during quiet hours")
	}

	n.Detected("s3", source.Image{Time: at(6, 0)}, detection("fire", 0.9))
	waitForCount(t, l, 1)
}

func TestNotifierEmptyDetections(t *testing.T) {
	n := NewNotifier(Options{Confidence: 0.5})
	n.Detected("s1", source.Image{Time: at(12, 0)}, nil)
}

func TestSnapshotStoreSaveList(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}

	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 60, 120, 0), 24, 32, gocv.MatTypeCV8UC3)
	defer m.Close()

	ts := time.Date(2026, 8, 22, 14, 30, 0, 0, time.Local)
	name, err := store.Save("cam-1", ts, m)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	snaps, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("listed %d snapshots, want 1", len(snaps))
	}
	if snaps[0].Name != name || snaps[0].Stream != "cam-1" {
		t.Errorf("snapshot = %+v", snaps[0])
	}
	if !snaps[0].Time.Equal(ts.Truncate(time.Second)) {
		t.Errorf("snapshot time %v, want %v", snaps[0].Time, ts)
	}
	if snaps[0].Size == 0 {
		t.Errorf("snapshot file is empty")
	}
}

func TestSnapshotStorePrunes(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}

	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 60, 120, 0), 24, 32, gocv.MatTypeCV8UC3)
	defer m.Close()

	base := time.Date(2026, 8, 22, 14, 30, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		if _, err := store.Save("cam-1", base.Add(time.Duration(i)*time.Second), m); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	snaps, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("listed %d snapshots after pruning, want 2", len(snaps))
	}
	// Newest first; the oldest save must be the one pruned away.
	if !snaps[0].Time.After(snaps[1].Time) {
		t.Errorf("snapshots not sorted newest first: %v, %v", snaps[0].Time, snaps[1].Time)
	}
	if snaps[1].Time.Equal(base) {
		t.Errorf("oldest snapshot survived pruning")
	}
}

func TestSnapshotStorePathRejectsTraversal(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	for _, name := range []string{
		"",
		"../../etc/passwd",
		"sub/dir_alert.jpg",
		"notasnapshot.txt",
	} {
		if _, err := store.Path(name); err == nil {
			t.Errorf("Path(%q) accepted an invalid name", name)
		}
	}
	if _, err := store.Path("20260822-143000-Z0700_cam-1_alert.jpg"); err != nil {
		t.Errorf("Path rejected a valid name: %v", err)
	}
}
