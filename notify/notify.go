// Package notify turns detections into alerts: snapshots on disk, rows in
// the event history and pushes to registered listeners.
package notify

import (
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"firewatch/accel"
	"firewatch/video/source"
)

// Notification is sent to all NotifyListeners registered with Notifier.
type Notification struct {
	Time       time.Time
	TimeString string
	Stream     string
	Label      string
	Score      float32

	// Snapshot is the stored frame filename, empty when snapshots are
	// disabled.
	Snapshot string
}

type NotifyListener interface {
	Notify(n *Notification) error
}

type Options struct {
	// Confidence is the minimum detection score worth alerting on; weaker
	// detections are still drawn on the stream but stay quiet.
	Confidence float32

	// Cooldown suppresses repeat alerts per stream.
	Cooldown time.Duration

	// QuietStart and QuietEnd bound the hours during which alerts are sent,
	// [QuietStart, QuietEnd). 0 and 24 mean always.
	QuietStart int
	QuietEnd   int

	// Snapshots stores an annotated frame per alert when set.
	Snapshots *SnapshotStore

	// History records each alert when set.
	History *History
}

// Notifier decides which detections become alerts and fans them out.
type Notifier struct {
	Listeners []NotifyListener

	opts Options

	l    sync.Mutex
	last map[string]time.Time
}

func NewNotifier(opts Options) *Notifier {
	if opts.QuietEnd == 0 {
		opts.QuietEnd = 24
	}
	return &Notifier{
		opts: opts,
		last: make(map[string]time.Time),
	}
}

// Detected is invoked by a pipeline for each processed frame with a
// non-empty detection set. The image is only valid for the duration of the
// call.
func (n *Notifier) Detected(stream string, img source.Image, dets []accel.Detection) {
	if len(dets) == 0 {
		return
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	if best.Score < n.opts.Confidence {
		return
	}

	ts := img.Time
	if ts.Hour() < n.opts.QuietStart || ts.Hour() >= n.opts.QuietEnd {
		log.Infof("Would send notification, but currently in quiet hours.")
		return
	}

	n.l.Lock()
	if last, ok := n.last[stream]; ok && ts.Sub(last) < n.opts.Cooldown {
		n.l.Unlock()
		return
	}
	n.last[stream] = ts
	n.l.Unlock()

	notification := &Notification{
		Time:       ts,
		TimeString: ts.Format("3:04 PM"),
		Stream:     stream,
		Label:      best.Label,
		Score:      best.Score,
	}

	if n.opts.Snapshots != nil {
		name, err := n.opts.Snapshots.Save(stream, ts, img.Mat)
		if err != nil {
			log.Errorf("Failed to save alert snapshot: %v", err)
		} else {
			notification.Snapshot = name
		}
	}
	if n.opts.History != nil {
		if err := n.opts.History.Record(notification); err != nil {
			log.Errorf("Failed to record alert: %v", err)
		}
	}

	log.Infof("Sending notification: %v", spew.Sdump(notification))
	for _, l := range n.Listeners {
		go func(l NotifyListener) {
			if err := l.Notify(notification); err != nil {
				log.Errorf("Failed to send notification: %v", err)
			}
		}(l)
	}
}

// Forget clears the cooldown state for a stream, typically once it stops.
func (n *Notifier) Forget(stream string) {
	n.l.Lock()
	defer n.l.Unlock()
	delete(n.last, stream)
}
