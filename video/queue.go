package video

import (
	"sync"
	"time"

	"gocv.io/x/gocv"

	"firewatch/accel"
	"firewatch/video/process"
	"firewatch/video/source"
)

// item is what flows between pipeline stages. Stages fill in their fields as
// the frame moves downstream. eos marks the end-of-stream sentinel; it
// carries no frame.
type item struct {
	img source.Image

	// canvas is the letterboxed model input, owned by the item from the
	// prepare stage until inference consumes it. nil once closed.
	canvas *gocv.Mat
	geom   process.Geometry

	// cands are raw candidate detections in model input space.
	cands []accel.Detection

	eos bool
}

// queue is a bounded inter-stage buffer with a drop-oldest policy: a put
// into a full queue evicts the oldest entry instead of blocking, so the
// stream always favors recency over completeness. Eviction and insertion
// happen under one lock, so two producers can never both evict for the same
// free slot.
type queue struct {
	mu sync.Mutex
	c  chan item
}

func newQueue(size int) *queue {
	return &queue{
		c: make(chan item, size),
	}
}

// put inserts it, evicting the oldest queued item if the queue is full. The
// evicted item is returned so the caller can release its frame.
func (q *queue) put(it item) (evicted item, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case q.c <- it:
			return evicted, dropped
		default:
		}
		select {
		case evicted = <-q.c:
			dropped = true
		default:
			// Consumer raced us to the eviction; retry the insert.
		}
	}
}

// get pops the oldest item, waiting at most timeout. The bounded wait lets
// stage loops observe their stop signal.
func (q *queue) get(timeout time.Duration) (item, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case it := <-q.c:
		return it, true
	case <-t.C:
		return item{}, false
	}
}

// drain empties the queue, passing each item to release. Used during
// teardown so no stage can stay blocked on a full queue.
func (q *queue) drain(release func(item)) {
	for {
		select {
		case it := <-q.c:
			release(it)
		default:
			return
		}
	}
}

func (q *queue) len() int {
	return len(q.c)
}
