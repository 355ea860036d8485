package accel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrExhausted is returned by Acquire when no handle frees up within the
	// timeout. Callers should surface it as a retryable busy condition.
	ErrExhausted = errors.New("no accelerator handle available")

	// ErrClosed is returned by Acquire after the pool has been disposed.
	ErrClosed = errors.New("accelerator pool is closed")
)

var (
	acquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_pool_acquire_total",
		Help: "Accelerator handle acquisitions by result.",
	}, []string{"result"})
	handlesInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_pool_handles_in_use",
		Help: "Accelerator handles currently checked out.",
	})
)

type Options struct {
	// Size is the number of handles, the concurrency ceiling for the whole
	// service.
	Size int

	// WorkerPattern identifies accelerator SDK worker processes by command
	// line substring for the orphan reaper. Empty disables reaping.
	WorkerPattern string
}

// Pool owns a fixed number of accelerator handles. At any instant
// checked-out + available == Size; a handle is never held by two callers.
type Pool struct {
	opts     Options
	handles  chan *Handle
	baseline map[int32]bool

	mu     sync.Mutex
	closed bool
}

// NewPool loads opts.Size model handles through the factory. On any load
// failure the already-created handles are closed, spawned worker processes
// are reaped, and the error is returned; a partial pool is never kept.
func NewPool(factory Factory, opts Options) (*Pool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", opts.Size)
	}
	p := &Pool{
		opts:     opts,
		handles:  make(chan *Handle, opts.Size),
		baseline: workerPIDs(opts.WorkerPattern),
	}
	if len(p.baseline) > 0 {
		log.Infof("Accelerator pool baseline: %d pre-existing worker processes", len(p.baseline))
	}
	for i := 0; i < opts.Size; i++ {
		m, err := factory()
		if err != nil {
			p.disposeHandles()
			reapOrphans(p.baseline, opts.WorkerPattern)
			return nil, fmt.Errorf("loading accelerator handle %d of %d: %w", i+1, opts.Size, err)
		}
		p.handles <- &Handle{id: i, model: m}
		log.Infof("Loaded accelerator handle %d of %d", i+1, opts.Size)
	}
	return p, nil
}

// Acquire checks out a handle, waiting up to timeout for one to free up.
func (p *Pool) Acquire(timeout time.Duration) (*Handle, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		acquireTotal.WithLabelValues("closed").Inc()
		return nil, ErrClosed
	}

	// Fast path so a free handle always wins over an already expired
	// timer.
	select {
	case h := <-p.handles:
		return p.checkout(h), nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case h := <-p.handles:
		return p.checkout(h), nil
	case <-t.C:
		acquireTotal.WithLabelValues("busy").Inc()
		return nil, ErrExhausted
	}
}

func (p *Pool) checkout(h *Handle) *Handle {
	h.markAcquired()
	acquireTotal.WithLabelValues("ok").Inc()
	handlesInUse.Inc()
	log.Debugf("Acquired accelerator handle %d", h.id)
	return h
}

// Release returns a handle to the pool. Releasing a handle that is not
// checked out is a programming error; the duplicate is discarded with a
// warning rather than corrupting the available count.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if !h.markReleased() {
		log.Warnf("Double release of accelerator handle %d discarded", h.id)
		return
	}
	handlesInUse.Dec()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		// Late release after disposal; the handle is no longer pooled.
		h.close()
		return
	}

	select {
	case p.handles <- h:
		log.Debugf("Released accelerator handle %d", h.id)
	default:
		log.Warnf("Accelerator pool already at capacity, discarding handle %d", h.id)
	}
}

// Available reports how many handles are currently checked in.
func (p *Pool) Available() int {
	return len(p.handles)
}

func (p *Pool) Size() int {
	return p.opts.Size
}

// Close disposes of the pool: all checked-in handles are closed, and worker
// processes that appeared since the baseline snapshot are force-killed.
// Safe to call with handles still checked out; those are abandoned
// best-effort while their worker processes are still reaped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.disposeHandles()
	if n := reapOrphans(p.baseline, p.opts.WorkerPattern); n > 0 {
		log.Infof("Reaped %d orphaned accelerator worker processes", n)
	}
	log.Infof("Accelerator pool closed")
}

func (p *Pool) disposeHandles() {
	for {
		select {
		case h := <-p.handles:
			h.close()
		default:
			return
		}
	}
}
