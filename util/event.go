package util

import (
	"sync"
	"time"
)

// Event is a one-shot signal that can be observed either by polling or by
// waiting. Notify is idempotent and safe for concurrent use.
type Event struct {
	c    chan struct{}
	once sync.Once
}

func NewEvent() *Event {
	return &Event{
		c: make(chan struct{}),
	}
}

func (e *Event) Notify() {
	e.once.Do(func() {
		close(e.c)
	})
}

func (e *Event) Notified() bool {
	select {
	case <-e.c:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the event has been notified,
// suitable for select loops.
func (e *Event) Done() <-chan struct{} {
	return e.c
}

func (e *Event) Wait() {
	<-e.c
}

// WaitTimeout waits for the event up to the given duration and reports whether
// the event was notified before the deadline.
func (e *Event) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.c:
		return true
	case <-t.C:
		return false
	}
}
