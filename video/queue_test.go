package video

import (
	"sync"
	"testing"
	"time"

	"firewatch/video/process"
)

func mark(n int) item {
	return item{geom: process.Geometry{DX: n}}
}

func TestQueueDropsOldest(t *testing.T) {
	q := newQueue(2)

	for i := 1; i <= 2; i++ {
		if _, dropped := q.put(mark(i)); dropped {
			t.Errorf("put %d dropped on a non-full queue", i)
		}
	}
	evicted, dropped := q.put(mark(3))
	if !dropped {
		t.Fatalf("expected put on a full queue to evict")
	}
	if evicted.geom.DX != 1 {
		t.Errorf("evicted item %d, want oldest 1", evicted.geom.DX)
	}

	for _, want := range []int{2, 3} {
		it, ok := q.get(time.Second)
		if !ok {
			t.Fatalf("get returned empty, want %d", want)
		}
		if it.geom.DX != want {
			t.Errorf("got item %d, want %d", it.geom.DX, want)
		}
	}
}

func TestQueueGetTimeout(t *testing.T) {
	q := newQueue(1)
	start := time.Now()
	if _, ok := q.get(50 * time.Millisecond); ok {
		t.Fatalf("get on an empty queue returned an item")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("get returned after %v, want at least the timeout", elapsed)
	}
}

func TestQueueSentinelSurvivesFullQueue(t *testing.T) {
	q := newQueue(1)
	q.put(mark(1))
	q.put(item{eos: true})

	it, ok := q.get(time.Second)
	if !ok || !it.eos {
		t.Fatalf("expected the sentinel to displace the queued frame")
	}
}

func TestQueueDrain(t *testing.T) {
	q := newQueue(4)
	for i := 0; i < 4; i++ {
		q.put(mark(i))
	}
	n := 0
	q.drain(func(item) { n++ })
	if n != 4 {
		t.Errorf("drained %d items, want 4", n)
	}
	if q.len() != 0 {
		t.Errorf("queue holds %d items after drain", q.len())
	}
}

func TestQueueConcurrentPutGet(t *testing.T) {
	q := newQueue(4)
	const producers = 4
	const perProducer = 200

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.put(mark(j))
			}
		}()
	}

	got := 0
	done := make(chan bool)
	go func() {
		for {
			if _, ok := q.get(100 * time.Millisecond); !ok {
				done <- true
				return
			}
			got++
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not drain the queue")
	}
	if got > producers*perProducer {
		t.Errorf("consumed %d items, more than the %d produced", got, producers*perProducer)
	}
}
