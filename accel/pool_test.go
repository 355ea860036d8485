package accel

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

type fakeModel struct {
	closed  int32
	predict func(gocv.Mat) ([]Detection, error)
}

func (m *fakeModel) Predict(frame gocv.Mat) ([]Detection, error) {
	if m.predict != nil {
		return m.predict(frame)
	}
	return nil, nil
}

func (m *fakeModel) Close() error {
	atomic.AddInt32(&m.closed, 1)
	return nil
}

func fakeFactory(models *[]*fakeModel) Factory {
	return func() (Model, error) {
		m := &fakeModel{}
		*models = append(*models, m)
		return m, nil
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	var models []*fakeModel
	p, err := NewPool(fakeFactory(&models), Options{Size: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if got := p.Available(); got != 2 {
		t.Fatalf("Available = %d, want 2", got)
	}

	h1, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.Available() != 0 {
		t.Errorf("Available = %d, want 0", p.Available())
	}

	p.Release(h1)
	if p.Available() != 1 {
		t.Errorf("Available = %d after release, want 1", p.Available())
	}
	p.Release(h2)
	if p.Available() != 2 {
		t.Errorf("Available = %d after release, want 2", p.Available())
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	var models []*fakeModel
	p, err := NewPool(fakeFactory(&models), Options{Size: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	h, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(h)

	const timeout = 50 * time.Millisecond
	start := time.Now()
	_, err = p.Acquire(timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Acquire on empty pool = %v, want ErrExhausted", err)
	}
	if elapsed < timeout {
		t.Errorf("Acquire returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("Acquire took %v, should return promptly after the %v timeout", elapsed, timeout)
	}
}

func TestPoolDoubleRelease(t *testing.T) {
	var models []*fakeModel
	p, err := NewPool(fakeFactory(&models), Options{Size: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	h, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h)
	p.Release(h)

	if got := p.Available(); got != 2 {
		t.Errorf("Available = %d after double release, want 2", got)
	}

	// The pooled handle must still be usable.
	h2, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire after double release: %v", err)
	}
	p.Release(h2)
}

func TestPoolInitFailure(t *testing.T) {
	var models []*fakeModel
	calls := 0
	factory := func() (Model, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("device unavailable")
		}
		m := &fakeModel{}
		models = append(models, m)
		return m, nil
	}

	if _, err := NewPool(factory, Options{Size: 3}); err == nil {
		t.Fatal("NewPool should fail when a handle fails to load")
	}
	// The two good handles must have been disposed.
	if len(models) != 2 {
		t.Fatalf("factory created %d models, want 2", len(models))
	}
	for i, m := range models {
		if atomic.LoadInt32(&m.closed) == 0 {
			t.Errorf("model %d not closed after init failure", i)
		}
	}
}

func TestPoolCloseDiscardsLateRelease(t *testing.T) {
	var models []*fakeModel
	p, err := NewPool(fakeFactory(&models), Options{Size: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	h, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Close()

	if _, err := p.Acquire(10 * time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}

	p.Release(h)
	if atomic.LoadInt32(&models[0].closed) == 0 {
		t.Error("handle released after Close should be disposed")
	}
	if p.Available() != 0 {
		t.Errorf("Available = %d after Close, want 0", p.Available())
	}

	// Close is idempotent.
	p.Close()
}

func TestPoolConcurrentAcquire(t *testing.T) {
	const size = 3
	var models []*fakeModel
	p, err := NewPool(fakeFactory(&models), Options{Size: size})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	var busy int32
	handles := make(chan *Handle, size+1)
	for i := 0; i < size+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(100 * time.Millisecond)
			if errors.Is(err, ErrExhausted) {
				atomic.AddInt32(&busy, 1)
				return
			}
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			handles <- h
		}()
	}
	wg.Wait()
	close(handles)

	if busy != 1 {
		t.Errorf("%d acquisitions reported busy, want exactly 1", busy)
	}
	seen := make(map[*Handle]bool)
	for h := range handles {
		if seen[h] {
			t.Error("same handle checked out twice concurrently")
		}
		seen[h] = true
		p.Release(h)
	}
	if p.Available() != size {
		t.Errorf("Available = %d after releases, want %d", p.Available(), size)
	}
}

func TestPoolAvailableInvariant(t *testing.T) {
	var models []*fakeModel
	p, err := NewPool(fakeFactory(&models), Options{Size: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	for i := 0; i < 100; i++ {
		before := p.Available()
		h, err := p.Acquire(time.Second)
		if err != nil {
			t.Fatalf("cycle %d: Acquire: %v", i, err)
		}
		if before != 1 || p.Available() != 0 {
			t.Fatalf("cycle %d: availability %d -> %d, want 1 -> 0", i, before, p.Available())
		}
		p.Release(h)
		if p.Available() != 1 {
			t.Fatalf("cycle %d: Available = %d after release, want 1", i, p.Available())
		}
	}
}
