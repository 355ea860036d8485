package device

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProber struct {
	calls int32
	fail  bool
}

func (p *fakeProber) Temperatures() (map[string]float64, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.fail {
		return nil, errors.New("sensors unavailable")
	}
	return map[string]float64{"soc_thermal": 41.5}, nil
}

type fakeCounter struct {
	n int
}

func (c *fakeCounter) Count() int {
	return c.n
}

func TestMonitorSnapshot(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(Options{
		Prober:   p,
		Streams:  &fakeCounter{n: 2},
		Interval: time.Hour,
	})
	defer m.Close()

	s := m.Snapshot()
	if s.Time.IsZero() {
		t.Errorf("snapshot has no sample time")
	}
	if s.Temperatures["soc_thermal"] != 41.5 {
		t.Errorf("temperatures = %v", s.Temperatures)
	}
	if s.Streams != 2 {
		t.Errorf("streams = %d, want 2", s.Streams)
	}
	if atomic.LoadInt32(&p.calls) != 1 {
		t.Errorf("prober called %d times, want 1", p.calls)
	}
}

func TestMonitorToleratesProberFailure(t *testing.T) {
	m := NewMonitor(Options{
		Prober:   &fakeProber{fail: true},
		Interval: time.Hour,
	})
	defer m.Close()

	s := m.Snapshot()
	if s.Temperatures != nil {
		t.Errorf("failed probe produced temperatures: %v", s.Temperatures)
	}
	if s.Time.IsZero() {
		t.Errorf("failed probe suppressed the sample")
	}
}

func TestMonitorResamples(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(Options{
		Prober:   p,
		Interval: 20 * time.Millisecond,
	})
	defer m.Close()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&p.calls) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls := atomic.LoadInt32(&p.calls); calls < 3 {
		t.Errorf("prober called %d times, want at least 3", calls)
	}
}

func TestMonitorWritesStatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	m := NewMonitor(Options{
		Prober:   &fakeProber{},
		Streams:  &fakeCounter{n: 1},
		Interval: time.Hour,
		Path:     path,
	})
	defer m.Close()

	buf, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatalf("stats file not written: %v", err)
	}
	var s Stats
	if err := json.Unmarshal(buf, &s); err != nil {
		t.Fatalf("stats file is not valid JSON: %v", err)
	}
	if s.Streams != 1 || s.Temperatures["soc_thermal"] != 41.5 {
		t.Errorf("stats file content: %+v", s)
	}
}
