// Package device periodically samples accelerator and host health so the
// API can answer device queries without touching the hardware on request.
package device

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	log "github.com/sirupsen/logrus"

	"firewatch/accel"
	"firewatch/util"
)

const tempExt = ".temp"

// Stats is one sample of device health.
type Stats struct {
	Time          time.Time          `json:"time"`
	Temperatures  map[string]float64 `json:"temperatures,omitempty"`
	PoolSize      int                `json:"pool_size"`
	PoolAvailable int                `json:"pool_available"`
	Workers       int                `json:"workers"`
	Streams       int                `json:"streams"`
}

// Prober reads hardware temperature sensors.
type Prober interface {
	Temperatures() (map[string]float64, error)
}

// SensorProber reads the host's thermal sensors, keeping only those whose
// key matches the prefix. An empty prefix keeps everything.
type SensorProber struct {
	Prefix string
}

func (s *SensorProber) Temperatures() (map[string]float64, error) {
	sensors, err := host.SensorsTemperatures()
	if err != nil {
		return nil, err
	}
	temps := make(map[string]float64)
	for _, sensor := range sensors {
		if s.Prefix != "" && !strings.HasPrefix(sensor.SensorKey, s.Prefix) {
			continue
		}
		temps[sensor.SensorKey] = sensor.Temperature
	}
	return temps, nil
}

// StreamCounter reports how many streams are active.
type StreamCounter interface {
	Count() int
}

type Options struct {
	Prober   Prober
	Pool     *accel.Pool
	Streams  StreamCounter
	Interval time.Duration

	// WorkerPattern selects the accelerator worker processes to count; empty
	// disables counting.
	WorkerPattern string

	// Path, when set, receives each sample as JSON, written atomically.
	Path string
}

// Monitor samples device health on an interval and keeps the latest sample
// for Snapshot.
type Monitor struct {
	opts Options

	mu   sync.Mutex
	last Stats

	stop *util.Event
	done *util.Event
}

func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	m := &Monitor{
		opts: opts,
		stop: util.NewEvent(),
		done: util.NewEvent(),
	}
	m.sample()
	go m.run()
	return m
}

// Snapshot returns the most recent sample.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) Close() {
	m.stop.Notify()
	m.done.Wait()
}

func (m *Monitor) run() {
	defer m.done.Notify()
	t := time.NewTicker(m.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop.Done():
			return
		case <-t.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	s := Stats{Time: time.Now()}

	if m.opts.Prober != nil {
		temps, err := m.opts.Prober.Temperatures()
		if err != nil {
			log.Warnf("Reading temperature sensors: %v", err)
		} else {
			s.Temperatures = temps
		}
	}
	if m.opts.Pool != nil {
		s.PoolSize = m.opts.Pool.Size()
		s.PoolAvailable = m.opts.Pool.Available()
	}
	if m.opts.WorkerPattern != "" {
		s.Workers = accel.CountWorkers(m.opts.WorkerPattern)
	}
	if m.opts.Streams != nil {
		s.Streams = m.opts.Streams.Count()
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()

	if m.opts.Path != "" {
		if err := writeStats(m.opts.Path, s); err != nil {
			log.Warnf("Writing device stats to %v: %v", m.opts.Path, err)
		}
	}
}

// writeStats lands the sample on disk through a rename so readers never see
// a partial file.
func writeStats(path string, s Stats) error {
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path+tempExt, buf, 0644); err != nil {
		return err
	}
	return os.Rename(path+tempExt, path)
}
