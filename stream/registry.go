// Package stream tracks running video pipelines by id and enforces their
// lifetimes.
package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"firewatch/accel"
	"firewatch/util"
	"firewatch/video"
)

var (
	// ErrNotFound is returned for operations on unknown or already removed
	// stream ids.
	ErrNotFound = errors.New("no such stream")

	// ErrClosed is returned once the registry has been shut down.
	ErrClosed = errors.New("stream registry is shut down")
)

// IsBusy reports whether a start failed because every accelerator handle
// was taken.
func IsBusy(err error) bool {
	return errors.Is(err, accel.ErrExhausted)
}

var (
	metricStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_streams_started_total",
		Help: "Streams successfully started.",
	})
	metricExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_streams_expired_total",
		Help: "Streams removed by the lifetime sweeper.",
	})
)

// Listener is notified whenever the set of active streams changes.
type Listener interface {
	StreamsUpdated()
}

type Options struct {
	// Template supplies the pipeline settings shared by every stream; Name
	// and Source are filled in per stream.
	Template video.Options

	// DefaultLifetime applies when a start request does not specify one. A
	// negative stream lifetime means the stream never expires.
	DefaultLifetime time.Duration

	// SweepInterval is how often expired and dead streams are collected.
	SweepInterval time.Duration
}

// Info is the public description of a stream.
type Info struct {
	ID              string     `json:"stream_id"`
	Source          string     `json:"source"`
	State           string     `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LifetimeMinutes int        `json:"lifetime_minutes"`
}

type entry struct {
	id       string
	source   string
	started  time.Time
	expires  *time.Time
	lifetime time.Duration
	pipeline *video.Pipeline
}

func (e *entry) info() Info {
	minutes := -1
	if e.expires != nil {
		minutes = int(e.lifetime / time.Minute)
	}
	return Info{
		ID:              e.id,
		Source:          e.source,
		State:           e.pipeline.State().String(),
		StartedAt:       e.started,
		ExpiresAt:       e.expires,
		LifetimeMinutes: minutes,
	}
}

// Registry owns the running pipelines. Starts are admitted only while the
// accelerator pool has a free handle; expired and self-terminated streams
// are swept out periodically.
type Registry struct {
	// Listeners receive change notifications. Set before the first start.
	Listeners []Listener

	opts Options

	mu      sync.Mutex
	streams map[string]*entry
	closed  bool

	stop     *util.Event
	swept    *util.Event
	shutdown sync.Once
}

func NewRegistry(opts Options) *Registry {
	if opts.DefaultLifetime == 0 {
		opts.DefaultLifetime = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	r := &Registry{
		opts:    opts,
		streams: make(map[string]*entry),
		stop:    util.NewEvent(),
		swept:   util.NewEvent(),
	}
	go r.sweeper()
	return r
}

// Start admits a new stream for the given source. A zero lifetime selects
// the default; a negative one makes the stream permanent. When no
// accelerator handle frees up within the pool timeout, the start is
// rejected, see IsBusy.
func (r *Registry) Start(src string, lifetime time.Duration) (Info, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Info{}, ErrClosed
	}
	r.mu.Unlock()

	if lifetime == 0 {
		lifetime = r.opts.DefaultLifetime
	}

	id := uuid.New().String()
	opts := r.opts.Template
	opts.Name = id
	opts.Source = src

	p, err := video.New(opts)
	if err != nil {
		return Info{}, err
	}
	if err := p.Start(); err != nil {
		p.Stop()
		return Info{}, err
	}

	e := &entry{
		id:       id,
		source:   src,
		started:  time.Now(),
		lifetime: lifetime,
		pipeline: p,
	}
	if lifetime > 0 {
		t := e.started.Add(lifetime)
		e.expires = &t
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		p.Stop()
		return Info{}, ErrClosed
	}
	r.streams[id] = e
	r.mu.Unlock()

	metricStarted.Inc()
	log.Infof("Stream %v started for source %v, lifetime %v", id, src, lifetime)
	r.notifyListeners()
	return e.info(), nil
}

// Stop removes the stream and tears its pipeline down, blocking until the
// accelerator handle is back in the pool.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	e, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.pipeline.Stop()
	log.Infof("Stream %v stopped", id)
	r.notifyListeners()
	return nil
}

// Feed returns the stream's frame channel. Frames are consumed from a
// single buffer, so one consumer at a time gets the complete stream.
func (r *Registry) Feed(id string) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.pipeline.Output(), nil
}

// Get returns the stream description.
func (r *Registry) Get(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return e.info(), nil
}

// List describes the active streams, oldest first. Streams whose pipeline
// already terminated on its own are dropped from the listing.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.streams))
	var reaped int
	for id, e := range r.streams {
		if e.pipeline.State() == video.StateStopped {
			delete(r.streams, id)
			reaped++
			continue
		}
		infos = append(infos, e.info())
	}
	r.mu.Unlock()

	if reaped > 0 {
		r.notifyListeners()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Count returns the number of tracked streams.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Close stops the sweeper and every stream. Starts after Close fail with
// ErrClosed.
func (r *Registry) Close() {
	r.shutdown.Do(func() {
		r.stop.Notify()
		r.swept.Wait()

		r.mu.Lock()
		r.closed = true
		entries := make([]*entry, 0, len(r.streams))
		for _, e := range r.streams {
			entries = append(entries, e)
		}
		r.streams = make(map[string]*entry)
		r.mu.Unlock()

		var wg sync.WaitGroup
		for _, e := range entries {
			wg.Add(1)
			go func(e *entry) {
				defer wg.Done()
				e.pipeline.Stop()
			}(e)
		}
		wg.Wait()
		log.Infof("Stream registry shut down, %d streams stopped", len(entries))
	})
}

func (r *Registry) sweeper() {
	defer r.swept.Notify()
	t := time.NewTicker(r.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stop.Done():
			return
		case <-t.C:
			r.sweep(time.Now())
		}
	}
}

// sweep removes expired and dead streams. Expired pipelines are stopped
// outside the lock since teardown can take up to the join timeout.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var expired []*entry
	var reaped int
	for id, e := range r.streams {
		if e.expires != nil && now.After(*e.expires) {
			delete(r.streams, id)
			expired = append(expired, e)
			continue
		}
		if e.pipeline.State() == video.StateStopped {
			delete(r.streams, id)
			reaped++
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		log.Infof("Stream %v expired after %v", e.id, e.lifetime)
		e.pipeline.Stop()
		metricExpired.Inc()
	}
	if len(expired) > 0 || reaped > 0 {
		r.notifyListeners()
	}
}

func (r *Registry) notifyListeners() {
	for _, l := range r.Listeners {
		go func(l Listener) {
			l.StreamsUpdated()
		}(l)
	}
}

// String summarizes the registry for logs.
func (r *Registry) String() string {
	return fmt.Sprintf("registry with %d streams", r.Count())
}
