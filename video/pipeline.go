// Package video runs a single capture source through detection and
// republishes the annotated frames as a JPEG stream.
package video

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"firewatch/accel"
	"firewatch/util"
	"firewatch/video/process"
	"firewatch/video/source"
)

// State tracks a pipeline through its lifecycle. Transitions only move
// forward; a stopped pipeline is never restarted.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

const (
	// capturePacing bounds the read rate so file sources do not outrun
	// real time.
	capturePacing = 10 * time.Millisecond

	// stagePoll bounds queue waits so stage loops notice the stop signal.
	stagePoll = 100 * time.Millisecond
)

type Options struct {
	// Name identifies the pipeline in logs and notifications, typically the
	// stream id.
	Name string

	// Source is the capture locator: a device index, file path or URL.
	Source string

	// Opener overrides how the source is opened. Defaults to source.Open.
	Opener source.Opener

	// Pool supplies the exclusive accelerator handle held for the lifetime
	// of the pipeline. AcquireTimeout bounds how long construction waits
	// for one.
	Pool           *accel.Pool
	AcquireTimeout time.Duration

	// InputSize is the square model input; frames are letterboxed to it.
	InputSize  int
	Confidence float32
	IoU        float32

	QueueSize    int
	OutputBuffer int

	// RecognitionInterval bounds how often inference results become output
	// frames; results arriving inside the window are discarded.
	RecognitionInterval time.Duration

	// JoinTimeout bounds how long teardown waits for the stages to stop
	// before abandoning them.
	JoinTimeout time.Duration

	ShowTimestamp bool

	// OnDetections is invoked from the annotate stage for each processed
	// frame with a non-empty detection set, after boxes are drawn. The
	// image is only valid for the duration of the call.
	OnDetections func(name string, img source.Image, dets []accel.Detection)
}

// Pipeline moves frames through four concurrent stages, capture, prepare,
// infer and annotate, connected by bounded drop-oldest queues so a slow
// stage sheds old frames instead of stalling the stream. Encoded frames are
// published on Output; a nil frame marks the end of the stream.
type Pipeline struct {
	opts Options

	handle *accel.Handle
	cap    source.Capture
	mats   *source.MatPool
	gate   *throttle

	captured *queue
	prepared *queue
	inferred *queue
	out      chan []byte

	state int32
	stop  *util.Event
	done  *util.Event
	wg    sync.WaitGroup
	once  sync.Once
}

// New acquires an accelerator handle and opens the source. On any failure
// the handle is returned to the pool. The pipeline does not process frames
// until Start.
func New(opts Options) (*Pipeline, error) {
	if opts.Pool == nil {
		return nil, fmt.Errorf("accelerator pool is required")
	}
	if opts.Source == "" {
		return nil, fmt.Errorf("video source is required")
	}
	if opts.Opener == nil {
		opts.Opener = source.Open
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = 120
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 3 * time.Second
	}

	handle, err := opts.Pool.Acquire(opts.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	cap, err := opts.Opener(opts.Source)
	if err != nil {
		opts.Pool.Release(handle)
		return nil, fmt.Errorf("open source %v: %w", opts.Source, err)
	}

	return &Pipeline{
		opts:     opts,
		handle:   handle,
		cap:      cap,
		mats:     source.NewMatPool(),
		gate:     newThrottle(opts.RecognitionInterval),
		captured: newQueue(opts.QueueSize),
		prepared: newQueue(opts.QueueSize),
		inferred: newQueue(opts.QueueSize),
		out:      make(chan []byte, opts.OutputBuffer),
		state:    int32(StateCreated),
		stop:     util.NewEvent(),
		done:     util.NewEvent(),
	}, nil
}

// Start launches the stage goroutines. It may be called once.
func (p *Pipeline) Start() error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(StateCreated), int32(StateRunning)) {
		return fmt.Errorf("pipeline %v already started", p.opts.Name)
	}
	metricPipelines.Inc()
	p.wg.Add(4)
	go p.captureStage()
	go p.prepareStage()
	go p.inferStage()
	go p.annotateStage()
	go func() {
		// A pipeline whose stages all exit on their own, source exhausted or
		// inference fault, tears itself down so the handle goes back to the
		// pool without an explicit Stop.
		p.wg.Wait()
		p.finalize()
	}()
	log.Infof("Pipeline %v started on source %v using accelerator %d",
		p.opts.Name, p.opts.Source, p.handle.ID())
	return nil
}

// Stop tears the pipeline down and blocks until it reaches STOPPED. It is
// safe to call from any state and any number of times.
func (p *Pipeline) Stop() {
	p.finalize()
}

// Output carries the annotated JPEG frames. A nil frame is the terminal
// marker; the channel itself is never closed.
func (p *Pipeline) Output() <-chan []byte {
	return p.out
}

func (p *Pipeline) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Pipeline) Alive() bool {
	return p.State() == StateRunning
}

// Done unblocks once teardown has completed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done.Done()
}

func (p *Pipeline) captureStage() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop.Done():
			return
		default:
		}
		m := p.mats.NewMat()
		if !p.cap.Read(&m) {
			p.mats.ReleaseMat(m)
			log.Infof("Pipeline %v: source ended", p.opts.Name)
			p.forward(p.captured, item{eos: true}, "capture")
			return
		}
		if m.Empty() {
			p.mats.ReleaseMat(m)
		} else {
			metricFramesCaptured.Inc()
			p.forward(p.captured, item{img: source.Image{Mat: m, Time: time.Now()}}, "capture")
		}
		time.Sleep(capturePacing)
	}
}

func (p *Pipeline) prepareStage() {
	defer p.wg.Done()
	for {
		it, ok := p.captured.get(stagePoll)
		if !ok {
			if p.stop.Notified() {
				return
			}
			continue
		}
		if it.eos {
			p.forward(p.prepared, it, "prepare")
			return
		}
		if p.stop.Notified() {
			p.releaseItem(it)
			return
		}
		canvas, geom := process.LetterboxFrame(it.img.Mat, p.opts.InputSize)
		it.canvas = &canvas
		it.geom = geom
		p.forward(p.prepared, it, "prepare")
	}
}

func (p *Pipeline) inferStage() {
	defer p.wg.Done()
	for {
		it, ok := p.prepared.get(stagePoll)
		if !ok {
			if p.stop.Notified() {
				return
			}
			continue
		}
		if it.eos {
			p.forward(p.inferred, it, "infer")
			return
		}
		if p.stop.Notified() {
			p.releaseItem(it)
			return
		}
		start := time.Now()
		cands, err := p.handle.Predict(*it.canvas)
		metricInferenceSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			log.Errorf("Pipeline %v: inference failed: %v", p.opts.Name, err)
			p.releaseItem(it)
			p.stop.Notify()
			return
		}
		it.cands = cands
		it.canvas.Close()
		it.canvas = nil
		p.forward(p.inferred, it, "infer")
	}
}

func (p *Pipeline) annotateStage() {
	defer p.wg.Done()
	for {
		it, ok := p.inferred.get(stagePoll)
		if !ok {
			if p.stop.Notified() {
				return
			}
			continue
		}
		if it.eos {
			return
		}
		if p.stop.Notified() {
			p.releaseItem(it)
			return
		}
		// Results inside the recognition interval are discarded before any
		// postprocessing.
		if !p.gate.allow(time.Now()) {
			p.releaseItem(it)
			metricFramesThrottled.Inc()
			continue
		}
		dets := process.Finalize(it.cands, it.geom, it.img.Mat.Cols(), it.img.Mat.Rows(),
			p.opts.Confidence, p.opts.IoU)
		process.Draw(&it.img.Mat, dets)
		if p.opts.ShowTimestamp {
			process.DrawTimestamp(&it.img.Mat, p.opts.Name, it.img.Time)
		}
		if len(dets) > 0 && p.opts.OnDetections != nil {
			p.opts.OnDetections(p.opts.Name, it.img, dets)
		}
		jpeg, err := gocv.IMEncode(".jpg", it.img.Mat)
		if err != nil {
			log.Errorf("Pipeline %v: encoding frame: %v", p.opts.Name, err)
		} else {
			select {
			case p.out <- jpeg:
				metricFramesStreamed.Inc()
			default:
				metricFramesDropped.WithLabelValues("output").Inc()
			}
		}
		p.releaseItem(it)
	}
}

// forward puts it on q, releasing whatever frame the put evicted. Sentinels
// rely on the same eviction guarantee and are therefore never lost.
func (p *Pipeline) forward(q *queue, it item, stage string) {
	if evicted, dropped := q.put(it); dropped {
		p.releaseItem(evicted)
		metricFramesDropped.WithLabelValues(stage).Inc()
	}
}

func (p *Pipeline) releaseItem(it item) {
	if it.eos {
		return
	}
	if it.canvas != nil {
		it.canvas.Close()
	}
	p.mats.ReleaseMat(it.img.Mat)
}

// finalize is the single teardown path, reached from Stop or from the stage
// watcher. It always returns the accelerator handle to the pool; source and
// queue cleanup is skipped when stages fail to join in time.
func (p *Pipeline) finalize() {
	p.once.Do(func() {
		prev := State(atomic.SwapInt32(&p.state, int32(StateStopping)))
		p.stop.Notify()

		joined := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(joined)
		}()
		stalled := false
		t := time.NewTimer(p.opts.JoinTimeout)
		select {
		case <-joined:
			t.Stop()
		case <-t.C:
			stalled = true
			log.Warnf("Pipeline %v: stages still running after %v, abandoning them",
				p.opts.Name, p.opts.JoinTimeout)
		}

		p.opts.Pool.Release(p.handle)

		if !stalled {
			if err := p.cap.Close(); err != nil {
				log.Warnf("Pipeline %v: closing source: %v", p.opts.Name, err)
			}
			p.captured.drain(p.releaseItem)
			p.prepared.drain(p.releaseItem)
			p.inferred.drain(p.releaseItem)
			p.mats.Close()
		}

		p.pushTerminal()
		atomic.StoreInt32(&p.state, int32(StateStopped))
		if prev == StateRunning {
			metricPipelines.Dec()
		}
		p.done.Notify()
		log.Infof("Pipeline %v stopped", p.opts.Name)
	})
}

// pushTerminal delivers the nil end-of-stream marker, evicting a buffered
// frame if the consumer has fallen behind.
func (p *Pipeline) pushTerminal() {
	for {
		select {
		case p.out <- nil:
			return
		default:
		}
		select {
		case <-p.out:
			metricFramesDropped.WithLabelValues("output").Inc()
		default:
		}
	}
}
