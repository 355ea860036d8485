package source

import (
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Leak tripwire; a pipeline should never hold anywhere near this many frames.
const maxAllocated = 500

// MatPool recycles gocv Mats between the capture stage and the stages that
// release frames, avoiding a native allocation per frame.
type MatPool struct {
	new    chan chan gocv.Mat
	free   chan gocv.Mat
	closec chan chan bool
	done   chan struct{}

	allocated int
	available []gocv.Mat
}

func NewMatPool() *MatPool {
	p := &MatPool{
		new:    make(chan chan gocv.Mat),
		free:   make(chan gocv.Mat),
		closec: make(chan chan bool),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case c := <-p.closec:
				for _, m := range p.available {
					m.Close()
				}
				p.available = nil
				close(p.done)
				c <- true
				return
			case m := <-p.free:
				p.available = append(p.available, m)
			case r := <-p.new:
				var m gocv.Mat
				if len(p.available) > 0 {
					m, p.available = p.available[0], p.available[1:]
				} else {
					m = gocv.NewMat()
					p.allocated++
					if p.allocated > maxAllocated {
						log.Warnf("MatPool has allocated %d mats; a frame is probably not being released", p.allocated)
					}
				}
				r <- m
			}
		}
	}()
	return p
}

func (p *MatPool) NewMat() gocv.Mat {
	r := make(chan gocv.Mat)
	select {
	case p.new <- r:
		return <-r
	case <-p.done:
		return gocv.NewMat()
	}
}

func (p *MatPool) ReleaseMat(m gocv.Mat) {
	select {
	case p.free <- m:
	case <-p.done:
		m.Close()
	}
}

func (p *MatPool) Close() {
	c := make(chan bool)
	select {
	case p.closec <- c:
		<-c
	case <-p.done:
	}
}
