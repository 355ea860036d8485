// Package accel manages the fixed set of hardware-backed inference handles
// that bounds how many video streams the service processes concurrently.
package accel

import (
	"image"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Detection is one candidate object reported by a model. Box coordinates are
// in the model's input space until mapped back by the annotation step.
type Detection struct {
	Box   image.Rectangle
	Label string
	Score float32
}

// Model is one loaded inference context. Predict blocks for the duration of
// the hardware call and is not safe for concurrent use; exclusive ownership
// is enforced by the pool handing each Handle to at most one caller.
type Model interface {
	Predict(frame gocv.Mat) ([]Detection, error)
	Close() error
}

// Factory creates one Model. Called Size times at pool construction.
type Factory func() (Model, error)

// Handle wraps a Model checked out of a Pool. It is owned by exactly one
// caller between Acquire and Release.
type Handle struct {
	id    int
	model Model

	// 1 while checked out. Guards against double release.
	inUse int32
}

func (h *Handle) ID() int {
	return h.id
}

func (h *Handle) Predict(frame gocv.Mat) ([]Detection, error) {
	return h.model.Predict(frame)
}

func (h *Handle) close() {
	if err := h.model.Close(); err != nil {
		log.Warnf("Error closing accelerator handle %d: %v", h.id, err)
	}
}

func (h *Handle) markAcquired() {
	atomic.StoreInt32(&h.inUse, 1)
}

// markReleased reports false if the handle was not checked out.
func (h *Handle) markReleased() bool {
	return atomic.CompareAndSwapInt32(&h.inUse, 1, 0)
}
