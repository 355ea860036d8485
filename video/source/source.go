package source

import (
	"time"

	"gocv.io/x/gocv"
)

// Image is one captured frame and the time it was read.
type Image struct {
	Mat  gocv.Mat
	Time time.Time
}

// Capture is a stream of frames, such as a camera, RTSP feed or video file.
// Read fills the provided Mat and reports whether a frame was produced;
// false means the source is exhausted or has failed.
type Capture interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Opener opens a Capture for a locator. Pipelines take an Opener so tests
// can substitute synthetic sources.
type Opener func(locator string) (Capture, error)
