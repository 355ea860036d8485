package source

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// VideoCapture reads frames from a local device index, file path or URL
// through OpenCV.
type VideoCapture struct {
	locator string
	cap     *gocv.VideoCapture
}

// Open connects to the given locator. Numeric locators select a local camera
// device, anything else is treated as a file path or URL.
func Open(locator string) (Capture, error) {
	cap, err := gocv.OpenVideoCapture(locator)
	if err != nil {
		return nil, fmt.Errorf("opening video source %q: %w", locator, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video source %q did not open", locator)
	}
	log.WithField("source", locator).Info("Video source opened")
	return &VideoCapture{locator: locator, cap: cap}, nil
}

func (v *VideoCapture) Read(m *gocv.Mat) bool {
	return v.cap.Read(m)
}

func (v *VideoCapture) Close() error {
	log.WithField("source", v.locator).Info("Video source closed")
	return v.cap.Close()
}
