package process

import (
	"fmt"
	"image"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"firewatch/accel"
)

// scoreFloor discards obvious noise before candidates cross the stage queue;
// the real confidence threshold is applied during annotation.
const scoreFloor = 0.1

type DetectorOptions struct {
	// ModelPath points at an ONNX detection model whose output is
	// [1, 4+classes, proposals] with boxes as centered xywh in input pixels.
	ModelPath  string
	InputSize  int
	ClassNames []string
}

// Detector runs the ONNX model through the OpenCV DNN backend. It implements
// accel.Model; one Detector corresponds to one accelerator handle and must
// not be shared between pipelines.
type Detector struct {
	opts DetectorOptions
	net  gocv.Net
}

func NewDetector(opts DetectorOptions) (*Detector, error) {
	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read model from %v", opts.ModelPath)
	}
	d := &Detector{
		opts: opts,
		net:  net,
	}
	// Warm up so device or model faults surface at pool construction rather
	// than on the first live frame.
	start := time.Now()
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(padValue, padValue, padValue, 0), opts.InputSize, opts.InputSize, gocv.MatTypeCV8UC3)
	defer blank.Close()
	if _, err := d.Predict(blank); err != nil {
		net.Close()
		return nil, fmt.Errorf("model warmup: %w", err)
	}
	log.Infof("Model %v warmed up in %v", opts.ModelPath, time.Since(start))
	return d, nil
}

// Predict returns candidate detections with boxes in model input space. The
// frame is expected to be a letterboxed square of the model's input size, as
// produced by LetterboxFrame; other sizes get stretched by the blob
// conversion. Confidence filtering, suppression and coordinate mapping
// happen in the annotate step using the frame's letterbox geometry.
func (d *Detector) Predict(frame gocv.Mat) ([]accel.Detection, error) {
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Point{X: d.opts.InputSize, Y: d.opts.InputSize}, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, fmt.Errorf("model forward produced no output")
	}
	return d.decode(out)
}

// decode reads the raw [1, 4+classes, proposals] output tensor.
func (d *Detector) decode(out gocv.Mat) ([]accel.Detection, error) {
	dims := out.Size()
	if len(dims) != 3 || dims[0] != 1 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}
	rows := dims[1]
	proposals := dims[2]
	classes := rows - 4
	if classes > len(d.opts.ClassNames) {
		return nil, fmt.Errorf("model reports %d classes but %d names are configured", classes, len(d.opts.ClassNames))
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading model output: %w", err)
	}

	var dets []accel.Detection
	for i := 0; i < proposals; i++ {
		best := float32(0)
		bestClass := 0
		for c := 0; c < classes; c++ {
			if s := data[(4+c)*proposals+i]; s > best {
				best = s
				bestClass = c
			}
		}
		if best < scoreFloor {
			continue
		}
		cx := data[0*proposals+i]
		cy := data[1*proposals+i]
		w := data[2*proposals+i]
		h := data[3*proposals+i]
		dets = append(dets, accel.Detection{
			Box:   image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)),
			Label: d.opts.ClassNames[bestClass],
			Score: best,
		})
	}
	return dets, nil
}

func (d *Detector) Close() error {
	return d.net.Close()
}
