package process

import (
	"image"

	"gocv.io/x/gocv"
)

// padValue fills the letterbox borders; the model was trained with
// gray-114 padding.
const padValue = 114

// LetterboxFrame scales the frame to fit a square canvas of the model input
// size, preserving aspect ratio and centering the content over gray padding.
// The returned geometry maps detections on the canvas back to frame
// coordinates. The caller owns the canvas and must Close it.
func LetterboxFrame(frame gocv.Mat, inputSize int) (gocv.Mat, Geometry) {
	g := Letterbox(frame.Cols(), frame.Rows(), inputSize)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(padValue, padValue, padValue, 0), inputSize, inputSize, gocv.MatTypeCV8UC3)
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Point{X: g.ContentW, Y: g.ContentH}, 0, 0, gocv.InterpolationLinear)
	roi := canvas.Region(image.Rect(g.DX, g.DY, g.DX+g.ContentW, g.DY+g.ContentH))
	resized.CopyTo(&roi)
	roi.Close()

	return canvas, g
}
