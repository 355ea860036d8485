package process

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"firewatch/accel"
)

// Geometry describes how a frame was letterboxed into the model input square:
// the frame is scaled by Scale to ContentW x ContentH and padded to the
// input size with DX/DY offsets.
type Geometry struct {
	Scale    float32
	DX, DY   int
	ContentW int
	ContentH int
}

func Letterbox(srcW, srcH, inputSize int) Geometry {
	scale := float32(inputSize) / float32(srcW)
	if s := float32(inputSize) / float32(srcH); s < scale {
		scale = s
	}
	w := int(float32(srcW) * scale)
	h := int(float32(srcH) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Geometry{
		Scale:    scale,
		DX:       (inputSize - w) / 2,
		DY:       (inputSize - h) / 2,
		ContentW: w,
		ContentH: h,
	}
}

// toSource maps a box from model input space back to source frame space,
// clamped to the frame bounds.
func (g Geometry) toSource(b image.Rectangle, srcW, srcH int) image.Rectangle {
	unmap := func(v, offset int) int {
		return int(float32(v-offset) / g.Scale)
	}
	r := image.Rect(unmap(b.Min.X, g.DX), unmap(b.Min.Y, g.DY), unmap(b.Max.X, g.DX), unmap(b.Max.Y, g.DY))
	return r.Intersect(image.Rect(0, 0, srcW, srcH))
}

// Finalize filters candidates by confidence, suppresses overlapping boxes and
// maps the survivors back into source frame coordinates.
func Finalize(cands []accel.Detection, g Geometry, srcW, srcH int, confidence, iou float32) []accel.Detection {
	var boxes []image.Rectangle
	var scores []float32
	var kept []accel.Detection
	for _, d := range cands {
		if d.Score < confidence {
			continue
		}
		boxes = append(boxes, d.Box)
		scores = append(scores, d.Score)
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil
	}

	indices := make([]int, len(boxes))
	for i := range indices {
		indices[i] = -1
	}
	gocv.NMSBoxes(boxes, scores, confidence, iou, indices)

	var out []accel.Detection
	for _, idx := range indices {
		if idx < 0 || idx >= len(kept) {
			break
		}
		d := kept[idx]
		d.Box = g.toSource(d.Box, srcW, srcH)
		out = append(out, d)
	}
	return out
}

var labelColors = map[string]color.RGBA{
	"fire":  {R: 0, G: 0, B: 255, A: 255},
	"smoke": {R: 0, G: 255, B: 0, A: 255},
}

var defaultColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Draw renders detection boxes and labels onto the frame.
func Draw(m *gocv.Mat, dets []accel.Detection) {
	font := gocv.FontHersheySimplex
	scale := 0.5
	thickness := 1

	for _, d := range dets {
		col, ok := labelColors[d.Label]
		if !ok {
			col = defaultColor
		}
		gocv.Rectangle(m, d.Box, col, 2)

		text := fmt.Sprintf("%s: %.2f", d.Label, d.Score)
		sz := gocv.GetTextSize(text, font, scale, thickness)
		org := image.Point{X: d.Box.Min.X, Y: d.Box.Min.Y - 4}
		if org.Y < sz.Y {
			org.Y = d.Box.Min.Y + sz.Y + 4
		}
		gocv.PutText(m, text, org, font, scale, col, thickness)
	}
}
