package process

import (
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

var (
	colorTime = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBG   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// DrawTimestamp draws a name and timestamp banner in the frame corner.
func DrawTimestamp(m *gocv.Mat, name string, t time.Time) {
	text := name + " - " + t.Format("2006-01-02 15:04:05 MST")

	font := gocv.FontHersheySimplex
	scale := 0.5
	thickness := 1

	sz := gocv.GetTextSize(text, font, scale, thickness)

	pad := 2

	gocv.Rectangle(m, image.Rectangle{Min: image.Point{X: 0, Y: 0}, Max: image.Point{X: sz.X + pad*2, Y: sz.Y + pad*2}}, colorBG, -1)

	gocv.PutText(m, text, image.Point{X: pad, Y: sz.Y + pad}, font, scale, colorTime, thickness)
}
