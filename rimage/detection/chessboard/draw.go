package chessboard

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"

	"go.viam.com/camcalib/rimage"
)

// DrawCorners returns a copy of img with the corners drawn on it. A found pattern gets one colour per row
// and a polyline through the corners in order; otherwise every corner is drawn in red.
func DrawCorners(img image.Image, pattern image.Point, corners []r2.Point, found bool) image.Image {
	dc := gg.NewContextForImage(img)
	b := img.Bounds()
	radius := math.Max(3, float64(min(b.Dx(), b.Dy()))/150)
	dc.SetLineWidth(math.Max(1, radius/3))

	if !found || pattern.X <= 0 || len(corners) != pattern.X*pattern.Y {
		dc.SetColor(color.RGBA{R: 255, A: 255})
		for _, c := range corners {
			dc.DrawCircle(c.X, c.Y, radius)
			dc.Stroke()
		}
		return dc.Image()
	}

	rows := pattern.Y
	for j := 0; j < rows; j++ {
		hue := 360 * float64(j) / float64(rows)
		dc.SetColor(colorful.Hsv(hue, 0.9, 1))
		row := corners[j*pattern.X : (j+1)*pattern.X]
		if j > 0 {
			// join to the end of the previous row
			prev := corners[j*pattern.X-1]
			dc.MoveTo(prev.X, prev.Y)
			dc.LineTo(row[0].X, row[0].Y)
			dc.Stroke()
		}
		for i, c := range row {
			dc.DrawCircle(c.X, c.Y, radius)
			dc.Stroke()
			if i > 0 {
				dc.DrawLine(row[i-1].X, row[i-1].Y, c.X, c.Y)
				dc.Stroke()
			}
		}
	}
	first := corners[0]
	rimage.DrawLabel(dc, strconv.Itoa(0), r2.Point{X: first.X + radius, Y: first.Y - radius}, color.White, 2*radius+8)
	return dc.Image()
}
