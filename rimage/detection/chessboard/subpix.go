package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/camcalib/rimage"
)

// TermCriteria stops an iterative refinement after MaxIterations or once an update moves less than Epsilon
// pixels. A zero field disables that condition.
type TermCriteria struct {
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
	Epsilon       float64 `json:"epsilon" mapstructure:"epsilon"`
}

var (
	// DefaultTermCriteria is 30 iterations or 0.001 pixels.
	DefaultTermCriteria = TermCriteria{MaxIterations: 30, Epsilon: 0.001}
	// DefaultSubPixWindow is the half size of the refinement search window, giving a 23x23 window.
	DefaultSubPixWindow = image.Point{X: 11, Y: 11}
)

func (tc TermCriteria) done(iteration int, moved float64) bool {
	if tc.MaxIterations > 0 && iteration >= tc.MaxIterations {
		return true
	}
	if tc.Epsilon > 0 && moved < tc.Epsilon {
		return true
	}
	return tc.MaxIterations <= 0 && tc.Epsilon <= 0
}

// SubPixRefiner moves each corner to the point where image gradients in its window are orthogonal to the
// vector from that point, i.e. the least squares solution of Σ g·gᵀ·(p - q) = 0.
type SubPixRefiner struct{}

// RefineCorners refines each corner independently. A corner that would leave its window keeps its input
// position.
func (SubPixRefiner) RefineCorners(gray *image.Gray, corners []r2.Point, window image.Point, criteria TermCriteria) []r2.Point {
	out := make([]r2.Point, len(corners))
	for i, c := range corners {
		out[i] = refineCorner(gray, c, window, criteria)
	}
	return out
}

func refineCorner(gray *image.Gray, start r2.Point, window image.Point, criteria TermCriteria) r2.Point {
	wx, wy := window.X, window.Y
	if wx < 1 || wy < 1 {
		return start
	}
	// gaussian weights over the window, as in OpenCV
	weights := make([]float64, (2*wx+1)*(2*wy+1))
	for dy := -wy; dy <= wy; dy++ {
		for dx := -wx; dx <= wx; dx++ {
			vx, vy := float64(dx)/float64(wx), float64(dy)/float64(wy)
			weights[(dy+wy)*(2*wx+1)+dx+wx] = math.Exp(-vx*vx) * math.Exp(-vy*vy)
		}
	}

	q := start
	for iter := 1; ; iter++ {
		var a, b, c, bb1, bb2 float64
		for dy := -wy; dy <= wy; dy++ {
			for dx := -wx; dx <= wx; dx++ {
				px, py := q.X+float64(dx), q.Y+float64(dy)
				gx := (rimage.BilinearGray(gray, px+1, py) - rimage.BilinearGray(gray, px-1, py)) / 2
				gy := (rimage.BilinearGray(gray, px, py+1) - rimage.BilinearGray(gray, px, py-1)) / 2
				w := weights[(dy+wy)*(2*wx+1)+dx+wx]
				gxx, gxy, gyy := gx*gx*w, gx*gy*w, gy*gy*w
				a += gxx
				b += gxy
				c += gyy
				bb1 += gxx*float64(dx) + gxy*float64(dy)
				bb2 += gxy*float64(dx) + gyy*float64(dy)
			}
		}
		det := a*c - b*b
		if math.Abs(det) <= math.SmallestNonzeroFloat64 {
			break
		}
		// solve for the offset of the new center from q
		ox := (c*bb1 - b*bb2) / det
		oy := (a*bb2 - b*bb1) / det
		next := r2.Point{X: q.X + ox, Y: q.Y + oy}
		moved := next.Sub(q).Norm()
		q = next
		if math.Abs(q.X-start.X) > float64(wx) || math.Abs(q.Y-start.Y) > float64(wy) {
			return start
		}
		if criteria.done(iter, moved) {
			break
		}
	}
	return q
}
