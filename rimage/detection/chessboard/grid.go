package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"

	"go.viam.com/camcalib/rimage/transform"
)

// gridFit is one assignment of saddle points to the pattern's corners.
type gridFit struct {
	corners  []r2.Point
	residual float64
}

// fitGrid orders saddle points into a cols x rows grid, row by row from the corner nearest the image's top
// left, with the first row running in the direction that keeps the grid right handed. The four grid
// corners are taken from the largest quadrilateral on the convex hull of the candidates; each of its
// eight assignments to the pattern corners gives a homography that predicts every inner corner, and a
// prediction is accepted when a distinct saddle point lies within maxDist of the local grid spacing.
func fitGrid(candidates []r2.Point, pattern image.Point, maxDist float64) ([]r2.Point, bool) {
	n := pattern.X * pattern.Y
	if len(candidates) < n || pattern.X < 2 || pattern.Y < 2 {
		return nil, false
	}
	quad, ok := largestHullQuad(candidates)
	if !ok {
		return nil, false
	}
	cx, cy := float64(pattern.X-1), float64(pattern.Y-1)
	gridQuad := []r2.Point{{X: 0, Y: 0}, {X: cx, Y: 0}, {X: cx, Y: cy}, {X: 0, Y: cy}}

	var fits []gridFit
	for shift := 0; shift < 4; shift++ {
		for _, reverse := range []bool{false, true} {
			dst := make([]r2.Point, 4)
			for k := 0; k < 4; k++ {
				idx := (shift + k) % 4
				if reverse {
					idx = (shift - k + 4) % 4
				}
				dst[k] = quad[idx]
			}
			if fit, ok := snapGrid(candidates, pattern, gridQuad, dst, maxDist); ok {
				fits = append(fits, fit)
			}
		}
	}
	var best *gridFit
	for i := range fits {
		f := &fits[i]
		if !rightHanded(f.corners, pattern) {
			continue
		}
		if best == nil || f.corners[0].X+f.corners[0].Y < best.corners[0].X+best.corners[0].Y-1e-9 {
			best = f
		}
	}
	if best == nil {
		return nil, false
	}
	return best.corners, true
}

// snapGrid predicts the grid from a four point homography, snaps each prediction to its nearest saddle point,
// then refits the homography to all snapped points and checks the residual.
func snapGrid(candidates []r2.Point, pattern image.Point, src, dst []r2.Point, maxDist float64) (gridFit, bool) {
	h, err := transform.EstimateHomography(src, dst)
	if err != nil {
		return gridFit{}, false
	}
	n := pattern.X * pattern.Y
	ideal := make([]r2.Point, 0, n)
	for j := 0; j < pattern.Y; j++ {
		for i := 0; i < pattern.X; i++ {
			ideal = append(ideal, r2.Point{X: float64(i), Y: float64(j)})
		}
	}
	corners, ok := findGoodPoints(h, ideal, candidates, pattern, maxDist)
	if !ok {
		return gridFit{}, false
	}
	// refit with every corner so perspective and mild lens distortion are absorbed
	h, err = transform.EstimateHomography(ideal, corners)
	if err != nil {
		return gridFit{}, false
	}
	if corners, ok = findGoodPoints(h, ideal, candidates, pattern, maxDist); !ok {
		return gridFit{}, false
	}
	residual := 0.
	for i, p := range ideal {
		residual += h.Apply(p).Sub(corners[i]).Norm()
	}
	return gridFit{corners: corners, residual: residual / float64(n)}, true
}

// findGoodPoints replaces every predicted grid point with the closest saddle point within range. Each
// saddle point may be used once.
func findGoodPoints(h *transform.Homography, ideal, candidates []r2.Point, pattern image.Point, maxDist float64) ([]r2.Point, bool) {
	chosen := make(map[int]bool, len(ideal))
	out := make([]r2.Point, len(ideal))
	for k, g := range ideal {
		pred := h.Apply(g)
		if math.IsNaN(pred.X) || math.IsNaN(pred.Y) {
			return nil, false
		}
		idx, d := getMinSaddleDistance(candidates, pred)
		if idx < 0 || chosen[idx] || d > maxDist*localSpacing(h, g, pattern) {
			return nil, false
		}
		chosen[idx] = true
		out[k] = candidates[idx]
	}
	return out, true
}

// localSpacing is the shortest image distance from grid point g to its grid neighbors.
func localSpacing(h *transform.Homography, g r2.Point, pattern image.Point) float64 {
	p := h.Apply(g)
	best := math.Inf(1)
	for _, d := range []r2.Point{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
		q := g.Add(d)
		if q.X < 0 || q.Y < 0 || q.X > float64(pattern.X-1) || q.Y > float64(pattern.Y-1) {
			continue
		}
		best = math.Min(best, h.Apply(q).Sub(p).Norm())
	}
	return best
}

// rightHanded reports whether the grid's column direction turns clockwise onto its row direction in image
// coordinates, where y points down.
func rightHanded(corners []r2.Point, pattern image.Point) bool {
	a := corners[pattern.X-1].Sub(corners[0])
	b := corners[(pattern.Y-1)*pattern.X].Sub(corners[0])
	return a.Cross(b) > 0
}

// convexHull returns the hull of pts in counter-clockwise order (in a y-up frame), dropping collinear points.
func convexHull(pts []r2.Point) []r2.Point {
	sorted := append([]r2.Point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	if len(sorted) < 3 {
		return sorted
	}
	turn := func(o, a, b r2.Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}
	hull := make([]r2.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// largestHullQuad returns the four hull vertices enclosing the largest area, in hull order.
func largestHullQuad(pts []r2.Point) ([]r2.Point, bool) {
	hull := convexHull(pts)
	if len(hull) < 4 {
		return nil, false
	}
	area := func(q [4]r2.Point) float64 {
		s := 0.
		for k := 0; k < 4; k++ {
			s += q[k].Cross(q[(k+1)%4])
		}
		return math.Abs(s) / 2
	}
	best := -1.
	var quad [4]r2.Point
	n := len(hull)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				for d := c + 1; d < n; d++ {
					q := [4]r2.Point{hull[a], hull[b], hull[c], hull[d]}
					if s := area(q); s > best {
						best, quad = s, q
					}
				}
			}
		}
	}
	if best <= 0 {
		return nil, false
	}
	return quad[:], true
}
