package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ProjectPoints projects world points through a pose and intrinsic model, including lens distortion.
func ProjectPoints(objectPoints []r3.Vector, ext CameraExtrinsic, intr *CameraIntrinsic) []r2.Point {
	rm := ext.RotationMatrix()
	model := intr.Coefficients()
	out := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		c := rm.Mul(p).Add(ext.Translation)
		out[i] = intr.normalizedToPixel(model, r2.Point{X: c.X / c.Z, Y: c.Y / c.Z})
	}
	return out
}

// PointDistances returns the Euclidean distance between index-aligned points.
func PointDistances(observed, projected []r2.Point) ([]float64, error) {
	if len(observed) != len(projected) {
		return nil, NewInvalidParameterError("point count mismatch: %d observed, %d projected", len(observed), len(projected))
	}
	out := make([]float64, len(observed))
	for i := range observed {
		out[i] = observed[i].Sub(projected[i]).Norm()
	}
	return out, nil
}

// RMS is the root mean square of the distances; 0 for none.
func RMS(distances []float64) float64 {
	if len(distances) == 0 {
		return 0
	}
	sum := 0.
	for _, d := range distances {
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(distances)))
}

// ViewError is the per-view calibration error: the L2 norm of all residuals divided by the number of
// points.
func ViewError(observed, projected []r2.Point) (float64, error) {
	distances, err := PointDistances(observed, projected)
	if err != nil {
		return 0, err
	}
	if len(distances) == 0 {
		return 0, nil
	}
	sum := 0.
	for _, d := range distances {
		sum += d * d
	}
	return math.Sqrt(sum) / float64(len(distances)), nil
}
