package pnp

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage/transform"
)

// epnpPose expresses every object point as a weighted sum of four control points, solves for the control
// points' camera coordinates as the null vector of the 2n×12 projection system, and aligns the result
// with the object points. It needs at least six non-coplanar points for the null space to be one
// dimensional.
func epnpPose(pl plane, normalized []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	if pl.planar || len(obj) < 6 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("EPnP needs at least 6 non-coplanar points")
	}

	// control points: the centroid plus one point along each principal axis, scaled to the spread
	n := float64(len(obj))
	spread := [3]float64{}
	for _, p := range obj {
		l := pl.toLocal(p)
		spread[0] += l.X * l.X
		spread[1] += l.Y * l.Y
		spread[2] += l.Z * l.Z
	}
	ctrl := [4]r3.Vector{pl.origin}
	for k := 0; k < 3; k++ {
		axis := pl.basis.Row(k)
		ctrl[k+1] = pl.origin.Add(axis.Mul(math.Sqrt(spread[k] / n)))
	}

	// barycentric weights; in the plane frame the control offsets are axis aligned
	alphas := make([][4]float64, len(obj))
	for i, p := range obj {
		l := pl.toLocal(p)
		local := [3]float64{l.X, l.Y, l.Z}
		var w [4]float64
		w[0] = 1
		for k := 0; k < 3; k++ {
			w[k+1] = local[k] / math.Sqrt(spread[k]/n)
			w[0] -= w[k+1]
		}
		alphas[i] = w
	}

	m := mat.NewDense(2*len(obj), 12, nil)
	for i, w := range alphas {
		u, v := normalized[i].X, normalized[i].Y
		row1 := make([]float64, 12)
		row2 := make([]float64, 12)
		for j := 0; j < 4; j++ {
			row1[3*j] = w[j]
			row1[3*j+2] = -w[j] * u
			row2[3*j+1] = w[j]
			row2[3*j+2] = -w[j] * v
		}
		m.SetRow(2*i, row1)
		m.SetRow(2*i+1, row2)
	}
	x, err := transform.NullVector(m)
	if err != nil {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError(err.Error())
	}
	var camCtrl [4]r3.Vector
	for j := 0; j < 4; j++ {
		camCtrl[j] = r3.Vector{X: x[3*j], Y: x[3*j+1], Z: x[3*j+2]}
	}

	// recover scale from the control point distances
	num, den := 0., 0.
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			dc := camCtrl[i].Sub(camCtrl[j]).Norm()
			dw := ctrl[i].Sub(ctrl[j]).Norm()
			num += dc * dw
			den += dc * dc
		}
	}
	if den < 1e-300 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("degenerate EPnP solution")
	}
	beta := num / den

	cam := make([]r3.Vector, len(obj))
	meanZ := 0.
	for i, w := range alphas {
		var c r3.Vector
		for j := 0; j < 4; j++ {
			c = c.Add(camCtrl[j].Mul(w[j]))
		}
		cam[i] = c.Mul(beta)
		meanZ += cam[i].Z
	}
	if meanZ < 0 {
		for i := range cam {
			cam[i] = cam[i].Mul(-1)
		}
	}
	return kabsch(obj, cam)
}
