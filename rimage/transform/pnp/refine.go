package pnp

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/camcalib/rimage/transform"
)

func poseToParams(ext transform.CameraExtrinsic) []float64 {
	return []float64{
		ext.RotationVector.X, ext.RotationVector.Y, ext.RotationVector.Z,
		ext.Translation.X, ext.Translation.Y, ext.Translation.Z,
	}
}

func paramsToPose(x []float64) transform.CameraExtrinsic {
	return transform.CameraExtrinsic{
		RotationVector: r3.Vector{X: x[0], Y: x[1], Z: x[2]},
		Translation:    r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

// refinePose minimizes the summed squared reprojection error over the six pose parameters, starting from
// init. BFGS with central difference gradients runs first; Nelder-Mead is tried if it stops early. The
// initial pose is returned if neither improves on it.
func refinePose(
	intr *transform.CameraIntrinsic,
	init transform.CameraExtrinsic,
	img []r2.Point,
	obj []r3.Vector,
) transform.CameraExtrinsic {
	cost := func(x []float64) float64 {
		return reprojectionCost(intr, paramsToPose(x), img, obj)
	}
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-12,
		MajorIterations:   500,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-12,
			Iterations: 20,
		},
	}

	bestX := poseToParams(init)
	bestF := cost(bestX)
	if bestF == 0 {
		return init
	}
	for _, method := range []optimize.Method{&optimize.BFGS{}, &optimize.NelderMead{}} {
		res, err := optimize.Minimize(problem, bestX, settings, method)
		if res != nil && res.F < bestF {
			bestX, bestF = res.X, res.F
		}
		if err == nil && res != nil && res.Status == optimize.GradientThreshold {
			break
		}
	}
	out := paramsToPose(bestX)
	if !inFront(out, obj) {
		return init
	}
	return out
}
