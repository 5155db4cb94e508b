// Package calibrate estimates a camera's intrinsic parameters and lens distortion from several views of a
// planar checkerboard.
package calibrate

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/rimage/transform"
)

// Flags constrain the intrinsic model during calibration.
type Flags struct {
	// FixPrincipalPoint pins the principal point to the image center ((w-1)/2, (h-1)/2).
	FixPrincipalPoint bool `json:"fix_principal_point" mapstructure:"fix_principal_point"`
	// FixAspectRatio forces fy = fx.
	FixAspectRatio bool `json:"fix_aspect_ratio" mapstructure:"fix_aspect_ratio"`
	// ZeroTangentDist forces p1 = p2 = 0.
	ZeroTangentDist bool `json:"zero_tangent_dist" mapstructure:"zero_tangent_dist"`
	// UseRationalModel estimates the 8 coefficient rational model instead of the 5 coefficient one.
	UseRationalModel bool `json:"use_rational_model" mapstructure:"use_rational_model"`
}

// Solution is a solver's estimate of the camera model together with the pose of every view.
type Solution struct {
	RMS          float64
	CameraMatrix [3][3]float64
	Distortion   []float64
	Poses        []transform.CameraExtrinsic
}

// Solver fits a camera model to index aligned object and image points, one slice pair per view.
type Solver interface {
	Calibrate(
		ctx context.Context,
		objectPoints [][]r3.Vector,
		imagePoints [][]r2.Point,
		size transform.ImageSize,
		flags Flags,
	) (*Solution, error)
}
