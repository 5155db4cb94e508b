package pnp

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/utils"
)

// Result is a solved pose with its reprojection statistics in pixels.
type Result struct {
	Extrinsic      transform.CameraExtrinsic
	Algorithm      Algorithm
	NumPoints      int
	RMS            float64
	MeanError      float64
	MaxError       float64
	MinError       float64
	PerPointErrors []float64
	// Name identifies the image the pose was solved from, if any.
	Name string
}

// Solve validates the correspondences, solves for the camera pose with alg and reports its reprojection
// errors.
func Solve(intr *transform.CameraIntrinsic, alg Algorithm, img []r2.Point, obj []r3.Vector) (*Result, error) {
	method, err := NewMethod(alg)
	if err != nil {
		return nil, err
	}
	return SolveWith(intr, method, img, obj)
}

// SolveWith is Solve with an explicit Method.
func SolveWith(intr *transform.CameraIntrinsic, method Method, img []r2.Point, obj []r3.Vector) (*Result, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	if len(img) != len(obj) {
		return nil, transform.NewInvalidParameterError(
			"correspondence count mismatch: %d image points, %d object points", len(img), len(obj))
	}
	if len(img) < method.MinPoints() {
		return nil, transform.NewPoseSolveFailedError(fmt.Sprintf(
			"%s needs at least %d points, got %d", method.Algorithm(), method.MinPoints(), len(img)))
	}
	for i := range img {
		if !finite(img[i].X, img[i].Y) || !finite(obj[i].X, obj[i].Y, obj[i].Z) {
			return nil, transform.NewInvalidParameterError("point %d is not finite", i)
		}
	}

	ext, err := method.Solve(intr, img, obj)
	if err != nil {
		return nil, err
	}
	if !finite(ext.RotationVector.X, ext.RotationVector.Y, ext.RotationVector.Z,
		ext.Translation.X, ext.Translation.Y, ext.Translation.Z) {
		return nil, transform.NewPoseSolveFailedError("solver produced a non-finite pose")
	}
	return newResult(intr, method.Algorithm(), ext, img, obj)
}

func newResult(
	intr *transform.CameraIntrinsic,
	alg Algorithm,
	ext transform.CameraExtrinsic,
	img []r2.Point,
	obj []r3.Vector,
) (*Result, error) {
	errs, err := transform.PointDistances(img, transform.ProjectPoints(obj, ext, intr))
	if err != nil {
		return nil, err
	}
	data := stats.Float64Data(errs)
	mean, err := stats.Mean(data)
	if err != nil {
		return nil, err
	}
	maxErr, err := stats.Max(data)
	if err != nil {
		return nil, err
	}
	minErr, err := stats.Min(data)
	if err != nil {
		return nil, err
	}
	return &Result{
		Extrinsic:      ext,
		Algorithm:      alg,
		NumPoints:      len(img),
		RMS:            transform.RMS(errs),
		MeanError:      mean,
		MaxError:       maxErr,
		MinError:       minErr,
		PerPointErrors: errs,
	}, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Summary renders the pose and its errors as a human readable block.
func (res *Result) Summary() string {
	var sb strings.Builder
	ext := res.Extrinsic
	rv, t := ext.RotationVector, ext.Translation
	rows := ext.RotationMatrix().Rows()
	pos := ext.CameraPosition()
	deg := 180 / math.Pi

	fmt.Fprintf(&sb, "Extrinsic Calibration Result (%s)\n", res.Algorithm)
	if res.Name != "" {
		fmt.Fprintf(&sb, "Image: %s\n", res.Name)
	}
	sb.WriteString(strings.Repeat("=", 40) + "\n\n")
	sb.WriteString("Rotation Vector (Rodrigues):\n")
	fmt.Fprintf(&sb, "    rx = %+.6f rad (%+.2f°)\n", rv.X, rv.X*deg)
	fmt.Fprintf(&sb, "    ry = %+.6f rad (%+.2f°)\n", rv.Y, rv.Y*deg)
	fmt.Fprintf(&sb, "    rz = %+.6f rad (%+.2f°)\n\n", rv.Z, rv.Z*deg)
	sb.WriteString("Translation Vector:\n")
	fmt.Fprintf(&sb, "    tx = %+.2f\n    ty = %+.2f\n    tz = %+.2f\n\n", t.X, t.Y, t.Z)
	sb.WriteString("Rotation Matrix:\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "    %+.6f  %+.6f  %+.6f\n", r[0], r[1], r[2])
	}
	sb.WriteString("\nCamera Position (world):\n")
	fmt.Fprintf(&sb, "    X = %+.2f\n    Y = %+.2f\n    Z = %+.2f\n\n", pos.X, pos.Y, pos.Z)
	fmt.Fprintf(&sb, "Reprojection Error: %.4f pixels (mean %.4f, max %.4f, min %.4f)\n",
		res.RMS, res.MeanError, res.MaxError, res.MinError)
	fmt.Fprintf(&sb, "Points Used: %d", res.NumPoints)
	return sb.String()
}

// SolveCheckerboard solves the pose of a detected checkerboard, whose first corner is the world origin
// with X along the columns and Y along the rows.
func SolveCheckerboard(
	intr *transform.CameraIntrinsic,
	alg Algorithm,
	board transform.CheckerboardConfig,
	detection chessboard.Detection,
) (*Result, error) {
	if err := board.CheckValid(); err != nil {
		return nil, err
	}
	if !detection.Success() {
		if detection.Err != nil {
			return nil, detection.Err
		}
		return nil, transform.NewDetectionFailedError("no corners detected in " + detection.Name)
	}
	if len(detection.Corners) != board.NumCorners() {
		return nil, transform.NewDetectionFailedError(fmt.Sprintf(
			"expected %d corners, found %d", board.NumCorners(), len(detection.Corners)))
	}
	res, err := Solve(intr, alg, detection.Corners, board.ObjectPoints())
	if err != nil {
		return nil, err
	}
	res.Name = detection.Name
	return res, nil
}

// SolveCheckerboards solves each detection's pose independently. The returned slice is aligned with
// detections and holds nil where a solve failed; the failures are combined into the returned error.
func SolveCheckerboards(
	ctx context.Context,
	intr *transform.CameraIntrinsic,
	alg Algorithm,
	board transform.CheckerboardConfig,
	detections []chessboard.Detection,
	logger logging.Logger,
) ([]*Result, error) {
	results := make([]*Result, len(detections))
	errs := make([]error, len(detections))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(utils.ParallelFactor)
	for i, d := range detections {
		i, d := i, d
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			res, err := SolveCheckerboard(intr, alg, board, d)
			if err != nil {
				logger.Debugw("pose solve failed", "image", d.Name, "error", err)
				errs[i] = errors.Wrap(err, d.Name)
				return nil
			}
			logger.Debugw("pose solved", "image", d.Name, "rms", res.RMS)
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, multierr.Combine(errs...)
}
