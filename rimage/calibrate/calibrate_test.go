package calibrate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/spatialmath"
)

var testSize = transform.ImageSize{Width: 640, Height: 480}

func testBoard(t *testing.T) transform.CheckerboardConfig {
	t.Helper()
	board, err := transform.NewCheckerboardConfig(5, 7, 25)
	test.That(t, err, test.ShouldBeNil)
	return board
}

func trueIntrinsic(t *testing.T, fx, fy, cx, cy float64, dist []float64) *transform.CameraIntrinsic {
	t.Helper()
	intr, err := transform.NewCameraIntrinsicFromParams(fx, fy, cx, cy, dist, testSize)
	test.That(t, err, test.ShouldBeNil)
	return intr
}

// viewPoses looks at the board's center from n directions, about 450mm away.
func viewPoses(board transform.CheckerboardConfig, n int) []transform.CameraExtrinsic {
	rvecs := []r3.Vector{
		{X: 0.35, Y: 0, Z: 0},
		{X: -0.3, Y: 0.15, Z: 0.05},
		{X: 0.05, Y: 0.4, Z: 0.1},
		{X: 0.25, Y: -0.3, Z: -0.1},
		{X: -0.15, Y: -0.35, Z: 0.2},
		{X: 0.1, Y: 0.2, Z: -0.2},
	}
	center := r3.Vector{X: float64(board.Cols-1) * board.SquareSize / 2, Y: float64(board.Rows-1) * board.SquareSize / 2}
	out := make([]transform.CameraExtrinsic, n)
	for i := range out {
		rvec := rvecs[i%len(rvecs)]
		offset := r3.Vector{X: float64(i%3-1) * 15, Y: float64(i%2) * 10, Z: 430 + float64(i)*15}
		t := offset.Sub(spatialmath.RotationVectorToMatrix(rvec).Mul(center))
		out[i] = transform.CameraExtrinsic{RotationVector: rvec, Translation: t}
	}
	return out
}

func syntheticViews(board transform.CheckerboardConfig, intr *transform.CameraIntrinsic, n int) ([][]r3.Vector, [][]r2.Point) {
	obj := board.ObjectPoints()
	var objectPoints [][]r3.Vector
	var imagePoints [][]r2.Point
	for _, pose := range viewPoses(board, n) {
		objectPoints = append(objectPoints, obj)
		imagePoints = append(imagePoints, transform.ProjectPoints(obj, pose, intr))
	}
	return objectPoints, imagePoints
}

func detection(name string, corners []r2.Point) chessboard.Detection {
	return chessboard.Detection{Name: name, Corners: corners, ImageSize: testSize}
}

type fakeSolver struct {
	calls int
	err   error
}

func (fs *fakeSolver) Calibrate(
	_ context.Context,
	objectPoints [][]r3.Vector,
	_ [][]r2.Point,
	_ transform.ImageSize,
	_ Flags,
) (*Solution, error) {
	fs.calls++
	if fs.err != nil {
		return nil, fs.err
	}
	poses := make([]transform.CameraExtrinsic, len(objectPoints))
	for i := range poses {
		poses[i].Translation = r3.Vector{Z: 500}
	}
	return &Solution{
		RMS:          0.5,
		CameraMatrix: [3][3]float64{{800, 0, 320}, {0, 800, 240}, {0, 0, 1}},
		Distortion:   make([]float64, 5),
		Poses:        poses,
	}, nil
}

func TestZhangSolver(t *testing.T) {
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 790, 322, 236, []float64{-0.15, 0.04, 0.001, -0.0005, 0})
	objectPoints, imagePoints := syntheticViews(board, intr, 5)

	sol, err := (&ZhangSolver{}).Calibrate(context.Background(), objectPoints, imagePoints, testSize, Flags{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.RMS, test.ShouldBeLessThan, 0.01)
	test.That(t, sol.CameraMatrix[0][0], test.ShouldAlmostEqual, 800, 1)
	test.That(t, sol.CameraMatrix[1][1], test.ShouldAlmostEqual, 790, 1)
	test.That(t, sol.CameraMatrix[0][2], test.ShouldAlmostEqual, 322, 1)
	test.That(t, sol.CameraMatrix[1][2], test.ShouldAlmostEqual, 236, 1)
	test.That(t, sol.Distortion, test.ShouldHaveLength, 5)
	test.That(t, sol.Distortion[0], test.ShouldAlmostEqual, -0.15, 0.01)
	test.That(t, sol.Poses, test.ShouldHaveLength, 5)
	for i, pose := range viewPoses(board, 5) {
		test.That(t, sol.Poses[i].Translation.Sub(pose.Translation).Norm(), test.ShouldBeLessThan, 2)
	}
}

func TestZhangSolverFlags(t *testing.T) {
	board := testBoard(t)
	// principal point at the exact center and square pixels so every constrained model still fits
	intr := trueIntrinsic(t, 820, 820, 319.5, 239.5, []float64{-0.1, 0.02, 0, 0, 0})
	objectPoints, imagePoints := syntheticViews(board, intr, 4)

	t.Run("fix principal point", func(t *testing.T) {
		sol, err := (&ZhangSolver{}).Calibrate(context.Background(), objectPoints, imagePoints, testSize,
			Flags{FixPrincipalPoint: true})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.CameraMatrix[0][2], test.ShouldEqual, 319.5)
		test.That(t, sol.CameraMatrix[1][2], test.ShouldEqual, 239.5)
		test.That(t, sol.CameraMatrix[0][0], test.ShouldAlmostEqual, 820, 1)
	})

	t.Run("fix aspect ratio", func(t *testing.T) {
		sol, err := (&ZhangSolver{}).Calibrate(context.Background(), objectPoints, imagePoints, testSize,
			Flags{FixAspectRatio: true})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.CameraMatrix[0][0], test.ShouldEqual, sol.CameraMatrix[1][1])
		test.That(t, sol.CameraMatrix[0][0], test.ShouldAlmostEqual, 820, 1)
	})

	t.Run("zero tangential distortion", func(t *testing.T) {
		sol, err := (&ZhangSolver{}).Calibrate(context.Background(), objectPoints, imagePoints, testSize,
			Flags{ZeroTangentDist: true})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Distortion[2], test.ShouldEqual, 0)
		test.That(t, sol.Distortion[3], test.ShouldEqual, 0)
		test.That(t, sol.RMS, test.ShouldBeLessThan, 0.01)
	})

	t.Run("rational model", func(t *testing.T) {
		sol, err := (&ZhangSolver{}).Calibrate(context.Background(), objectPoints, imagePoints, testSize,
			Flags{UseRationalModel: true})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Distortion, test.ShouldHaveLength, 8)
		test.That(t, sol.RMS, test.ShouldBeLessThan, 0.05)
	})
}

func TestZhangSolverErrors(t *testing.T) {
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, nil)
	objectPoints, imagePoints := syntheticViews(board, intr, 3)
	zs := &ZhangSolver{}

	_, err := zs.Calibrate(context.Background(), objectPoints, imagePoints[:2], testSize, Flags{})
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	_, err = zs.Calibrate(context.Background(), objectPoints[:1], imagePoints[:1], testSize, Flags{})
	test.That(t, errors.Is(err, transform.ErrInsufficientImages), test.ShouldBeTrue)

	_, err = zs.Calibrate(context.Background(), objectPoints, imagePoints, transform.ImageSize{}, Flags{})
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	raised := append([]r3.Vector(nil), objectPoints[0]...)
	raised[0].Z = 5
	_, err = zs.Calibrate(context.Background(), [][]r3.Vector{raised, objectPoints[1], objectPoints[2]}, imagePoints, testSize, Flags{})
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = zs.Calibrate(ctx, objectPoints, imagePoints, testSize, Flags{})
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestCalibratorGates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, nil)
	_, imagePoints := syntheticViews(board, intr, 3)

	solver := &fakeSolver{}
	c, err := NewCalibrator(DefaultConfig(board), nil, solver, logger)
	test.That(t, err, test.ShouldBeNil)

	for n := 0; n < MinImages; n++ {
		test.That(t, c.CanCalibrate(), test.ShouldBeFalse)
		_, err := c.Calibrate(context.Background(), nil)
		test.That(t, errors.Is(err, transform.ErrInsufficientImages), test.ShouldBeTrue)
		test.That(t, c.AddDetection(detection("view", imagePoints[n])), test.ShouldBeNil)
	}
	test.That(t, c.CanCalibrate(), test.ShouldBeTrue)
	test.That(t, solver.calls, test.ShouldEqual, 0)

	c.Clear()
	test.That(t, c.NumValidImages(), test.ShouldEqual, 0)
	test.That(t, c.ImageSize().IsZero(), test.ShouldBeTrue)
	test.That(t, c.DetectionResults(), test.ShouldBeEmpty)
}

func TestCalibratorFailedDetections(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, nil)
	_, imagePoints := syntheticViews(board, intr, 3)

	c, err := NewCalibrator(DefaultConfig(board), nil, &fakeSolver{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.AddDetection(detection("a", imagePoints[0])), test.ShouldBeNil)
	test.That(t, c.AddDetection(detection("b", imagePoints[1])), test.ShouldBeNil)

	failed := chessboard.Detection{Name: "c", ImageSize: testSize, Err: transform.NewDetectionFailedError("checkerboard not found")}
	err = c.AddDetection(failed)
	test.That(t, errors.Is(err, transform.ErrDetectionFailed), test.ShouldBeTrue)

	test.That(t, c.NumValidImages(), test.ShouldEqual, 2)
	test.That(t, c.CanCalibrate(), test.ShouldBeFalse)
	_, err = c.Calibrate(context.Background(), nil)
	test.That(t, errors.Is(err, transform.ErrInsufficientImages), test.ShouldBeTrue)

	short := detection("short", imagePoints[2][:10])
	err = c.AddDetection(short)
	test.That(t, errors.Is(err, transform.ErrDetectionFailed), test.ShouldBeTrue)

	resized := detection("resized", imagePoints[2])
	resized.ImageSize = transform.ImageSize{Width: 1280, Height: 960}
	err = c.AddDetection(resized)
	test.That(t, errors.Is(err, transform.ErrImageSizeMismatch), test.ShouldBeTrue)

	results := c.DetectionResults()
	test.That(t, results, test.ShouldHaveLength, 5)
	test.That(t, errors.Is(results[4].Err, transform.ErrImageSizeMismatch), test.ShouldBeTrue)
	test.That(t, c.SuccessfulDetections(), test.ShouldHaveLength, 2)
	test.That(t, c.ImageSize(), test.ShouldResemble, testSize)
}

func TestCalibratorProgressAndResult(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, nil)
	_, imagePoints := syntheticViews(board, intr, 3)

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	c, err := NewCalibrator(DefaultConfig(board), nil, &fakeSolver{}, logger, WithClock(mock))
	test.That(t, err, test.ShouldBeNil)
	for i, pts := range imagePoints {
		test.That(t, c.AddDetection(detection(string(rune('a'+i)), pts)), test.ShouldBeNil)
	}

	type event struct {
		current, total int
		msg            string
	}
	var events []event
	res, err := c.Calibrate(context.Background(), func(current, total int, msg string) {
		events = append(events, event{current, total, msg})
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldResemble, []event{
		{0, 100, "Starting calibration..."},
		{10, 100, "Running calibration..."},
		{80, 100, "Computing per-image errors..."},
		{100, 100, "Calibration complete"},
	})
	test.That(t, res.NumImagesUsed, test.ShouldEqual, 3)
	test.That(t, res.PerImageErrors, test.ShouldHaveLength, 3)
	test.That(t, res.Intrinsic.ReprojectionError, test.ShouldEqual, 0.5)
	test.That(t, res.Intrinsic.ImageSize, test.ShouldResemble, testSize)
	test.That(t, res.Timestamp.Equal(mock.Now()), test.ShouldBeTrue)
	test.That(t, res.SoftwareVersion, test.ShouldEqual, transform.SoftwareVersion)
	test.That(t, res.HasExtrinsic(), test.ShouldBeFalse)
}

func TestCalibratorSolverFailureKeepsImages(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, nil)
	_, imagePoints := syntheticViews(board, intr, 3)

	solver := &fakeSolver{err: errors.New("no convergence")}
	c, err := NewCalibrator(DefaultConfig(board), nil, solver, logger)
	test.That(t, err, test.ShouldBeNil)
	for _, pts := range imagePoints {
		test.That(t, c.AddDetection(detection("view", pts)), test.ShouldBeNil)
	}
	_, err = c.Calibrate(context.Background(), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no convergence")
	test.That(t, c.NumValidImages(), test.ShouldEqual, 3)

	solver.err = nil
	_, err = c.Calibrate(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
}

func TestCalibrateThreeViews(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, []float64{-0.05, 0, 0, 0, 0})
	_, imagePoints := syntheticViews(board, intr, 3)

	c, err := NewCalibrator(DefaultConfig(board), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	for _, pts := range imagePoints {
		test.That(t, c.AddDetection(detection("view", pts)), test.ShouldBeNil)
	}
	res, err := c.Calibrate(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Intrinsic.Fx(), test.ShouldAlmostEqual, 800, 2)
	test.That(t, res.Intrinsic.ReprojectionError, test.ShouldBeLessThan, 0.01)
	for _, e := range res.PerImageErrors {
		test.That(t, e, test.ShouldBeLessThan, 0.01)
	}
}

func TestCalibrateRenderedImages(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	intr := trueIntrinsic(t, 800, 800, 320, 240, []float64{-0.08, 0, 0, 0, 0})

	c, err := NewCalibrator(DefaultConfig(board), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	for i, pose := range viewPoses(board, 4) {
		img, err := chessboard.RenderView(board, intr, pose)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.AddImage(string(rune('a'+i)), img), test.ShouldBeTrue)
	}
	res, err := c.Calibrate(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(res.Intrinsic.Fx()-800)/800, test.ShouldBeLessThan, 0.02)
	test.That(t, res.Intrinsic.Cx(), test.ShouldAlmostEqual, 320, 10)
	test.That(t, res.Intrinsic.ReprojectionError, test.ShouldBeLessThan, 0.3)
}

func TestNewCalibratorBoardMismatch(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board := testBoard(t)
	other, err := transform.NewCheckerboardConfig(6, 9, 20)
	test.That(t, err, test.ShouldBeNil)
	det, err := chessboard.NewDetector(chessboard.DefaultConfig(other), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewCalibrator(DefaultConfig(board), det, nil, logger)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	_, err = NewCalibrator(Config{}, nil, nil, logger)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
}
