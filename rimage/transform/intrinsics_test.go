package transform

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func testIntrinsic(t *testing.T, dist []float64) *CameraIntrinsic {
	t.Helper()
	intr, err := NewCameraIntrinsicFromParams(1000, 1000, 500, 500, dist, ImageSize{Width: 1000, Height: 1000})
	test.That(t, err, test.ShouldBeNil)
	return intr
}

func TestCheckerboardConfig(t *testing.T) {
	board, err := NewCheckerboardConfig(5, 7, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, board.NumCorners(), test.ShouldEqual, 35)
	test.That(t, board.PatternSize().X, test.ShouldEqual, 7)
	test.That(t, board.PatternSize().Y, test.ShouldEqual, 5)

	pts := board.ObjectPoints()
	test.That(t, len(pts), test.ShouldEqual, 35)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{X: 5})
	test.That(t, pts[7], test.ShouldResemble, r3.Vector{Y: 5})
	test.That(t, pts[34], test.ShouldResemble, r3.Vector{X: 30, Y: 20})

	for _, bad := range []CheckerboardConfig{{1, 7, 5}, {5, 1, 5}, {5, 7, 0}, {5, 7, -3}} {
		_, err := NewCheckerboardConfig(bad.Rows, bad.Cols, bad.SquareSize)
		test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
	}
}

func TestNewCameraIntrinsic(t *testing.T) {
	intr := testIntrinsic(t, nil)
	test.That(t, intr.Fx(), test.ShouldEqual, 1000.)
	test.That(t, intr.Cy(), test.ShouldEqual, 500.)
	test.That(t, intr.Distortion, test.ShouldResemble, []float64{0, 0, 0, 0, 0})
	test.That(t, intr.Matrix().At(0, 2), test.ShouldEqual, 500.)

	intr = testIntrinsic(t, []float64{0.1, 0.01, 0, 0})
	test.That(t, len(intr.DistortionCoefficients()), test.ShouldEqual, NumBrownConradyCoeffs)
	intr = testIntrinsic(t, []float64{0.1, 0.01, 0, 0, 0, 0.02, 0, 0})
	test.That(t, intr.Coefficients().ModelType(), test.ShouldEqual, RationalDistortionType)

	_, err := NewCameraIntrinsicFromParams(0, 1000, 500, 500, nil, ImageSize{})
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
	_, err = NewCameraIntrinsicFromParams(1000, 1000, 500, 500, []float64{1, 2, 3}, ImageSize{})
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
	_, err = NewCameraIntrinsic([3][3]float64{{1000, 0, 500}, {0, 1000, 500}, {0, 0, 2}}, nil, ImageSize{}, 0)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)

	var missing *CameraIntrinsic
	test.That(t, errors.Is(missing.CheckValid(), ErrInvalidParameter), test.ShouldBeTrue)
}

func TestPixelNormalizedRoundTrip(t *testing.T) {
	for _, dist := range [][]float64{
		nil,
		{-0.2, 0.05, 0.001, -0.001, 0},
		{0.1, -0.02, 0.0005, 0.0005, 0.001},
		{0.1, 0.01, 0, 0, 0, 0.05, 0.01, 0},
	} {
		intr := testIntrinsic(t, dist)
		for y := 0.; y <= 1000; y += 125 {
			for x := 0.; x <= 1000; x += 125 {
				p := r2.Point{X: x, Y: y}
				back := intr.NormalizedToPixel(intr.PixelToNormalized(p))
				test.That(t, back.Sub(p).Norm(), test.ShouldBeLessThan, 1e-3)
			}
		}
	}
}

func TestDistortionZero(t *testing.T) {
	bc, err := NewBrownConrady(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.IsZero(), test.ShouldBeTrue)
	x, y := bc.Distort(0.3, -0.2)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, -0.2)

	_, err = NewBrownConrady([]float64{1, 2, 3, 4, 5, 6})
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
}

func TestCameraExtrinsic(t *testing.T) {
	ext := CameraExtrinsic{RotationVector: r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}, Translation: r3.Vector{X: 10, Y: -5, Z: 400}}
	w := r3.Vector{X: 12, Y: 34, Z: 5}
	back := ext.CameraToWorld(ext.WorldToCamera(w))
	test.That(t, back.Sub(w).Norm(), test.ShouldBeLessThan, 1e-9)

	// the camera center maps to the camera frame origin
	c := ext.WorldToCamera(ext.CameraPosition())
	test.That(t, c.Norm(), test.ShouldBeLessThan, 1e-9)

	tm := ext.TransformationMatrix()
	test.That(t, tm.At(2, 3), test.ShouldEqual, 400.)
	test.That(t, tm.At(3, 3), test.ShouldEqual, 1.)

	same := NewCameraExtrinsicFromRotationMatrix(ext.RotationMatrix(), ext.Translation)
	test.That(t, same.RotationVector.Sub(ext.RotationVector).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestCalibrationResult(t *testing.T) {
	intr := testIntrinsic(t, nil)
	board, err := NewCheckerboardConfig(5, 7, 30)
	test.That(t, err, test.ShouldBeNil)
	res := NewCalibrationResult(intr, board, []float64{0.1, 0.2, 0.3}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	test.That(t, res.NumImagesUsed, test.ShouldEqual, 3)
	test.That(t, res.SoftwareVersion, test.ShouldEqual, "1.0.0")
	test.That(t, res.HasExtrinsic(), test.ShouldBeFalse)

	withPose := res.WithExtrinsic(CameraExtrinsic{Translation: r3.Vector{Z: 100}})
	test.That(t, withPose.HasExtrinsic(), test.ShouldBeTrue)
	test.That(t, res.HasExtrinsic(), test.ShouldBeFalse)
	withPose.PerImageErrors[0] = 9
	test.That(t, res.PerImageErrors[0], test.ShouldEqual, 0.1)

	summary := withPose.WithNotes("bench camera").Summary()
	for _, want := range []string{
		"Camera Calibration Result",
		"Timestamp: 2024-01-02 03:04:05",
		"Focal Length: fx=1000.00, fy=1000.00",
		"Pattern: 7 x 5",
		"Extrinsic Parameters:",
		"Notes: bench camera",
		"Images Used: 3",
	} {
		test.That(t, summary, test.ShouldContainSubstring, want)
	}
	test.That(t, strings.Contains(res.Summary(), "Extrinsic"), test.ShouldBeFalse)
}

func TestViewError(t *testing.T) {
	obs := []r2.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}
	proj := []r2.Point{{X: 3, Y: 4}, {X: 10, Y: 0}}
	e, err := ViewError(obs, proj)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e, test.ShouldAlmostEqual, 2.5)

	d, err := PointDistances(obs, proj)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, RMS(d), test.ShouldAlmostEqual, 5/math.Sqrt2)

	_, err = ViewError(obs, proj[:1])
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
}
