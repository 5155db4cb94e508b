package chessboard

import (
	"context"
	"image"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/rimage/transform"
)

var testPose = transform.CameraExtrinsic{
	RotationVector: r3.Vector{X: 0.15, Y: -0.1, Z: 0.05},
	Translation:    r3.Vector{X: -75, Y: -50, Z: 600},
}

func testSetup(t *testing.T) (transform.CheckerboardConfig, *transform.CameraIntrinsic) {
	t.Helper()
	board, err := transform.NewCheckerboardConfig(5, 7, 25)
	test.That(t, err, test.ShouldBeNil)
	intr, err := transform.NewCameraIntrinsicFromParams(800, 800, 320, 240, nil, transform.ImageSize{Width: 640, Height: 480})
	test.That(t, err, test.ShouldBeNil)
	return board, intr
}

func renderTestView(t *testing.T) (transform.CheckerboardConfig, *image.Gray, []r2.Point) {
	t.Helper()
	board, intr := testSetup(t)
	img, err := RenderView(board, intr, testPose)
	test.That(t, err, test.ShouldBeNil)
	return board, img, transform.ProjectPoints(board.ObjectPoints(), testPose, intr)
}

func maxCornerError(t *testing.T, got, want []r2.Point) float64 {
	t.Helper()
	test.That(t, len(got), test.ShouldEqual, len(want))
	worst := 0.
	for i := range got {
		if d := got[i].Sub(want[i]).Norm(); d > worst {
			worst = d
		}
	}
	return worst
}

type fakeFinder struct {
	corners []r2.Point
	found   bool
}

func (f fakeFinder) FindCorners(*image.Gray, image.Point) ([]r2.Point, bool) {
	return f.corners, f.found
}

func gridPoints(pattern image.Point, origin, dx, dy r2.Point) []r2.Point {
	var out []r2.Point
	for j := 0; j < pattern.Y; j++ {
		for i := 0; i < pattern.X; i++ {
			out = append(out, origin.Add(dx.Mul(float64(i))).Add(dy.Mul(float64(j))))
		}
	}
	return out
}

func TestFitGrid(t *testing.T) {
	pattern := image.Point{X: 6, Y: 4}
	want := gridPoints(pattern, r2.Point{X: 100, Y: 80}, r2.Point{X: 30, Y: 2}, r2.Point{X: -3, Y: 28})

	t.Run("shuffled", func(t *testing.T) {
		shuffled := append([]r2.Point(nil), want...)
		rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got, ok := fitGrid(shuffled, pattern, DefaultSaddleConf.MaxPointDist)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, maxCornerError(t, got, want), test.ShouldBeLessThan, 1e-9)
	})

	t.Run("upside down", func(t *testing.T) {
		reversed := make([]r2.Point, len(want))
		for i, p := range want {
			reversed[len(want)-1-i] = p
		}
		got, ok := fitGrid(reversed, pattern, DefaultSaddleConf.MaxPointDist)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got[0], test.ShouldResemble, want[0])
	})

	t.Run("noisy", func(t *testing.T) {
		rng := rand.New(rand.NewSource(2))
		noisy := make([]r2.Point, len(want))
		for i, p := range want {
			noisy[i] = p.Add(r2.Point{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5})
		}
		got, ok := fitGrid(noisy, pattern, DefaultSaddleConf.MaxPointDist)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, maxCornerError(t, got, want), test.ShouldBeLessThan, 1)
	})

	t.Run("missing corner", func(t *testing.T) {
		_, ok := fitGrid(want[1:], pattern, DefaultSaddleConf.MaxPointDist)
		test.That(t, ok, test.ShouldBeFalse)
	})

	t.Run("wrong pattern", func(t *testing.T) {
		_, ok := fitGrid(want, image.Point{X: 4, Y: 6}, DefaultSaddleConf.MaxPointDist)
		test.That(t, ok, test.ShouldBeFalse)
	})
}

func TestConvexHull(t *testing.T) {
	pts := []r2.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 0, Y: 2}, {X: 1, Y: 0}}
	hull := convexHull(pts)
	test.That(t, len(hull), test.ShouldEqual, 4)
	quad, ok := largestHullQuad(pts)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, quad, test.ShouldHaveLength, 4)
	_, ok = largestHullQuad(pts[:3])
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSaddlePoints(t *testing.T) {
	board, img, want := renderTestView(t)
	saddles, err := GetSaddlePoints(img, &DefaultSaddleConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(saddles), test.ShouldBeGreaterThanOrEqualTo, board.NumCorners())
	for i := 1; i < len(saddles); i++ {
		test.That(t, saddles[i].Score, test.ShouldBeLessThanOrEqualTo, saddles[i-1].Score)
	}
	pts := make([]r2.Point, len(saddles))
	for i, s := range saddles {
		pts[i] = s.Point
	}
	for _, w := range want {
		_, d := getMinSaddleDistance(pts, w)
		test.That(t, d, test.ShouldBeLessThan, 1.5)
	}

	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	saddles, err = GetSaddlePoints(blank, &DefaultSaddleConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saddles, test.ShouldBeEmpty)
}

func TestSaddleFinder(t *testing.T) {
	board, img, want := renderTestView(t)
	corners, ok := NewSaddleFinder().FindCorners(img, board.PatternSize())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, maxCornerError(t, corners, want), test.ShouldBeLessThan, 1.5)

	_, ok = NewSaddleFinder().FindCorners(img, image.Point{X: 8, Y: 5})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSubPixRefiner(t *testing.T) {
	_, img, want := renderTestView(t)
	start := make([]r2.Point, len(want))
	for i, w := range want {
		start[i] = w.Add(r2.Point{X: 1.5, Y: -1.2})
	}
	refined := SubPixRefiner{}.RefineCorners(img, start, DefaultSubPixWindow, DefaultTermCriteria)
	test.That(t, maxCornerError(t, refined, want), test.ShouldBeLessThan, 0.2)

	// a corner in a flat region has no gradients and stays put
	flat := image.NewGray(image.Rect(0, 0, 64, 64))
	p := []r2.Point{{X: 32, Y: 32}}
	test.That(t, SubPixRefiner{}.RefineCorners(flat, p, DefaultSubPixWindow, DefaultTermCriteria), test.ShouldResemble, p)
}

func TestDetect(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board, img, want := renderTestView(t)
	d, err := NewDetector(DefaultConfig(board), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	det := d.Detect("view", img)
	test.That(t, det.Err, test.ShouldBeNil)
	test.That(t, det.Success(), test.ShouldBeTrue)
	test.That(t, det.ImageSize, test.ShouldResemble, transform.ImageSize{Width: 640, Height: 480})
	test.That(t, maxCornerError(t, det.Corners, want), test.ShouldBeLessThan, 0.2)

	det = d.Detect("blank", image.NewGray(image.Rect(0, 0, 320, 240)))
	test.That(t, det.Success(), test.ShouldBeFalse)
	test.That(t, errors.Is(det.Err, transform.ErrDetectionFailed), test.ShouldBeTrue)
}

func TestDetectWrongCornerCount(t *testing.T) {
	board, _ := testSetup(t)
	finder := fakeFinder{corners: []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}, found: true}
	d, err := NewDetector(DefaultConfig(board), finder, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	det := d.Detect("short", image.NewGray(image.Rect(0, 0, 10, 10)))
	test.That(t, errors.Is(det.Err, transform.ErrDetectionFailed), test.ShouldBeTrue)
	test.That(t, det.Err.Error(), test.ShouldContainSubstring, "expected 35 corners, found 3")
	test.That(t, det.Corners, test.ShouldBeNil)
}

func TestNewDetectorValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewDetector(Config{}, nil, nil, logger)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	board, _ := testSetup(t)
	cfg := DefaultConfig(board)
	cfg.Window = image.Point{X: -1, Y: 3}
	_, err = NewDetector(cfg, nil, nil, logger)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	d, err := NewDetector(Config{Checkerboard: board}, nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Config().Window, test.ShouldResemble, DefaultSubPixWindow)
	test.That(t, d.Config().Criteria, test.ShouldResemble, DefaultTermCriteria)
}

func TestDetectBatch(t *testing.T) {
	logger := logging.NewTestLogger(t)
	board, img, _ := renderTestView(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "board.png")
	blank := filepath.Join(dir, "blank.png")
	test.That(t, rimage.WriteImageToFile(good, img), test.ShouldBeNil)
	test.That(t, rimage.WriteImageToFile(blank, image.NewGray(image.Rect(0, 0, 200, 100))), test.ShouldBeNil)
	missing := filepath.Join(dir, "missing.png")

	d, err := NewDetector(DefaultConfig(board), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	var messages []string
	var lastCurrent int
	res, err := d.DetectBatch(context.Background(), []string{good, blank, missing}, func(current, total int, msg string) {
		test.That(t, total, test.ShouldEqual, 3)
		lastCurrent = current
		messages = append(messages, msg)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Total, test.ShouldEqual, 3)
	test.That(t, res.SuccessCount, test.ShouldEqual, 1)
	test.That(t, res.Detections, test.ShouldHaveLength, 3)
	test.That(t, res.Detections[0].Success(), test.ShouldBeTrue)
	test.That(t, errors.Is(res.Detections[1].Err, transform.ErrDetectionFailed), test.ShouldBeTrue)
	test.That(t, errors.Is(res.Detections[2].Err, rimage.ErrImageNotFound), test.ShouldBeTrue)
	test.That(t, messages, test.ShouldResemble, []string{
		"Detecting (1/3)...", "Detecting (2/3)...", "Detecting (3/3)...", "Detection complete",
	})
	test.That(t, lastCurrent, test.ShouldEqual, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err = d.DetectBatch(ctx, []string{good, blank}, nil)
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, res.Detections, test.ShouldBeEmpty)
}

func TestDrawCorners(t *testing.T) {
	board, img, want := renderTestView(t)
	drawn := DrawCorners(img, board.PatternSize(), want, true)
	test.That(t, drawn.Bounds(), test.ShouldResemble, img.Bounds())

	changed := false
	bounds := drawn.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y && !changed; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := drawn.At(x, y).RGBA()
			if r != g || g != b {
				changed = true
				break
			}
		}
	}
	test.That(t, changed, test.ShouldBeTrue)

	notFound := DrawCorners(img, board.PatternSize(), want[:3], false)
	test.That(t, notFound.Bounds(), test.ShouldResemble, img.Bounds())
}

func TestRenderTarget(t *testing.T) {
	board, _ := testSetup(t)
	img, err := RenderTarget(board, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 200)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 160)
	// margin is white, first square is black
	test.That(t, img.GrayAt(5, 5).Y, test.ShouldEqual, uint8(255))
	test.That(t, img.GrayAt(25, 25).Y, test.ShouldEqual, uint8(0))

	corners, ok := NewSaddleFinder().FindCorners(img, board.PatternSize())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, corners[0].X, test.ShouldAlmostEqual, 39.5, 1.5)

	_, err = RenderTarget(board, 0)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
	test.That(t, strings.Contains(err.Error(), "pixels per square"), test.ShouldBeTrue)
}

func TestBackends(t *testing.T) {
	test.That(t, Backends(), test.ShouldContain, BackendSaddle)

	finder, refiner, err := NewBackend("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, finder, test.ShouldHaveSameTypeAs, &SaddleFinder{})
	test.That(t, refiner, test.ShouldHaveSameTypeAs, SubPixRefiner{})

	_, _, err = NewBackend("Saddle")
	test.That(t, err, test.ShouldBeNil)

	_, _, err = NewBackend("hough")
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "saddle")

	test.That(t, func() { RegisterBackend(BackendSaddle, nil) }, test.ShouldPanic)
}
