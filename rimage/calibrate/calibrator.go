package calibrate

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/utils"
)

// MinImages is the number of views with a detected board that calibration requires.
const MinImages = 3

// Config describes the board and how the camera model is constrained.
type Config struct {
	Checkerboard  transform.CheckerboardConfig
	Flags         Flags
	RefineCorners bool
}

// DefaultConfig refines corners and leaves the camera model unconstrained.
func DefaultConfig(board transform.CheckerboardConfig) Config {
	return Config{Checkerboard: board, RefineCorners: true}
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithClock sets the clock that timestamps results.
func WithClock(clk clock.Clock) Option {
	return func(c *Calibrator) {
		c.clock = clk
	}
}

// Calibrator accumulates checkerboard detections from several images and calibrates the camera from them.
// It is safe for concurrent use, but calibrations do not run concurrently.
type Calibrator struct {
	cfg      Config
	detector *chessboard.Detector
	solver   Solver
	logger   logging.Logger
	clock    clock.Clock

	mu          sync.Mutex
	calibrating sync.Mutex
	names       []string
	imagePoints [][]r2.Point
	detections  []chessboard.Detection
	imageSize   transform.ImageSize
}

// NewCalibrator returns a calibrator for cfg's board. A nil detector builds a pure Go one from cfg and a nil
// solver selects ZhangSolver.
func NewCalibrator(cfg Config, detector *chessboard.Detector, solver Solver, logger logging.Logger, opts ...Option) (*Calibrator, error) {
	if err := cfg.Checkerboard.CheckValid(); err != nil {
		return nil, err
	}
	if detector == nil {
		detCfg := chessboard.DefaultConfig(cfg.Checkerboard)
		detCfg.RefineCorners = cfg.RefineCorners
		var err error
		if detector, err = chessboard.NewDetector(detCfg, nil, nil, logger.Sublogger("detector")); err != nil {
			return nil, err
		}
	} else if detector.Config().Checkerboard != cfg.Checkerboard {
		return nil, transform.NewInvalidParameterError("detector board %+v does not match calibration board %+v",
			detector.Config().Checkerboard, cfg.Checkerboard)
	}
	if solver == nil {
		solver = &ZhangSolver{}
	}
	c := &Calibrator{cfg: cfg, detector: detector, solver: solver, logger: logger, clock: clock.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the calibrator's configuration.
func (c *Calibrator) Config() Config {
	return c.cfg
}

// AddImage detects the board in img and keeps its corners on success. Failures are logged and recorded in
// DetectionResults.
func (c *Calibrator) AddImage(name string, img image.Image) bool {
	return c.record(c.detector.Detect(name, img))
}

// AddImageFile is AddImage for an image on disk.
func (c *Calibrator) AddImageFile(path string) bool {
	return c.record(c.detector.DetectFile(path))
}

// AddImages adds every path in order and returns how many were accepted. Cancelling ctx stops between
// images.
func (c *Calibrator) AddImages(ctx context.Context, paths []string, progress utils.ProgressFunc) (int, error) {
	added := 0
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		progress.Report(i, len(paths), fmt.Sprintf("Processing: %s", path))
		if c.AddImageFile(path) {
			added++
		}
	}
	progress.Report(len(paths), len(paths), "Processing complete")
	return added, nil
}

// AddDetection stores precomputed corners. Unlike AddImage it returns why a detection was rejected; the
// detection is recorded either way.
func (c *Calibrator) AddDetection(d chessboard.Detection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(d)
}

func (c *Calibrator) record(d chessboard.Detection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(d) == nil
}

func (c *Calibrator) addLocked(d chessboard.Detection) error {
	err := d.Err
	if err == nil && len(d.Corners) != c.cfg.Checkerboard.NumCorners() {
		err = transform.NewDetectionFailedError(
			fmt.Sprintf("expected %d corners, found %d", c.cfg.Checkerboard.NumCorners(), len(d.Corners)))
	}
	if err == nil && !c.imageSize.IsZero() && d.ImageSize != c.imageSize {
		err = transform.NewImageSizeMismatchError(c.imageSize, d.ImageSize)
	}
	if err != nil {
		d.Err = err
		d.Corners = nil
		c.detections = append(c.detections, d)
		c.logger.Warnw("failed to add image", "image", d.Name, "error", err)
		return err
	}
	if c.imageSize.IsZero() {
		c.imageSize = d.ImageSize
	}
	c.detections = append(c.detections, d)
	c.names = append(c.names, d.Name)
	c.imagePoints = append(c.imagePoints, append([]r2.Point(nil), d.Corners...))
	c.logger.Infof("added image %s (%d total)", d.Name, len(c.imagePoints))
	return nil
}

// NumValidImages is the number of images whose corners are kept.
func (c *Calibrator) NumValidImages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.imagePoints)
}

// CanCalibrate reports whether at least MinImages images are kept.
func (c *Calibrator) CanCalibrate() bool {
	return c.NumValidImages() >= MinImages
}

// ImageSize is the size of the first accepted image, or zero if none has been accepted.
func (c *Calibrator) ImageSize() transform.ImageSize {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageSize
}

// Clear discards every kept image, detection and the image size.
func (c *Calibrator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = nil
	c.imagePoints = nil
	c.detections = nil
	c.imageSize = transform.ImageSize{}
	c.logger.Info("calibrator cleared")
}

// DetectionResults returns every detection recorded so far, successful or not.
func (c *Calibrator) DetectionResults() []chessboard.Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chessboard.Detection(nil), c.detections...)
}

// SuccessfulDetections returns the detections whose corners are kept.
func (c *Calibrator) SuccessfulDetections() []chessboard.Detection {
	return lo.Filter(c.DetectionResults(), func(d chessboard.Detection, _ int) bool { return d.Success() })
}

// Calibrate solves for the camera model from the kept images and reports each image's reprojection error,
// the L2 norm of its residuals divided by the number of corners. The kept images are not modified.
func (c *Calibrator) Calibrate(ctx context.Context, progress utils.ProgressFunc) (*transform.CalibrationResult, error) {
	c.calibrating.Lock()
	defer c.calibrating.Unlock()

	c.mu.Lock()
	imagePoints := append([][]r2.Point(nil), c.imagePoints...)
	size := c.imageSize
	c.mu.Unlock()

	if len(imagePoints) < MinImages {
		return nil, transform.NewInsufficientImagesError(len(imagePoints), MinImages)
	}
	progress.Report(0, 100, "Starting calibration...")
	obj := c.cfg.Checkerboard.ObjectPoints()
	objectPoints := lo.Times(len(imagePoints), func(int) []r3.Vector { return obj })

	progress.Report(10, 100, "Running calibration...")
	start := c.clock.Now()
	sol, err := c.solver.Calibrate(ctx, objectPoints, imagePoints, size, c.cfg.Flags)
	if err != nil {
		return nil, errors.Wrap(err, "calibration failed")
	}
	if len(sol.Poses) != len(imagePoints) {
		return nil, errors.Errorf("solver returned %d poses for %d images", len(sol.Poses), len(imagePoints))
	}
	intr, err := transform.NewCameraIntrinsic(sol.CameraMatrix, sol.Distortion, size, sol.RMS)
	if err != nil {
		return nil, errors.Wrap(err, "solver returned an invalid camera model")
	}

	progress.Report(80, 100, "Computing per-image errors...")
	perImage := make([]float64, len(imagePoints))
	for i, pts := range imagePoints {
		if perImage[i], err = transform.ViewError(pts, transform.ProjectPoints(obj, sol.Poses[i], intr)); err != nil {
			return nil, err
		}
	}
	progress.Report(100, 100, "Calibration complete")
	c.logger.Infow("calibration complete",
		"rms", sol.RMS, "images", len(imagePoints), "duration", c.clock.Since(start).String())
	return transform.NewCalibrationResult(intr, c.cfg.Checkerboard, perImage, c.clock.Now()), nil
}

// CalibrateFromImages runs a default calibration of board over paths.
func CalibrateFromImages(
	ctx context.Context,
	paths []string,
	board transform.CheckerboardConfig,
	logger logging.Logger,
	progress utils.ProgressFunc,
) (*transform.CalibrationResult, error) {
	c, err := NewCalibrator(DefaultConfig(board), nil, nil, logger)
	if err != nil {
		return nil, err
	}
	if _, err := c.AddImages(ctx, paths, progress); err != nil {
		return nil, err
	}
	return c.Calibrate(ctx, progress)
}
