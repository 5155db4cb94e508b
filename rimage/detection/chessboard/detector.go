package chessboard

import (
	"context"
	"fmt"
	"image"

	"github.com/golang/geo/r2"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/utils"
)

// Config controls how a Detector finds and refines corners.
type Config struct {
	Checkerboard  transform.CheckerboardConfig
	RefineCorners bool
	Window        image.Point
	Criteria      TermCriteria
}

// DefaultConfig refines corners with DefaultSubPixWindow and DefaultTermCriteria.
func DefaultConfig(board transform.CheckerboardConfig) Config {
	return Config{
		Checkerboard:  board,
		RefineCorners: true,
		Window:        DefaultSubPixWindow,
		Criteria:      DefaultTermCriteria,
	}
}

// Detection is the outcome of looking for the checkerboard in one image.
type Detection struct {
	Name      string
	Corners   []r2.Point
	ImageSize transform.ImageSize
	Err       error
}

// Success reports whether the full pattern was found.
func (d Detection) Success() bool {
	return d.Err == nil && len(d.Corners) > 0
}

// BatchResult holds one Detection per input image, in input order.
type BatchResult struct {
	Detections   []Detection
	SuccessCount int
	Total        int
}

// Detector runs a Finder and optional Refiner over images of one checkerboard.
type Detector struct {
	cfg     Config
	finder  Finder
	refiner Refiner
	logger  logging.Logger
}

// NewDetector validates the board and returns a detector. A nil finder or refiner selects the pure Go
// SaddleFinder or SubPixRefiner; zero window or criteria select the defaults.
func NewDetector(cfg Config, finder Finder, refiner Refiner, logger logging.Logger) (*Detector, error) {
	if err := cfg.Checkerboard.CheckValid(); err != nil {
		return nil, err
	}
	if cfg.Window == (image.Point{}) {
		cfg.Window = DefaultSubPixWindow
	}
	if cfg.Window.X < 1 || cfg.Window.Y < 1 {
		return nil, transform.NewInvalidParameterError("refinement window must be positive, got %v", cfg.Window)
	}
	if cfg.Criteria == (TermCriteria{}) {
		cfg.Criteria = DefaultTermCriteria
	}
	if finder == nil {
		finder = NewSaddleFinder()
	}
	if refiner == nil {
		refiner = SubPixRefiner{}
	}
	return &Detector{cfg: cfg, finder: finder, refiner: refiner, logger: logger}, nil
}

// Config returns the detector's configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect finds the board in img. A board that is not found, or found with the wrong number of corners, gives
// ErrDetectionFailed.
func (d *Detector) Detect(name string, img image.Image) Detection {
	gray := rimage.ToGray(img)
	det := Detection{
		Name:      name,
		ImageSize: transform.ImageSize{Width: gray.Bounds().Dx(), Height: gray.Bounds().Dy()},
	}
	board := d.cfg.Checkerboard
	corners, found := d.finder.FindCorners(gray, board.PatternSize())
	if !found {
		det.Err = transform.NewDetectionFailedError("checkerboard not found")
		d.logger.Debugw("checkerboard not found", "image", name)
		return det
	}
	if len(corners) != board.NumCorners() {
		det.Err = transform.NewDetectionFailedError(
			fmt.Sprintf("expected %d corners, found %d", board.NumCorners(), len(corners)))
		d.logger.Debugw("wrong corner count", "image", name, "expected", board.NumCorners(), "found", len(corners))
		return det
	}
	if d.cfg.RefineCorners {
		corners = d.refiner.RefineCorners(gray, corners, d.cfg.Window, d.cfg.Criteria)
	}
	det.Corners = corners
	d.logger.Debugw("checkerboard found", "image", name, "corners", len(corners))
	return det
}

// DetectFile loads path and runs Detect on it. Load failures are reported in the Detection.
func (d *Detector) DetectFile(path string) Detection {
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		d.logger.Warnw("cannot load image", "image", path, "error", err)
		return Detection{Name: path, Err: err}
	}
	return d.Detect(path, img)
}

// DetectBatch runs DetectFile over paths. A failed image does not stop the batch; cancelling ctx stops it
// between images and returns the detections made so far along with the context's error.
func (d *Detector) DetectBatch(ctx context.Context, paths []string, progress utils.ProgressFunc) (BatchResult, error) {
	return d.DetectEach(ctx, paths, progress, nil)
}

// DetectEach is DetectBatch that also hands each detection to fn, if set, as soon as it is made.
func (d *Detector) DetectEach(
	ctx context.Context,
	paths []string,
	progress utils.ProgressFunc,
	fn func(Detection),
) (BatchResult, error) {
	res := BatchResult{Total: len(paths), Detections: make([]Detection, 0, len(paths))}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		progress.Report(i, len(paths), fmt.Sprintf("Detecting (%d/%d)...", i+1, len(paths)))
		det := d.DetectFile(path)
		if det.Success() {
			res.SuccessCount++
		}
		res.Detections = append(res.Detections, det)
		if fn != nil {
			fn(det)
		}
	}
	progress.Report(len(paths), len(paths), "Detection complete")
	d.logger.Infof("detected checkerboard in %d/%d images", res.SuccessCount, res.Total)
	return res, nil
}
