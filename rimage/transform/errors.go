package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds produced by calibration and coordinate transformation. Callers should compare with
// errors.Is; the returned errors wrap these with context.
var (
	// ErrDetectionFailed means a checkerboard was not found or had the wrong number of corners.
	ErrDetectionFailed = errors.New("checkerboard detection failed")
	// ErrInsufficientImages means too few usable images were accumulated to calibrate.
	ErrInsufficientImages = errors.New("insufficient calibration images")
	// ErrPoseSolveFailed means no pose could be found for a correspondence set.
	ErrPoseSolveFailed = errors.New("pose solve failed")
	// ErrDegenerateAxes means the two chosen grid axes are parallel.
	ErrDegenerateAxes = errors.New("degenerate grid axes")
	// ErrMissingExtrinsic means a world-space operation was called without a camera pose.
	ErrMissingExtrinsic = errors.New("extrinsic parameters required for world coordinate conversion")
	// ErrRayParallelToPlane means a pixel ray never meets the requested world plane.
	ErrRayParallelToPlane = errors.New("camera ray is parallel to the target plane")
	// ErrFileFormat means a calibration file could not be read or written.
	ErrFileFormat = errors.New("invalid calibration file")
	// ErrInvalidParameter means a constructor or operation received invalid input.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrImageSizeMismatch means an image does not match the size of the images already accepted.
	ErrImageSizeMismatch = errors.New("image size mismatch")
)

// NewDetectionFailedError is used when the corner detector rejects an image.
func NewDetectionFailedError(reason string) error {
	return errors.Wrap(ErrDetectionFailed, reason)
}

// NewInsufficientImagesError is used when calibrating with fewer than need images.
func NewInsufficientImagesError(have, need int) error {
	return errors.Wrapf(ErrInsufficientImages, "need at least %d valid images, have %d", need, have)
}

// NewPoseSolveFailedError is used when a pose solver cannot produce a pose.
func NewPoseSolveFailedError(reason string) error {
	return errors.Wrap(ErrPoseSolveFailed, reason)
}

// NewFileFormatError is used when a calibration file is malformed or cannot be written. path may be empty
// for in-memory documents.
func NewFileFormatError(path, reason string) error {
	if path == "" {
		return errors.Wrap(ErrFileFormat, reason)
	}
	return errors.Wrapf(ErrFileFormat, "%s: %s", path, reason)
}

// NewInvalidParameterError is used when input fails validation.
func NewInvalidParameterError(format string, args ...interface{}) error {
	return errors.Wrap(ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// NewImageSizeMismatchError is used when an image differs from the size established by earlier images.
func NewImageSizeMismatchError(expected, actual ImageSize) error {
	return errors.Wrapf(ErrImageSizeMismatch, "expected %s, got %s", expected, actual)
}

// PointError attaches the index of the offending point to a per-point failure.
type PointError struct {
	Index int
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("point %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *PointError) Unwrap() error {
	return e.Err
}
