package jobs

import (
	"context"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/calibrate"
	"go.viam.com/camcalib/rimage/transform"
)

// StartCalibration adds every image of paths to calibrator and, if enough were usable, calibrates. Images
// report "Processing: <path>" progress and a detection each; calibration then reports its milestones.
func StartCalibration(
	ctx context.Context,
	calibrator *calibrate.Calibrator,
	paths []string,
	logger logging.Logger,
) *Job[*transform.CalibrationResult] {
	return start(ctx, "calibration", logger, len(paths)+1,
		func(ctx context.Context, j *Job[*transform.CalibrationResult]) (*transform.CalibrationResult, error) {
			before := len(calibrator.DetectionResults())
			_, err := calibrator.AddImages(ctx, paths, j.progressFunc())
			for _, det := range calibrator.DetectionResults()[before:] {
				j.emit(det)
			}
			if err != nil {
				return nil, err
			}
			if !calibrator.CanCalibrate() {
				return nil, transform.NewInsufficientImagesError(calibrator.NumValidImages(), calibrate.MinImages)
			}
			return calibrator.Calibrate(ctx, j.progressFunc())
		})
}
