package jobs

import (
	"context"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
)

// Summary is the result of a detection job.
type Summary = chessboard.BatchResult

// StartDetection looks for the checkerboard in every image of paths, emitting one detection per image.
// Cancelling stops the job between images; its error is then context.Canceled.
func StartDetection(ctx context.Context, detector *chessboard.Detector, paths []string, logger logging.Logger) *Job[Summary] {
	return start(ctx, "detection", logger, len(paths)+1, func(ctx context.Context, j *Job[Summary]) (Summary, error) {
		return detector.DetectEach(ctx, paths, j.progressFunc(), j.emit)
	})
}
