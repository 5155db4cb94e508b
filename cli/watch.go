package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/camcalib/jobs"
	"go.viam.com/camcalib/rimage"
)

// WatchAction calibrates from the images already in a directory and then recalibrates every time a new
// usable image lands in it, saving after each run.
func WatchAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("expected one directory to watch")
	}
	dir := c.Args().First()
	calibrator, err := s.newCalibrator()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	limit := c.Int(flagMaxImages)

	handle := func(path string) {
		if !calibrator.AddImageFile(path) {
			warningf(s.out, "no usable board in %s", path)
			return
		}
		n := calibrator.NumValidImages()
		printf(s.out, "Board found in %s (%d usable images)", path, n)
		if calibrator.CanCalibrate() {
			res, err := calibrator.Calibrate(ctx, nil)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				failuref(s.out, "calibration failed: %v", err)
			default:
				written, err := s.save(res, false)
				if err != nil {
					failuref(s.out, "saving calibration: %v", err)
					break
				}
				successf(s.out, "RMS %.4f px over %d images, saved to %s",
					res.Intrinsic.ReprojectionError, res.NumImagesUsed, written[0])
			}
		}
		if limit > 0 && n >= limit {
			cancel()
		}
	}

	existing, err := rimage.ListImages(dir)
	if err != nil {
		return err
	}
	for _, path := range existing {
		if ctx.Err() != nil {
			return nil
		}
		handle(path)
	}
	if ctx.Err() != nil {
		return nil
	}
	printf(s.out, "Watching %s for new images", dir)
	return jobs.WatchImages(ctx, dir, s.logger, handle)
}
