package cli

import (
	"image"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/camcalib/jobs"
	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform/grid"
)

// DetectAction looks for the checkerboard in every image and reports which ones it was found in.
func DetectAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	paths, err := imagePaths(c.Args().Slice())
	if err != nil {
		return err
	}
	detector, err := s.newDetector()
	if err != nil {
		return err
	}

	pm := s.newProgress(
		&Step{ID: "detect", Message: "Detecting checkerboards"},
		&Step{ID: "images", Message: "Reading images", IndentLevel: 1},
	)
	defer pm.Stop()
	_ = pm.Start("detect") //nolint:errcheck
	summary, err := followJob(pm, "images", jobs.StartDetection(c.Context, detector, paths, s.logger))
	if err != nil {
		return err
	}

	pattern := s.cfg.Checkerboard.PatternSize()
	t := newTable("#", "Image", "Found", "Corners", "Size", "Error")
	for i, det := range summary.Detections {
		found, errText := "yes", ""
		if !det.Success() {
			found = "no"
			if det.Err != nil {
				errText = det.Err.Error()
			}
		}
		t.AppendRow(table.Row{i + 1, det.Name, found, len(det.Corners), det.ImageSize.String(), errText})
	}
	renderTable(s.out, t)

	if dir := c.String(flagOverlayDir); dir != "" {
		if err := writeOverlays(dir, pattern, summary.Detections); err != nil {
			return err
		}
		printf(s.out, "Overlays written to %s", dir)
	}
	if dir := c.String(flagCSVDir); dir != "" {
		if err := writeCornerCSVs(dir, summary.Detections, c.Bool(flagOneBased)); err != nil {
			return err
		}
		printf(s.out, "Corners written to %s", dir)
	}

	switch {
	case summary.SuccessCount == summary.Total:
		successf(s.out, "Checkerboard found in all %d images", summary.Total)
	case summary.SuccessCount == 0:
		failuref(s.out, "Checkerboard not found in any of %d images", summary.Total)
	default:
		warningf(s.out, "Checkerboard found in %d of %d images", summary.SuccessCount, summary.Total)
	}
	_ = pm.CompleteWithMessage("detect", "Detection finished") //nolint:errcheck
	return nil
}

// writeOverlays draws each detection on its image. Images that could not be read are skipped.
func writeOverlays(dir string, pattern image.Point, dets []chessboard.Detection) error {
	var errs error
	for _, det := range dets {
		img, err := rimage.ReadImageFromFile(det.Name)
		if err != nil {
			continue
		}
		overlay := chessboard.DrawCorners(img, pattern, det.Corners, det.Success())
		errs = multierr.Append(errs, rimage.WriteImageToFile(outputName(dir, det.Name, "_corners.png"), overlay))
	}
	return errs
}

// writeCornerCSVs writes the corners of every successful detection to its own CSV file.
func writeCornerCSVs(dir string, dets []chessboard.Detection, oneBased bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	var errs error
	for _, det := range dets {
		if !det.Success() {
			continue
		}
		errs = multierr.Append(errs, writeCornerCSV(outputName(dir, det.Name, "_corners.csv"), det, oneBased))
	}
	return errs
}

func writeCornerCSV(path string, det chessboard.Detection, oneBased bool) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return grid.WriteCornersCSV(f, det.Corners, oneBased)
}
