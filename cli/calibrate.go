package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/camcalib/calibfile"
	"go.viam.com/camcalib/jobs"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform"
)

// CalibrateAction runs an intrinsic calibration over the given images and saves the result.
func CalibrateAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	paths, err := imagePaths(c.Args().Slice())
	if err != nil {
		return err
	}
	calibrator, err := s.newCalibrator()
	if err != nil {
		return err
	}

	pm := s.newProgress(
		&Step{ID: "calibrate", Message: "Calibrating camera"},
		&Step{ID: "run", Message: "Detecting corners and fitting the camera model", IndentLevel: 1},
		&Step{ID: "save", Message: "Saving calibration", IndentLevel: 1},
	)
	defer pm.Stop()
	_ = pm.Start("calibrate") //nolint:errcheck

	job := jobs.StartCalibration(c.Context, calibrator, paths, s.logger)
	res, err := followJob(pm, "run", job)
	for _, det := range calibrator.DetectionResults() {
		if !det.Success() {
			warningf(s.out, "skipped %s: %v", det.Name, det.Err)
		}
	}
	if err != nil {
		return err
	}

	printf(s.out, "%s", res.Summary())
	names := lo.Map(calibrator.SuccessfulDetections(), func(d chessboard.Detection, _ int) string { return d.Name })
	renderTable(s.out, perImageTable(names, res.PerImageErrors))

	_ = pm.Start("save") //nolint:errcheck
	written, err := s.save(res, c.Bool(flagAllFormats))
	if err != nil {
		_ = pm.Fail("save", err) //nolint:errcheck
		return err
	}
	_ = pm.Complete("save") //nolint:errcheck
	for _, path := range written {
		successf(s.out, "Calibration saved to %s", path)
	}

	if path := c.String(flagChart); path != "" {
		if err := writeErrorChart(path, names, res.PerImageErrors); err != nil {
			return err
		}
		printf(s.out, "Error chart written to %s", path)
	}
	_ = pm.CompleteWithMessage("calibrate", "Calibration finished") //nolint:errcheck
	return nil
}

// save writes res to the configured output, or in every format next to it when all is set.
func (s *session) save(res *transform.CalibrationResult, all bool) ([]string, error) {
	opts := []calibfile.Option{calibfile.WithLogger(s.logger)}
	if s.cfg.Output.Notes != "" {
		opts = append(opts, calibfile.WithNotes(s.cfg.Output.Notes))
	}
	if all {
		return calibfile.SaveAll(s.cfg.Output.Path, res, opts...)
	}
	if s.cfg.Output.Format == "" {
		path, err := calibfile.Save(s.cfg.Output.Path, res, opts...)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
	f, err := calibfile.ParseFormat(s.cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	if err := calibfile.SaveAs(s.cfg.Output.Path, f, res, opts...); err != nil {
		return nil, err
	}
	return []string{s.cfg.Output.Path}, nil
}

func perImageTable(names []string, errs []float64) table.Writer {
	t := newTable("#", "Image", "RMS (px)")
	for i, e := range errs {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		t.AppendRow(table.Row{i + 1, name, formatFloat(e)})
	}
	return t
}
