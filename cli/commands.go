package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/camcalib/calibfile"
	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform/grid"
)

// GridAction writes the physical coordinate of every corner of the configured grid as CSV.
func GridAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	cfg, err := s.cfg.Grid.GridConfig(s.cfg.Checkerboard)
	if err != nil {
		return err
	}
	points, err := grid.Generate(cfg)
	if err != nil {
		return err
	}

	var w io.Writer = s.out
	if path := c.String(flagOutput); path != "" {
		//nolint:gosec
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer goutils.UncheckedErrorFunc(f.Close)
		w = f
	}
	if err := grid.WriteWorldCSV(w, points, c.Bool(flagOneBased)); err != nil {
		return err
	}
	if path := c.String(flagOutput); path != "" {
		successf(s.out, "%d grid points written to %s", len(points), path)
	}
	return nil
}

// InfoAction prints a calibration file's contents.
func InfoAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("expected one calibration file")
	}
	res, err := calibfile.Load(c.Args().First(), calibfile.WithLogger(s.logger))
	if err != nil {
		return err
	}
	printf(s.out, "%s", res.Summary())
	renderTable(s.out, intrinsicTable(res))
	if len(res.PerImageErrors) > 0 {
		renderTable(s.out, perImageTable(nil, res.PerImageErrors))
	}
	if path := c.String(flagChart); path != "" {
		if err := writeErrorChart(path, nil, res.PerImageErrors); err != nil {
			return err
		}
		printf(s.out, "Error chart written to %s", path)
	}
	return nil
}

// SchemaAction prints the JSON schema calibration files follow.
func SchemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(calibfile.Schema(), "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

// TargetAction renders a printable board image.
func TargetAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("expected one output image path")
	}
	img, err := chessboard.RenderTarget(s.cfg.Checkerboard, c.Int(flagPixels))
	if err != nil {
		return err
	}
	path := c.Args().First()
	if err := rimage.WriteImageToFile(path, img); err != nil {
		return err
	}
	b := img.Bounds()
	successf(s.out, "%dx%d board (%d x %d inner corners) written to %s",
		b.Dx(), b.Dy(), s.cfg.Checkerboard.Cols, s.cfg.Checkerboard.Rows, path)
	return nil
}
