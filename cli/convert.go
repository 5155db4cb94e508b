package cli

import (
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/camcalib/calibfile"
	"go.viam.com/camcalib/rimage/transform"
)

// parseTuple splits "a,b,..." into exactly n numbers.
func parseTuple(arg string, n int) ([]float64, error) {
	fields := strings.Split(arg, ",")
	if len(fields) != n {
		return nil, errors.Errorf("%q: expected %d comma separated numbers", arg, n)
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := cast.ToFloat64E(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrapf(err, "%q", arg)
		}
		out[i] = v
	}
	return out, nil
}

func (s *session) transformer(c *cli.Context) (*transform.CoordinateTransformer, error) {
	res, err := calibfile.Load(c.String(flagCalibration), calibfile.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	return transform.NewCoordinateTransformerFromResult(res)
}

// PixelToWorldAction maps pixel coordinates to the world plane Z=--z.
func PixelToWorldAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return errors.New("no pixels given")
	}
	pixels := make([]r2.Point, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		v, err := parseTuple(arg, 2)
		if err != nil {
			return err
		}
		pixels = append(pixels, r2.Point{X: v[0], Y: v[1]})
	}
	ct, err := s.transformer(c)
	if err != nil {
		return err
	}

	world, err := ct.PixelToWorld(pixels, c.Float64(flagZ))
	if world == nil {
		return err
	}
	t := newTable("u", "v", "X", "Y", "Z")
	for i, p := range pixels {
		w := world[i]
		if math.IsNaN(w.X) {
			t.AppendRow(table.Row{formatFloat(p.X), formatFloat(p.Y), "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{formatFloat(p.X), formatFloat(p.Y), formatFloat(w.X), formatFloat(w.Y), formatFloat(w.Z)})
	}
	renderTable(s.out, t)
	for _, pointErr := range multierr.Errors(err) {
		warningf(s.out, "%v", pointErr)
	}
	return nil
}

// WorldToPixelAction projects world points into the calibrated image.
func WorldToPixelAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return errors.New("no world points given")
	}
	points := make([]r3.Vector, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		v, err := parseTuple(arg, 3)
		if err != nil {
			return err
		}
		points = append(points, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
	}
	ct, err := s.transformer(c)
	if err != nil {
		return err
	}

	pixels, err := ct.WorldToPixel(points)
	if err != nil {
		return err
	}
	size := ct.Intrinsic().ImageSize
	t := newTable("X", "Y", "Z", "u", "v", "")
	for i, w := range points {
		p := pixels[i]
		note := ""
		if !size.IsZero() && (p.X < 0 || p.Y < 0 || p.X > float64(size.Width-1) || p.Y > float64(size.Height-1)) {
			note = "outside image"
		}
		t.AppendRow(table.Row{formatFloat(w.X), formatFloat(w.Y), formatFloat(w.Z), formatFloat(p.X), formatFloat(p.Y), note})
	}
	renderTable(s.out, t)
	return nil
}
