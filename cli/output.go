package cli

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	fcolor "github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/rimage/transform/pnp"
)

var (
	okColor   = fcolor.New(fcolor.FgGreen)
	warnColor = fcolor.New(fcolor.FgYellow)
	failColor = fcolor.New(fcolor.FgRed)
)

// printf prints a line to w.
func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...)
}

func successf(w io.Writer, format string, a ...interface{}) {
	okColor.Fprintf(w, "✓ "+format+"\n", a...) //nolint:errcheck
}

func warningf(w io.Writer, format string, a ...interface{}) {
	warnColor.Fprintf(w, "! "+format+"\n", a...) //nolint:errcheck
}

func failuref(w io.Writer, format string, a ...interface{}) {
	failColor.Fprintf(w, "✗ "+format+"\n", a...) //nolint:errcheck
}

func newTable(header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func renderTable(w io.Writer, t table.Writer) {
	printf(w, "%s", t.Render())
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// poseTable lists pose solves, marking the one kept.
func poseTable(results []*pnp.Result, best int) table.Writer {
	t := newTable("", "Image", "Algorithm", "Points", "RMS (px)", "Mean", "Max", "Min")
	for i, res := range results {
		mark := ""
		if i == best {
			mark = "*"
		}
		t.AppendRow(table.Row{
			mark, res.Name, res.Algorithm, res.NumPoints,
			formatFloat(res.RMS), formatFloat(res.MeanError), formatFloat(res.MaxError), formatFloat(res.MinError),
		})
	}
	return t
}

// intrinsicTable shows the camera model of res.
func intrinsicTable(res *transform.CalibrationResult) table.Writer {
	intr := res.Intrinsic
	t := newTable("Parameter", "Value")
	t.AppendRow(table.Row{"Image size", intr.ImageSize.String()})
	t.AppendRow(table.Row{"fx", formatFloat(intr.Fx())})
	t.AppendRow(table.Row{"fy", formatFloat(intr.Fy())})
	t.AppendRow(table.Row{"cx", formatFloat(intr.Cx())})
	t.AppendRow(table.Row{"cy", formatFloat(intr.Cy())})
	coeffs := make([]string, 0, len(intr.DistortionCoefficients()))
	for _, c := range intr.DistortionCoefficients() {
		coeffs = append(coeffs, fmt.Sprintf("%.6f", c))
	}
	t.AppendRow(table.Row{"Distortion", strings.Join(coeffs, " ")})
	t.AppendRow(table.Row{"RMS error (px)", formatFloat(intr.ReprojectionError)})
	if res.HasExtrinsic() {
		pos := res.Extrinsic.CameraPosition()
		t.AppendRow(table.Row{"Camera position", fmt.Sprintf("%.2f %.2f %.2f", pos.X, pos.Y, pos.Z)})
	}
	return t
}

// writeErrorChart draws a bar per image error and saves it to path. The format follows the extension.
func writeErrorChart(path string, names []string, errs []float64) error {
	if len(errs) == 0 {
		return errors.New("no per image errors to chart")
	}
	p := plot.New()
	p.Title.Text = "Reprojection error per image"
	p.Y.Label.Text = "RMS (px)"

	bars, err := plotter.NewBarChart(plotter.Values(errs), vg.Points(14))
	if err != nil {
		return err
	}
	bars.Color = color.RGBA{R: 66, G: 133, B: 244, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	labels := make([]string, len(errs))
	for i := range labels {
		if i < len(names) && names[i] != "" {
			labels[i] = filepath.Base(names[i])
		} else {
			labels[i] = fmt.Sprintf("#%d", i+1)
		}
	}
	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = 0.6
	p.X.Tick.Label.XAlign = -1

	width := vg.Length(len(errs))*0.6*vg.Inch + 2*vg.Inch
	return p.Save(width, 4*vg.Inch, path)
}
