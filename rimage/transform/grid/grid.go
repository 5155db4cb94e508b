// Package grid maps checkerboard corners to physical coordinates on a work surface whose axes need not line
// up with the board's rows and columns.
package grid

import (
	"image"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/rimage/transform"
)

// Direction names the board direction that a physical axis follows.
type Direction string

// The four grid directions. Columns are counted along a row.
const (
	PlusCol  Direction = "+col"
	MinusCol Direction = "-col"
	PlusRow  Direction = "+row"
	MinusRow Direction = "-row"
)

// ParseDirection accepts +col, -col, +row and -row, with column as a synonym for col.
func ParseDirection(s string) (Direction, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.Replace(norm, "column", "col", 1)
	switch d := Direction(norm); d {
	case PlusCol, MinusCol, PlusRow, MinusRow:
		return d, nil
	default:
		return "", transform.NewInvalidParameterError("unknown grid direction %q", s)
	}
}

// unit returns the step in (column, row) index space that one unit along d represents.
func (d Direction) unit() (float64, float64, error) {
	switch d {
	case PlusCol:
		return 1, 0, nil
	case MinusCol:
		return -1, 0, nil
	case PlusRow:
		return 0, 1, nil
	case MinusRow:
		return 0, -1, nil
	default:
		return 0, 0, transform.NewInvalidParameterError("unknown grid direction %q", string(d))
	}
}

// Config places a rows x cols grid of points in a physical frame.
type Config struct {
	Rows int `json:"rows" mapstructure:"rows"`
	Cols int `json:"cols" mapstructure:"cols"`
	// OriginIndex is the 1-based corner index, in row-major order, that sits at Origin.
	OriginIndex int       `json:"origin_index" mapstructure:"origin_index"`
	Spacing     float64   `json:"spacing" mapstructure:"spacing"`
	Origin      r2.Point  `json:"origin"`
	XAxis       Direction `json:"x_axis" mapstructure:"x_axis"`
	YAxis       Direction `json:"y_axis" mapstructure:"y_axis"`
}

// Validate checks the grid dimensions, origin index, spacing and axis names, and that the axes are not
// parallel.
func (cfg Config) Validate() error {
	if cfg.Rows < 1 || cfg.Cols < 1 {
		return transform.NewInvalidParameterError("grid must have at least one row and column, got %dx%d", cfg.Cols, cfg.Rows)
	}
	if cfg.OriginIndex < 1 || cfg.OriginIndex > cfg.Rows*cfg.Cols {
		return transform.NewInvalidParameterError("origin index must be in [1, %d], got %d", cfg.Rows*cfg.Cols, cfg.OriginIndex)
	}
	if !(cfg.Spacing > 0) || math.IsInf(cfg.Spacing, 0) {
		return transform.NewInvalidParameterError("spacing must be > 0, got %v", cfg.Spacing)
	}
	if _, _, err := cfg.XAxis.unit(); err != nil {
		return errors.Wrap(err, "x axis")
	}
	if _, _, err := cfg.YAxis.unit(); err != nil {
		return errors.Wrap(err, "y axis")
	}
	if math.Abs(cfg.determinant()) < 1e-10 {
		return errors.Wrapf(transform.ErrDegenerateAxes, "x axis %s and y axis %s", cfg.XAxis, cfg.YAxis)
	}
	return nil
}

// determinant of the matrix whose columns are the x and y axis steps in index space.
func (cfg Config) determinant() float64 {
	uxi, uxj, _ := cfg.XAxis.unit()
	uyi, uyj, _ := cfg.YAxis.unit()
	return uxi*uyj - uyi*uxj
}

// Point is one generated grid point.
type Point struct {
	ID       int         `json:"id"`
	Grid     image.Point `json:"grid"`
	Physical r2.Point    `json:"physical"`
}

// Generate returns the physical coordinates of every grid point in row-major order, so that point k
// corresponds to detected corner k.
func Generate(cfg Config) ([]Point, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	uxi, uxj, _ := cfg.XAxis.unit()
	uyi, uyj, _ := cfg.YAxis.unit()
	det := cfg.determinant()
	inv11, inv12 := uyj/det, -uyi/det
	inv21, inv22 := -uxj/det, uxi/det

	i0 := (cfg.OriginIndex - 1) % cfg.Cols
	j0 := (cfg.OriginIndex - 1) / cfg.Cols
	out := make([]Point, 0, cfg.Rows*cfg.Cols)
	for j := 0; j < cfg.Rows; j++ {
		for i := 0; i < cfg.Cols; i++ {
			di, dj := float64(i-i0), float64(j-j0)
			a := inv11*di + inv12*dj
			b := inv21*di + inv22*dj
			out = append(out, Point{
				ID:       j*cfg.Cols + i + 1,
				Grid:     image.Point{X: i, Y: j},
				Physical: r2.Point{X: cfg.Origin.X + a*cfg.Spacing, Y: cfg.Origin.Y + b*cfg.Spacing},
			})
		}
	}
	return out, nil
}
