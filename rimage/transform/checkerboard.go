package transform

import (
	"image"

	"github.com/golang/geo/r3"
)

// CheckerboardConfig describes a planar checkerboard target by its inner corner counts and the
// physical edge length of one square.
type CheckerboardConfig struct {
	Rows       int     `json:"rows" yaml:"rows" mapstructure:"rows"`
	Cols       int     `json:"cols" yaml:"cols" mapstructure:"cols"`
	SquareSize float64 `json:"square_size_mm" yaml:"square_size_mm" mapstructure:"square_size_mm"`
}

// DefaultCheckerboard is a 7x5 inner-corner board with 30mm squares.
var DefaultCheckerboard = CheckerboardConfig{Rows: 5, Cols: 7, SquareSize: 30}

// NewCheckerboardConfig validates and returns a checkerboard description.
func NewCheckerboardConfig(rows, cols int, squareSize float64) (CheckerboardConfig, error) {
	cfg := CheckerboardConfig{Rows: rows, Cols: cols, SquareSize: squareSize}
	if err := cfg.CheckValid(); err != nil {
		return CheckerboardConfig{}, err
	}
	return cfg, nil
}

// CheckValid errors unless both corner counts are at least 2 and the square size is positive.
func (cfg CheckerboardConfig) CheckValid() error {
	if cfg.Rows < 2 {
		return NewInvalidParameterError("rows must be >= 2, got %d", cfg.Rows)
	}
	if cfg.Cols < 2 {
		return NewInvalidParameterError("cols must be >= 2, got %d", cfg.Cols)
	}
	if !(cfg.SquareSize > 0) {
		return NewInvalidParameterError("square size must be > 0, got %v", cfg.SquareSize)
	}
	return nil
}

// PatternSize is (cols, rows), the order corner finders expect.
func (cfg CheckerboardConfig) PatternSize() image.Point {
	return image.Point{X: cfg.Cols, Y: cfg.Rows}
}

// NumCorners is the number of inner corners.
func (cfg CheckerboardConfig) NumCorners() int {
	return cfg.Rows * cfg.Cols
}

// ObjectPoints returns the board's corners on its own Z=0 plane. Columns vary fastest: corner k = j*cols+i
// is at (i*square, j*square, 0).
func (cfg CheckerboardConfig) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, cfg.NumCorners())
	for j := 0; j < cfg.Rows; j++ {
		for i := 0; i < cfg.Cols; i++ {
			pts = append(pts, r3.Vector{X: float64(i) * cfg.SquareSize, Y: float64(j) * cfg.SquareSize})
		}
	}
	return pts
}
