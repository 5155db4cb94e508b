// Package config defines the file that configures a camcalib session: the board, how corners are found,
// which camera model is fitted, how a pose is solved, how the work surface grid is laid out and where
// results go.
package config

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/camcalib/calibfile"
	"go.viam.com/camcalib/rimage/calibrate"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/rimage/transform/grid"
	"go.viam.com/camcalib/rimage/transform/pnp"
)

// Config is a full session configuration. Zero sections are filled from Default when read from a file.
type Config struct {
	ConfigFilePath string `json:"-" mapstructure:"-"`

	Debug        bool                         `json:"debug" mapstructure:"debug"`
	Checkerboard transform.CheckerboardConfig `json:"checkerboard" mapstructure:"checkerboard"`
	Detection    Detection                    `json:"detection" mapstructure:"detection"`
	Calibration  calibrate.Flags              `json:"calibration" mapstructure:"calibration"`
	Pose         Pose                         `json:"pose" mapstructure:"pose"`
	Grid         Grid                         `json:"grid" mapstructure:"grid"`
	Output       Output                       `json:"output" mapstructure:"output"`
}

// Detection configures the corner detector.
type Detection struct {
	RefineCorners bool `json:"refine_corners" mapstructure:"refine_corners"`
	// Window is the half size of the sub-pixel search window.
	Window        int     `json:"window" mapstructure:"window"`
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
	Epsilon       float64 `json:"epsilon" mapstructure:"epsilon"`
	Backend       string  `json:"backend" mapstructure:"backend"`
}

// Pose configures the extrinsic solve.
type Pose struct {
	Algorithm string `json:"algorithm" mapstructure:"algorithm"`
}

// Grid lays out physical coordinates over the board's corners.
type Grid struct {
	OriginIndex int     `json:"origin_index" mapstructure:"origin_index"`
	Spacing     float64 `json:"spacing" mapstructure:"spacing"`
	OriginX     float64 `json:"origin_x" mapstructure:"origin_x"`
	OriginY     float64 `json:"origin_y" mapstructure:"origin_y"`
	XAxis       string  `json:"x_axis" mapstructure:"x_axis"`
	YAxis       string  `json:"y_axis" mapstructure:"y_axis"`
}

// Output says where calibration results are written.
type Output struct {
	Path   string `json:"path" mapstructure:"path"`
	Format string `json:"format" mapstructure:"format"`
	Notes  string `json:"notes" mapstructure:"notes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Checkerboard: transform.DefaultCheckerboard,
		Detection: Detection{
			RefineCorners: true,
			Window:        chessboard.DefaultSubPixWindow.X,
			MaxIterations: chessboard.DefaultTermCriteria.MaxIterations,
			Epsilon:       chessboard.DefaultTermCriteria.Epsilon,
			Backend:       chessboard.BackendSaddle,
		},
		Pose: Pose{Algorithm: string(pnp.Iterative)},
		Grid: Grid{
			OriginIndex: 1,
			XAxis:       string(grid.PlusCol),
			YAxis:       string(grid.PlusRow),
		},
		Output: Output{Path: "calibration.json"},
	}
}

// Validate returns the first problem found, naming the offending field relative to path.
func (cfg *Config) Validate(path string) error {
	if err := cfg.Checkerboard.CheckValid(); err != nil {
		return utils.NewConfigValidationError(join(path, "checkerboard"), err)
	}
	if err := cfg.Detection.Validate(join(path, "detection")); err != nil {
		return err
	}
	if err := cfg.Pose.Validate(join(path, "pose")); err != nil {
		return err
	}
	if err := cfg.Grid.Validate(join(path, "grid"), cfg.Checkerboard); err != nil {
		return err
	}
	return cfg.Output.Validate(join(path, "output"))
}

// Validate checks the detector settings.
func (d *Detection) Validate(path string) error {
	if d.Window < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("window must be >= 1, got %d", d.Window))
	}
	if d.MaxIterations < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_iterations must be >= 1, got %d", d.MaxIterations))
	}
	if !(d.Epsilon > 0) {
		return utils.NewConfigValidationError(path, errors.Errorf("epsilon must be > 0, got %v", d.Epsilon))
	}
	if _, _, err := chessboard.NewBackend(d.Backend); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Validate checks the pose algorithm name.
func (p *Pose) Validate(path string) error {
	if p.Algorithm == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "algorithm")
	}
	if _, err := pnp.ParseAlgorithm(p.Algorithm); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Validate checks the grid against the board it will be laid over.
func (g *Grid) Validate(path string, board transform.CheckerboardConfig) error {
	cfg, err := g.GridConfig(board)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if err := cfg.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Validate checks that an output path is set and, when given, the format name.
func (o *Output) Validate(path string) error {
	if o.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if o.Format != "" {
		if _, err := calibfile.ParseFormat(o.Format); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

// DetectorConfig returns the corner detector configuration.
func (cfg *Config) DetectorConfig() chessboard.Config {
	return chessboard.Config{
		Checkerboard:  cfg.Checkerboard,
		RefineCorners: cfg.Detection.RefineCorners,
		Window:        image.Pt(cfg.Detection.Window, cfg.Detection.Window),
		Criteria: chessboard.TermCriteria{
			MaxIterations: cfg.Detection.MaxIterations,
			Epsilon:       cfg.Detection.Epsilon,
		},
	}
}

// CalibratorConfig returns the intrinsic calibration configuration.
func (cfg *Config) CalibratorConfig() calibrate.Config {
	return calibrate.Config{
		Checkerboard:  cfg.Checkerboard,
		Flags:         cfg.Calibration,
		RefineCorners: cfg.Detection.RefineCorners,
	}
}

// PoseAlgorithm returns the configured pose solving family.
func (cfg *Config) PoseAlgorithm() (pnp.Algorithm, error) {
	return pnp.ParseAlgorithm(cfg.Pose.Algorithm)
}

// GridConfig returns the grid for board. A zero spacing uses the board's square size.
func (g *Grid) GridConfig(board transform.CheckerboardConfig) (grid.Config, error) {
	xAxis, err := grid.ParseDirection(g.XAxis)
	if err != nil {
		return grid.Config{}, errors.Wrap(err, "x_axis")
	}
	yAxis, err := grid.ParseDirection(g.YAxis)
	if err != nil {
		return grid.Config{}, errors.Wrap(err, "y_axis")
	}
	spacing := g.Spacing
	if spacing == 0 {
		spacing = board.SquareSize
	}
	return grid.Config{
		Rows:        board.Rows,
		Cols:        board.Cols,
		OriginIndex: g.OriginIndex,
		Spacing:     spacing,
		Origin:      r2.Point{X: g.OriginX, Y: g.OriginY},
		XAxis:       xAxis,
		YAxis:       yAxis,
	}, nil
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
