package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"go.viam.com/camcalib/config"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/rimage/calibrate"
	"go.viam.com/camcalib/rimage/detection/chessboard"
)

// session is what every command starts from: the resolved configuration, a logger and the output streams.
type session struct {
	cfg      *config.Config
	logger   logging.Logger
	out      io.Writer
	errOut   io.Writer
	progress bool
}

func newLogger(c *cli.Context) logging.Logger {
	debug := c.Bool(generalFlagDebug)
	if path := c.String(generalFlagLogFile); path != "" {
		return logging.NewFileLogger("camcalib", path, debug)
	}
	return logging.NewLogger("camcalib")
}

// newSession reads the config file, if any, applies command line overrides and sets up logging.
func newSession(c *cli.Context) (*session, error) {
	logger := newLogger(c)
	cfg := config.Default()
	if path := c.String(generalFlagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, err
		}
	}
	applyOverrides(c, cfg)
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}

	config.InitLoggingSettings(logger, c.Bool(generalFlagDebug), cfg)
	if !c.Bool(generalFlagDebug) && !cfg.Debug && c.String(generalFlagLogFile) == "" {
		// keep informational logs from interleaving with command output
		logger.SetLevel(zapcore.WarnLevel)
	}
	logging.ReplaceGlobal(logger)

	return &session{
		cfg:      cfg,
		logger:   logger,
		out:      c.App.Writer,
		errOut:   c.App.ErrWriter,
		progress: !c.Bool(generalFlagNoProgress),
	}, nil
}

// applyOverrides copies the flags that were set on the command line onto cfg.
func applyOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagRows) {
		cfg.Checkerboard.Rows = c.Int(flagRows)
	}
	if c.IsSet(flagCols) {
		cfg.Checkerboard.Cols = c.Int(flagCols)
	}
	if c.IsSet(flagSquareSize) {
		cfg.Checkerboard.SquareSize = c.Float64(flagSquareSize)
	}
	if c.IsSet(flagBackend) {
		cfg.Detection.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagNoRefine) {
		cfg.Detection.RefineCorners = !c.Bool(flagNoRefine)
	}
	if c.IsSet(flagAlgorithm) {
		cfg.Pose.Algorithm = c.String(flagAlgorithm)
	}
	if c.IsSet(flagFixPrincipalPoint) {
		cfg.Calibration.FixPrincipalPoint = c.Bool(flagFixPrincipalPoint)
	}
	if c.IsSet(flagFixAspectRatio) {
		cfg.Calibration.FixAspectRatio = c.Bool(flagFixAspectRatio)
	}
	if c.IsSet(flagZeroTangentDist) {
		cfg.Calibration.ZeroTangentDist = c.Bool(flagZeroTangentDist)
	}
	if c.IsSet(flagRationalModel) {
		cfg.Calibration.UseRationalModel = c.Bool(flagRationalModel)
	}
	if c.IsSet(flagOriginIndex) {
		cfg.Grid.OriginIndex = c.Int(flagOriginIndex)
	}
	if c.IsSet(flagSpacing) {
		cfg.Grid.Spacing = c.Float64(flagSpacing)
	}
	if c.IsSet(flagOriginX) {
		cfg.Grid.OriginX = c.Float64(flagOriginX)
	}
	if c.IsSet(flagOriginY) {
		cfg.Grid.OriginY = c.Float64(flagOriginY)
	}
	if c.IsSet(flagXAxis) {
		cfg.Grid.XAxis = c.String(flagXAxis)
	}
	if c.IsSet(flagYAxis) {
		cfg.Grid.YAxis = c.String(flagYAxis)
	}
	if c.IsSet(flagOutput) {
		cfg.Output.Path = c.String(flagOutput)
	}
	if c.IsSet(flagFormat) {
		cfg.Output.Format = c.String(flagFormat)
	}
	if c.IsSet(flagNotes) {
		cfg.Output.Notes = c.String(flagNotes)
	}
}

func (s *session) newProgress(steps ...*Step) *ProgressManager {
	return NewProgressManager(s.out, steps, WithProgressOutput(s.progress))
}

func (s *session) newDetector() (*chessboard.Detector, error) {
	finder, refiner, err := chessboard.NewBackend(s.cfg.Detection.Backend)
	if err != nil {
		return nil, err
	}
	return chessboard.NewDetector(s.cfg.DetectorConfig(), finder, refiner, s.logger)
}

func (s *session) newCalibrator() (*calibrate.Calibrator, error) {
	detector, err := s.newDetector()
	if err != nil {
		return nil, err
	}
	return calibrate.NewCalibrator(s.cfg.CalibratorConfig(), detector, nil, s.logger)
}

// imagePaths expands args into image files. Directories contribute their supported images.
func imagePaths(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("no images given")
	}
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrap(rimage.ErrImageNotFound, arg)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := rimage.ListImages(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no supported images in %v", args)
	}
	return paths, nil
}

// outputName returns a path in dir named after image with suffix in place of its extension.
func outputName(dir, image, suffix string) string {
	base := filepath.Base(image)
	return filepath.Join(dir, base[:len(base)-len(filepath.Ext(base))]+suffix)
}
