package cli

import (
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/camcalib/calibfile"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/rimage/transform/grid"
	"go.viam.com/camcalib/rimage/transform/pnp"
)

// PoseAction solves the camera pose from checkerboard images or a correspondence CSV and stores the best
// one as the calibration's extrinsic.
func PoseAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	calPath := c.String(flagCalibration)
	res, err := calibfile.Load(calPath, calibfile.WithLogger(s.logger))
	if err != nil {
		return err
	}
	alg, err := s.cfg.PoseAlgorithm()
	if err != nil {
		return err
	}

	var results []*pnp.Result
	if path := c.String(flagCorrespondences); path != "" {
		r, err := solveCorrespondences(res.Intrinsic, alg, path)
		if err != nil {
			return err
		}
		results = append(results, r)
	} else {
		if results, err = s.solveImages(c, res.Intrinsic, alg); err != nil {
			return err
		}
	}

	best := 0
	for i, r := range results {
		if r.RMS < results[best].RMS {
			best = i
		}
	}
	renderTable(s.out, poseTable(results, best))
	printf(s.out, "%s", results[best].Summary())

	if !c.IsSet(flagOutput) {
		s.cfg.Output.Path = calPath
		if s.cfg.Output.Format == "" {
			f, err := calibfile.DetectFormat(calPath)
			if err != nil {
				return err
			}
			s.cfg.Output.Format = string(f)
		}
	}
	written, err := s.save(res.WithExtrinsic(results[best].Extrinsic), false)
	if err != nil {
		return err
	}
	pos := results[best].Extrinsic.CameraPosition()
	successf(s.out, "Pose from %s saved to %s (camera at %.2f, %.2f, %.2f)",
		results[best].Name, written[0], pos.X, pos.Y, pos.Z)
	return nil
}

func solveCorrespondences(intr *transform.CameraIntrinsic, alg pnp.Algorithm, path string) (*pnp.Result, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	corr, err := grid.ReadCorrespondencesCSV(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	img, obj := grid.Split(corr)
	r, err := pnp.Solve(intr, alg, img, obj)
	if err != nil {
		return nil, err
	}
	r.Name = filepath.Base(path)
	return r, nil
}

// solveImages detects the board in each image, lays the configured grid over its corners and solves a pose
// per image. Images that fail are reported and skipped.
func (s *session) solveImages(c *cli.Context, intr *transform.CameraIntrinsic, alg pnp.Algorithm) ([]*pnp.Result, error) {
	paths, err := imagePaths(c.Args().Slice())
	if err != nil {
		return nil, err
	}
	detector, err := s.newDetector()
	if err != nil {
		return nil, err
	}
	gridCfg, err := s.cfg.Grid.GridConfig(s.cfg.Checkerboard)
	if err != nil {
		return nil, err
	}
	points, err := grid.Generate(gridCfg)
	if err != nil {
		return nil, err
	}
	batch, err := detector.DetectBatch(c.Context, paths, nil)
	if err != nil {
		return nil, err
	}

	var results []*pnp.Result
	for _, det := range batch.Detections {
		if !det.Success() {
			warningf(s.out, "skipped %s: %v", det.Name, det.Err)
			continue
		}
		r, err := solveGrid(intr, alg, det.Corners, points, c.Float64(flagZ))
		if err != nil {
			warningf(s.out, "skipped %s: %v", det.Name, err)
			continue
		}
		r.Name = det.Name
		results = append(results, r)
	}
	if len(results) == 0 {
		return nil, transform.NewPoseSolveFailedError("no image gave a pose")
	}
	return results, nil
}

func solveGrid(intr *transform.CameraIntrinsic, alg pnp.Algorithm, corners []r2.Point, points []grid.Point, z float64) (*pnp.Result, error) {
	corr, err := grid.Pair(corners, points, z)
	if err != nil {
		return nil, err
	}
	img, obj := grid.Split(corr)
	return pnp.Solve(intr, alg, img, obj)
}
