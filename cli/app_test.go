package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/calibfile"
	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/rimage/transform/grid"
	"go.viam.com/camcalib/spatialmath"
)

var boardArgs = []string{"--rows", "5", "--cols", "7", "--square-size", "25"}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.RunContext(context.Background(), append([]string{"camcalib", "--no-progress"}, args...))
	return out.String(), err
}

func testBoard(t *testing.T) transform.CheckerboardConfig {
	t.Helper()
	board, err := transform.NewCheckerboardConfig(5, 7, 25)
	test.That(t, err, test.ShouldBeNil)
	return board
}

func trueIntrinsic(t *testing.T) *transform.CameraIntrinsic {
	t.Helper()
	intr, err := transform.NewCameraIntrinsicFromParams(800, 800, 320, 240, nil, transform.ImageSize{Width: 640, Height: 480})
	test.That(t, err, test.ShouldBeNil)
	return intr
}

// lookAt returns the pose of a camera rotated by rvec and looking at the board center from distance.
func lookAt(board transform.CheckerboardConfig, rvec r3.Vector, distance float64) transform.CameraExtrinsic {
	center := r3.Vector{X: float64(board.Cols-1) * board.SquareSize / 2, Y: float64(board.Rows-1) * board.SquareSize / 2}
	tvec := r3.Vector{Z: distance}.Sub(spatialmath.RotationVectorToMatrix(rvec).Mul(center))
	return transform.CameraExtrinsic{RotationVector: rvec, Translation: tvec}
}

func writeView(t *testing.T, path string, board transform.CheckerboardConfig, ext transform.CameraExtrinsic) {
	t.Helper()
	img, err := chessboard.RenderView(board, trueIntrinsic(t), ext)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
}

func writeViews(t *testing.T, dir string, board transform.CheckerboardConfig, n int) []string {
	t.Helper()
	rvecs := []r3.Vector{{X: 0.3}, {X: -0.25, Y: 0.15}, {Y: 0.35, Z: 0.1}, {X: 0.2, Y: -0.3}}
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("view%02d.png", i))
		writeView(t, paths[i], board, lookAt(board, rvecs[i%len(rvecs)], 450))
	}
	return paths
}

func writeBlank(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
}

// saveCalibration writes a calibration of the true camera, posed if ext is set.
func saveCalibration(t *testing.T, path string, ext *transform.CameraExtrinsic) {
	t.Helper()
	res := transform.NewCalibrationResult(trueIntrinsic(t), testBoard(t), []float64{0.1, 0.2, 0.15}, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if ext != nil {
		res = res.WithExtrinsic(*ext)
	}
	_, err := calibfile.Save(path, res)
	test.That(t, err, test.ShouldBeNil)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	//nolint:gosec
	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	test.That(t, err, test.ShouldBeNil)
	return rows
}

func TestDetectCommand(t *testing.T) {
	dir := t.TempDir()
	board := testBoard(t)
	views := writeViews(t, dir, board, 2)
	writeBlank(t, filepath.Join(dir, "blank.png"))
	overlays := filepath.Join(t.TempDir(), "overlays")
	csvs := filepath.Join(t.TempDir(), "csv")

	args := append([]string{"detect"}, boardArgs...)
	args = append(args, "--overlay-dir", overlays, "--csv-dir", csvs, "--one-based", dir)
	out, err := runCLI(t, args...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Checkerboard found in 2 of 3 images")
	test.That(t, out, test.ShouldContainSubstring, "blank.png")

	for _, v := range views {
		_, err := os.Stat(outputName(overlays, v, "_corners.png"))
		test.That(t, err, test.ShouldBeNil)
		rows := readCSV(t, outputName(csvs, v, "_corners.csv"))
		test.That(t, rows, test.ShouldHaveLength, board.NumCorners()+1)
		test.That(t, rows[0], test.ShouldResemble, []string{"id", "x", "y"})
		test.That(t, rows[1][0], test.ShouldEqual, "1")
	}
	_, err = os.Stat(filepath.Join(csvs, "blank_corners.csv"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	_, err = runCLI(t, "detect", filepath.Join(dir, "missing.png"))
	test.That(t, errors.Is(err, rimage.ErrImageNotFound), test.ShouldBeTrue)
	_, err = runCLI(t, "detect")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibrateAndInfoCommands(t *testing.T) {
	dir := t.TempDir()
	writeViews(t, dir, testBoard(t), 4)
	writeBlank(t, filepath.Join(dir, "blank.png"))
	outDir := t.TempDir()
	calPath := filepath.Join(outDir, "camera.yaml")
	chart := filepath.Join(outDir, "errors.png")

	args := append([]string{"calibrate"}, boardArgs...)
	args = append(args, "-o", calPath, "--notes", "bench camera", "--chart", chart, dir)
	out, err := runCLI(t, args...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "skipped")
	test.That(t, out, test.ShouldContainSubstring, "Calibration saved to "+calPath)

	res, err := calibfile.Load(calPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.NumImagesUsed, test.ShouldEqual, 4)
	test.That(t, res.Notes, test.ShouldEqual, "bench camera")
	test.That(t, res.Intrinsic.Fx(), test.ShouldAlmostEqual, 800, 16)
	_, err = os.Stat(chart)
	test.That(t, err, test.ShouldBeNil)

	out, err = runCLI(t, "info", calPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "fx")
	test.That(t, out, test.ShouldContainSubstring, "640x480")

	written, err := runCLI(t, append(append([]string{"calibrate"}, boardArgs...),
		"-o", filepath.Join(outDir, "all.json"), "--all-formats", "--fix-aspect-ratio", dir)...)
	test.That(t, err, test.ShouldBeNil)
	for _, ext := range []string{".json", ".yaml", ".db"} {
		test.That(t, written, test.ShouldContainSubstring, filepath.Join(outDir, "all"+ext))
		res, err := calibfile.Load(filepath.Join(outDir, "all"+ext))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Intrinsic.Fx(), test.ShouldEqual, res.Intrinsic.Fy())
	}
}

func TestCalibrateTooFewImages(t *testing.T) {
	dir := t.TempDir()
	writeViews(t, dir, testBoard(t), 2)
	args := append([]string{"calibrate"}, boardArgs...)
	args = append(args, "-o", filepath.Join(t.TempDir(), "cal.json"), dir)
	_, err := runCLI(t, args...)
	test.That(t, errors.Is(err, transform.ErrInsufficientImages), test.ShouldBeTrue)
}

func TestPoseCommandFromImage(t *testing.T) {
	dir := t.TempDir()
	board := testBoard(t)
	calPath := filepath.Join(dir, "camera.json")
	saveCalibration(t, calPath, nil)
	view := filepath.Join(dir, "surface.png")
	writeView(t, view, board, lookAt(board, r3.Vector{X: 0.1}, 450))

	args := append([]string{"pose", "--calibration", calPath}, boardArgs...)
	out, err := runCLI(t, append(args, view)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "saved to "+calPath)

	res, err := calibfile.Load(calPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.HasExtrinsic(), test.ShouldBeTrue)
	pos := res.Extrinsic.CameraPosition()
	test.That(t, math.Abs(pos.Z), test.ShouldAlmostEqual, 450*math.Cos(0.1), 10)
	test.That(t, res.PerImageErrors, test.ShouldResemble, []float64{0.1, 0.2, 0.15})
}

func TestPoseCommandFromCorrespondences(t *testing.T) {
	dir := t.TempDir()
	board := testBoard(t)
	calPath := filepath.Join(dir, "camera.json")
	saveCalibration(t, calPath, nil)
	truth := lookAt(board, r3.Vector{X: 0.2, Y: -0.1}, 500)

	obj := board.ObjectPoints()
	pixels := transform.ProjectPoints(obj, truth, trueIntrinsic(t))
	corr := make([]grid.Correspondence, len(obj))
	for i := range obj {
		corr[i] = grid.Correspondence{ID: i, Image: pixels[i], World: obj[i]}
	}
	corrPath := filepath.Join(dir, "points.csv")
	//nolint:gosec
	f, err := os.Create(corrPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.WriteCorrespondencesCSV(f, corr), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	posed := filepath.Join(dir, "posed.yaml")
	out, err := runCLI(t, "pose", "-c", calPath, "--algorithm", "epnp", "--correspondences", corrPath, "-o", posed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "epnp")

	res, err := calibfile.Load(posed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Extrinsic.Translation.X, test.ShouldAlmostEqual, truth.Translation.X, 0.5)
	test.That(t, res.Extrinsic.Translation.Y, test.ShouldAlmostEqual, truth.Translation.Y, 0.5)
	test.That(t, res.Extrinsic.Translation.Z, test.ShouldAlmostEqual, truth.Translation.Z, 0.5)

	// the source calibration is left as it was
	orig, err := calibfile.Load(calPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, orig.HasExtrinsic(), test.ShouldBeFalse)

	_, err = runCLI(t, "pose", "-c", calPath, "--algorithm", "dlt", "--correspondences", corrPath)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "algorithm")
}

func TestCoordinateCommands(t *testing.T) {
	dir := t.TempDir()
	calPath := filepath.Join(dir, "camera.json")
	saveCalibration(t, calPath, &transform.CameraExtrinsic{Translation: r3.Vector{Z: 500}})

	out, err := runCLI(t, "world-to-pixel", "-c", calPath, "0,0,0", "50,0,0", "5000,0,0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "320.0000")
	test.That(t, out, test.ShouldContainSubstring, "400.0000")
	test.That(t, out, test.ShouldContainSubstring, "outside image")

	out, err = runCLI(t, "pixel-to-world", "-c", calPath, "--z", "0", "400,240")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "50.0000")

	_, err = runCLI(t, "pixel-to-world", "-c", calPath, "400")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runCLI(t, "world-to-pixel", "-c", calPath, "a,b,c")
	test.That(t, err, test.ShouldNotBeNil)

	bare := filepath.Join(dir, "bare.json")
	saveCalibration(t, bare, nil)
	_, err = runCLI(t, "pixel-to-world", "-c", bare, "400,240")
	test.That(t, errors.Is(err, transform.ErrMissingExtrinsic), test.ShouldBeTrue)
}

func TestGridCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.csv")
	args := append([]string{"grid"}, boardArgs...)
	args = append(args, "--origin-index", "35", "--x-axis", "-col", "--y-axis", "-row", "--one-based", "-o", path)
	out, err := runCLI(t, args...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "35 grid points")

	rows := readCSV(t, path)
	test.That(t, rows, test.ShouldHaveLength, 36)
	test.That(t, rows[0], test.ShouldResemble, []string{"id", "world_x", "world_y"})
	test.That(t, rows[35][0], test.ShouldEqual, "35")
	test.That(t, strings.TrimLeft(rows[35][1], "-"), test.ShouldEqual, "0")

	out, err = runCLI(t, append([]string{"grid"}, boardArgs...)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Count(out, "\n"), test.ShouldEqual, 36)

	_, err = runCLI(t, "grid", "--x-axis", "+col", "--y-axis", "-col")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSchemaAndTargetCommands(t *testing.T) {
	out, err := runCLI(t, "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "camera_matrix")

	path := filepath.Join(t.TempDir(), "target.png")
	out, err = runCLI(t, append(append([]string{"target"}, boardArgs...), "--px-per-square", "20", path)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "200x160")
	img, err := rimage.ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 200)
}

func TestWatchCommandStopsAtMaxImages(t *testing.T) {
	dir := t.TempDir()
	writeViews(t, dir, testBoard(t), 3)
	calPath := filepath.Join(t.TempDir(), "live.json")

	args := append([]string{"watch"}, boardArgs...)
	out, err := runCLI(t, append(args, "--max-images", "3", "-o", calPath, dir)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "3 usable images")
	test.That(t, out, test.ShouldContainSubstring, "saved to "+calPath)
	test.That(t, out, test.ShouldNotContainSubstring, "Watching")
	test.That(t, calibfile.IsValidFile(calPath), test.ShouldBeTrue)
}

func TestConfigFileAndValidation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "session.yaml")
	test.That(t, os.WriteFile(cfgPath, []byte("checkerboard:\n  rows: 4\n  cols: 6\n  square_size_mm: 10\n"), 0o600), test.ShouldBeNil)

	out, err := runCLI(t, "--config", cfgPath, "grid")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Count(out, "\n"), test.ShouldEqual, 25)
	test.That(t, out, test.ShouldContainSubstring, "\n23,50,30\n")

	_, err = runCLI(t, "grid", "--rows", "1")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "checkerboard")

	_, err = runCLI(t, "detect", "--backend", "nonesuch", dir)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
}
