//go:build opencv

package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
)

// BackendOpenCV selects OpenCVFinder and OpenCVRefiner.
const BackendOpenCV = "opencv"

func init() {
	RegisterBackend(BackendOpenCV, func() (Finder, Refiner) { return OpenCVFinder{}, OpenCVRefiner{} })
}

// OpenCVFinder finds chessboards with OpenCV's findChessboardCorners.
type OpenCVFinder struct{}

// FindCorners implements Finder.
func (OpenCVFinder) FindCorners(gray *image.Gray, pattern image.Point) ([]r2.Point, bool) {
	src, err := grayToMat(gray)
	if err != nil {
		return nil, false
	}
	defer src.Close()
	corners := gocv.NewMat()
	defer corners.Close()

	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage | gocv.CalibCBFastCheck
	if !gocv.FindChessboardCorners(src, pattern, &corners, flags) {
		return nil, false
	}
	return matToPoints(corners), true
}

// OpenCVRefiner refines corners with OpenCV's cornerSubPix.
type OpenCVRefiner struct{}

// RefineCorners implements Refiner.
func (OpenCVRefiner) RefineCorners(gray *image.Gray, corners []r2.Point, window image.Point, criteria TermCriteria) []r2.Point {
	src, err := grayToMat(gray)
	if err != nil {
		return corners
	}
	defer src.Close()
	pts := gocv.NewMatWithSize(len(corners), 1, gocv.MatTypeCV32FC2)
	defer pts.Close()
	for i, c := range corners {
		pts.SetFloatAt(i, 0, float32(c.X))
		pts.SetFloatAt(i, 1, float32(c.Y))
	}
	tc := gocv.NewTermCriteria(gocv.Count+gocv.EPS, criteria.MaxIterations, criteria.Epsilon)
	gocv.CornerSubPix(src, &pts, window, image.Pt(-1, -1), tc)
	return matToPoints(pts)
}

func grayToMat(gray *image.Gray) (gocv.Mat, error) {
	b := gray.Bounds()
	buf := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := gray.PixOffset(b.Min.X, y)
		buf = append(buf, gray.Pix[off:off+b.Dx()]...)
	}
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8U, buf)
}

func matToPoints(m gocv.Mat) []r2.Point {
	out := make([]r2.Point, m.Rows())
	for i := range out {
		v := m.GetVecfAt(i, 0)
		out[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
	}
	return out
}
