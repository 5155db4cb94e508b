package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ImageSize is an image's pixel dimensions.
type ImageSize struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (s ImageSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether no size was recorded.
func (s ImageSize) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// CameraIntrinsic is a calibrated pinhole model: the 3x3 camera matrix K, lens distortion coefficients in
// OpenCV order, the image size the calibration was made at and its RMS reprojection error in pixels.
type CameraIntrinsic struct {
	CameraMatrix      [3][3]float64
	Distortion        []float64
	ImageSize         ImageSize
	ReprojectionError float64
}

// NewCameraIntrinsic validates and returns an intrinsic model. Missing distortion values are padded
// with zeros.
func NewCameraIntrinsic(k [3][3]float64, distortion []float64, size ImageSize, rms float64) (*CameraIntrinsic, error) {
	model, err := NewBrownConrady(distortion)
	if err != nil {
		return nil, err
	}
	intr := &CameraIntrinsic{
		CameraMatrix:      k,
		Distortion:        model.Parameters(),
		ImageSize:         size,
		ReprojectionError: rms,
	}
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	return intr, nil
}

// NewCameraIntrinsicFromParams builds a zero-skew intrinsic model from focal lengths and principal point.
func NewCameraIntrinsicFromParams(fx, fy, cx, cy float64, distortion []float64, size ImageSize) (*CameraIntrinsic, error) {
	return NewCameraIntrinsic([3][3]float64{{fx, 0, cx}, {0, fy, cy}, {0, 0, 1}}, distortion, size, 0)
}

// CheckValid errors unless K has positive focal lengths and a [0 0 1] last row and the distortion
// vector has a supported length.
func (intr *CameraIntrinsic) CheckValid() error {
	if intr == nil {
		return NewInvalidParameterError("intrinsic parameters not provided")
	}
	k := intr.CameraMatrix
	if !(k[0][0] > 0) || !(k[1][1] > 0) {
		return NewInvalidParameterError("focal lengths must be positive, got fx=%v fy=%v", k[0][0], k[1][1])
	}
	if k[1][0] != 0 || k[2][0] != 0 || k[2][1] != 0 || k[2][2] != 1 {
		return NewInvalidParameterError("camera matrix must be upper triangular with K[2][2]=1")
	}
	if intr.ImageSize.Width < 0 || intr.ImageSize.Height < 0 {
		return NewInvalidParameterError("invalid image size %s", intr.ImageSize)
	}
	if _, err := NewBrownConrady(intr.Distortion); err != nil {
		return err
	}
	return nil
}

// Fx is the horizontal focal length in pixels.
func (intr *CameraIntrinsic) Fx() float64 { return intr.CameraMatrix[0][0] }

// Fy is the vertical focal length in pixels.
func (intr *CameraIntrinsic) Fy() float64 { return intr.CameraMatrix[1][1] }

// Cx is the principal point's x coordinate.
func (intr *CameraIntrinsic) Cx() float64 { return intr.CameraMatrix[0][2] }

// Cy is the principal point's y coordinate.
func (intr *CameraIntrinsic) Cy() float64 { return intr.CameraMatrix[1][2] }

// Skew is K[0][1], normally zero.
func (intr *CameraIntrinsic) Skew() float64 { return intr.CameraMatrix[0][1] }

// Matrix returns a copy of K as a gonum Dense.
func (intr *CameraIntrinsic) Matrix() *mat.Dense {
	k := intr.CameraMatrix
	return mat.NewDense(3, 3, []float64{
		k[0][0], k[0][1], k[0][2],
		k[1][0], k[1][1], k[1][2],
		k[2][0], k[2][1], k[2][2],
	})
}

// Coefficients returns the lens distortion. Invalid coefficients, which CheckValid rejects, yield the
// identity model.
func (intr *CameraIntrinsic) Coefficients() *BrownConrady {
	model, err := NewBrownConrady(intr.Distortion)
	if err != nil {
		return &BrownConrady{}
	}
	return model
}

// DistortionCoefficients returns the distortion vector padded to its model's length.
func (intr *CameraIntrinsic) DistortionCoefficients() []float64 {
	return intr.Coefficients().Parameters()
}

// PixelToNormalized removes K and lens distortion from a pixel, giving a point on the camera's Z=1 plane.
func (intr *CameraIntrinsic) PixelToNormalized(p r2.Point) r2.Point {
	return intr.pixelToNormalized(intr.Coefficients(), p)
}

func (intr *CameraIntrinsic) pixelToNormalized(model *BrownConrady, p r2.Point) r2.Point {
	yd := (p.Y - intr.Cy()) / intr.Fy()
	xd := (p.X - intr.Cx() - intr.Skew()*yd) / intr.Fx()
	x, y := model.Undistort(xd, yd)
	return r2.Point{X: x, Y: y}
}

// NormalizedToPixel applies lens distortion and then K.
func (intr *CameraIntrinsic) NormalizedToPixel(p r2.Point) r2.Point {
	return intr.normalizedToPixel(intr.Coefficients(), p)
}

func (intr *CameraIntrinsic) normalizedToPixel(model *BrownConrady, p r2.Point) r2.Point {
	xd, yd := model.Distort(p.X, p.Y)
	return r2.Point{
		X: intr.Fx()*xd + intr.Skew()*yd + intr.Cx(),
		Y: intr.Fy()*yd + intr.Cy(),
	}
}

// ProjectCameraPoint projects a point given in camera coordinates to a pixel.
func (intr *CameraIntrinsic) ProjectCameraPoint(p r3.Vector) r2.Point {
	return intr.NormalizedToPixel(r2.Point{X: p.X / p.Z, Y: p.Y / p.Z})
}
