package transform

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/utils"
)

// parallelRayEpsilon is the smallest |r_w.z| for which a ray is considered to meet a Z plane.
const parallelRayEpsilon = 1e-12

// CoordinateTransformer converts points between pixel, normalized image, camera and world frames for one
// calibrated camera. The extrinsic may be replaced at any time; each call works on a snapshot of it.
type CoordinateTransformer struct {
	intrinsic *CameraIntrinsic

	mu        sync.RWMutex
	extrinsic *CameraExtrinsic
}

// NewCoordinateTransformer returns a transformer for intr. ext may be nil, in which case only the
// pixel and camera frame conversions are available until SetExtrinsic is called.
func NewCoordinateTransformer(intr *CameraIntrinsic, ext *CameraExtrinsic) (*CoordinateTransformer, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	ct := &CoordinateTransformer{intrinsic: intr}
	ct.SetExtrinsic(ext)
	return ct, nil
}

// NewCoordinateTransformerFromResult returns a transformer using a calibration result's models.
func NewCoordinateTransformerFromResult(res *CalibrationResult) (*CoordinateTransformer, error) {
	if res == nil {
		return nil, NewInvalidParameterError("calibration result not provided")
	}
	return NewCoordinateTransformer(res.Intrinsic, res.Extrinsic)
}

// Intrinsic returns the camera's intrinsic model.
func (ct *CoordinateTransformer) Intrinsic() *CameraIntrinsic {
	return ct.intrinsic
}

// Extrinsic returns a copy of the current pose, or nil.
func (ct *CoordinateTransformer) Extrinsic() *CameraExtrinsic {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	if ct.extrinsic == nil {
		return nil
	}
	ext := *ct.extrinsic
	return &ext
}

// SetExtrinsic replaces the pose. nil removes it.
func (ct *CoordinateTransformer) SetExtrinsic(ext *CameraExtrinsic) {
	var cp *CameraExtrinsic
	if ext != nil {
		e := *ext
		cp = &e
	}
	ct.mu.Lock()
	ct.extrinsic = cp
	ct.mu.Unlock()
}

// HasExtrinsic reports whether world frame conversions are available.
func (ct *CoordinateTransformer) HasExtrinsic() bool {
	return ct.Extrinsic() != nil
}

func (ct *CoordinateTransformer) requireExtrinsic() (CameraExtrinsic, error) {
	ext := ct.Extrinsic()
	if ext == nil {
		return CameraExtrinsic{}, ErrMissingExtrinsic
	}
	return *ext, nil
}

// PixelToNormalized undistorts pixels onto the camera's Z=1 plane.
func (ct *CoordinateTransformer) PixelToNormalized(pixels []r2.Point) []r2.Point {
	model := ct.intrinsic.Coefficients()
	out := make([]r2.Point, len(pixels))
	for i, p := range pixels {
		out[i] = ct.intrinsic.pixelToNormalized(model, p)
	}
	return out
}

// PixelToNormalizedPoint is PixelToNormalized for a single pixel.
func (ct *CoordinateTransformer) PixelToNormalizedPoint(p r2.Point) r2.Point {
	return ct.intrinsic.PixelToNormalized(p)
}

// NormalizedToPixel distorts normalized points and maps them through K.
func (ct *CoordinateTransformer) NormalizedToPixel(points []r2.Point) []r2.Point {
	model := ct.intrinsic.Coefficients()
	out := make([]r2.Point, len(points))
	for i, p := range points {
		out[i] = ct.intrinsic.normalizedToPixel(model, p)
	}
	return out
}

// NormalizedToPixelPoint is NormalizedToPixel for a single point.
func (ct *CoordinateTransformer) NormalizedToPixelPoint(p r2.Point) r2.Point {
	return ct.intrinsic.NormalizedToPixel(p)
}

// PixelToCameraRay returns the unit direction, in camera coordinates, of the ray through each pixel.
func (ct *CoordinateTransformer) PixelToCameraRay(pixels []r2.Point) []r3.Vector {
	normalized := ct.PixelToNormalized(pixels)
	out := make([]r3.Vector, len(normalized))
	for i, n := range normalized {
		out[i] = r3.Vector{X: n.X, Y: n.Y, Z: 1}.Normalize()
	}
	return out
}

// PixelToCameraRayPoint is PixelToCameraRay for a single pixel.
func (ct *CoordinateTransformer) PixelToCameraRayPoint(p r2.Point) r3.Vector {
	return ct.PixelToCameraRay([]r2.Point{p})[0]
}

// CameraToWorld maps camera frame points into the world frame.
func (ct *CoordinateTransformer) CameraToWorld(points []r3.Vector) ([]r3.Vector, error) {
	ext, err := ct.requireExtrinsic()
	if err != nil {
		return nil, err
	}
	rm := ext.RotationMatrix()
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = rm.MulT(p.Sub(ext.Translation))
	}
	return out, nil
}

// CameraToWorldPoint is CameraToWorld for a single point.
func (ct *CoordinateTransformer) CameraToWorldPoint(p r3.Vector) (r3.Vector, error) {
	out, err := ct.CameraToWorld([]r3.Vector{p})
	if err != nil {
		return r3.Vector{}, err
	}
	return out[0], nil
}

// WorldToCamera maps world points into the camera frame.
func (ct *CoordinateTransformer) WorldToCamera(points []r3.Vector) ([]r3.Vector, error) {
	ext, err := ct.requireExtrinsic()
	if err != nil {
		return nil, err
	}
	rm := ext.RotationMatrix()
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = rm.Mul(p).Add(ext.Translation)
	}
	return out, nil
}

// WorldToCameraPoint is WorldToCamera for a single point.
func (ct *CoordinateTransformer) WorldToCameraPoint(p r3.Vector) (r3.Vector, error) {
	out, err := ct.WorldToCamera([]r3.Vector{p})
	if err != nil {
		return r3.Vector{}, err
	}
	return out[0], nil
}

// PixelToWorld intersects each pixel's ray with the world plane Z=z. A pixel whose ray is parallel to
// the plane yields NaN coordinates and contributes a PointError wrapping ErrRayParallelToPlane to the
// returned error; all other pixels are still converted.
func (ct *CoordinateTransformer) PixelToWorld(pixels []r2.Point, z float64) ([]r3.Vector, error) {
	ext, err := ct.requireExtrinsic()
	if err != nil {
		return nil, err
	}
	rm := ext.RotationMatrix()
	center := ext.CameraPosition()
	normalized := ct.PixelToNormalized(pixels)

	out := make([]r3.Vector, len(normalized))
	var errs error
	for i, n := range normalized {
		ray := rm.MulT(r3.Vector{X: n.X, Y: n.Y, Z: 1})
		if math.Abs(ray.Z) < parallelRayEpsilon {
			out[i] = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
			errs = multierr.Append(errs, &PointError{Index: i, Err: ErrRayParallelToPlane})
			continue
		}
		s := (z - center.Z) / ray.Z
		out[i] = center.Add(ray.Mul(s))
	}
	return out, errs
}

// PixelToWorldPoint is PixelToWorld for a single pixel.
func (ct *CoordinateTransformer) PixelToWorldPoint(p r2.Point, z float64) (r3.Vector, error) {
	out, err := ct.PixelToWorld([]r2.Point{p}, z)
	if err != nil {
		return r3.Vector{}, err
	}
	return out[0], nil
}

// WorldXY returns the X and Y world coordinates where pixel p meets the plane Z=z.
func (ct *CoordinateTransformer) WorldXY(p r2.Point, z float64) (float64, float64, error) {
	w, err := ct.PixelToWorldPoint(p, z)
	if err != nil {
		return 0, 0, err
	}
	return w.X, w.Y, nil
}

// WorldToPixel projects world points into the image, applying lens distortion.
func (ct *CoordinateTransformer) WorldToPixel(points []r3.Vector) ([]r2.Point, error) {
	ext, err := ct.requireExtrinsic()
	if err != nil {
		return nil, err
	}
	return ProjectPoints(points, ext, ct.intrinsic), nil
}

// WorldToPixelPoint is WorldToPixel for a single point.
func (ct *CoordinateTransformer) WorldToPixelPoint(w r3.Vector) (r2.Point, error) {
	out, err := ct.WorldToPixel([]r3.Vector{w})
	if err != nil {
		return r2.Point{}, err
	}
	return out[0], nil
}

// PixelUV returns the pixel coordinates of world point w.
func (ct *CoordinateTransformer) PixelUV(w r3.Vector) (float64, float64, error) {
	p, err := ct.WorldToPixelPoint(w)
	if err != nil {
		return 0, 0, err
	}
	return p.X, p.Y, nil
}

// PixelMap holds the world X and Y coordinate of every pixel of an image on a fixed Z plane. Both
// matrices have one row per image row. Pixels whose rays miss the plane hold NaN.
type PixelMap struct {
	X *mat.Dense
	Y *mat.Dense
	Z float64
}

// At returns the world point for pixel (x, y).
func (pm *PixelMap) At(x, y int) r3.Vector {
	return r3.Vector{X: pm.X.At(y, x), Y: pm.Y.At(y, x), Z: pm.Z}
}

// PixelToWorldMap computes the world coordinates of every pixel of the calibrated image size on the
// plane Z=z, one image row per task.
func (ct *CoordinateTransformer) PixelToWorldMap(ctx context.Context, z float64) (*PixelMap, error) {
	ext, err := ct.requireExtrinsic()
	if err != nil {
		return nil, err
	}
	size := ct.intrinsic.ImageSize
	if size.Width <= 0 || size.Height <= 0 {
		return nil, NewInvalidParameterError("intrinsic has no image size")
	}
	rm := ext.RotationMatrix()
	center := ext.CameraPosition()
	model := ct.intrinsic.Coefficients()

	pm := &PixelMap{
		X: mat.NewDense(size.Height, size.Width, nil),
		Y: mat.NewDense(size.Height, size.Width, nil),
		Z: z,
	}
	err = utils.ParallelForEachRow(ctx, size.Height, func(row int) error {
		for col := 0; col < size.Width; col++ {
			n := ct.intrinsic.pixelToNormalized(model, r2.Point{X: float64(col), Y: float64(row)})
			ray := rm.MulT(r3.Vector{X: n.X, Y: n.Y, Z: 1})
			if math.Abs(ray.Z) < parallelRayEpsilon {
				pm.X.Set(row, col, math.NaN())
				pm.Y.Set(row, col, math.NaN())
				continue
			}
			s := (z - center.Z) / ray.Z
			pm.X.Set(row, col, center.X+s*ray.X)
			pm.Y.Set(row, col, center.Y+s*ray.Y)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pm, nil
}
