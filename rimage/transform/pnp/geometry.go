package pnp

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/spatialmath"
)

// planarTolerance is the largest ratio of smallest to largest spread for points to count as coplanar.
const planarTolerance = 1e-6

// plane is a world frame aligned to a point set's best fitting plane. Local coordinates are
// basis·(p - origin), so planar points have local Z of about 0.
type plane struct {
	origin r3.Vector
	basis  *spatialmath.RotationMatrix
	planar bool
}

func (pl plane) toLocal(p r3.Vector) r3.Vector {
	return pl.basis.Mul(p.Sub(pl.origin))
}

// fitPlane finds the principal axes of the points. The third axis is the plane normal.
func fitPlane(pts []r3.Vector) (plane, error) {
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	m := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := p.Sub(c)
		m.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFullV); !ok {
		return plane{}, errors.New("cannot factorize object points")
	}
	s := svd.Values(nil)
	if len(s) < 2 || s[0] < 1e-12 || s[1]/s[0] < planarTolerance {
		return plane{}, transform.NewPoseSolveFailedError("object points are collinear")
	}
	var v mat.Dense
	svd.VTo(&v)
	if mat.Det(&v) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
	}
	basis, err := spatialmath.NewRotationMatrixFromDense(v.T())
	if err != nil {
		return plane{}, err
	}
	planar := len(s) < 3 || s[2]/s[0] < planarTolerance
	return plane{origin: c, basis: basis, planar: planar}, nil
}

// fromLocal converts a pose of the plane's local frame into a pose of the world frame.
//
//	P_cam = R·basis·(P - origin) + t
func (pl plane) fromLocal(ext transform.CameraExtrinsic) transform.CameraExtrinsic {
	rm := ext.RotationMatrix().Compose(pl.basis)
	t := ext.Translation.Sub(rm.Mul(pl.origin))
	return transform.NewCameraExtrinsicFromRotationMatrix(rm, t)
}

// kabsch finds the rigid transform taking world points onto camera frame points in the least squares
// sense.
func kabsch(world, camera []r3.Vector) (transform.CameraExtrinsic, error) {
	var cw, cc r3.Vector
	for i := range world {
		cw = cw.Add(world[i])
		cc = cc.Add(camera[i])
	}
	n := float64(len(world))
	cw = cw.Mul(1 / n)
	cc = cc.Mul(1 / n)

	h := mat.NewDense(3, 3, nil)
	for i := range world {
		w := world[i].Sub(cw)
		c := camera[i].Sub(cc)
		wv := []float64{w.X, w.Y, w.Z}
		cv := []float64{c.X, c.Y, c.Z}
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				h.Set(r, col, h.At(r, col)+cv[r]*wv[col])
			}
		}
	}
	// h = Σ c·wᵀ, so the nearest rotation of h maps world offsets onto camera offsets
	rm, err := spatialmath.NewRotationMatrixFromDense(h)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	t := cc.Sub(rm.Mul(cw))
	return transform.NewCameraExtrinsicFromRotationMatrix(rm, t), nil
}

// poseFromHomography decomposes a homography from plane coordinates to normalized image coordinates
// into the pose of the plane, H = λ[r1 r2 t].
func poseFromHomography(h *transform.Homography) (transform.CameraExtrinsic, error) {
	h1 := r3.Vector{X: h[0][0], Y: h[1][0], Z: h[2][0]}
	h2 := r3.Vector{X: h[0][1], Y: h[1][1], Z: h[2][1]}
	h3 := r3.Vector{X: h[0][2], Y: h[1][2], Z: h[2][2]}
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < 1e-12 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("degenerate homography")
	}
	lambda := 1 / norm
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2 := h2.Mul(lambda)
	r3v := r1.Cross(r2)
	t := h3.Mul(lambda)
	rm, err := spatialmath.NewRotationMatrixFromDense(mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	}))
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	return transform.NewCameraExtrinsicFromRotationMatrix(rm, t), nil
}

// planarPose estimates the pose of coplanar object points from their homography to the normalized image.
func planarPose(pl plane, normalized []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	local := make([]r2.Point, len(obj))
	for i, p := range obj {
		l := pl.toLocal(p)
		local[i] = r2.Point{X: l.X, Y: l.Y}
	}
	h, err := transform.EstimateHomography(local, normalized)
	if err != nil {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError(err.Error())
	}
	ext, err := poseFromHomography(h)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	return pl.fromLocal(ext), nil
}

// dltPose estimates a pose from six or more non-coplanar points by solving for the 3x4 projection matrix
// linearly and projecting its left block onto a rotation.
func dltPose(normalized []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	if len(obj) < 6 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("DLT needs at least 6 points")
	}
	// condition the object points
	var c r3.Vector
	for _, p := range obj {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(obj)))
	scale := 0.
	for _, p := range obj {
		scale += p.Sub(c).Norm()
	}
	scale /= float64(len(obj))
	if scale < 1e-12 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("object points are coincident")
	}

	a := mat.NewDense(2*len(obj), 12, nil)
	for i, p := range obj {
		q := p.Sub(c).Mul(1 / scale)
		x, y := normalized[i].X, normalized[i].Y
		a.SetRow(2*i, []float64{q.X, q.Y, q.Z, 1, 0, 0, 0, 0, -x * q.X, -x * q.Y, -x * q.Z, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, q.X, q.Y, q.Z, 1, -y * q.X, -y * q.Y, -y * q.Z, -y})
	}
	sol, err := transform.NullVector(a)
	if err != nil {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError(err.Error())
	}

	// undo conditioning: P = [M/s | p4 - M·c/s]
	m := mat.NewDense(3, 3, []float64{
		sol[0], sol[1], sol[2],
		sol[4], sol[5], sol[6],
		sol[8], sol[9], sol[10],
	})
	m.Scale(1/scale, m)
	p4 := r3.Vector{X: sol[3], Y: sol[7], Z: sol[11]}
	mc := mat.NewVecDense(3, nil)
	mc.MulVec(m, mat.NewVecDense(3, []float64{c.X, c.Y, c.Z}))
	p4 = p4.Sub(r3.Vector{X: mc.AtVec(0), Y: mc.AtVec(1), Z: mc.AtVec(2)})

	det := mat.Det(m)
	if math.Abs(det) < 1e-300 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("degenerate projection matrix")
	}
	lambda := math.Cbrt(det)
	m.Scale(1/lambda, m)
	rm, err := spatialmath.NewRotationMatrixFromDense(m)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	return transform.NewCameraExtrinsicFromRotationMatrix(rm, p4.Mul(1/lambda)), nil
}

// bearings returns unit rays for normalized image points.
func bearings(normalized []r2.Point) []r3.Vector {
	out := make([]r3.Vector, len(normalized))
	for i, n := range normalized {
		out[i] = r3.Vector{X: n.X, Y: n.Y, Z: 1}.Normalize()
	}
	return out
}

// inFront reports whether every object point has positive depth under ext.
func inFront(ext transform.CameraExtrinsic, obj []r3.Vector) bool {
	rm := ext.RotationMatrix()
	for _, p := range obj {
		if rm.Mul(p).Add(ext.Translation).Z <= 0 {
			return false
		}
	}
	return true
}

// reprojectionCost is the summed squared pixel error of a pose.
func reprojectionCost(intr *transform.CameraIntrinsic, ext transform.CameraExtrinsic, img []r2.Point, obj []r3.Vector) float64 {
	proj := transform.ProjectPoints(obj, ext, intr)
	sum := 0.
	for i := range proj {
		d := proj[i].Sub(img[i])
		sum += d.X*d.X + d.Y*d.Y
	}
	if math.IsNaN(sum) {
		return math.Inf(1)
	}
	return sum
}

// bestCandidate returns the candidate with the lowest reprojection cost that keeps all points in front of
// the camera.
func bestCandidate(
	intr *transform.CameraIntrinsic,
	candidates []transform.CameraExtrinsic,
	img []r2.Point,
	obj []r3.Vector,
) (transform.CameraExtrinsic, error) {
	best := math.Inf(1)
	var out transform.CameraExtrinsic
	for _, cand := range candidates {
		if !inFront(cand, obj) {
			continue
		}
		if cost := reprojectionCost(intr, cand, img, obj); cost < best {
			best = cost
			out = cand
		}
	}
	if math.IsInf(best, 1) {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("no candidate pose places the points in front of the camera")
	}
	return out, nil
}
