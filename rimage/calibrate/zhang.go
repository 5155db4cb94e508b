package calibrate

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/rimage/transform/pnp"
	"go.viam.com/camcalib/utils"
)

// divergedCost stands in for the cost of parameters that project points to infinity.
const divergedCost = 1e30

// ZhangSolver is a pure Go calibration: a closed form camera matrix from the views' homographies, a pose
// per view, then joint refinement of every parameter against the reprojection error.
type ZhangSolver struct {
	// MaxIterations bounds each BFGS run. Zero means 2000.
	MaxIterations int
	// Restarts is the number of extra BFGS runs from the last optimum. Zero means 2.
	Restarts int
}

// Calibrate implements Solver. A cancelled ctx stops the refinement and returns the context's error.
func (zs *ZhangSolver) Calibrate(
	ctx context.Context,
	objectPoints [][]r3.Vector,
	imagePoints [][]r2.Point,
	size transform.ImageSize,
	flags Flags,
) (*Solution, error) {
	if len(objectPoints) != len(imagePoints) {
		return nil, transform.NewInvalidParameterError(
			"%d object point sets but %d image point sets", len(objectPoints), len(imagePoints))
	}
	need := 2
	if flags.FixPrincipalPoint {
		need = 1
	}
	if len(objectPoints) < need {
		return nil, transform.NewInsufficientImagesError(len(objectPoints), need)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, transform.NewInvalidParameterError("image size must be positive, got %s", size)
	}
	homographies := make([]*transform.Homography, len(objectPoints))
	for v := range objectPoints {
		obj, img := objectPoints[v], imagePoints[v]
		if len(obj) != len(img) {
			return nil, transform.NewInvalidParameterError(
				"view %d: %d object points but %d image points", v, len(obj), len(img))
		}
		plane := make([]r2.Point, len(obj))
		for i, p := range obj {
			if math.Abs(p.Z) > 1e-9 {
				return nil, transform.NewInvalidParameterError("view %d: object point %d is not on the Z=0 plane", v, i)
			}
			plane[i] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := transform.EstimateHomography(plane, img)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", v)
		}
		homographies[v] = h
	}

	k, err := initialCameraMatrix(homographies, size, flags)
	if err != nil {
		return nil, err
	}
	intr, err := transform.NewCameraIntrinsic(k, nil, size, 0)
	if err != nil {
		return nil, errors.Wrap(err, "initial camera matrix")
	}
	poses := make([]transform.CameraExtrinsic, len(objectPoints))
	for v := range objectPoints {
		res, err := pnp.Solve(intr, pnp.IPPE, imagePoints[v], objectPoints[v])
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", v)
		}
		poses[v] = res.Extrinsic
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := newModel(flags, size, k, poses)
	x, err := zs.refine(ctx, m, m.pack(k, make([]float64, m.nDist), poses), objectPoints, imagePoints)
	if err != nil {
		return nil, err
	}

	k, dist := m.intrinsic(x)
	if !(k[0][0] > 0) || !(k[1][1] > 0) {
		return nil, errors.Errorf("calibration diverged: fx=%v fy=%v", k[0][0], k[1][1])
	}
	sol := &Solution{CameraMatrix: k, Distortion: dist, Poses: make([]transform.CameraExtrinsic, len(poses))}
	total, n := 0., 0
	for v := range poses {
		sol.Poses[v] = m.pose(v, x[m.numIntrinsic()+6*v:])
		total += viewCost(k, dist, size, sol.Poses[v], imagePoints[v], objectPoints[v])
		n += len(imagePoints[v])
	}
	sol.RMS = math.Sqrt(total / float64(n))
	return sol, nil
}

func (zs *ZhangSolver) refine(
	ctx context.Context,
	m *model,
	x0 []float64,
	objectPoints [][]r3.Vector,
	imagePoints [][]r2.Point,
) ([]float64, error) {
	ni := m.numIntrinsic()
	views := len(objectPoints)
	total := func(x []float64) float64 {
		k, dist := m.intrinsic(x)
		sum := 0.
		for v := 0; v < views; v++ {
			sum += viewCost(k, dist, m.size, m.pose(v, x[ni+6*v:]), imagePoints[v], objectPoints[v])
		}
		return sum
	}
	fdSettings := &fd.Settings{Formula: fd.Central}
	// each view's pose only affects that view's residuals, so its gradient block needs only that view
	grad := func(grad, x []float64) {
		fd.Gradient(grad[:ni], func(xi []float64) float64 {
			y := append(append(make([]float64, 0, len(x)), xi...), x[ni:]...)
			return total(y)
		}, x[:ni], fdSettings)
		k, dist := m.intrinsic(x)
		goutils.UncheckedError(utils.ParallelForEachRow(context.Background(), views, func(v int) error {
			lo := ni + 6*v
			fd.Gradient(grad[lo:lo+6], func(p []float64) float64 {
				return viewCost(k, dist, m.size, m.pose(v, p), imagePoints[v], objectPoints[v])
			}, x[lo:lo+6], fdSettings)
			return nil
		}))
	}

	problem := optimize.Problem{
		Func: total,
		Grad: grad,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	maxIter := zs.MaxIterations
	if maxIter <= 0 {
		maxIter = 2000
	}
	restarts := zs.Restarts
	if restarts <= 0 {
		restarts = 2
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-10,
		MajorIterations:   maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-12,
			Iterations: 50,
		},
	}

	bestX := x0
	bestF := total(x0)
	for run := 0; run <= restarts; run++ {
		res, err := optimize.Minimize(problem, bestX, settings, &optimize.BFGS{})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if res == nil || !(res.F < bestF) {
			break
		}
		improved := bestF - res.F
		bestX, bestF = res.X, res.F
		if err == nil && res.Status == optimize.GradientThreshold {
			break
		}
		if improved <= 1e-12*(1+bestF) {
			break
		}
	}
	return bestX, nil
}

// viewCost is the summed squared pixel distance between the observed and reprojected corners of one view.
func viewCost(k [3][3]float64, dist []float64, size transform.ImageSize, ext transform.CameraExtrinsic, img []r2.Point, obj []r3.Vector) float64 {
	intr := &transform.CameraIntrinsic{CameraMatrix: k, Distortion: dist, ImageSize: size}
	proj := transform.ProjectPoints(obj, ext, intr)
	sum := 0.
	for i, p := range proj {
		d := p.Sub(img[i])
		sum += d.Dot(d)
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return divergedCost
	}
	return sum
}

// model maps between the camera parameters and the optimizer's vector. Focal lengths and principal point
// offsets are divided by the initial focal length and translations by each view's initial distance so
// every parameter is of order one.
type model struct {
	flags  Flags
	size   transform.ImageSize
	nDist  int
	free   []int
	focal  float64
	center r2.Point
	tScale []float64
}

func newModel(flags Flags, size transform.ImageSize, k [3][3]float64, poses []transform.CameraExtrinsic) *model {
	m := &model{flags: flags, size: size, nDist: transform.NumBrownConradyCoeffs, focal: k[0][0]}
	if flags.UseRationalModel {
		m.nDist = transform.NumRationalCoeffs
	}
	for i := 0; i < m.nDist; i++ {
		// p1 and p2 are at 2 and 3
		if flags.ZeroTangentDist && (i == 2 || i == 3) {
			continue
		}
		m.free = append(m.free, i)
	}
	m.center = r2.Point{X: k[0][2], Y: k[1][2]}
	m.tScale = make([]float64, len(poses))
	for v, p := range poses {
		m.tScale[v] = math.Max(p.Translation.Norm(), 1e-9)
	}
	return m
}

func (m *model) numIntrinsic() int {
	n := 2
	if m.flags.FixAspectRatio {
		n = 1
	}
	if !m.flags.FixPrincipalPoint {
		n += 2
	}
	return n + len(m.free)
}

func (m *model) pack(k [3][3]float64, dist []float64, poses []transform.CameraExtrinsic) []float64 {
	x := make([]float64, 0, m.numIntrinsic()+6*len(poses))
	x = append(x, k[0][0]/m.focal)
	if !m.flags.FixAspectRatio {
		x = append(x, k[1][1]/m.focal)
	}
	if !m.flags.FixPrincipalPoint {
		x = append(x, (k[0][2]-m.center.X)/m.focal, (k[1][2]-m.center.Y)/m.focal)
	}
	for _, i := range m.free {
		x = append(x, dist[i])
	}
	for v, p := range poses {
		t := p.Translation.Mul(1 / m.tScale[v])
		x = append(x, p.RotationVector.X, p.RotationVector.Y, p.RotationVector.Z, t.X, t.Y, t.Z)
	}
	return x
}

func (m *model) intrinsic(x []float64) ([3][3]float64, []float64) {
	i := 0
	fx := x[i] * m.focal
	i++
	fy := fx
	if !m.flags.FixAspectRatio {
		fy = x[i] * m.focal
		i++
	}
	cx, cy := m.center.X, m.center.Y
	if !m.flags.FixPrincipalPoint {
		cx += x[i] * m.focal
		cy += x[i+1] * m.focal
		i += 2
	}
	dist := make([]float64, m.nDist)
	for _, d := range m.free {
		dist[d] = x[i]
		i++
	}
	return [3][3]float64{{fx, 0, cx}, {0, fy, cy}, {0, 0, 1}}, dist
}

// pose reads the six pose parameters of view v from the start of p.
func (m *model) pose(v int, p []float64) transform.CameraExtrinsic {
	return transform.CameraExtrinsic{
		RotationVector: r3.Vector{X: p[0], Y: p[1], Z: p[2]},
		Translation:    r3.Vector{X: p[3], Y: p[4], Z: p[5]}.Mul(m.tScale[v]),
	}
}

// initialCameraMatrix estimates K with zero skew from board-to-image homographies. Homographies are first
// expressed in a frame centered on the image and scaled by its mean dimension. The general solution from
// the image of the absolute conic is used when the principal point is free and it is plausible; otherwise
// the principal point is taken as the image center and only the focal lengths are solved for.
func initialCameraMatrix(hs []*transform.Homography, size transform.ImageSize, flags Flags) ([3][3]float64, error) {
	scale := float64(size.Width+size.Height) / 2
	c0 := r2.Point{X: float64(size.Width-1) / 2, Y: float64(size.Height-1) / 2}
	n := mat.NewDense(3, 3, []float64{1 / scale, 0, -c0.X / scale, 0, 1 / scale, -c0.Y / scale, 0, 0, 1})
	norm := make([]*mat.Dense, len(hs))
	for i, h := range hs {
		var m mat.Dense
		m.Mul(n, h.Dense())
		m.Scale(1/mat.Norm(&m, 2), &m)
		norm[i] = &m
	}

	var fx, fy, cx, cy float64
	ok := false
	if !flags.FixPrincipalPoint {
		fx, fy, cx, cy, ok = absoluteConic(norm)
		// the principal point should be well inside the image
		ok = ok && math.Abs(cx) < 0.5 && math.Abs(cy) < 0.5
	}
	if !ok {
		cx, cy = 0, 0
		fx, fy, ok = centeredFocalLengths(norm)
	}
	if !ok {
		return [3][3]float64{}, transform.NewInvalidParameterError("views are degenerate, cannot estimate focal length")
	}
	if flags.FixAspectRatio {
		f := (fx + fy) / 2
		fx, fy = f, f
	}
	return [3][3]float64{
		{scale * fx, 0, scale*cx + c0.X},
		{0, scale * fy, scale*cy + c0.Y},
		{0, 0, 1},
	}, nil
}

// absoluteConic solves Zhang's linear system for B = K⁻ᵀK⁻¹ with an added zero skew row and extracts K.
func absoluteConic(hs []*mat.Dense) (fx, fy, cx, cy float64, ok bool) {
	v := func(h *mat.Dense, i, j int) []float64 {
		return []float64{
			h.At(0, i) * h.At(0, j),
			h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
			h.At(1, i) * h.At(1, j),
			h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
			h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
			h.At(2, i) * h.At(2, j),
		}
	}
	rows := mat.NewDense(2*len(hs)+1, 6, nil)
	for k, h := range hs {
		rows.SetRow(2*k, v(h, 0, 1))
		v11, v22 := v(h, 0, 0), v(h, 1, 1)
		floats.Sub(v11, v22)
		rows.SetRow(2*k+1, v11)
	}
	rows.SetRow(2*len(hs), []float64{0, 1, 0, 0, 0, 0})
	b, err := transform.NullVector(rows)
	if err != nil {
		return 0, 0, 0, 0, false
	}
	// B is positive definite up to sign
	if b[0] < 0 {
		floats.Scale(-1, b)
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return 0, 0, 0, 0, false
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda <= 0 {
		return 0, 0, 0, 0, false
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	gamma := -b12 * alpha * alpha * beta / lambda
	u0 := gamma*v0/beta - b13*alpha*alpha/lambda
	if !finiteAll(alpha, beta, u0, v0) {
		return 0, 0, 0, 0, false
	}
	return alpha, beta, u0, v0, true
}

// centeredFocalLengths assumes the principal point is at the origin and solves for 1/fx² and 1/fy² from the
// orthogonality of each view's board axes and of their diagonals.
func centeredFocalLengths(hs []*mat.Dense) (fx, fy float64, ok bool) {
	a := mat.NewDense(2*len(hs), 2, nil)
	rhs := mat.NewVecDense(2*len(hs), nil)
	for k, h := range hs {
		c1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
		c2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
		d1, d2 := c1.Add(c2).Normalize(), c1.Sub(c2).Normalize()
		c1, c2 = c1.Normalize(), c2.Normalize()
		a.SetRow(2*k, []float64{c1.X * c2.X, c1.Y * c2.Y})
		rhs.SetVec(2*k, -c1.Z*c2.Z)
		a.SetRow(2*k+1, []float64{d1.X * d2.X, d1.Y * d2.Y})
		rhs.SetVec(2*k+1, -d1.Z*d2.Z)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, rhs); err != nil {
		return 0, 0, false
	}
	ix, iy := sol.AtVec(0), sol.AtVec(1)
	if ix == 0 || iy == 0 {
		return 0, 0, false
	}
	fx, fy = math.Sqrt(1/math.Abs(ix)), math.Sqrt(1/math.Abs(iy))
	return fx, fy, finiteAll(fx, fy)
}

func finiteAll(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
