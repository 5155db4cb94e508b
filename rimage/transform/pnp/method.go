package pnp

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/rimage/transform"
)

// A Method solves for a camera pose with one algorithm family. Implementations assume the inputs have
// equal lengths of at least MinPoints; Solve checks this before calling them.
type Method interface {
	Algorithm() Algorithm
	MinPoints() int
	Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error)
}

// NewMethod returns the Method for alg.
func NewMethod(alg Algorithm) (Method, error) {
	switch alg {
	case Iterative:
		return iterativeMethod{}, nil
	case EPnP:
		return epnpMethod{}, nil
	case P3P:
		return p3pMethod{}, nil
	case AP3P:
		return ap3pMethod{}, nil
	case IPPE:
		return ippeMethod{}, nil
	case IPPESquare:
		return ippeSquareMethod{}, nil
	default:
		return nil, transform.NewInvalidParameterError("unknown pose algorithm %q", string(alg))
	}
}

// problem is the shared preprocessing of a correspondence set.
type problem struct {
	intr       *transform.CameraIntrinsic
	img        []r2.Point
	obj        []r3.Vector
	normalized []r2.Point
	plane      plane
}

func newProblem(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (*problem, error) {
	pl, err := fitPlane(obj)
	if err != nil {
		return nil, err
	}
	normalized := make([]r2.Point, len(img))
	for i, p := range img {
		normalized[i] = intr.PixelToNormalized(p)
	}
	return &problem{intr: intr, img: img, obj: obj, normalized: normalized, plane: pl}, nil
}

func (p *problem) best(candidates []transform.CameraExtrinsic) (transform.CameraExtrinsic, error) {
	return bestCandidate(p.intr, candidates, p.img, p.obj)
}

func (p *problem) refine(init transform.CameraExtrinsic) transform.CameraExtrinsic {
	return refinePose(p.intr, init, p.img, p.obj)
}

func (p *problem) p3pCandidates(solve func(triangle) [][3]float64) []transform.CameraExtrinsic {
	return threePointPoses(bearings(p.normalized), p.obj, solve)
}

type iterativeMethod struct{}

func (iterativeMethod) Algorithm() Algorithm { return Iterative }
func (iterativeMethod) MinPoints() int       { return Iterative.MinPoints() }

func (iterativeMethod) Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	p, err := newProblem(intr, img, obj)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	var candidates []transform.CameraExtrinsic
	switch {
	case p.plane.planar:
		ext, err := planarPose(p.plane, p.normalized, obj)
		if err != nil {
			return transform.CameraExtrinsic{}, err
		}
		candidates = append(candidates, ext)
	case len(obj) >= 6:
		if ext, err := dltPose(p.normalized, obj); err == nil {
			candidates = append(candidates, ext)
		}
		if ext, err := epnpPose(p.plane, p.normalized, obj); err == nil {
			candidates = append(candidates, ext)
		}
	default:
		candidates = p.p3pCandidates(grunertDepths)
	}
	init, err := p.best(candidates)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	return p.refine(init), nil
}

type epnpMethod struct{}

func (epnpMethod) Algorithm() Algorithm { return EPnP }
func (epnpMethod) MinPoints() int       { return EPnP.MinPoints() }

func (epnpMethod) Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	p, err := newProblem(intr, img, obj)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	var candidates []transform.CameraExtrinsic
	if ext, err := epnpPose(p.plane, p.normalized, obj); err == nil {
		candidates = append(candidates, ext)
	} else if p.plane.planar {
		// coplanar points leave the fourth control point unconstrained
		ext, err := planarPose(p.plane, p.normalized, obj)
		if err != nil {
			return transform.CameraExtrinsic{}, err
		}
		candidates = append(candidates, ext)
	} else {
		candidates = p.p3pCandidates(grunertDepths)
	}
	init, err := p.best(candidates)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	return p.refine(init), nil
}

type p3pMethod struct{}

func (p3pMethod) Algorithm() Algorithm { return P3P }
func (p3pMethod) MinPoints() int       { return P3P.MinPoints() }

func (p3pMethod) Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	return solveThreePoint(intr, img, obj, grunertDepths)
}

type ap3pMethod struct{}

func (ap3pMethod) Algorithm() Algorithm { return AP3P }
func (ap3pMethod) MinPoints() int       { return AP3P.MinPoints() }

func (ap3pMethod) Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	return solveThreePoint(intr, img, obj, algebraicDepths)
}

// solveThreePoint solves the first three correspondences and uses any others to pick among the up to four
// solutions.
func solveThreePoint(
	intr *transform.CameraIntrinsic,
	img []r2.Point,
	obj []r3.Vector,
	solve func(triangle) [][3]float64,
) (transform.CameraExtrinsic, error) {
	p, err := newProblem(intr, img, obj)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	init, err := p.best(p.p3pCandidates(solve))
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	if len(obj) == 3 {
		return init, nil
	}
	return p.refine(init), nil
}

type ippeMethod struct{}

func (ippeMethod) Algorithm() Algorithm { return IPPE }
func (ippeMethod) MinPoints() int       { return IPPE.MinPoints() }

func (ippeMethod) Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	p, err := newProblem(intr, img, obj)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	if !p.plane.planar {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("ippe requires coplanar object points")
	}
	init, err := planarPose(p.plane, p.normalized, obj)
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	init, err = p.best([]transform.CameraExtrinsic{init})
	if err != nil {
		return transform.CameraExtrinsic{}, err
	}
	return p.refine(init), nil
}

type ippeSquareMethod struct{}

func (ippeSquareMethod) Algorithm() Algorithm { return IPPESquare }
func (ippeSquareMethod) MinPoints() int       { return IPPESquare.MinPoints() }

func (ippeSquareMethod) Solve(intr *transform.CameraIntrinsic, img []r2.Point, obj []r3.Vector) (transform.CameraExtrinsic, error) {
	if len(obj) != 4 {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("ippe_square requires exactly 4 points")
	}
	if !isSquare(obj) {
		return transform.CameraExtrinsic{}, transform.NewPoseSolveFailedError("ippe_square requires the object points to form a square")
	}
	return ippeMethod{}.Solve(intr, img, obj)
}

// isSquare reports whether four points are the corners of a square, in any order.
func isSquare(pts []r3.Vector) bool {
	var d []float64
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			d = append(d, pts[i].Sub(pts[j]).Norm())
		}
	}
	sort.Float64s(d)
	side := d[0]
	if side < 1e-12 {
		return false
	}
	const tol = 1e-6
	for _, s := range d[1:4] {
		if math.Abs(s-side) > tol*side {
			return false
		}
	}
	diag := side * math.Sqrt2
	return math.Abs(d[4]-diag) <= tol*diag && math.Abs(d[5]-diag) <= tol*diag
}
