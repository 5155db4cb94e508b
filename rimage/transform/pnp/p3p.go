package pnp

import (
	"math"
	"math/cmplx"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage/transform"
)

// poly is a real polynomial with coefficients in ascending order of degree.
type poly []float64

func (p poly) add(q poly) poly {
	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	out := make(poly, n)
	copy(out, p)
	for i, c := range q {
		out[i] += c
	}
	return out
}

func (p poly) mul(q poly) poly {
	if len(p) == 0 || len(q) == 0 {
		return nil
	}
	out := make(poly, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] += a * b
		}
	}
	return out
}

func (p poly) scale(s float64) poly {
	out := make(poly, len(p))
	for i, c := range p {
		out[i] = c * s
	}
	return out
}

// realRoots returns the real roots of p from the eigenvalues of its companion matrix. Roots whose
// imaginary part is small relative to their magnitude are treated as real.
func (p poly) realRoots() []float64 {
	maxAbs := 0.
	for _, c := range p {
		maxAbs = math.Max(maxAbs, math.Abs(c))
	}
	deg := len(p) - 1
	for deg > 0 && math.Abs(p[deg]) <= 1e-14*maxAbs {
		deg--
	}
	if deg < 1 {
		return nil
	}
	lead := p[deg]
	if deg == 1 {
		return []float64{-p[0] / lead}
	}
	c := mat.NewDense(deg, deg, nil)
	for i := 1; i < deg; i++ {
		c.Set(i, i-1, 1)
	}
	for i := 0; i < deg; i++ {
		c.Set(i, deg-1, -p[i]/lead)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(c, mat.EigenNone); !ok {
		return nil
	}
	var roots []float64
	for _, v := range eig.Values(nil) {
		if math.Abs(imag(v)) <= 1e-6*(1+cmplx.Abs(v)) {
			roots = append(roots, real(v))
		}
	}
	return roots
}

// triangle holds the side lengths and ray angle cosines of a three point problem. Rays f1, f2, f3 point
// at world points P1, P2, P3; a, b, c are the lengths opposite P1, P2, P3.
type triangle struct {
	a, b, c                     float64
	cosAlpha, cosBeta, cosGamma float64
}

func newTriangle(f [3]r3.Vector, p [3]r3.Vector) triangle {
	return triangle{
		a:        p[1].Sub(p[2]).Norm(),
		b:        p[0].Sub(p[2]).Norm(),
		c:        p[0].Sub(p[1]).Norm(),
		cosAlpha: f[1].Dot(f[2]),
		cosBeta:  f[0].Dot(f[2]),
		cosGamma: f[0].Dot(f[1]),
	}
}

func (tri triangle) degenerate() bool {
	return tri.a < 1e-12 || tri.b < 1e-12 || tri.c < 1e-12
}

// grunertDepths solves Grunert's system for the distances s1, s2, s3 along the three rays. With
// u = s2/s1 and v = s3/s1, eliminating s1 leaves u as a rational function of v, and substituting it back
// gives a quartic in v.
func grunertDepths(tri triangle) [][3]float64 {
	if tri.degenerate() {
		return nil
	}
	a2, b2, c2 := tri.a*tri.a, tri.b*tri.b, tri.c*tri.c
	ca, cb, cg := tri.cosAlpha, tri.cosBeta, tri.cosGamma
	k := (c2 - a2) / b2

	// q(v) = 1 + v² - 2v·cosβ
	q := poly{1, -2 * cb, 1}
	// u = num(v) / den(v)
	num := poly{1, 0, -1}.add(q.scale(-k))
	den := poly{2 * cg, -2 * ca}

	// b²u² - 2b²cosγ·u + b² - c²q(v) = 0, multiplied through by den²
	quartic := num.mul(num).scale(b2).
		add(num.mul(den).scale(-2 * b2 * cg)).
		add(poly{b2}.add(q.scale(-c2)).mul(den.mul(den)))

	var out [][3]float64
	for _, v := range quartic.realRoots() {
		if v <= 0 {
			continue
		}
		d := den[0] + den[1]*v
		if math.Abs(d) < 1e-12 {
			continue
		}
		u := (num[0] + num[1]*v + num[2]*v*v) / d
		if u <= 0 {
			continue
		}
		qv := 1 + v*v - 2*v*cb
		if qv <= 0 {
			continue
		}
		s1 := tri.b / math.Sqrt(qv)
		out = append(out, [3]float64{s1, u * s1, v * s1})
	}
	return out
}

// algebraicDepths solves the same system by parameterizing on s1. For each s1 the law of cosines fixes
// s2 and s3 up to a sign choice, and the remaining constraint on side a is scanned for roots on every
// branch and polished by bisection.
func algebraicDepths(tri triangle) [][3]float64 {
	if tri.degenerate() {
		return nil
	}
	a2, b2, c2 := tri.a*tri.a, tri.b*tri.b, tri.c*tri.c
	sinG2 := 1 - tri.cosGamma*tri.cosGamma
	sinB2 := 1 - tri.cosBeta*tri.cosBeta
	upper := math.Inf(1)
	if sinG2 > 0 {
		upper = math.Min(upper, tri.c/math.Sqrt(sinG2))
	}
	if sinB2 > 0 {
		upper = math.Min(upper, tri.b/math.Sqrt(sinB2))
	}
	if math.IsInf(upper, 1) {
		return nil
	}

	depths := func(s1 float64, sign2, sign3 float64) (float64, float64, bool) {
		d2 := c2 - s1*s1*sinG2
		d3 := b2 - s1*s1*sinB2
		if d2 < 0 || d3 < 0 {
			return 0, 0, false
		}
		return s1*tri.cosGamma + sign2*math.Sqrt(d2), s1*tri.cosBeta + sign3*math.Sqrt(d3), true
	}
	residual := func(s1, sign2, sign3 float64) (float64, bool) {
		s2, s3, ok := depths(s1, sign2, sign3)
		if !ok {
			return 0, false
		}
		return (s2*s2 + s3*s3 - 2*s2*s3*tri.cosAlpha - a2) / a2, true
	}

	const samples = 4000
	var out [][3]float64
	for _, sign2 := range []float64{1, -1} {
		for _, sign3 := range []float64{1, -1} {
			prevS, prevG, prevOK := 0., 0., false
			for i := 1; i <= samples; i++ {
				s := upper * float64(i) / samples
				g, ok := residual(s, sign2, sign3)
				if !ok {
					prevOK = false
					continue
				}
				var root float64
				found := false
				switch {
				case g == 0:
					root, found = s, true
				case prevOK && (prevG < 0) != (g < 0):
					lo, hi, glo := prevS, s, prevG
					for it := 0; it < 100; it++ {
						mid := (lo + hi) / 2
						gm, _ := residual(mid, sign2, sign3)
						if (gm < 0) == (glo < 0) {
							lo, glo = mid, gm
						} else {
							hi = mid
						}
					}
					root, found = (lo+hi)/2, true
				}
				if found {
					s2, s3, _ := depths(root, sign2, sign3)
					if s2 > 0 && s3 > 0 {
						out = append(out, [3]float64{root, s2, s3})
					}
				}
				prevS, prevG, prevOK = s, g, true
			}
		}
	}
	return out
}

// wellSpreadTriple picks three correspondences spanning a large triangle: the first point, the point
// farthest from it, and the point farthest from the line through those two.
func wellSpreadTriple(obj []r3.Vector) [3]int {
	idx := [3]int{0, 1, 2}
	best := -1.
	for i, p := range obj {
		if d := p.Sub(obj[0]).Norm2(); d > best {
			best, idx[1] = d, i
		}
	}
	axis := obj[idx[1]].Sub(obj[0])
	best = -1.
	for i, p := range obj {
		if i == 0 || i == idx[1] {
			continue
		}
		if area := axis.Cross(p.Sub(obj[0])).Norm2(); area > best {
			best, idx[2] = area, i
		}
	}
	return idx
}

// threePointPoses turns depth solutions on a well spread triple of correspondences into candidate poses.
func threePointPoses(rays, obj []r3.Vector, solve func(triangle) [][3]float64) []transform.CameraExtrinsic {
	idx := wellSpreadTriple(obj)
	f := [3]r3.Vector{rays[idx[0]], rays[idx[1]], rays[idx[2]]}
	p := [3]r3.Vector{obj[idx[0]], obj[idx[1]], obj[idx[2]]}
	var out []transform.CameraExtrinsic
	for _, s := range solve(newTriangle(f, p)) {
		cam := []r3.Vector{f[0].Mul(s[0]), f[1].Mul(s[1]), f[2].Mul(s[2])}
		ext, err := kabsch(p[:], cam)
		if err != nil {
			continue
		}
		out = append(out, ext)
	}
	return out
}
