package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform between two planes. Indices are [row][column].
type Homography [3][3]float64

// NewHomography builds a homography from 9 row-major values.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, NewInvalidParameterError("homography needs 9 values, got %d", len(vals))
	}
	var h Homography
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return &h, nil
}

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h[0][0]*pt.X + h[0][1]*pt.Y + h[0][2]
	y := h[1][0]*pt.X + h[1][1]*pt.Y + h[1][2]
	z := h[2][0]*pt.X + h[2][1]*pt.Y + h[2][2]
	return r2.Point{X: x / z, Y: y / z}
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Inverse returns the inverse mapping.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is singular")
	}
	return homographyFromDense(&inv), nil
}

func homographyFromDense(m mat.Matrix) *Homography {
	var h Homography
	scale := 1.
	if s := m.At(2, 2); math.Abs(s) > 1e-12 {
		scale = 1 / s
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j) * scale
		}
	}
	return &h
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct linear
// transform. At least 4 correspondences are needed.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, NewInvalidParameterError("point count mismatch: %d source, %d destination", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, NewInvalidParameterError("homography needs at least 4 points, got %d", len(src))
	}
	srcN, t1, err := NormalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstN, t2, err := NormalizePoints(dst)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, err := NullVector(a)
	if err != nil {
		return nil, err
	}
	hn := mat.NewDense(3, 3, h)

	// H = T2^-1 Hn T1
	var t2Inv, tmp, out mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization")
	}
	tmp.Mul(&t2Inv, hn)
	out.Mul(&tmp, t1)
	if math.Abs(out.At(2, 2)) < 1e-12 {
		return nil, errors.New("homography is degenerate")
	}
	return homographyFromDense(&out), nil
}

// NormalizePoints translates points to their centroid and scales them so the mean distance from it is
// sqrt(2), as in Multiple View Geometry, Alg 4.2. It returns the transformed points and the 3x3 transform.
func NormalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	n := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)
	d := 0.
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	if d < 1e-12 {
		return nil, nil, NewInvalidParameterError("points are coincident")
	}
	scale := math.Sqrt2 / d
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	return out, t, nil
}

// NullVector returns the right singular vector of m with the smallest singular value, the least squares
// solution of m·x = 0 with |x| = 1.
func NullVector(m mat.Matrix) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	return mat.Col(nil, c-1, &v), nil
}
