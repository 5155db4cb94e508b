package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is the radial + tangential model with k1, k2, p1, p2, k3.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// RationalDistortionType extends Brown-Conrady with the k4, k5, k6 denominator terms.
	RationalDistortionType = DistortionType("rational")
)

// Lengths of the supported coefficient vectors, in OpenCV order k1, k2, p1, p2, k3[, k4, k5, k6].
const (
	NumBrownConradyCoeffs = 5
	NumRationalCoeffs     = 8
)

// InvalidDistortionError is used when the distortion coefficients are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(ErrInvalidParameter, "invalid distortion coefficients: "+msg)
}

// BrownConrady is the radial/tangential lens distortion polynomial used by pinhole calibration. When any
// of K4, K5, K6 are set the radial term becomes the rational (1+k1r²+k2r⁴+k3r⁶)/(1+k4r²+k5r⁴+k6r⁶).
type BrownConrady struct {
	K1, K2, P1, P2, K3 float64
	K4, K5, K6         float64
	Rational           bool
}

// NewBrownConrady parses coefficients in OpenCV order. Empty and 4-element inputs are padded to 5 with
// zeros; 8 elements select the rational model.
func NewBrownConrady(coeffs []float64) (*BrownConrady, error) {
	c := make([]float64, NumRationalCoeffs)
	switch len(coeffs) {
	case 0, 4, NumBrownConradyCoeffs:
		copy(c, coeffs)
		return &BrownConrady{K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4]}, nil
	case NumRationalCoeffs:
		copy(c, coeffs)
		return &BrownConrady{
			K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4],
			K4: c[5], K5: c[6], K6: c[7], Rational: true,
		}, nil
	default:
		return nil, InvalidDistortionError(fmt.Sprintf("expected 0, 4, 5 or 8 values, got %d", len(coeffs)))
	}
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	if bc.Rational {
		return RationalDistortionType
	}
	return BrownConradyDistortionType
}

// Parameters returns the coefficients in OpenCV order, 5 or 8 long.
func (bc *BrownConrady) Parameters() []float64 {
	if bc.Rational {
		return []float64{bc.K1, bc.K2, bc.P1, bc.P2, bc.K3, bc.K4, bc.K5, bc.K6}
	}
	return []float64{bc.K1, bc.K2, bc.P1, bc.P2, bc.K3}
}

// IsZero reports whether the model is the identity.
func (bc *BrownConrady) IsZero() bool {
	for _, v := range []float64{bc.K1, bc.K2, bc.P1, bc.P2, bc.K3, bc.K4, bc.K5, bc.K6} {
		if v != 0 {
			return false
		}
	}
	return true
}

// radial returns the radial factor and its derivative with respect to r².
func (bc *BrownConrady) radial(r2 float64) (float64, float64) {
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1 + bc.K1*r2 + bc.K2*r4 + bc.K3*r6
	dNum := bc.K1 + 2*bc.K2*r2 + 3*bc.K3*r4
	if !bc.Rational {
		return num, dNum
	}
	den := 1 + bc.K4*r2 + bc.K5*r4 + bc.K6*r6
	dDen := bc.K4 + 2*bc.K5*r2 + 3*bc.K6*r4
	return num / den, (dNum*den - num*dDen) / (den * den)
}

// Distort maps an undistorted normalized point (on the camera's Z=1 plane) to its distorted position.
//
//	x_d = x*f(r²) + 2*p1*x*y + p2*(r² + 2x²)
//	y_d = y*f(r²) + 2*p2*x*y + p1*(r² + 2y²)
func (bc *BrownConrady) Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	f, _ := bc.radial(r2)
	xd := x*f + 2*bc.P1*x*y + bc.P2*(r2+2*x*x)
	yd := y*f + 2*bc.P2*x*y + bc.P1*(r2+2*y*y)
	return xd, yd
}

// Undistort inverts Distort with Newton-Raphson iterations on the analytic Jacobian, starting from the
// distorted point.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc.IsZero() {
		return xd, yd
	}
	const maxIterations = 20
	const tolerance = 1e-10

	x, y := xd, yd
	for i := 0; i < maxIterations; i++ {
		r2 := x*x + y*y
		f, df := bc.radial(r2)

		errX := x*f + 2*bc.P1*x*y + bc.P2*(r2+2*x*x) - xd
		errY := y*f + 2*bc.P2*x*y + bc.P1*(r2+2*y*y) - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// J = [[dxd/dx, dxd/dy], [dyd/dx, dyd/dy]]
		j11 := f + 2*x*x*df + 2*bc.P1*y + 6*bc.P2*x
		j12 := 2*x*y*df + 2*bc.P1*x + 2*bc.P2*y
		j21 := 2*x*y*df + 2*bc.P2*y + 2*bc.P1*x
		j22 := f + 2*y*y*df + 2*bc.P2*x + 6*bc.P1*y
		det := j11*j22 - j12*j21
		if det == 0 {
			break
		}
		x -= (j22*errX - j12*errY) / det
		y -= (-j21*errX + j11*errY) / det
	}
	return x, y
}
