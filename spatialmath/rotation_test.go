package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRodriguesRoundTrip(t *testing.T) {
	for _, rvec := range []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 0, Y: 0, Z: math.Pi / 2},
		{X: 1.2, Y: 0.4, Z: -0.7},
		{X: 0, Y: math.Pi - 1e-9, Z: 0},
		{X: math.Pi / math.Sqrt2, Y: math.Pi / math.Sqrt2, Z: 0},
	} {
		rm := RotationVectorToMatrix(rvec)
		test.That(t, rm.CheckValid(), test.ShouldBeNil)
		back := MatrixToRotationVector(rm)
		again := RotationVectorToMatrix(back)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				test.That(t, again.At(i, j), test.ShouldAlmostEqual, rm.At(i, j), 1e-9)
			}
		}
		if rvec.Norm() < math.Pi-1e-6 {
			test.That(t, back.X, test.ShouldAlmostEqual, rvec.X, 1e-9)
			test.That(t, back.Y, test.ShouldAlmostEqual, rvec.Y, 1e-9)
			test.That(t, back.Z, test.ShouldAlmostEqual, rvec.Z, 1e-9)
		}
	}
}

func TestZeroRotation(t *testing.T) {
	rm := RotationVectorToMatrix(r3.Vector{})
	test.That(t, rm.Values(), test.ShouldResemble, Identity().Values())
	test.That(t, MatrixToRotationVector(rm), test.ShouldResemble, r3.Vector{})
}

func TestRotateAndTranspose(t *testing.T) {
	rm := RotationVectorToMatrix(r3.Vector{Z: math.Pi / 2})
	v := rm.Mul(r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1, 1e-12)

	back := rm.MulT(v)
	test.That(t, back.X, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, back.Y, test.ShouldAlmostEqual, 0, 1e-12)

	ident := rm.Compose(rm.Transpose())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			expected := 0.
			if i == j {
				expected = 1.
			}
			test.That(t, ident.At(i, j), test.ShouldAlmostEqual, expected, 1e-12)
		}
	}
}

func TestNewRotationMatrix(t *testing.T) {
	_, err := NewRotationMatrix([]float64{1, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewRotationMatrix([]float64{2, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldNotBeNil)

	rm, err := NewRotationMatrix([]float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, MatrixToRotationVector(rm).Z, test.ShouldAlmostEqual, math.Pi/2, 1e-12)
}

func TestNewRotationMatrixFromDense(t *testing.T) {
	noisy := mat.NewDense(3, 3, []float64{
		1.001, 0.002, 0,
		-0.001, 0.999, 0.001,
		0, 0, 1.002,
	})
	rm, err := NewRotationMatrixFromDense(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rm.CheckValid(), test.ShouldBeNil)
	test.That(t, rm.At(0, 0), test.ShouldAlmostEqual, 1, 1e-3)

	_, err = NewRotationMatrixFromDense(mat.NewDense(2, 2, nil))
	test.That(t, err, test.ShouldNotBeNil)
}
