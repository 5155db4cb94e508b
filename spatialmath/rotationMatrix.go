package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// orthonormalTolerance bounds |RᵀR - I| when accepting external matrices.
const orthonormalTolerance = 1e-6

// RotationMatrix is a 3x3 rotation matrix stored row-major.
type RotationMatrix struct {
	mat [9]float64
}

// Identity returns the identity rotation.
func Identity() *RotationMatrix {
	return &RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotationMatrix creates a rotation matrix from 9 row-major values. It errors if the values do not
// form a proper rotation.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	rm := &RotationMatrix{}
	copy(rm.mat[:], m)
	if err := rm.CheckValid(); err != nil {
		return nil, err
	}
	return rm, nil
}

// NewRotationMatrixFromDense projects an arbitrary 3x3 matrix onto the closest rotation
// (R = U·diag(1,1,det(UVᵀ))·Vᵀ).
func NewRotationMatrixFromDense(m mat.Matrix) (*RotationMatrix, error) {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("rotation matrix must be 3x3, got %dx%d", r, c)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("could not factorize rotation matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	if mat.Det(&uvt) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var ud mat.Dense
		ud.Mul(&u, d)
		uvt.Mul(&ud, v.T())
	}
	rm := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rm.mat[3*i+j] = uvt.At(i, j)
		}
	}
	return rm, nil
}

// CheckValid errors if the matrix is not orthonormal with determinant +1.
func (rm *RotationMatrix) CheckValid() error {
	var prod mat.Dense
	d := rm.Dense()
	prod.Mul(d.T(), d)
	if !mat.EqualApprox(&prod, mat.NewDiagDense(3, []float64{1, 1, 1}), orthonormalTolerance) {
		return errors.New("rotation matrix is not orthonormal")
	}
	if det := mat.Det(d); math.Abs(det-1) > orthonormalTolerance {
		return errors.Errorf("rotation matrix determinant is %f, expected 1", det)
	}
	return nil
}

// At returns the value at row, col.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the row at index as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns the column at index as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Values returns the 9 row-major values.
func (rm *RotationMatrix) Values() []float64 {
	out := make([]float64, 9)
	copy(out, rm.mat[:])
	return out
}

// Rows returns the matrix as nested rows.
func (rm *RotationMatrix) Rows() [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = rm.mat[3*i+j]
		}
	}
	return out
}

// Dense returns a copy of the matrix as a gonum Dense.
func (rm *RotationMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, rm.Values())
}

// Mul rotates v.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// MulT rotates v by the transpose, i.e. the inverse rotation.
func (rm *RotationMatrix) MulT(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Col(0).Dot(v), Y: rm.Col(1).Dot(v), Z: rm.Col(2).Dot(v)}
}

// Transpose returns the inverse rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.mat[3*j+i] = rm.mat[3*i+j]
		}
	}
	return out
}

// Compose returns rm·other.
func (rm *RotationMatrix) Compose(other *RotationMatrix) *RotationMatrix {
	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.mat[3*i+j] = rm.Row(i).Dot(other.Col(j))
		}
	}
	return out
}

// AxisAngles returns the rotation as an R4 axis angle. Angles near π are resolved from the symmetric
// part of the matrix since the skew part vanishes there.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	m := rm.mat
	cosTheta := (m[0] + m[4] + m[8] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return NewR4AA()
	}
	skew := r3.Vector{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}
	if math.Pi-theta > 1e-6 {
		axis := skew.Mul(1 / (2 * math.Sin(theta)))
		aa := &R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
		aa.Normalize()
		return aa
	}
	// θ ≈ π: R = 2aaᵀ - I, pick the largest diagonal for stability.
	xx := (m[0] + 1) / 2
	yy := (m[4] + 1) / 2
	zz := (m[8] + 1) / 2
	var axis r3.Vector
	switch {
	case xx >= yy && xx >= zz:
		x := math.Sqrt(math.Max(xx, 0))
		axis = r3.Vector{X: x, Y: (m[1] + m[3]) / (4 * x), Z: (m[2] + m[6]) / (4 * x)}
	case yy >= zz:
		y := math.Sqrt(math.Max(yy, 0))
		axis = r3.Vector{X: (m[1] + m[3]) / (4 * y), Y: y, Z: (m[5] + m[7]) / (4 * y)}
	default:
		z := math.Sqrt(math.Max(zz, 0))
		axis = r3.Vector{X: (m[2] + m[6]) / (4 * z), Y: (m[5] + m[7]) / (4 * z), Z: z}
	}
	if axis.Dot(skew) < 0 {
		axis = axis.Mul(-1)
	}
	aa := &R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	aa.Normalize()
	return aa
}

func (rm *RotationMatrix) String() string {
	return fmt.Sprintf("[%.6f %.6f %.6f; %.6f %.6f %.6f; %.6f %.6f %.6f]",
		rm.mat[0], rm.mat[1], rm.mat[2], rm.mat[3], rm.mat[4], rm.mat[5], rm.mat[6], rm.mat[7], rm.mat[8])
}
