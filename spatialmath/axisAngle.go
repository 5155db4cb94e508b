package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// Basic explanation: imagine a unit sphere centered at the origin. An orientation can be expressed by
// specifying an axis, i.e. a line from the origin to a point on that sphere, represented by (rx, ry, rz),
// and a rotation around that axis, theta. These four numbers can be used as-is (R4), or they can be
// converted to R3, where theta is multiplied into the unit axis to give a vector whose length is theta.
// The R3 form is what calibration tools call a Rodrigues rotation vector.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates the identity R4AA, a zero rotation about +Z.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// Normalize scales the x, y, and z components of a R4 axis angle to be on the unit sphere and makes
// theta non-negative. A zero axis becomes the identity.
func (r4 *R4AA) Normalize() {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0.0 {
		*r4 = *NewR4AA()
		return
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
	if r4.Theta < 0.0 {
		r4.Theta *= -1.
		r4.RX *= -1.
		r4.RY *= -1.
		r4.RZ *= -1.
	}
}

// RotationMatrix returns the rotation as a 3x3 matrix using Rodrigues' formula
// R = I + sin(θ)K + (1-cos(θ))K².
func (r4 *R4AA) RotationMatrix() *RotationMatrix {
	aa := *r4
	aa.Normalize()
	if aa.Theta == 0 {
		return Identity()
	}
	c, s := math.Cos(aa.Theta), math.Sin(aa.Theta)
	v := 1 - c
	x, y, z := aa.RX, aa.RY, aa.RZ
	return &RotationMatrix{mat: [9]float64{
		c + x*x*v, x*y*v - z*s, x*z*v + y*s,
		y*x*v + z*s, c + y*y*v, y*z*v - x*s,
		z*x*v - y*s, z*y*v + x*s, c + z*z*v,
	}}
}

// R3ToR4 converts an R3 angle axis (a rotation vector) to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// RotationVectorToMatrix is the Rodrigues map from a rotation vector to a rotation matrix.
func RotationVectorToMatrix(rvec r3.Vector) *RotationMatrix {
	return R3ToR4(rvec).RotationMatrix()
}

// MatrixToRotationVector is the inverse Rodrigues map. The returned vector has norm in [0, π].
func MatrixToRotationVector(rm *RotationMatrix) r3.Vector {
	return rm.AxisAngles().ToR3()
}
