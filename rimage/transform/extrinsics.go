package transform

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/spatialmath"
)

// CameraExtrinsic is a camera pose: P_camera = R·P_world + t, with R stored as a Rodrigues rotation vector.
type CameraExtrinsic struct {
	RotationVector r3.Vector
	Translation    r3.Vector
}

// NewCameraExtrinsicFromRotationMatrix builds a pose from a rotation matrix and translation.
func NewCameraExtrinsicFromRotationMatrix(rm *spatialmath.RotationMatrix, t r3.Vector) CameraExtrinsic {
	return CameraExtrinsic{RotationVector: spatialmath.MatrixToRotationVector(rm), Translation: t}
}

// RotationMatrix returns R.
func (e CameraExtrinsic) RotationMatrix() *spatialmath.RotationMatrix {
	return spatialmath.RotationVectorToMatrix(e.RotationVector)
}

// CameraPosition is the camera center in world coordinates, -Rᵀt.
func (e CameraExtrinsic) CameraPosition() r3.Vector {
	return e.RotationMatrix().MulT(e.Translation).Mul(-1)
}

// TransformationMatrix returns the 4x4 homogeneous world-to-camera transform.
func (e CameraExtrinsic) TransformationMatrix() *mat.Dense {
	rm := e.RotationMatrix()
	t := e.Translation
	return mat.NewDense(4, 4, []float64{
		rm.At(0, 0), rm.At(0, 1), rm.At(0, 2), t.X,
		rm.At(1, 0), rm.At(1, 1), rm.At(1, 2), t.Y,
		rm.At(2, 0), rm.At(2, 1), rm.At(2, 2), t.Z,
		0, 0, 0, 1,
	})
}

// WorldToCamera maps a world point into the camera frame.
func (e CameraExtrinsic) WorldToCamera(p r3.Vector) r3.Vector {
	return e.RotationMatrix().Mul(p).Add(e.Translation)
}

// CameraToWorld maps a camera-frame point into the world frame.
func (e CameraExtrinsic) CameraToWorld(p r3.Vector) r3.Vector {
	return e.RotationMatrix().MulT(p.Sub(e.Translation))
}
