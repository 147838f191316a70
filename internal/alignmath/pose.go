package alignmath

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// ErrSingularPose is returned when a pose cannot be inverted, typically
// because its scale is zero.
var ErrSingularPose = errors.New("pose matrix is singular")

// Pose is a 4x4 similarity transform (rotation, uniform scale, translation)
// stored row-major: m00,m01,m02,m03, m10,...
// Renderers that prefer a matrix over Vec3/Quat pairs can take one of these
// directly.
type Pose struct {
	T [16]float64
}

// IdentityPose returns the pose that leaves every point unchanged.
func IdentityPose() Pose {
	return Pose{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// NewPose builds translate(origin) * rotate(rotation) * scale(scale).
func NewPose(origin Vec3, rotation Quat, scale float64) Pose {
	r := rotation.Normalize().Mat4()
	var p Pose
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			p.T[row*4+col] = r.At(row, col) * scale
		}
		p.T[row*4+3] = origin[row]
	}
	p.T[15] = 1
	return p
}

// AlignmentPose returns the matrix form of TransformPositionToLocal for the
// given pair of reference points.
func AlignmentPose(remoteOrigin Vec3, remoteRotation Quat, localOrigin Vec3, localRotation Quat, scale float64) (Pose, error) {
	remote, err := NewPose(remoteOrigin, remoteRotation, 1).Inverse()
	if err != nil {
		return Pose{}, err
	}
	return NewPose(localOrigin, localRotation, scale).Compose(remote), nil
}

// Apply transforms point by p.
func (p Pose) Apply(point Vec3) Vec3 {
	x, y, z := point[0], point[1], point[2]
	T := p.T
	return Vec3{
		T[0]*x + T[1]*y + T[2]*z + T[3],
		T[4]*x + T[5]*y + T[6]*z + T[7],
		T[8]*x + T[9]*y + T[10]*z + T[11],
	}
}

// Compose returns p * q, i.e. q is applied first.
func (p Pose) Compose(q Pose) Pose {
	var out mat.Dense
	out.Mul(p.dense(), q.dense())
	return poseFromDense(&out)
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() (Pose, error) {
	var inv mat.Dense
	if err := inv.Inverse(p.dense()); err != nil {
		return Pose{}, fmt.Errorf("%w: %v", ErrSingularPose, err)
	}
	return poseFromDense(&inv), nil
}

func (p Pose) dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, p.T[:])
	return mat.NewDense(4, 4, data)
}

func poseFromDense(m *mat.Dense) Pose {
	var p Pose
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			p.T[row*4+col] = m.At(row, col)
		}
	}
	return p
}

// IsValidRigidTransform checks that p is a proper rotation scaled by scale
// plus a translation:
// 1. det of the 3x3 block divided by scale³ ≈ 1 (no reflection or shear in scale)
// 2. last row is [0 0 0 1]
func IsValidRigidTransform(p Pose, scale float64) bool {
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return false
	}
	T := p.T
	block := mat.NewDense(3, 3, []float64{
		T[0], T[1], T[2],
		T[4], T[5], T[6],
		T[8], T[9], T[10],
	})
	det := mat.Det(block) / (scale * scale * scale)
	if math.IsNaN(det) || math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
