// Package alignmath holds the pure geometry used to map coordinates between
// two clients' local frames.
//
// Each client owns a reference point (an origin and an orientation) that
// marks the same physical anchor. Points are carried from one frame to the
// other by expressing them relative to the remote reference and re-applying
// that relative offset to the local reference.
//
// Everything here is stateless and safe for concurrent use. Values are
// float64 throughout; nothing is clamped and NaN or Inf inputs propagate, so
// callers validate before invoking.
package alignmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is a position or direction in a client's frame.
type Vec3 = mgl64.Vec3

// Quat is an orientation in a client's frame.
type Quat = mgl64.Quat

// DefaultTolerance is the comparison tolerance used by the approximate
// equality helpers when callers have no better bound.
const DefaultTolerance = 1e-9

// Identity returns the identity rotation.
func Identity() Quat {
	return mgl64.QuatIdent()
}

// ComputePositionOffset returns the translation that, added to a point in the
// remote frame, yields its position in the local frame when both frames
// share orientation.
func ComputePositionOffset(localOrigin, remoteOrigin Vec3) Vec3 {
	return localOrigin.Sub(remoteOrigin)
}

// ComputeRotationOffset returns the rotation R such that
// R * remoteRotation == localRotation. Composition is order-sensitive; the
// reverse mapping uses R's inverse on the same side.
func ComputeRotationOffset(localRotation, remoteRotation Quat) Quat {
	return localRotation.Mul(remoteRotation.Inverse())
}

// InverseRotation returns the rotation that undoes q.
func InverseRotation(q Quat) Quat {
	return q.Inverse()
}

// TransformPositionSimple applies a pure translation.
func TransformPositionSimple(point, offset Vec3) Vec3 {
	return point.Add(offset)
}

// TransformPositionToLocal maps a point expressed in the remote frame into the
// local frame: the point is taken relative to the remote origin, un-rotated
// by the remote orientation, scaled, then re-rotated and re-anchored on the
// local reference.
func TransformPositionToLocal(point, remoteOrigin Vec3, remoteRotation Quat, localOrigin Vec3, localRotation Quat, scale float64) Vec3 {
	relative := remoteRotation.Inverse().Rotate(point.Sub(remoteOrigin))
	return localOrigin.Add(localRotation.Rotate(relative.Mul(scale)))
}

// TransformPositionToRemote is the exact inverse of TransformPositionToLocal
// for the same arguments.
func TransformPositionToRemote(point, remoteOrigin Vec3, remoteRotation Quat, localOrigin Vec3, localRotation Quat, scale float64) Vec3 {
	return TransformPositionToLocal(point, localOrigin, localRotation, remoteOrigin, remoteRotation, 1/scale)
}

// TransformRotationToLocal maps an orientation from the remote frame into the
// local frame using an offset from ComputeRotationOffset.
func TransformRotationToLocal(rotation, rotationOffset Quat) Quat {
	return rotationOffset.Mul(rotation)
}

// TransformRotationToRemote undoes TransformRotationToLocal.
func TransformRotationToRemote(rotation, rotationOffset Quat) Quat {
	return rotationOffset.Inverse().Mul(rotation)
}

// ApproxEqualVec reports whether a and b differ by at most tol per component.
// The comparison is absolute, so it behaves the same near zero as it does for
// large coordinates. NaN never compares equal.
func ApproxEqualVec(a, b Vec3, tol float64) bool {
	for i := range a {
		if !(math.Abs(a[i]-b[i]) <= tol) {
			return false
		}
	}
	return true
}

// ApproxEqualQuat reports whether a and b describe the same rotation within
// tol per component. q and -q are the same rotation.
func ApproxEqualQuat(a, b Quat, tol float64) bool {
	if math.Abs(a.W-b.W) <= tol && ApproxEqualVec(a.V, b.V, tol) {
		return true
	}
	return math.Abs(a.W+b.W) <= tol && ApproxEqualVec(a.V, b.V.Mul(-1), tol)
}
