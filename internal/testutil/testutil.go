// Package testutil provides shared test helpers for geometry assertions.
package testutil

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/shared.frame/internal/alignmath"
)

// Tolerance is the default absolute tolerance for geometry assertions.
const Tolerance = 1e-9

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test if got and want differ by more than tol in
// any component.
func AssertVecNear(t testing.TB, got, want alignmath.Vec3, tol float64) {
	t.Helper()
	if !alignmath.ApproxEqualVec(got, want, tol) {
		t.Errorf("vector mismatch (-want +got):\n%s", cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)))
	}
}

// AssertQuatNear fails the test if got and want are not the same rotation
// within tol. q and -q compare equal.
func AssertQuatNear(t testing.TB, got, want alignmath.Quat, tol float64) {
	t.Helper()
	if !alignmath.ApproxEqualQuat(got, want, tol) {
		t.Errorf("rotation mismatch (-want +got):\n%s", cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)))
	}
}

// Yaw returns a rotation of deg degrees about +Y.
func Yaw(deg float64) alignmath.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(deg), alignmath.Vec3{0, 1, 0})
}

// Rotation returns a rotation of rad radians about axis.
func Rotation(rad float64, axis alignmath.Vec3) alignmath.Quat {
	return mgl64.QuatRotate(rad, axis.Normalize())
}
