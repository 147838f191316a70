package testutil

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/shared.frame/internal/alignmath"
)

// recordingTB records failures instead of failing the real test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper()                          {}
func (r *recordingTB) Errorf(format string, args ...any) { r.failed = true }
func (r *recordingTB) Fatalf(format string, args ...any) { r.failed = true }
func (r *recordingTB) Fatal(args ...any)                 { r.failed = true }
func (r *recordingTB) Failed() bool                      { return r.failed }

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)

	ft := &recordingTB{TB: t}
	AssertNoError(ft, errors.New("boom"))
	if !ft.Failed() {
		t.Error("AssertNoError should fail for non-nil error")
	}
}

func TestAssertError(t *testing.T) {
	AssertError(t, errors.New("boom"))

	ft := &recordingTB{TB: t}
	AssertError(ft, nil)
	if !ft.Failed() {
		t.Error("AssertError should fail for nil error")
	}
}

func TestAssertVecNear(t *testing.T) {
	AssertVecNear(t, alignmath.Vec3{1, 2, 3}, alignmath.Vec3{1, 2, 3 + 1e-12}, Tolerance)
	AssertVecNear(t, alignmath.Vec3{4.4e-16, 0, -6.1e-16}, alignmath.Vec3{}, Tolerance)

	ft := &recordingTB{TB: t}
	AssertVecNear(ft, alignmath.Vec3{1, 2, 3}, alignmath.Vec3{1, 2, 4}, Tolerance)
	if !ft.Failed() {
		t.Error("AssertVecNear should fail for distant vectors")
	}
}

func TestAssertQuatNear_SignInsensitive(t *testing.T) {
	q := Yaw(30)
	AssertQuatNear(t, q, q.Scale(-1), Tolerance)

	ft := &recordingTB{TB: t}
	AssertQuatNear(ft, q, Yaw(31), Tolerance)
	if !ft.Failed() {
		t.Error("AssertQuatNear should fail for different rotations")
	}
}

func TestYaw(t *testing.T) {
	got := Yaw(90).Rotate(alignmath.Vec3{1, 0, 0})
	AssertVecNear(t, got, alignmath.Vec3{0, 0, -1}, Tolerance)
}

func TestRotation_NormalisesAxis(t *testing.T) {
	q := Rotation(math.Pi/2, alignmath.Vec3{0, 0, 5})
	AssertQuatNear(t, q, Rotation(math.Pi/2, alignmath.Vec3{0, 0, 1}), Tolerance)
	if math.Abs(q.Len()-1) > Tolerance {
		t.Errorf("|q| = %f, want 1", q.Len())
	}
}
