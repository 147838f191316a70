package alignmath

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestIdentityPose(t *testing.T) {
	p := IdentityPose()
	if !IsValidRigidTransform(p, 1) {
		t.Error("identity should be valid")
	}
	if got := p.Apply(Vec3{1, 2, 3}); got != (Vec3{1, 2, 3}) {
		t.Errorf("identity moved point to %v", got)
	}
}

func TestNewPose_MatchesQuatRotate(t *testing.T) {
	rot := mgl64.QuatRotate(0.8, Vec3{0, 1, 1}.Normalize())
	origin := Vec3{4, -2, 1}
	p := NewPose(origin, rot, 2)

	point := Vec3{1, 0.5, -3}
	want := origin.Add(rot.Rotate(point.Mul(2)))
	if got := p.Apply(point); !ApproxEqualVec(got, want, 1e-9) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
	if !IsValidRigidTransform(p, 2) {
		t.Error("scaled rigid pose should validate with its scale")
	}
	if IsValidRigidTransform(p, 1) {
		t.Error("scaled pose should not validate as unit scale")
	}
}

func TestAlignmentPose_MatchesFunctionalForm(t *testing.T) {
	remoteOrigin := Vec3{1, 2, 3}
	remoteRot := mgl64.QuatRotate(0.3, Vec3{1, 0, 0})
	localOrigin := Vec3{-1, 0, 5}
	localRot := mgl64.QuatRotate(-1.2, Vec3{0, 0, 1})

	p, err := AlignmentPose(remoteOrigin, remoteRot, localOrigin, localRot, 1)
	if err != nil {
		t.Fatalf("AlignmentPose: %v", err)
	}

	for _, point := range []Vec3{{0, 0, 0}, {1, 1, 1}, {-4, 2, 0.5}} {
		want := TransformPositionToLocal(point, remoteOrigin, remoteRot, localOrigin, localRot, 1)
		got := p.Apply(point)
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("Apply(%v) mismatch (-want +got):\n%s", point, diff)
		}
	}
}

func TestPose_InverseAndCompose(t *testing.T) {
	p := NewPose(Vec3{3, 1, -2}, mgl64.QuatRotate(1.0, Vec3{0, 1, 0}), 1.5)

	inv, err := p.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}

	id := p.Compose(inv)
	if diff := cmp.Diff(IdentityPose().T, id.T, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("p * p^-1 != I (-want +got):\n%s", diff)
	}
}

func TestPose_InverseSingular(t *testing.T) {
	p := NewPose(Vec3{}, Identity(), 0)
	_, err := p.Inverse()
	if !errors.Is(err, ErrSingularPose) {
		t.Errorf("expected ErrSingularPose, got %v", err)
	}
	if IsValidRigidTransform(p, 0) {
		t.Error("zero scale pose should be invalid")
	}
}

func TestIsValidRigidTransform_Rejects(t *testing.T) {
	reflect := IdentityPose()
	reflect.T[0] = -1
	if IsValidRigidTransform(reflect, 1) {
		t.Error("reflection accepted")
	}

	badRow := IdentityPose()
	badRow.T[12] = 0.5
	if IsValidRigidTransform(badRow, 1) {
		t.Error("non-affine last row accepted")
	}
}
