package alignment

import (
	"github.com/banshee-data/shared.frame/internal/alignmath"
)

// TransformPositionFromPlayer maps a point in peerID's frame into the local
// frame. Unknown peers map through identity.
func (m *Manager) TransformPositionFromPlayer(peerID int, point alignmath.Vec3) alignmath.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case SharedOrigin:
		return point
	case ManualAlign:
		return alignmath.TransformPositionSimple(point.Mul(m.manual.ScaleMultiplier), m.manual.PositionOffset)
	}
	rec, ok := m.peers[peerID]
	if !ok {
		return point
	}
	out := alignmath.TransformPositionToLocal(point, rec.RemoteOrigin, rec.RemoteRotation, rec.LocalOrigin, rec.LocalRotation, rec.Scale)
	if m.cfg.DebugMarkers {
		m.addMarker(peerID, out, m.clock.Now())
	}
	return out
}

// TransformRotationFromPlayer maps a rotation in peerID's frame into the
// local frame.
func (m *Manager) TransformRotationFromPlayer(peerID int, rotation alignmath.Quat) alignmath.Quat {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case SharedOrigin:
		return rotation
	case ManualAlign:
		return alignmath.TransformRotationToLocal(rotation, m.manual.RotationOffset)
	}
	rec, ok := m.peers[peerID]
	if !ok {
		return rotation
	}
	return alignmath.TransformRotationToLocal(rotation, rec.RotationOffset)
}

// TransformPositionToPlayer maps a local point into peerID's frame. It is
// the exact inverse of TransformPositionFromPlayer.
func (m *Manager) TransformPositionToPlayer(peerID int, point alignmath.Vec3) alignmath.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case SharedOrigin:
		return point
	case ManualAlign:
		return point.Sub(m.manual.PositionOffset).Mul(1 / m.manual.ScaleMultiplier)
	}
	rec, ok := m.peers[peerID]
	if !ok {
		return point
	}
	return alignmath.TransformPositionToRemote(point, rec.RemoteOrigin, rec.RemoteRotation, rec.LocalOrigin, rec.LocalRotation, rec.Scale)
}

// TransformRotationToPlayer maps a local rotation into peerID's frame.
func (m *Manager) TransformRotationToPlayer(peerID int, rotation alignmath.Quat) alignmath.Quat {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case SharedOrigin:
		return rotation
	case ManualAlign:
		return alignmath.TransformRotationToRemote(rotation, m.manual.RotationOffset)
	}
	rec, ok := m.peers[peerID]
	if !ok {
		return rotation
	}
	return alignmath.TransformRotationToRemote(rotation, rec.RotationOffset)
}
