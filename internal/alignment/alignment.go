// Package alignment keeps a client's view of how every peer's coordinate
// frame maps onto its own, and answers position and rotation transform
// queries between them.
//
// A Manager announces the local reference point after joining a room,
// records each peer's announced reference as a PeerAlignment, and falls back
// to identity for peers it has not heard from. Transform queries never fail.
package alignment

import (
	"fmt"
	"time"

	"github.com/banshee-data/shared.frame/internal/alignmath"
	"github.com/banshee-data/shared.frame/internal/config"
)

// Mode selects the transform strategy. It does not change the network
// protocol, except that SharedOrigin clients never announce a reference.
type Mode int

const (
	// AutoAlign transforms through each peer's recorded alignment.
	AutoAlign Mode = iota
	// ManualAlign applies one local offset to every peer.
	ManualAlign
	// MarkerBased transforms like AutoAlign; the local reference comes from
	// a physical marker supplied through the ReferenceSource.
	MarkerBased
	// SharedOrigin assumes all clients already share a frame.
	SharedOrigin
)

func (m Mode) String() string {
	switch m {
	case AutoAlign:
		return config.ModeAuto
	case ManualAlign:
		return config.ModeManual
	case MarkerBased:
		return config.ModeMarker
	case SharedOrigin:
		return config.ModeSharedOrigin
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a config mode string.
func ParseMode(s string) (Mode, error) {
	switch s {
	case config.ModeAuto, "":
		return AutoAlign, nil
	case config.ModeManual:
		return ManualAlign, nil
	case config.ModeMarker:
		return MarkerBased, nil
	case config.ModeSharedOrigin:
		return SharedOrigin, nil
	}
	return 0, fmt.Errorf("unknown alignment mode %q", s)
}

// State is the alignment state machine's position.
type State int

const (
	Unaligned State = iota
	Broadcasting
	Aligned
)

func (s State) String() string {
	switch s {
	case Unaligned:
		return "unaligned"
	case Broadcasting:
		return "broadcasting"
	case Aligned:
		return "aligned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PeerAlignment maps one peer's frame into the local frame. A newer
// reference from the same peer replaces the record.
type PeerAlignment struct {
	PeerID int

	// RemoteOrigin and RemoteRotation are the peer's reference point in the
	// peer's own frame, as last announced.
	RemoteOrigin   alignmath.Vec3
	RemoteRotation alignmath.Quat

	PositionOffset alignmath.Vec3
	RotationOffset alignmath.Quat
	Scale          float64

	// LocalOrigin and LocalRotation are the local reference point when the
	// announcement arrived; the offsets above are relative to it.
	LocalOrigin   alignmath.Vec3
	LocalRotation alignmath.Quat

	ReceivedAt time.Time
}

// ManualAlignment is the single offset used in ManualAlign mode.
type ManualAlignment struct {
	PositionOffset  alignmath.Vec3
	RotationOffset  alignmath.Quat
	ScaleMultiplier float64
}

// DebugMarker marks where a peer-space point landed in the local frame.
type DebugMarker struct {
	PeerID    int
	Position  alignmath.Vec3
	CreatedAt time.Time
}

// Hub is the part of the network hub the manager broadcasts through.
type Hub interface {
	BroadcastSpatialReference(origin alignmath.Vec3, rotation alignmath.Quat)
	BroadcastMeshAlignment(position alignmath.Vec3, rotation alignmath.Quat, scale float64)
	IsReady() bool
	LocalPeerID() int
}

// ReferenceSource supplies the local reference point.
type ReferenceSource interface {
	Reference() (alignmath.Vec3, alignmath.Quat)
}

// StaticReference is a fixed reference point.
type StaticReference struct {
	Position alignmath.Vec3
	Rotation alignmath.Quat
}

// Reference implements ReferenceSource.
func (s StaticReference) Reference() (alignmath.Vec3, alignmath.Quat) {
	return s.Position, s.Rotation
}

// ReferenceFunc adapts a function to ReferenceSource, for references that
// move (a tracked marker, a headset's play-area anchor).
type ReferenceFunc func() (alignmath.Vec3, alignmath.Quat)

// Reference implements ReferenceSource.
func (f ReferenceFunc) Reference() (alignmath.Vec3, alignmath.Quat) {
	return f()
}

// Config configures a Manager.
type Config struct {
	Mode Mode
	// JoinGracePeriod is the wait between joining a room and announcing
	// the local reference.
	JoinGracePeriod time.Duration
	DebugMarkers    bool
	// MaxDebugMarkers caps retained markers, oldest dropped first. 0 means no cap.
	MaxDebugMarkers int
	// Manual is applied when Mode is ManualAlign.
	Manual ManualAlignment
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Mode:            AutoAlign,
		JoinGracePeriod: time.Second,
		MaxDebugMarkers: 64,
		Manual: ManualAlignment{
			RotationOffset:  alignmath.Identity(),
			ScaleMultiplier: 1,
		},
	}
}

// ConfigFrom builds a Config from a loaded AlignmentConfig.
func ConfigFrom(c *config.AlignmentConfig) (Config, error) {
	mode, err := ParseMode(c.GetMode())
	if err != nil {
		return Config{}, err
	}
	return Config{
		Mode:            mode,
		JoinGracePeriod: c.GetJoinGracePeriod(),
		DebugMarkers:    c.GetDebugMarkers(),
		MaxDebugMarkers: c.GetMaxDebugMarkers(),
		Manual: ManualAlignment{
			PositionOffset:  alignmath.Vec3(c.GetManualPositionOffset()),
			RotationOffset:  quatFromWXYZ(c.GetManualRotationOffset()),
			ScaleMultiplier: c.GetManualScale(),
		},
	}, nil
}

// ReferenceFrom returns the configured local reference point.
func ReferenceFrom(c *config.AlignmentConfig) StaticReference {
	return StaticReference{
		Position: alignmath.Vec3(c.GetReferencePosition()),
		Rotation: quatFromWXYZ(c.GetReferenceRotation()),
	}
}

func quatFromWXYZ(q [4]float64) alignmath.Quat {
	return alignmath.Quat{W: q[0], V: alignmath.Vec3{q[1], q[2], q[3]}}.Normalize()
}
