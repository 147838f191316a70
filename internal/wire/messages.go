// Package wire encodes alignment messages and relay frames in the protobuf
// wire format. Messages are small and fixed, so they are written field by
// field with protowire rather than through generated code; unknown fields
// are skipped on decode so newer senders stay readable.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/shared.frame/internal/alignmath"
)

// ErrMalformed is returned (wrapped) for payloads that are not valid protobuf
// or have a field with the wrong wire type.
var ErrMalformed = errors.New("malformed message")

// MessageType tags an alignment payload on the transport.
type MessageType uint8

const (
	// MessageSpatialReference carries a SpatialReference.
	MessageSpatialReference MessageType = 1
	// MessageMeshAlignment carries a MeshAlignment.
	MessageMeshAlignment MessageType = 2
)

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case MessageSpatialReference:
		return "spatial-reference"
	case MessageMeshAlignment:
		return "mesh-alignment"
	default:
		return fmt.Sprintf("message-type(%d)", uint8(t))
	}
}

// DeliveryMode selects how the transport fans out a broadcast.
type DeliveryMode uint8

const (
	// DeliverRetained goes to every room member including the sender and is
	// replayed to peers that join later in the same room session.
	DeliverRetained DeliveryMode = 1
	// DeliverLive goes to the other members connected right now only.
	DeliverLive DeliveryMode = 2
)

// String returns a human-readable name for the delivery mode.
func (m DeliveryMode) String() string {
	switch m {
	case DeliverRetained:
		return "retained"
	case DeliverLive:
		return "live"
	default:
		return fmt.Sprintf("delivery-mode(%d)", uint8(m))
	}
}

// Envelope is one delivered transport message.
type Envelope struct {
	Type    MessageType
	Sender  int
	Payload []byte
}

// SpatialReference announces where the sender's reference point is, in the
// sender's own frame.
type SpatialReference struct {
	SenderID       int
	OriginPosition alignmath.Vec3
	OriginRotation alignmath.Quat
}

// MeshAlignment is an incremental mesh-alignment adjustment.
type MeshAlignment struct {
	Position alignmath.Vec3
	Rotation alignmath.Quat
	Scale    float64
}

// Field numbers.
const (
	vecX protowire.Number = 1
	vecY protowire.Number = 2
	vecZ protowire.Number = 3

	quatW protowire.Number = 1
	quatX protowire.Number = 2
	quatY protowire.Number = 3
	quatZ protowire.Number = 4

	refSender   protowire.Number = 1
	refOrigin   protowire.Number = 2
	refRotation protowire.Number = 3

	meshPosition protowire.Number = 1
	meshRotation protowire.Number = 2
	meshScale    protowire.Number = 3
)

// Marshal encodes m.
func (m SpatialReference) Marshal() []byte {
	var b []byte
	b = appendVarint(b, refSender, uint64(m.SenderID))
	b = appendMessage(b, refOrigin, appendVec3(nil, m.OriginPosition))
	b = appendMessage(b, refRotation, appendQuat(nil, m.OriginRotation))
	return b
}

// UnmarshalSpatialReference decodes a SpatialReference. A missing rotation
// decodes as identity.
func UnmarshalSpatialReference(b []byte) (SpatialReference, error) {
	m := SpatialReference{OriginRotation: alignmath.Identity()}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case refSender:
			v, n, err := consumeVarint(typ, b)
			m.SenderID = int(v)
			return n, err
		case refOrigin:
			return consumeNested(typ, b, func(inner []byte) (err error) {
				m.OriginPosition, err = decodeVec3(inner)
				return err
			})
		case refRotation:
			return consumeNested(typ, b, func(inner []byte) (err error) {
				m.OriginRotation, err = decodeQuat(inner)
				return err
			})
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return SpatialReference{}, fmt.Errorf("spatial reference: %w", err)
	}
	return m, nil
}

// Marshal encodes m.
func (m MeshAlignment) Marshal() []byte {
	var b []byte
	b = appendMessage(b, meshPosition, appendVec3(nil, m.Position))
	b = appendMessage(b, meshRotation, appendQuat(nil, m.Rotation))
	b = appendDouble(b, meshScale, m.Scale)
	return b
}

// UnmarshalMeshAlignment decodes a MeshAlignment. A missing rotation decodes
// as identity and a missing scale as 1.
func UnmarshalMeshAlignment(b []byte) (MeshAlignment, error) {
	m := MeshAlignment{Rotation: alignmath.Identity(), Scale: 1}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case meshPosition:
			return consumeNested(typ, b, func(inner []byte) (err error) {
				m.Position, err = decodeVec3(inner)
				return err
			})
		case meshRotation:
			return consumeNested(typ, b, func(inner []byte) (err error) {
				m.Rotation, err = decodeQuat(inner)
				return err
			})
		case meshScale:
			v, n, err := consumeDouble(typ, b)
			m.Scale = v
			return n, err
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return MeshAlignment{}, fmt.Errorf("mesh alignment: %w", err)
	}
	return m, nil
}

func appendVec3(b []byte, v alignmath.Vec3) []byte {
	b = appendDouble(b, vecX, v[0])
	b = appendDouble(b, vecY, v[1])
	b = appendDouble(b, vecZ, v[2])
	return b
}

func decodeVec3(b []byte) (alignmath.Vec3, error) {
	var v alignmath.Vec3
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num >= vecX && num <= vecZ {
			f, n, err := consumeDouble(typ, b)
			v[num-vecX] = f
			return n, err
		}
		return skipField(num, typ, b)
	})
	return v, err
}

func appendQuat(b []byte, q alignmath.Quat) []byte {
	b = appendDouble(b, quatW, q.W)
	b = appendDouble(b, quatX, q.V[0])
	b = appendDouble(b, quatY, q.V[1])
	b = appendDouble(b, quatZ, q.V[2])
	return b
}

func decodeQuat(b []byte) (alignmath.Quat, error) {
	var q alignmath.Quat
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == quatW {
			f, n, err := consumeDouble(typ, b)
			q.W = f
			return n, err
		}
		if num >= quatX && num <= quatZ {
			f, n, err := consumeDouble(typ, b)
			q.V[num-quatX] = f
			return n, err
		}
		return skipField(num, typ, b)
	})
	return q, err
}
