package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameKind identifies a relay control or data frame.
type FrameKind uint8

const (
	// FrameJoin asks the relay to join (or create) Room with MaxPeers.
	FrameJoin FrameKind = 1
	// FrameJoined confirms a join and carries the assigned PeerID.
	FrameJoined FrameKind = 2
	// FrameLeave asks the relay to leave the current room.
	FrameLeave FrameKind = 3
	// FrameBroadcast sends Payload of MessageType to the room using Mode.
	FrameBroadcast FrameKind = 4
	// FrameDeliver carries a message from Sender to this client.
	FrameDeliver FrameKind = 5
	// FrameError reports a failed request in Error.
	FrameError FrameKind = 6
	// FrameLeft confirms a leave.
	FrameLeft FrameKind = 7
)

// String returns a human-readable name for the frame kind.
func (k FrameKind) String() string {
	switch k {
	case FrameJoin:
		return "join"
	case FrameJoined:
		return "joined"
	case FrameLeave:
		return "leave"
	case FrameBroadcast:
		return "broadcast"
	case FrameDeliver:
		return "deliver"
	case FrameError:
		return "error"
	case FrameLeft:
		return "left"
	default:
		return fmt.Sprintf("frame-kind(%d)", uint8(k))
	}
}

// Frame is the unit exchanged between the websocket transport and the
// relay. Only the fields relevant to Kind are set.
type Frame struct {
	Kind        FrameKind
	Room        string
	MaxPeers    int
	PeerID      int
	Mode        DeliveryMode
	MessageType MessageType
	Sender      int
	Payload     []byte
	Error       string
}

const (
	frameKind     protowire.Number = 1
	frameRoom     protowire.Number = 2
	frameMaxPeers protowire.Number = 3
	framePeerID   protowire.Number = 4
	frameMode     protowire.Number = 5
	frameMsgType  protowire.Number = 6
	frameSender   protowire.Number = 7
	framePayload  protowire.Number = 8
	frameError    protowire.Number = 9
)

// Marshal encodes f. Zero-valued fields are omitted.
func (f Frame) Marshal() []byte {
	var b []byte
	b = appendVarint(b, frameKind, uint64(f.Kind))
	if f.Room != "" {
		b = appendBytes(b, frameRoom, []byte(f.Room))
	}
	if f.MaxPeers != 0 {
		b = appendVarint(b, frameMaxPeers, uint64(f.MaxPeers))
	}
	if f.PeerID != 0 {
		b = appendVarint(b, framePeerID, uint64(f.PeerID))
	}
	if f.Mode != 0 {
		b = appendVarint(b, frameMode, uint64(f.Mode))
	}
	if f.MessageType != 0 {
		b = appendVarint(b, frameMsgType, uint64(f.MessageType))
	}
	if f.Sender != 0 {
		b = appendVarint(b, frameSender, uint64(f.Sender))
	}
	if len(f.Payload) > 0 {
		b = appendBytes(b, framePayload, f.Payload)
	}
	if f.Error != "" {
		b = appendBytes(b, frameError, []byte(f.Error))
	}
	return b
}

// UnmarshalFrame decodes a relay frame. The returned payload does not alias b.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case frameKind, frameMaxPeers, framePeerID, frameMode, frameMsgType, frameSender:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case frameKind:
				f.Kind = FrameKind(v)
			case frameMaxPeers:
				f.MaxPeers = int(v)
			case framePeerID:
				f.PeerID = int(v)
			case frameMode:
				f.Mode = DeliveryMode(v)
			case frameMsgType:
				f.MessageType = MessageType(v)
			case frameSender:
				f.Sender = int(v)
			}
			return n, nil
		case frameRoom, framePayload, frameError:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case frameRoom:
				f.Room = string(v)
			case framePayload:
				f.Payload = append([]byte(nil), v...)
			case frameError:
				f.Error = string(v)
			}
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return Frame{}, fmt.Errorf("relay frame: %w", err)
	}
	if f.Kind == 0 {
		return Frame{}, fmt.Errorf("relay frame: %w: missing kind", ErrMalformed)
	}
	return f, nil
}
