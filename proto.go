package multiplexer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/HimbeerserverDE/multiplexer/qpacket"
)

// DefaultPort is the port the server listens on if none is configured
const DefaultPort = 55126

// HeaderSize is the size of the fixed header at the start of every frame
//
//	kind      int32
//	playerID  int32
//	step      int32
//	timeDelta float64
const HeaderSize = 20

var (
	ErrShortHeader = errors.New("header shorter than 20 bytes")
	ErrUnknownKind = errors.New("unknown event kind")
)

// A Kind identifies the type of an Event
type Kind int32

const (
	// Sent by the server to a new connection
	// PlayerID is the assigned id, Step the current round
	KindHello Kind = iota

	// Sent by clients when they want the next round,
	// broadcast by the server when everyone is ready
	// TimeDelta is the time since the previous round in seconds
	KindReady

	// Application data from PlayerID
	KindPayload

	KindPlayerJoined
	KindPlayerLeft

	// Simulation snapshot sent to new connections
	// instead of the full history
	KindReconstruct

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindReady:
		return "ready"
	case KindPayload:
		return "payload"
	case KindPlayerJoined:
		return "playerjoined"
	case KindPlayerLeft:
		return "playerleft"
	case KindReconstruct:
		return "reconstruct"
	}

	return fmt.Sprintf("kind(%d)", int32(k))
}

// hasData reports whether Events of kind k carry data after the header
func (k Kind) hasData() bool {
	return k == KindPayload || k == KindReconstruct
}

// An Event is the unit of the lockstep protocol
// One Event is carried by one frame
type Event struct {
	Kind      Kind
	PlayerID  int32
	Step      int32
	TimeDelta float64
	Data      []byte
}

func (e Event) String() string {
	switch e.Kind {
	case KindReady:
		return fmt.Sprintf("Ready(%d, %.3fs)", e.Step, e.TimeDelta)
	case KindPayload:
		return fmt.Sprintf("Payload(%d, %d bytes)", e.PlayerID, len(e.Data))
	case KindPlayerJoined:
		return fmt.Sprintf("Player joined %d", e.PlayerID)
	case KindPlayerLeft:
		return fmt.Sprintf("Player left %d", e.PlayerID)
	}

	return fmt.Sprintf("%s(%d, %d)", e.Kind, e.PlayerID, e.Step)
}

// MarshalBinary returns the header followed by the data
func (e Event) MarshalBinary() ([]byte, error) {
	return e.appendBinary(nil), nil
}

func (e Event) appendBinary(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(e.Kind))
	dst = binary.BigEndian.AppendUint32(dst, uint32(e.PlayerID))
	dst = binary.BigEndian.AppendUint32(dst, uint32(e.Step))
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(e.TimeDelta))

	if e.Kind.hasData() {
		dst = append(dst, e.Data...)
	}

	return dst
}

// UnmarshalBinary parses a frame payload
// Data of kinds that don't carry any is ignored
func (e *Event) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%d bytes: %w", len(data), ErrShortHeader)
	}

	kind := Kind(int32(binary.BigEndian.Uint32(data[0:4])))
	if kind < 0 || kind >= kindCount {
		return fmt.Errorf("%d: %w", int32(kind), ErrUnknownKind)
	}

	*e = Event{
		Kind:      kind,
		PlayerID:  int32(binary.BigEndian.Uint32(data[4:8])),
		Step:      int32(binary.BigEndian.Uint32(data[8:12])),
		TimeDelta: math.Float64frombits(binary.BigEndian.Uint64(data[12:20])),
	}

	if kind.hasData() {
		e.Data = append([]byte(nil), data[HeaderSize:]...)
	}

	return nil
}

// AppendFrame appends the framed Event to dst
func (e Event) AppendFrame(dst []byte) []byte {
	return AppendFrame(dst, e.appendBinary(nil))
}

// Values decodes the data of the Event as a qpacket stream
func (e Event) Values(c *qpacket.Codec) ([]qpacket.Value, error) {
	return c.Decode(e.Data)
}
