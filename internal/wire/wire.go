// Package wire implements the binary messages exchanged with the client.
//
// Server to client, one message per changed region:
//
//	offset 0  uint32 LE x
//	offset 4  uint32 LE y
//	offset 8  uint32 LE width
//	offset 12 uint32 LE height
//	offset 16 region payload, row-major
//
// Client to server:
//
//	offset 0 uint32 LE type (0=end 1=start 2=move 3=pause 4=resume)
//	offset 4 uint32 LE x    (types 0-2)
//	offset 8 uint32 LE y    (types 0-2)
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/e7canasta/pagestream/internal/raster"
)

// HeaderSize is the length of the update header.
const HeaderSize = 16

// InputType identifies a client input message.
type InputType uint32

const (
	TouchEnd   InputType = 0
	TouchStart InputType = 1
	TouchMove  InputType = 2
	Pause      InputType = 3
	Resume     InputType = 4
)

// String returns the message name.
func (t InputType) String() string {
	switch t {
	case TouchEnd:
		return "touch_end"
	case TouchStart:
		return "touch_start"
	case TouchMove:
		return "touch_move"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// HasPosition reports whether the type carries x/y.
func (t InputType) HasPosition() bool {
	return t <= TouchMove
}

// Input is a decoded client message.
type Input struct {
	Type InputType
	X    uint32
	Y    uint32
}

// EncodeUpdate frames a region payload.
func EncodeUpdate(r raster.Rect, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], uint32(r.X))
	binary.LittleEndian.PutUint32(out[4:], uint32(r.Y))
	binary.LittleEndian.PutUint32(out[8:], uint32(r.Width))
	binary.LittleEndian.PutUint32(out[12:], uint32(r.Height))
	copy(out[HeaderSize:], payload)
	return out
}

// DecodeUpdate splits an update message. Used by tests and tooling.
func DecodeUpdate(msg []byte) (raster.Rect, []byte, error) {
	if len(msg) < HeaderSize {
		return raster.Rect{}, nil, fmt.Errorf("wire: update too short (%d bytes)", len(msg))
	}
	r := raster.Rect{
		Position: raster.Position{
			X: int(binary.LittleEndian.Uint32(msg[0:])),
			Y: int(binary.LittleEndian.Uint32(msg[4:])),
		},
		Dimensions: raster.Dimensions{
			Width:  int(binary.LittleEndian.Uint32(msg[8:])),
			Height: int(binary.LittleEndian.Uint32(msg[12:])),
		},
	}
	return r, msg[HeaderSize:], nil
}

// DecodeInput parses a client message. ok is false for messages that must
// be ignored: shorter than 4 bytes, unknown types, or pointer messages
// shorter than 12 bytes.
func DecodeInput(msg []byte) (in Input, ok bool) {
	if len(msg) < 4 {
		return Input{}, false
	}

	in.Type = InputType(binary.LittleEndian.Uint32(msg))
	switch in.Type {
	case Pause, Resume:
		return in, true
	case TouchEnd, TouchStart, TouchMove:
	default:
		return in, false
	}

	if len(msg) < 12 {
		return in, false
	}
	in.X = binary.LittleEndian.Uint32(msg[4:])
	in.Y = binary.LittleEndian.Uint32(msg[8:])
	return in, true
}

// EncodeInput builds a client message. Used by tests and tooling.
func EncodeInput(in Input) []byte {
	if !in.Type.HasPosition() {
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(in.Type))
		return out
	}
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[0:], uint32(in.Type))
	binary.LittleEndian.PutUint32(out[4:], in.X)
	binary.LittleEndian.PutUint32(out[8:], in.Y)
	return out
}
