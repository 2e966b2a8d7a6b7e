package rs485

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Frame geometry and framing bytes.
const (
	DataSize  = actuator.StateSize
	FrameSize = 4 + DataSize + 3

	Header1 byte = 0xAB
	Header2 byte = 0xBA
	Tail1   byte = 0xDE
	Tail2   byte = 0xAD
)

// Direction is who sent the frame.
type Direction byte

// Directions.
const (
	FromController Direction = 1
	FromPeripheral Direction = 2
)

// Type is the frame payload type.
type Type byte

// Frame types.
const (
	TypeActuatorState Type = 1
	TypeSensorData    Type = 2
)

var (
	// ErrFraming is returned when header or tail bytes are wrong.
	ErrFraming = errors.New("rs485: bad framing")

	// ErrChecksum is returned when the frame CRC does not match.
	ErrChecksum = errors.New("rs485: checksum mismatch")

	// ErrShortFrame is returned when fewer than FrameSize bytes are decoded.
	ErrShortFrame = errors.New("rs485: short frame")
)

// Frame is one decoded frame.
type Frame struct {
	Direction Direction
	Type      Type
	Data      [DataSize]byte
}

// Encode returns the frame on the wire, CRC included.
func (f Frame) Encode() [FrameSize]byte {
	var b [FrameSize]byte
	b[0], b[1] = Header1, Header2
	b[2] = byte(f.Direction)
	b[3] = byte(f.Type)
	copy(b[4:4+DataSize], f.Data[:])
	b[FrameSize-3], b[FrameSize-2] = Tail1, Tail2
	b[FrameSize-1] = scratchpad.CRC8(b[:FrameSize-1])
	return b
}

// Decode parses and validates a frame.
func Decode(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(b), FrameSize)
	}
	if b[0] != Header1 || b[1] != Header2 || b[FrameSize-3] != Tail1 || b[FrameSize-2] != Tail2 {
		return Frame{}, ErrFraming
	}
	if crc := scratchpad.CRC8(b[:FrameSize-1]); crc != b[FrameSize-1] {
		return Frame{}, fmt.Errorf("%w: stored 0x%02X, computed 0x%02X", ErrChecksum, b[FrameSize-1], crc)
	}

	f := Frame{Direction: Direction(b[2]), Type: Type(b[3])}
	copy(f.Data[:], b[4:4+DataSize])
	return f, nil
}

// StateFrame builds the actuator-state broadcast.
func StateFrame(s actuator.ControllerState) Frame {
	return Frame{Direction: FromController, Type: TypeActuatorState, Data: s.Encode()}
}

// SensorQuery builds a sensor-data request. The reading bytes are left
// for the peripheral to fill.
func SensorQuery(t scratchpad.SensorType, index uint8) Frame {
	f := Frame{Direction: FromController, Type: TypeSensorData}
	for i := range f.Data {
		f.Data[i] = scratchpad.Unused
	}
	f.Data[0] = byte(t)
	f.Data[1] = index
	return f
}

// SensorReply extracts the sensor type, index and reading of a
// sensor-data reply.
func (f Frame) SensorReply() (scratchpad.SensorEntry, error) {
	if f.Direction != FromPeripheral || f.Type != TypeSensorData {
		return scratchpad.SensorEntry{}, fmt.Errorf("rs485: not a sensor reply (direction %d, type %d)", f.Direction, f.Type)
	}
	e := scratchpad.SensorEntry{Type: scratchpad.SensorType(f.Data[0]), Index: f.Data[1]}
	copy(e.Data[:], f.Data[2:6])
	return e, nil
}
