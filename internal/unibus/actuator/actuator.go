// Package actuator holds the controller's actuator table: which window,
// watering, light and pin channels are on. Execution modules mirror it on
// the bus and the RS-485 master broadcasts it.
package actuator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Channel limits.
const (
	MaxWindows       = 16
	MaxWaterChannels = 8
	MaxLightChannels = 8
	PinBytes         = 8
	MaxPins          = PinBytes * 8
)

// StateSize is the encoded size of a ControllerState.
const StateSize = 4 + 1 + 1 + PinBytes

// ErrChannelRange is returned for a channel outside the table.
var ErrChannelRange = errors.New("actuator: channel out of range")

// ControllerState is the actuator table. Each window has two motor
// channels: bit 2n drives window n left, bit 2n+1 drives it right.
type ControllerState struct {
	Windows uint32
	Water   uint8
	Light   uint8
	Pins    [PinBytes]byte
}

// Window reports whether a window motor channel is on.
func (s ControllerState) Window(window uint8, right bool) bool {
	return s.Windows&windowBit(window, right) != 0
}

// WaterChannel reports whether a watering channel is on.
func (s ControllerState) WaterChannel(ch uint8) bool {
	return ch < MaxWaterChannels && s.Water&(1<<ch) != 0
}

// LightChannel reports whether a light channel is on.
func (s ControllerState) LightChannel(ch uint8) bool {
	return ch < MaxLightChannels && s.Light&(1<<ch) != 0
}

// Pin reports whether a pin is high.
func (s ControllerState) Pin(pin uint8) bool {
	if pin >= MaxPins {
		return false
	}
	return s.Pins[pin/8]&(1<<(pin%8)) != 0
}

// SlotStatus returns the HIGH/LOW status an execution slot should show.
// Empty and unknown slots are LOW.
func (s ControllerState) SlotStatus(t scratchpad.SlotType, linked byte) byte {
	var on bool
	switch t {
	case scratchpad.SlotWindowLeft:
		on = s.Window(linked, false)
	case scratchpad.SlotWindowRight:
		on = s.Window(linked, true)
	case scratchpad.SlotWatering:
		on = s.WaterChannel(linked)
	case scratchpad.SlotLight:
		on = s.LightChannel(linked)
	case scratchpad.SlotPin:
		on = s.Pin(linked)
	}
	if on {
		return scratchpad.SlotHigh
	}
	return scratchpad.SlotLow
}

// Encode packs the state in wire order: windows little-endian, water,
// light, pins.
func (s ControllerState) Encode() [StateSize]byte {
	var b [StateSize]byte
	binary.LittleEndian.PutUint32(b[0:4], s.Windows)
	b[4] = s.Water
	b[5] = s.Light
	copy(b[6:], s.Pins[:])
	return b
}

// DecodeState is the inverse of Encode.
func DecodeState(b [StateSize]byte) ControllerState {
	s := ControllerState{
		Windows: binary.LittleEndian.Uint32(b[0:4]),
		Water:   b[4],
		Light:   b[5],
	}
	copy(s.Pins[:], b[6:])
	return s
}

func windowBit(window uint8, right bool) uint32 {
	if window >= MaxWindows {
		return 0
	}
	bit := uint32(window) * 2
	if right {
		bit++
	}
	return 1 << bit
}

// Kind names a channel group in commands.
type Kind string

// Channel kinds.
const (
	KindWindowLeft  Kind = "window_left"
	KindWindowRight Kind = "window_right"
	KindWater       Kind = "water"
	KindLight       Kind = "light"
	KindPin         Kind = "pin"
)

// ParseKind validates a command kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindWindowLeft, KindWindowRight, KindWater, KindLight, KindPin:
		return k, nil
	}
	return "", fmt.Errorf("actuator: unknown channel kind %q", s)
}

// Thresholds are the window open/close temperatures in whole degrees.
type Thresholds struct {
	Open  uint8 `json:"open"`
	Close uint8 `json:"close"`
}

// Table is the shared actuator table.
//
// Thread Safety: all methods are safe for concurrent use.
type Table struct {
	mu         sync.RWMutex
	state      ControllerState
	thresholds Thresholds
}

// NewTable creates a table with every channel off.
func NewTable(t Thresholds) *Table {
	return &Table{thresholds: t}
}

// State returns a copy of the current state.
func (t *Table) State() ControllerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Set switches one channel.
func (t *Table) Set(kind Kind, ch uint8, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.state
	switch kind {
	case KindWindowLeft, KindWindowRight:
		bit := windowBit(ch, kind == KindWindowRight)
		if bit == 0 {
			return fmt.Errorf("%w: window %d", ErrChannelRange, ch)
		}
		s.Windows = setBit32(s.Windows, bit, on)
	case KindWater:
		if ch >= MaxWaterChannels {
			return fmt.Errorf("%w: water %d", ErrChannelRange, ch)
		}
		s.Water = setBit8(s.Water, 1<<ch, on)
	case KindLight:
		if ch >= MaxLightChannels {
			return fmt.Errorf("%w: light %d", ErrChannelRange, ch)
		}
		s.Light = setBit8(s.Light, 1<<ch, on)
	case KindPin:
		if ch >= MaxPins {
			return fmt.Errorf("%w: pin %d", ErrChannelRange, ch)
		}
		s.Pins[ch/8] = setBit8(s.Pins[ch/8], 1<<(ch%8), on)
	default:
		return fmt.Errorf("actuator: unknown channel kind %q", kind)
	}
	return nil
}

// Thresholds returns the window thresholds.
func (t *Table) Thresholds() Thresholds {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thresholds
}

// SetThresholds replaces the window thresholds.
func (t *Table) SetThresholds(th Thresholds) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholds = th
}

func setBit32(v, bit uint32, on bool) uint32 {
	if on {
		return v | bit
	}
	return v &^ bit
}

func setBit8(v, bit uint8, on bool) uint8 {
	if on {
		return v | bit
	}
	return v &^ bit
}
