package registry

import (
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// MaxIndex is the highest sensor index a module can claim. 0xFF marks an
// unregistered sensor entry and is never a valid index.
const MaxIndex = scratchpad.NoSensorRegistered - 1

// Sensor identifies one registered sensor.
type Sensor struct {
	Type  scratchpad.SensorType
	Index uint8
}

// SensorStates are the state slots a sensor writes to. Only humidity
// sensors have a secondary slot (their temperature).
type SensorStates struct {
	Primary      state.Key
	Secondary    state.Key
	HasSecondary bool
}

// Keys returns the associated slots, primary first.
func (s SensorStates) Keys() []state.Key {
	if s.HasSecondary {
		return []state.Key{s.Primary, s.Secondary}
	}
	return []state.Key{s.Primary}
}

// statesFor returns the slot layout for a sensor.
func statesFor(t scratchpad.SensorType, index uint8) SensorStates {
	s := SensorStates{Primary: state.Key{Module: t, Category: t, Index: index}}
	if t == scratchpad.SensorHumidity {
		s.Secondary = state.Key{Module: t, Category: scratchpad.SensorTemperature, Index: index}
		s.HasSecondary = true
	}
	return s
}

// HardCoded is the number of firmware-wired sensors per type. Their indices
// come first; dynamic registrations start after them.
type HardCoded map[scratchpad.SensorType]uint8

// Identity is the controller's persisted identity.
type Identity struct {
	UUID     uuid.UUID
	BusID    byte
	NextRFID byte
}

// FoldBusID reduces a UUID to the one-byte id stored in module heads. The
// result is never 0xFF, which marks an unbound module.
func FoldBusID(id uuid.UUID) byte {
	var b byte
	for _, v := range id {
		b ^= v
	}
	if b == scratchpad.Unused {
		b--
	}
	return b
}

// Mapping is the full persisted registration state.
type Mapping struct {
	Identity Identity
	Counts   map[scratchpad.SensorType]uint8
	States   map[Sensor]SensorStates
}

// Registration is one row of a mapping listing.
type Registration struct {
	Sensor
	States SensorStates
}
