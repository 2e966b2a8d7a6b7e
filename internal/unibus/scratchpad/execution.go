package scratchpad

import "fmt"

// ExecutionSlots is the number of slots an execution module carries.
const ExecutionSlots = 8

// Slot status values.
const (
	SlotLow  byte = 0
	SlotHigh byte = 1
)

// SlotType identifies what an execution slot is bound to.
type SlotType byte

// Slot types.
const (
	SlotEmpty SlotType = iota
	SlotWindowLeft
	SlotWindowRight
	SlotWatering
	SlotLight
	SlotPin
)

var slotTypeNames = [...]string{
	SlotEmpty:       "empty",
	SlotWindowLeft:  "window_left",
	SlotWindowRight: "window_right",
	SlotWatering:    "watering",
	SlotLight:       "light",
	SlotPin:         "pin",
}

func (s SlotType) String() string {
	if int(s) < len(slotTypeNames) {
		return slotTypeNames[s]
	}
	return fmt.Sprintf("unknown(%d)", byte(s))
}

// ParseSlotType maps a configuration name to a SlotType.
func ParseSlotType(name string) (SlotType, error) {
	for i, n := range slotTypeNames {
		if n == name {
			return SlotType(i), nil
		}
	}
	return SlotEmpty, fmt.Errorf("scratchpad: unknown slot type %q", name)
}

// Slot is one actuator binding. LinkedData is assigned by the controller and
// echoed by the module unchanged.
type Slot struct {
	Type       SlotType
	LinkedData byte
	Status     byte
}

// ExecutionPayload is the data section of an execution module record.
type ExecutionPayload struct {
	Slots [ExecutionSlots]Slot
}

// DecodeExecution interprets a record's data as an execution payload.
func DecodeExecution(data [DataSize]byte) ExecutionPayload {
	var p ExecutionPayload
	for i := range p.Slots {
		off := i * 3
		p.Slots[i] = Slot{
			Type:       SlotType(data[off]),
			LinkedData: data[off+1],
			Status:     data[off+2],
		}
	}
	return p
}

// Encode packs the payload back into record data.
func (p ExecutionPayload) Encode() [DataSize]byte {
	var data [DataSize]byte
	for i, s := range p.Slots {
		off := i * 3
		data[off] = byte(s.Type)
		data[off+1] = s.LinkedData
		data[off+2] = s.Status
	}
	return data
}
