package scratchpad

import (
	"errors"
	"fmt"
)

// Record geometry.
const (
	HeadSize = 5
	DataSize = 24
	Size     = HeadSize + DataSize + 1
)

// Unused is the fill value for every byte that carries no information.
const Unused = 0xFF

// NoSensorRegistered marks a sensor slot that has not been given an index yet.
const NoSensorRegistered = 0xFF

// Config bits in the record head.
const (
	ConfigTransmitterOn     byte = 1 << 0
	ConfigCalibrationFactor byte = 1 << 1
)

var (
	// ErrChecksum is returned when the stored CRC does not match the content.
	ErrChecksum = errors.New("scratchpad: checksum mismatch")

	// ErrShortRecord is returned when fewer than Size bytes are decoded.
	ErrShortRecord = errors.New("scratchpad: short record")
)

// Category is the packet type in the record head.
type Category byte

// Packet categories. Wire constants: never renumber.
const (
	CategorySensors   Category = 1
	CategoryDisplay   Category = 2
	CategoryExecution Category = 3
)

// String returns the category name used in config, logs and topics.
func (c Category) String() string {
	switch c {
	case CategorySensors:
		return "sensors"
	case CategoryDisplay:
		return "display"
	case CategoryExecution:
		return "execution"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// ParseCategory maps a configuration name to a Category.
func ParseCategory(name string) (Category, error) {
	for _, c := range []Category{CategorySensors, CategoryDisplay, CategoryExecution} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("scratchpad: unknown category %q", name)
}

// Head is the part of the record shared by all module types.
type Head struct {
	PacketType    Category
	PacketSubtype byte
	Config        byte
	ControllerID  byte
	RFID          byte
}

// Record is one scratchpad as read from or written to a module.
// Records are values: copy them freely.
type Record struct {
	Head Head
	Data [DataSize]byte
	CRC  byte
}

// New returns a sealed record of the given category with every other byte
// set to Unused.
func New(c Category) Record {
	r := Record{
		Head: Head{
			PacketType:    c,
			PacketSubtype: 0,
			Config:        Unused,
			ControllerID:  Unused,
			RFID:          Unused,
		},
	}
	for i := range r.Data {
		r.Data[i] = Unused
	}
	r.Seal()
	return r
}

// Decode parses a raw record and validates its CRC.
//
// On ErrChecksum the decoded record is still returned so callers can log
// it, but it must not be interpreted or persisted.
func Decode(b []byte) (Record, error) {
	if len(b) < Size {
		return Record{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortRecord, len(b), Size)
	}

	r := Record{
		Head: Head{
			PacketType:    Category(b[0]),
			PacketSubtype: b[1],
			Config:        b[2],
			ControllerID:  b[3],
			RFID:          b[4],
		},
		CRC: b[Size-1],
	}
	copy(r.Data[:], b[HeadSize:HeadSize+DataSize])

	if !r.Valid() {
		return r, fmt.Errorf("%w: stored 0x%02X, computed 0x%02X", ErrChecksum, r.CRC, r.ComputeCRC())
	}
	return r, nil
}

// Bytes encodes the record as stored, including its current CRC byte.
func (r Record) Bytes() []byte {
	b := make([]byte, Size)
	r.put(b)
	b[Size-1] = r.CRC
	return b
}

func (r Record) put(b []byte) {
	b[0] = byte(r.Head.PacketType)
	b[1] = r.Head.PacketSubtype
	b[2] = r.Head.Config
	b[3] = r.Head.ControllerID
	b[4] = r.Head.RFID
	copy(b[HeadSize:], r.Data[:])
}

// ComputeCRC returns the CRC-8 over head and data.
func (r Record) ComputeCRC() byte {
	var b [Size - 1]byte
	r.put(b[:])
	return CRC8(b[:])
}

// Valid reports whether the stored CRC matches the content. It is the only
// validity predicate for a record.
func (r Record) Valid() bool {
	return r.CRC == r.ComputeCRC()
}

// Seal recomputes and stores the CRC.
func (r *Record) Seal() {
	r.CRC = r.ComputeCRC()
}

// Category returns the packet type.
func (r Record) Category() Category {
	return r.Head.PacketType
}

// BelongsTo reports whether the module is bound to the given controller.
// A module that has never been bound (ControllerID == Unused) belongs to nobody.
func (r Record) BelongsTo(controllerID byte) bool {
	return r.Head.ControllerID != Unused && r.Head.ControllerID == controllerID
}

// Foreign reports whether the module is bound to some other controller.
func (r Record) Foreign(controllerID byte) bool {
	return r.Head.ControllerID != Unused && r.Head.ControllerID != controllerID
}
