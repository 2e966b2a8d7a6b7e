package scratchpad

import (
	"bytes"
	"errors"
	"testing"
)

func TestCRC8_KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"empty", nil, 0x00},
		{"check string", []byte("123456789"), 0xA1},
		{"ds18b20 rom", []byte{0x02, 0x1C, 0xB8, 0x01, 0x00, 0x00, 0x00}, 0xA2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC8(tt.data); got != tt.want {
				t.Errorf("CRC8() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestCRC8_AppendedCRCYieldsZero(t *testing.T) {
	data := []byte{0x01, 0x00, 0xFF, 0x2A, 0x07, 0x00, 0x96}
	withCRC := append(append([]byte{}, data...), CRC8(data))
	if got := CRC8(withCRC); got != 0 {
		t.Errorf("CRC8(data+crc) = 0x%02X, want 0", got)
	}
}

func TestNew_FillsUnused(t *testing.T) {
	r := New(CategorySensors)

	if r.Category() != CategorySensors {
		t.Errorf("Category() = %v, want sensors", r.Category())
	}
	if r.Head.ControllerID != Unused || r.Head.RFID != Unused {
		t.Errorf("head ids = %02X/%02X, want 0xFF", r.Head.ControllerID, r.Head.RFID)
	}
	for i, b := range r.Data {
		if b != Unused {
			t.Fatalf("Data[%d] = 0x%02X, want 0xFF", i, b)
		}
	}
	if !r.Valid() {
		t.Error("New() record should be sealed")
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	r := New(CategoryExecution)
	r.Head.ControllerID = 0x2A
	r.Head.RFID = 7
	r.Data[0] = byte(SlotWatering)
	r.Seal()

	raw := r.Bytes()
	if len(raw) != Size {
		t.Fatalf("len(Bytes()) = %d, want %d", len(raw), Size)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != r {
		t.Errorf("Decode() = %+v, want %+v", got, r)
	}
	if !bytes.Equal(got.Bytes(), raw) {
		t.Error("re-encoded bytes differ")
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(make([]byte, Size-1)); !errors.Is(err, ErrShortRecord) {
		t.Errorf("Decode(short) error = %v, want ErrShortRecord", err)
	}

	raw := New(CategorySensors).Bytes()
	raw[10] ^= 0x01
	if _, err := Decode(raw); !errors.Is(err, ErrChecksum) {
		t.Errorf("Decode(corrupt) error = %v, want ErrChecksum", err)
	}
}

// Every single-byte corruption of a valid record must be detected.
func TestValid_DetectsEverySingleByteMutation(t *testing.T) {
	r := New(CategorySensors)
	r.Head.ControllerID = 0x11
	r.Head.RFID = 0x22
	p := DecodeSensors(r.Data)
	p.Sensors[0] = SensorEntry{Index: 0, Type: SensorTemperature, Data: [4]byte{0x00, 0x96, 0xFF, 0xFF}}
	r.Data = p.Encode()
	r.Seal()

	raw := r.Bytes()
	for pos := range raw {
		for mask := 1; mask < 256; mask++ {
			mutated := append([]byte{}, raw...)
			mutated[pos] ^= byte(mask)
			if _, err := Decode(mutated); !errors.Is(err, ErrChecksum) {
				t.Fatalf("mutation at byte %d with mask 0x%02X not detected", pos, mask)
			}
		}
	}
}

func TestRecord_Ownership(t *testing.T) {
	r := New(CategorySensors)
	if r.BelongsTo(5) || r.Foreign(5) {
		t.Error("unbound module should be neither ours nor foreign")
	}

	r.Head.ControllerID = 5
	if !r.BelongsTo(5) || r.Foreign(5) {
		t.Error("module bound to 5 should belong to 5")
	}
	if !r.Foreign(6) {
		t.Error("module bound to 5 should be foreign to 6")
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range []Category{CategorySensors, CategoryDisplay, CategoryExecution} {
		got, err := ParseCategory(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCategory(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCategory("robot"); err == nil {
		t.Error("ParseCategory(robot) expected error")
	}
	if got := Category(9).String(); got != "unknown(9)" {
		t.Errorf("Category(9).String() = %q", got)
	}
}
