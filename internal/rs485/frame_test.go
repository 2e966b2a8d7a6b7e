package rs485

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

func TestFrame_EncodeLayout(t *testing.T) {
	st := actuator.ControllerState{Windows: 0x00000102, Water: 0x05, Light: 0x80}
	st.Pins[7] = 0x01
	b := StateFrame(st).Encode()

	if len(b) != 21 {
		t.Fatalf("frame length = %d, want 21", len(b))
	}
	if b[0] != 0xAB || b[1] != 0xBA || b[18] != 0xDE || b[19] != 0xAD {
		t.Errorf("framing bytes = % X ... % X", b[:2], b[18:20])
	}
	if b[2] != byte(FromController) || b[3] != byte(TypeActuatorState) {
		t.Errorf("direction/type = %d/%d, want 1/1", b[2], b[3])
	}
	// Windows little-endian, then water, light and pins.
	if b[4] != 0x02 || b[5] != 0x01 || b[8] != 0x05 || b[9] != 0x80 || b[17] != 0x01 {
		t.Errorf("payload = % X", b[4:18])
	}
	if b[20] != scratchpad.CRC8(b[:20]) {
		t.Errorf("crc = 0x%02X, want 0x%02X", b[20], scratchpad.CRC8(b[:20]))
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	want := SensorQuery(scratchpad.SensorHumidity, 4)
	b := want.Encode()

	got, err := Decode(b[:])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != want {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
	if got.Data[0] != byte(scratchpad.SensorHumidity) || got.Data[1] != 4 || got.Data[2] != scratchpad.Unused {
		t.Errorf("query payload = % X", got.Data)
	}
}

func TestDecode_Errors(t *testing.T) {
	valid := SensorQuery(scratchpad.SensorTemperature, 0).Encode()

	badHeader := valid
	badHeader[0] = 0x00
	badTail := valid
	badTail[19] = 0x00
	badCRC := valid
	badCRC[20] ^= 0xFF
	badData := valid
	badData[6] ^= 0x01

	tests := []struct {
		name string
		b    []byte
		want error
	}{
		{"short", valid[:20], ErrShortFrame},
		{"header", badHeader[:], ErrFraming},
		{"tail", badTail[:], ErrFraming},
		{"crc byte", badCRC[:], ErrChecksum},
		{"payload bit", badData[:], ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.b); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrame_SensorReply(t *testing.T) {
	f := Frame{Direction: FromPeripheral, Type: TypeSensorData}
	f.Data[0] = byte(scratchpad.SensorTemperature)
	f.Data[1] = 2
	f.Data[2], f.Data[3] = 0x00, 0x96

	e, err := f.SensorReply()
	if err != nil {
		t.Fatalf("SensorReply() error = %v", err)
	}
	if e.Type != scratchpad.SensorTemperature || e.Index != 2 {
		t.Errorf("entry = %+v", e)
	}
	if p, _ := e.Decode(); !p.OK || p.Value != 15.0 {
		t.Errorf("reading = %+v, want 15.0", p)
	}

	if _, err := SensorQuery(scratchpad.SensorTemperature, 2).SensorReply(); err == nil {
		t.Error("SensorReply() on a controller query should fail")
	}
}
