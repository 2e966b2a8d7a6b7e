package scratchpad

import (
	"testing"
	"time"
)

func TestSensorEntry_DecodeTemperature(t *testing.T) {
	e := SensorEntry{Index: 0, Type: SensorTemperature, Data: [4]byte{0x00, 0x96, 0xFF, 0xFF}}

	primary, secondary := e.Decode()
	if !primary.OK || primary.Value != 15.0 {
		t.Errorf("primary = %+v, want 15.0", primary)
	}
	if secondary.OK {
		t.Errorf("secondary = %+v, want none", secondary)
	}
}

func TestSensorEntry_Decode(t *testing.T) {
	tests := []struct {
		name          string
		entry         SensorEntry
		wantPrimary   Reading
		wantSecondary Reading
	}{
		{
			name:          "humidity with temperature",
			entry:         SensorEntry{Type: SensorHumidity, Data: [4]byte{0x02, 0x6C, 0x00, 0xD2}},
			wantPrimary:   Reading{Value: 62.0, OK: true},
			wantSecondary: Reading{Value: 21.0, OK: true},
		},
		{
			name:        "negative temperature",
			entry:       SensorEntry{Type: SensorTemperature, Data: [4]byte{0xFF, 0x9C, 0xFF, 0xFF}},
			wantPrimary: Reading{Value: -10.0, OK: true},
		},
		{
			name:        "luminosity",
			entry:       SensorEntry{Type: SensorLuminosity, Data: [4]byte{0x00, 0x00, 0x04, 0xB0}},
			wantPrimary: Reading{Value: 1000, OK: true},
		},
		{
			name:  "luminosity fill",
			entry: SensorEntry{Type: SensorLuminosity, Data: [4]byte{0xFF, 0xFF, 0xFF, 0xFF}},
		},
		{
			name:        "ph",
			entry:       SensorEntry{Type: SensorPH, Data: [4]byte{0x00, 0x46, 0xFF, 0xFF}},
			wantPrimary: Reading{Value: 7.0, OK: true},
		},
		{
			name:  "temperature fill",
			entry: SensorEntry{Type: SensorTemperature, Data: [4]byte{0xFF, 0xFF, 0xFF, 0xFF}},
		},
		{
			name:  "none",
			entry: SensorEntry{Type: SensorNone, Data: [4]byte{0x00, 0x96, 0x00, 0x00}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, s := tt.entry.Decode()
			if p != tt.wantPrimary {
				t.Errorf("primary = %+v, want %+v", p, tt.wantPrimary)
			}
			if s != tt.wantSecondary {
				t.Errorf("secondary = %+v, want %+v", s, tt.wantSecondary)
			}
		})
	}
}

func TestEncodeTenths(t *testing.T) {
	tests := []struct {
		in   float64
		want [2]byte
	}{
		{15.0, [2]byte{0x00, 0x96}},
		{-10.0, [2]byte{0xFF, 0x9C}},
		{1e9, [2]byte{0x7F, 0xFF}},
	}
	for _, tt := range tests {
		if got := EncodeTenths(tt.in); got != tt.want {
			t.Errorf("EncodeTenths(%v) = % X, want % X", tt.in, got, tt.want)
		}
	}
}

func TestSensorsPayload_Layout(t *testing.T) {
	var data [DataSize]byte
	for i := range data {
		data[i] = byte(i)
	}

	p := DecodeSensors(data)
	if p.BatteryStatus != 0 || p.QueryInterval != 3 {
		t.Errorf("header fields = %+v", p)
	}
	if p.Sensors[0].Index != 6 || p.Sensors[0].Type != SensorType(7) {
		t.Errorf("Sensors[0] = %+v", p.Sensors[0])
	}
	if p.Sensors[2].Data != [4]byte{20, 21, 22, 23} {
		t.Errorf("Sensors[2].Data = %v", p.Sensors[2].Data)
	}
	if p.Encode() != data {
		t.Error("Encode(DecodeSensors(data)) != data")
	}
}

func TestSensorsPayload_QueryPeriod(t *testing.T) {
	p := SensorsPayload{QueryInterval: 0x25}
	if got := p.QueryPeriod(); got != 2*time.Minute+5*time.Second {
		t.Errorf("QueryPeriod() = %v, want 2m5s", got)
	}
	if got := (SensorsPayload{QueryInterval: Unused}).QueryPeriod(); got != 0 {
		t.Errorf("QueryPeriod(unset) = %v, want 0", got)
	}
	if got := PackQueryInterval(2*time.Minute + 5*time.Second); got != 0x25 {
		t.Errorf("PackQueryInterval() = 0x%02X, want 0x25", got)
	}
	if got := PackQueryInterval(time.Hour); got != 0xF0 {
		t.Errorf("PackQueryInterval(1h) = 0x%02X, want 0xF0", got)
	}
}

func TestDisplayPayload_Layout(t *testing.T) {
	var data [DataSize]byte
	for i := range data {
		data[i] = byte(i)
	}

	p := DecodeDisplay(data)
	if p.ControllerStatus != 3 || p.OpenTemperature != 6 || p.CloseTemperature != 7 || p.DataCount != 8 {
		t.Errorf("display header = %+v", p)
	}
	if p.Readings[4].SensorType != SensorType(21) || p.Readings[4].Data != [2]byte{22, 23} {
		t.Errorf("Readings[4] = %+v", p.Readings[4])
	}
	if p.Encode() != data {
		t.Error("Encode(DecodeDisplay(data)) != data")
	}

	if (DisplayPayload{Status1: Unused}).ThresholdsChanged() {
		t.Error("unset status must not report a change")
	}
	if !(DisplayPayload{Status1: DisplayThresholdsChanged}).ThresholdsChanged() {
		t.Error("flagged status must report a change")
	}
}

func TestExecutionPayload_Layout(t *testing.T) {
	var p ExecutionPayload
	p.Slots[0] = Slot{Type: SlotWindowLeft, LinkedData: 2, Status: SlotHigh}
	p.Slots[7] = Slot{Type: SlotPin, LinkedData: 13, Status: SlotLow}

	data := p.Encode()
	if data[0] != 1 || data[1] != 2 || data[2] != 1 {
		t.Errorf("slot 0 bytes = % X", data[0:3])
	}
	if data[21] != 5 || data[22] != 13 || data[23] != 0 {
		t.Errorf("slot 7 bytes = % X", data[21:24])
	}
	if DecodeExecution(data) != p {
		t.Error("DecodeExecution(Encode(p)) != p")
	}
}

func TestParseNames(t *testing.T) {
	for _, st := range SensorTypes {
		got, err := ParseSensorType(st.String())
		if err != nil || got != st {
			t.Errorf("ParseSensorType(%q) = %v, %v", st.String(), got, err)
		}
	}
	if _, err := ParseSensorType("none"); err == nil {
		t.Error("ParseSensorType(none) expected error")
	}

	got, err := ParseSlotType("window_right")
	if err != nil || got != SlotWindowRight {
		t.Errorf("ParseSlotType(window_right) = %v, %v", got, err)
	}
	if _, err := ParseSlotType("door"); err == nil {
		t.Error("ParseSlotType(door) expected error")
	}

	if ModuleSensorDHT22.Measures() != SensorHumidity {
		t.Error("DHT22 should measure humidity")
	}
	if ModuleSensorBH1750.String() != "BH1750" {
		t.Errorf("BH1750 String() = %q", ModuleSensorBH1750.String())
	}
}
