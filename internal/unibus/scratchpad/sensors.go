package scratchpad

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// MaxSensors is the number of sensor entries in a sensors payload.
const MaxSensors = 3

// No-data sentinels written into state slots when a module is silent.
const (
	NoTemperatureData = -128
	NoLuminosityData  = -1
)

// LuminosityDivisor converts a raw light sensor count to lux.
const LuminosityDivisor = 1.2

// SensorType identifies what a sensor entry measures. Wire constants: never renumber.
type SensorType byte

// Sensor types.
const (
	SensorNone         SensorType = 0
	SensorTemperature  SensorType = 1
	SensorHumidity     SensorType = 2
	SensorLuminosity   SensorType = 3
	SensorSoilMoisture SensorType = 4
	SensorPH           SensorType = 5
)

// SensorTypes lists every real sensor type in wire order.
var SensorTypes = []SensorType{
	SensorTemperature,
	SensorHumidity,
	SensorLuminosity,
	SensorSoilMoisture,
	SensorPH,
}

var sensorTypeNames = map[SensorType]string{
	SensorNone:         "none",
	SensorTemperature:  "temperature",
	SensorHumidity:     "humidity",
	SensorLuminosity:   "luminosity",
	SensorSoilMoisture: "soil_moisture",
	SensorPH:           "ph",
}

func (t SensorType) String() string {
	if name, ok := sensorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Known reports whether t is one of the defined sensor types other than none.
func (t SensorType) Known() bool {
	return t >= SensorTemperature && t <= SensorPH
}

// ParseSensorType maps a configuration name to a SensorType.
func ParseSensorType(name string) (SensorType, error) {
	for t, n := range sensorTypeNames {
		if n == name && t != SensorNone {
			return t, nil
		}
	}
	return SensorNone, fmt.Errorf("scratchpad: unknown sensor type %q", name)
}

// ModuleSensorType is the physical sensor chip fitted to a module. It is
// informational only: the controller routes by SensorType.
type ModuleSensorType byte

// Module sensor hardware.
const (
	ModuleSensorNone ModuleSensorType = iota
	ModuleSensorDS18B20
	ModuleSensorBH1750
	ModuleSensorSi7021
	ModuleSensorChinaSoilMoisture
	ModuleSensorDHT11
	ModuleSensorDHT22
	ModuleSensorPHMeter
	ModuleSensorFrequencySoilMoisture
)

func (m ModuleSensorType) String() string {
	switch m {
	case ModuleSensorNone:
		return "none"
	case ModuleSensorDS18B20:
		return "DS18B20"
	case ModuleSensorBH1750:
		return "BH1750"
	case ModuleSensorSi7021:
		return "Si7021"
	case ModuleSensorChinaSoilMoisture:
		return "soil moisture (resistive)"
	case ModuleSensorDHT11:
		return "DHT11"
	case ModuleSensorDHT22:
		return "DHT22"
	case ModuleSensorPHMeter:
		return "pH meter"
	case ModuleSensorFrequencySoilMoisture:
		return "soil moisture (frequency)"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}

// Measures returns the sensor type a hardware chip reports as.
func (m ModuleSensorType) Measures() SensorType {
	switch m {
	case ModuleSensorDS18B20:
		return SensorTemperature
	case ModuleSensorBH1750:
		return SensorLuminosity
	case ModuleSensorSi7021, ModuleSensorDHT11, ModuleSensorDHT22:
		return SensorHumidity
	case ModuleSensorChinaSoilMoisture, ModuleSensorFrequencySoilMoisture:
		return SensorSoilMoisture
	case ModuleSensorPHMeter:
		return SensorPH
	default:
		return SensorNone
	}
}

// SensorEntry is one {index, type, value} triple in a sensors payload.
type SensorEntry struct {
	Index byte
	Type  SensorType
	Data  [4]byte
}

// Registered reports whether the controller has assigned an index.
func (e SensorEntry) Registered() bool {
	return e.Index != NoSensorRegistered
}

// Present reports whether the entry describes a sensor at all.
func (e SensorEntry) Present() bool {
	return e.Type.Known()
}

// Reading is one decoded value. OK is false when the module sent fill bytes.
type Reading struct {
	Value float64
	OK    bool
}

// Decode returns the scaled reading(s) of the entry. Only humidity carries a
// secondary reading (its temperature).
func (e SensorEntry) Decode() (primary, secondary Reading) {
	switch e.Type {
	case SensorTemperature, SensorSoilMoisture, SensorPH:
		return DecodeTenths([2]byte{e.Data[0], e.Data[1]}), Reading{}
	case SensorHumidity:
		return DecodeTenths([2]byte{e.Data[0], e.Data[1]}), DecodeTenths([2]byte{e.Data[2], e.Data[3]})
	case SensorLuminosity:
		return DecodeLuminosity(e.Data), Reading{}
	default:
		return Reading{}, Reading{}
	}
}

// DecodeTenths decodes a big-endian signed word in tenths of a unit.
// 0x0096 decodes to 15.0. The all-0xFF word means no data.
func DecodeTenths(b [2]byte) Reading {
	if b[0] == Unused && b[1] == Unused {
		return Reading{}
	}
	raw := int16(binary.BigEndian.Uint16(b[:]))
	return Reading{Value: float64(raw) / 10, OK: true}
}

// EncodeTenths is the inverse of DecodeTenths. Out of range values saturate.
func EncodeTenths(v float64) [2]byte {
	scaled := math.Round(v * 10)
	switch {
	case scaled > math.MaxInt16:
		scaled = math.MaxInt16
	case scaled < math.MinInt16:
		scaled = math.MinInt16
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(int16(scaled)))
	return b
}

// DecodeLuminosity decodes a big-endian 32-bit raw light count and converts
// it to whole lux. All-0xFF means no data.
func DecodeLuminosity(b [4]byte) Reading {
	raw := binary.BigEndian.Uint32(b[:])
	if raw == math.MaxUint32 {
		return Reading{}
	}
	return Reading{Value: math.Trunc(float64(int32(raw)) / LuminosityDivisor), OK: true}
}

// SensorsPayload is the data section of a sensors module record.
type SensorsPayload struct {
	BatteryStatus      byte
	CalibrationFactor1 byte
	CalibrationFactor2 byte

	// QueryInterval packs minutes in the upper nibble and seconds in the lower.
	QueryInterval byte
	Reserved      [2]byte
	Sensors       [MaxSensors]SensorEntry
}

// DecodeSensors interprets a record's data as a sensors payload.
func DecodeSensors(data [DataSize]byte) SensorsPayload {
	p := SensorsPayload{
		BatteryStatus:      data[0],
		CalibrationFactor1: data[1],
		CalibrationFactor2: data[2],
		QueryInterval:      data[3],
		Reserved:           [2]byte{data[4], data[5]},
	}
	for i := range p.Sensors {
		off := 6 + i*6
		p.Sensors[i] = SensorEntry{
			Index: data[off],
			Type:  SensorType(data[off+1]),
		}
		copy(p.Sensors[i].Data[:], data[off+2:off+6])
	}
	return p
}

// Encode packs the payload back into record data.
func (p SensorsPayload) Encode() [DataSize]byte {
	var data [DataSize]byte
	data[0] = p.BatteryStatus
	data[1] = p.CalibrationFactor1
	data[2] = p.CalibrationFactor2
	data[3] = p.QueryInterval
	data[4], data[5] = p.Reserved[0], p.Reserved[1]
	for i, s := range p.Sensors {
		off := 6 + i*6
		data[off] = s.Index
		data[off+1] = byte(s.Type)
		copy(data[off+2:off+6], s.Data[:])
	}
	return data
}

// QueryPeriod returns the module's configured reporting interval.
// An unset interval (0xFF) yields zero.
func (p SensorsPayload) QueryPeriod() time.Duration {
	if p.QueryInterval == Unused {
		return 0
	}
	minutes := time.Duration(p.QueryInterval>>4) * time.Minute
	seconds := time.Duration(p.QueryInterval&0x0F) * time.Second
	return minutes + seconds
}

// PackQueryInterval encodes d into the nibble format, clamping each nibble to 15.
func PackQueryInterval(d time.Duration) byte {
	minutes := min(int(d/time.Minute), 15)
	seconds := min(int((d%time.Minute)/time.Second), 15)
	return byte(minutes<<4 | seconds)
}
