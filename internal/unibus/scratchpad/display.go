package scratchpad

// MaxDisplayReadings is the number of readings a display record can carry.
const MaxDisplayReadings = 5

// DisplayThresholdsChanged is set in Status1 when a user edited the window
// thresholds on the display since the controller last wrote them.
const DisplayThresholdsChanged byte = 1 << 0

// DisplayReading is one value for the display to render.
type DisplayReading struct {
	SensorType SensorType
	Data       [2]byte
}

// DisplayPayload is the data section of a remote display record.
type DisplayPayload struct {
	Reserved         [3]byte
	ControllerStatus byte
	Status1          byte
	Status2          byte
	OpenTemperature  byte
	CloseTemperature byte
	DataCount        byte
	Readings         [MaxDisplayReadings]DisplayReading
}

// DecodeDisplay interprets a record's data as a display payload.
func DecodeDisplay(data [DataSize]byte) DisplayPayload {
	p := DisplayPayload{
		Reserved:         [3]byte{data[0], data[1], data[2]},
		ControllerStatus: data[3],
		Status1:          data[4],
		Status2:          data[5],
		OpenTemperature:  data[6],
		CloseTemperature: data[7],
		DataCount:        data[8],
	}
	for i := range p.Readings {
		off := 9 + i*3
		p.Readings[i] = DisplayReading{
			SensorType: SensorType(data[off]),
			Data:       [2]byte{data[off+1], data[off+2]},
		}
	}
	return p
}

// Encode packs the payload back into record data.
func (p DisplayPayload) Encode() [DataSize]byte {
	var data [DataSize]byte
	copy(data[0:3], p.Reserved[:])
	data[3] = p.ControllerStatus
	data[4] = p.Status1
	data[5] = p.Status2
	data[6] = p.OpenTemperature
	data[7] = p.CloseTemperature
	data[8] = p.DataCount
	for i, r := range p.Readings {
		off := 9 + i*3
		data[off] = byte(r.SensorType)
		data[off+1], data[off+2] = r.Data[0], r.Data[1]
	}
	return data
}

// ThresholdsChanged reports whether the user edited thresholds on the display.
func (p DisplayPayload) ThresholdsChanged() bool {
	return p.Status1 != Unused && p.Status1&DisplayThresholdsChanged != 0
}
