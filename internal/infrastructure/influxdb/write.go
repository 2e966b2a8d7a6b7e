package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSensor = "unibus_sensor"
	MeasurementLine   = "unibus_line"
)

// SensorReading is one state slot value.
type SensorReading struct {
	Module   string
	Category string
	Index    uint8
	Value    float64
	NoData   bool
	Time     time.Time
}

// SensorPoint builds the point for a reading. Slots are tagged by module,
// category and index so one series exists per slot.
func SensorPoint(r SensorReading) *write.Point {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		MeasurementSensor,
		map[string]string{
			"module":   r.Module,
			"category": r.Category,
			"index":    strconv.Itoa(int(r.Index)),
		},
		map[string]interface{}{
			"value":   r.Value,
			"no_data": r.NoData,
		},
		ts,
	)
}

// LinePoint builds the point for a bus line health sample.
func LinePoint(name string, online bool, failures uint64, ts time.Time) *write.Point {
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		MeasurementLine,
		map[string]string{"line": name},
		map[string]interface{}{
			"online":   online,
			"failures": int64(failures), // #nosec G115 -- failure counters stay far below MaxInt64
		},
		ts,
	)
}

// WriteSensorReading queues a sensor reading. The write is non-blocking;
// points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteSensorReading(influxdb.SensorReading{
//	    Module: "humidity", Category: "temperature", Index: 0, Value: 21.0,
//	})
func (c *Client) WriteSensorReading(r SensorReading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(SensorPoint(r))
}

// WriteLineStatus queues a bus line health sample.
func (c *Client) WriteLineStatus(name string, online bool, failures uint64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(LinePoint(name, online, failures, time.Now()))
}
