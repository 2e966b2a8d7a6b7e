// Package influxdb writes sensor telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every state slot
// change becomes a point in the unibus_sensor measurement and every line
// health sample a point in unibus_line.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSensorReading(influxdb.SensorReading{
//	    Module: "temperature", Category: "temperature", Index: 0, Value: 21.5,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched per the batch_size and flush_interval settings; batch errors are
// delivered to the SetOnError callback.
package influxdb
