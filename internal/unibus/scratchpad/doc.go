// Package scratchpad implements the fixed 30-byte record every UniBus module
// exchanges with the controller.
//
// # Layout
//
//	 0      1        2       3              4      5 ............ 28   29
//	+------+--------+-------+--------------+------+-----------------+-----+
//	| type | subtype| config| controller_id| rf_id|   data (24)     | crc |
//	+------+--------+-------+--------------+------+-----------------+-----+
//	|<------------------ head (5) --------------->|
//
// The CRC is the Dallas/Maxim 1-Wire CRC-8 over bytes 0..28. A record whose
// stored CRC does not match is never interpreted. Unused bytes carry 0xFF so
// that "absent" and "zero" stay distinguishable.
//
// The 24 data bytes are interpreted per packet category:
//
//   - CategorySensors:   SensorsPayload (battery, calibration, query interval, 3 sensors)
//   - CategoryDisplay:   DisplayPayload (thresholds and up to 5 readings to render)
//   - CategoryExecution: ExecutionPayload (8 actuator slots)
//
// All payload types are explicit byte codecs; nothing is overlaid on memory.
package scratchpad
