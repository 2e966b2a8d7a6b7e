// Package rs485 speaks the multi-drop RS-485 frame protocol used by
// long-haul peripherals.
//
// Every frame is 21 bytes:
//
//	+----+----+-----+------+------------------+----+----+-----+
//	| H1 | H2 | dir | type | data (14 bytes)  | T1 | T2 | crc |
//	+----+----+-----+------+------------------+----+----+-----+
//
// The CRC is the 1-Wire CRC-8 over the first 20 bytes. The controller
// broadcasts its actuator table in actuator-state frames and queries remote
// sensors with sensor-data frames, which the addressed peripheral answers
// with the reading filled in.
package rs485
