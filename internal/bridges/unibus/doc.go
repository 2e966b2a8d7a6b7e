// Package unibus bridges the UniBus controller to MQTT, InfluxDB and the
// state history.
//
// The bridge owns the cycle loop: every tick it advances each bus line and,
// when due, polls the RS-485 master. State store changes are queued by an
// observer and fanned out by a separate goroutine so slow sinks never stall
// bus timing. Actuator commands arrive on unibus/command/actuator/+/+ and
// switch the shared actuator table.
package unibus
