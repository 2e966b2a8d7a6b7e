// Package state holds the controller's live sensor readings.
//
// Every reading lives in a slot addressed by Key. Slots are created by the
// registration dispatcher when a sensor index is claimed and are never
// removed; clients only update them. A slot whose module is silent holds
// the no-data sentinel for its category.
//
// Observers registered with Subscribe see every change after the store lock
// is released, so they may read the store back. The bridge uses an observer
// to fan changes out to MQTT, InfluxDB and the SQLite history.
package state
