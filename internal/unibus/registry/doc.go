// Package registry is the system of record for UniBus sensor registrations.
//
// For every sensor type it tracks how many indices exist (firmware
// hard-coded ones first, then dynamically registered modules) and which
// state slots belong to each (type, index). It also owns the controller
// identity: a UUID generated at first boot and folded into the one-byte id
// that modules store in their scratchpad head.
//
// The mapping only grows. It is persisted through a Repository (SQLite in
// production) and restored at Setup; an empty store means a first boot.
//
// Usage:
//
//	d := registry.NewDispatcher(store, registry.NewSQLiteRepository(db.DB), hardCoded, logger)
//	if err := d.Setup(ctx); err != nil {
//	    return err
//	}
//	idx := d.GetUniSensorsCount(scratchpad.SensorTemperature)
//	if d.AddUniSensor(scratchpad.SensorTemperature, idx) {
//	    _ = d.SaveState(ctx)
//	}
package registry
