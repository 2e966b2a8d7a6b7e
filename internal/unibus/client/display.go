package client

import (
	"context"
	"math"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// Controller status bits mirrored to the display.
const (
	StatusWindowsOpen byte = 1 << 0
	StatusWatering    byte = 1 << 1
	StatusLight       byte = 1 << 2
)

// DisplayReading selects a state slot to render on the display.
type DisplayReading struct {
	Type  scratchpad.SensorType
	Index uint8
}

// Display handles remote display modules.
type Display struct {
	store    StateStore
	table    *actuator.Table
	readings []DisplayReading
	logger   Logger
}

// NewDisplay creates a display client. Only the first MaxDisplayReadings
// readings are shown.
func NewDisplay(store StateStore, table *actuator.Table, readings []DisplayReading, logger Logger) *Display {
	if logger == nil {
		logger = noopLogger{}
	}
	if len(readings) > scratchpad.MaxDisplayReadings {
		readings = readings[:scratchpad.MaxDisplayReadings]
	}
	return &Display{store: store, table: table, readings: readings, logger: logger}
}

// Category implements Client.
func (d *Display) Category() scratchpad.Category { return scratchpad.CategoryDisplay }

// Register marks the display known and fills its first screen.
func (d *Display) Register(ctx context.Context, rec *scratchpad.Record) error {
	d.logger.Info("display registered", "module", ModuleName(rec))
	return d.Update(ctx, rec, true)
}

// Commit implements Client. A display claims nothing.
func (d *Display) Commit(context.Context, *scratchpad.Record) error { return nil }

// Update adopts thresholds the user edited on the display, then refreshes
// the record with controller status, thresholds and readings.
func (d *Display) Update(_ context.Context, rec *scratchpad.Record, online bool) error {
	if !online {
		d.store.SetModuleOnline(ModuleName(rec), false)
		return nil
	}

	p := scratchpad.DecodeDisplay(rec.Data)
	if p.ThresholdsChanged() {
		th := actuator.Thresholds{Open: p.OpenTemperature, Close: p.CloseTemperature}
		d.table.SetThresholds(th)
		d.logger.Info("window thresholds changed on display", "open", th.Open, "close", th.Close)
	}

	th := d.table.Thresholds()
	p.Status1 = 0
	p.Status2 = 0
	p.ControllerStatus = controllerStatus(d.table.State())
	p.OpenTemperature = th.Open
	p.CloseTemperature = th.Close
	for i := range p.Reserved {
		p.Reserved[i] = scratchpad.Unused
	}

	p.DataCount = byte(len(d.readings))
	for i := range p.Readings {
		if i >= len(d.readings) {
			p.Readings[i] = scratchpad.DisplayReading{
				SensorType: scratchpad.SensorType(scratchpad.Unused),
				Data:       [2]byte{scratchpad.Unused, scratchpad.Unused},
			}
			continue
		}
		r := d.readings[i]
		p.Readings[i] = scratchpad.DisplayReading{SensorType: r.Type, Data: d.encodeReading(r)}
	}

	rec.Data = p.Encode()
	d.store.SetModuleOnline(ModuleName(rec), true)
	return nil
}

func (d *Display) encodeReading(r DisplayReading) [2]byte {
	noData := [2]byte{scratchpad.Unused, scratchpad.Unused}

	v, ok := d.store.GetState(state.Key{Module: r.Type, Category: r.Type, Index: r.Index})
	if !ok || v.NoData {
		return noData
	}
	if r.Type == scratchpad.SensorLuminosity {
		lux := math.Max(0, math.Min(v.Reading, math.MaxUint16-1))
		return [2]byte{byte(uint16(lux) >> 8), byte(uint16(lux))}
	}
	return scratchpad.EncodeTenths(v.Reading)
}

func controllerStatus(s actuator.ControllerState) byte {
	var b byte
	if s.Windows != 0 {
		b |= StatusWindowsOpen
	}
	if s.Water != 0 {
		b |= StatusWatering
	}
	if s.Light != 0 {
		b |= StatusLight
	}
	return b
}
