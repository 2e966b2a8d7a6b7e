package client

import (
	"context"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Linkage binds one execution slot to a controller channel.
type Linkage struct {
	Type    scratchpad.SlotType
	Channel uint8
}

// Execution handles actuator modules.
type Execution struct {
	store   StateStore
	table   *actuator.Table
	linkage []Linkage
	logger  Logger
}

// NewExecution creates an execution client. Slots beyond the linkage table
// are left empty.
func NewExecution(store StateStore, table *actuator.Table, linkage []Linkage, logger Logger) *Execution {
	if logger == nil {
		logger = noopLogger{}
	}
	if len(linkage) > scratchpad.ExecutionSlots {
		linkage = linkage[:scratchpad.ExecutionSlots]
	}
	return &Execution{store: store, table: table, linkage: linkage, logger: logger}
}

// Category implements Client.
func (e *Execution) Category() scratchpad.Category { return scratchpad.CategoryExecution }

// Register pushes the linkage table into the record.
func (e *Execution) Register(_ context.Context, rec *scratchpad.Record) error {
	st := e.table.State()

	var p scratchpad.ExecutionPayload
	for i := range p.Slots {
		if i >= len(e.linkage) {
			p.Slots[i] = scratchpad.Slot{Type: scratchpad.SlotEmpty, LinkedData: scratchpad.Unused, Status: scratchpad.SlotLow}
			continue
		}
		l := e.linkage[i]
		p.Slots[i] = scratchpad.Slot{Type: l.Type, LinkedData: l.Channel, Status: st.SlotStatus(l.Type, l.Channel)}
	}

	rec.Data = p.Encode()
	e.store.SetModuleOnline(ModuleName(rec), true)
	e.logger.Info("execution module linked", "module", ModuleName(rec), "slots", len(e.linkage))
	return nil
}

// Commit implements Client.
func (e *Execution) Commit(context.Context, *scratchpad.Record) error { return nil }

// Update sets every slot's status from the actuator table. Slot types and
// linked data are echoed as the module reports them.
func (e *Execution) Update(_ context.Context, rec *scratchpad.Record, online bool) error {
	e.store.SetModuleOnline(ModuleName(rec), online)
	if !online {
		return nil
	}

	st := e.table.State()
	p := scratchpad.DecodeExecution(rec.Data)
	for i := range p.Slots {
		s := &p.Slots[i]
		s.Status = st.SlotStatus(s.Type, s.LinkedData)
	}
	rec.Data = p.Encode()
	return nil
}
