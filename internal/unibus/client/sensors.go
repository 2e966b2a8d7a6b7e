package client

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// Sensors handles sensor-array modules.
type Sensors struct {
	registry Registry
	store    StateStore
	logger   Logger
}

// NewSensors creates a sensors client.
func NewSensors(reg Registry, store StateStore, logger Logger) *Sensors {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sensors{registry: reg, store: store, logger: logger}
}

// Category implements Client.
func (s *Sensors) Category() scratchpad.Category { return scratchpad.CategorySensors }

// Register proposes indices for the module's sensors and writes them into
// rec. Nothing is claimed in the registry; Commit does that once the module
// has stored rec, so a failed write-back leaves no trace.
//
// A module bound to another controller has all its sensors re-indexed. An
// entry of our own module keeps its index when the mapping still has it or
// can take it back; otherwise it gets a fresh index. Entries beyond MaxIndex
// are logged and left unregistered.
func (s *Sensors) Register(_ context.Context, rec *scratchpad.Record) error {
	foreign := rec.Foreign(s.registry.GetControllerID())
	p := scratchpad.DecodeSensors(rec.Data)
	next := make(map[scratchpad.SensorType]uint8)

	for i := range p.Sensors {
		e := &p.Sensors[i]
		if !e.Present() {
			continue
		}
		if _, ok := next[e.Type]; !ok {
			next[e.Type] = s.registry.GetUniSensorsCount(e.Type)
		}

		if e.Registered() && !foreign {
			if _, ok := s.registry.GetRegisteredStates(e.Type, e.Index); ok {
				continue
			}
			if e.Index >= next[e.Type] && e.Index <= registry.MaxIndex {
				next[e.Type] = e.Index + 1
				s.logger.Info("sensor index restored", "type", e.Type.String(), "index", e.Index, "slot", i)
				continue
			}
			s.logger.Warn("sensor index not restorable, assigning a new one",
				"type", e.Type.String(),
				"index", e.Index,
				"count", next[e.Type],
			)
		}

		idx := next[e.Type]
		if idx > registry.MaxIndex {
			s.logger.Warn("sensor registration dropped",
				"type", e.Type.String(),
				"slot", i,
				"error", registry.ErrRegistrationConflict,
			)
			e.Index = scratchpad.NoSensorRegistered
			continue
		}
		e.Index = idx
		next[e.Type] = idx + 1
		s.logger.Info("sensor index proposed", "type", e.Type.String(), "index", idx, "slot", i, "foreign", foreign)
	}

	rec.Data = p.Encode()
	return nil
}

// Commit claims every index in rec the registry does not know yet. A
// rejected claim is logged and dropped; the next registration of the module
// assigns a fresh index.
func (s *Sensors) Commit(_ context.Context, rec *scratchpad.Record) error {
	p := scratchpad.DecodeSensors(rec.Data)

	for _, e := range p.Sensors {
		if !e.Present() || !e.Registered() {
			continue
		}
		if _, ok := s.registry.GetRegisteredStates(e.Type, e.Index); ok {
			continue
		}
		if err := s.registry.Claim(e.Type, e.Index); err != nil {
			if errors.Is(err, registry.ErrRegistrationConflict) {
				s.logger.Warn("sensor registration dropped", "type", e.Type.String(), "index", e.Index, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// Update mirrors readings into the state store. Entries that were never
// registered are skipped.
func (s *Sensors) Update(_ context.Context, rec *scratchpad.Record, online bool) error {
	p := scratchpad.DecodeSensors(rec.Data)

	var errs []error
	for _, e := range p.Sensors {
		if !e.Present() || !e.Registered() {
			continue
		}
		states, ok := s.registry.GetRegisteredStates(e.Type, e.Index)
		if !ok {
			continue
		}

		primary, secondary := e.Decode()
		if !online {
			primary, secondary = scratchpad.Reading{}, scratchpad.Reading{}
		}

		errs = append(errs, s.store.UpdateState(states.Primary, toValue(states.Primary, primary)))
		if states.HasSecondary {
			errs = append(errs, s.store.UpdateState(states.Secondary, toValue(states.Secondary, secondary)))
		}
	}
	return errors.Join(errs...)
}

// QueryInterval returns the reporting interval the module asks for.
func (s *Sensors) QueryInterval(rec *scratchpad.Record) time.Duration {
	return scratchpad.DecodeSensors(rec.Data).QueryPeriod()
}

func toValue(key state.Key, r scratchpad.Reading) state.Value {
	if !r.OK {
		return state.NoData(key.Category)
	}
	return state.Reading(r.Value)
}
