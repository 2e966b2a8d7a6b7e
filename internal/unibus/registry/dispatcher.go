package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// StateStore is the part of the state store the dispatcher needs.
type StateStore interface {
	AddState(key state.Key) bool
}

// Repository persists the registration mapping.
type Repository interface {
	// Load returns the persisted mapping, or ErrPersistenceMiss when none exists.
	Load(ctx context.Context) (Mapping, error)
	// Save writes the full mapping. Saving the same mapping twice is a no-op.
	Save(ctx context.Context, m Mapping) error
}

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher owns the registration mapping.
//
// Thread Safety: all methods are safe for concurrent use. Writers hold the
// lock for the whole of a registration so readers never see a count that
// runs ahead of its slot associations.
type Dispatcher struct {
	mu sync.RWMutex

	store     StateStore
	repo      Repository
	hardCoded HardCoded
	logger    Logger
	newUUID   func() uuid.UUID

	identity    Identity
	hasIdentity bool
	counts      map[scratchpad.SensorType]uint8
	states      map[Sensor]SensorStates
}

// NewDispatcher creates a dispatcher. The state store must exist before
// Setup restores the mapping into it.
//
// Parameters:
//   - store: State store receiving the slots of registered sensors
//   - repo: Persistence for the mapping
//   - hardCoded: Firmware-wired sensor counts per type
//   - logger: Logger, nil for none
func NewDispatcher(store StateStore, repo Repository, hardCoded HardCoded, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	hc := make(HardCoded, len(hardCoded))
	for t, n := range hardCoded {
		hc[t] = n
	}
	return &Dispatcher{
		store:     store,
		repo:      repo,
		hardCoded: hc,
		logger:    logger,
		newUUID:   uuid.New,
		counts:    make(map[scratchpad.SensorType]uint8),
		states:    make(map[Sensor]SensorStates),
	}
}

// Setup creates the hard-coded slots and restores the persisted mapping.
// On first boot it generates the controller identity and persists it.
func (d *Dispatcher) Setup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range scratchpad.SensorTypes {
		d.counts[t] = d.hardCoded[t]
		d.ensureSlots(t, 0, int(d.hardCoded[t]))
	}

	m, err := d.readState(ctx)
	switch {
	case errors.Is(err, ErrPersistenceMiss):
		d.logger.Debug("no persisted registrations, starting empty", "error", err)
		d.ensureIdentity()
		return d.saveLocked(ctx)
	case err != nil:
		return err
	}

	d.restoreState(m)
	d.logger.Info("registrations restored",
		"controller_id", d.identity.BusID,
		"sensors", len(d.states),
	)
	return nil
}

func (d *Dispatcher) readState(ctx context.Context) (Mapping, error) {
	m, err := d.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrPersistenceMiss) {
			return Mapping{}, err
		}
		return Mapping{}, fmt.Errorf("loading registrations: %w", err)
	}
	return m, nil
}

func (d *Dispatcher) restoreState(m Mapping) {
	d.identity = m.Identity
	d.hasIdentity = true

	for t, n := range m.Counts {
		if !t.Known() {
			continue
		}
		if n > d.counts[t] {
			d.counts[t] = n
		}
		d.ensureSlots(t, 0, int(d.counts[t]))
	}
	for s, st := range m.States {
		for _, k := range st.Keys() {
			d.store.AddState(k)
		}
		d.states[s] = st
	}
}

// ensureSlots creates the slots for indices [from, to) of a type.
func (d *Dispatcher) ensureSlots(t scratchpad.SensorType, from, to int) {
	for i := from; i < to; i++ {
		for _, k := range statesFor(t, uint8(i)).Keys() {
			d.store.AddState(k)
		}
	}
}

// ensureIdentity generates the controller identity if there is none.
// Callers hold the write lock.
func (d *Dispatcher) ensureIdentity() {
	if d.hasIdentity {
		return
	}
	id := d.newUUID()
	d.identity = Identity{UUID: id, BusID: FoldBusID(id)}
	d.hasIdentity = true
	d.logger.Info("controller identity generated", "uuid", id.String(), "controller_id", d.identity.BusID)
}

// Claim registers index for sensor type t.
//
// The index must not be counted yet: index >= GetUniSensorsCount(t) and
// index <= MaxIndex. Skipped indices get their slots too, so the state table
// stays dense, but only index itself is associated. The count moves to
// index+1 after the association exists.
func (d *Dispatcher) Claim(t scratchpad.SensorType, index uint8) error {
	if !t.Known() {
		return fmt.Errorf("%w: unknown sensor type %s", ErrRegistrationConflict, t)
	}
	if index > MaxIndex {
		return fmt.Errorf("%w: %s index %d out of range", ErrRegistrationConflict, t, index)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	count := d.counts[t]
	if index < count {
		return fmt.Errorf("%w: %s index %d already counted (count %d)", ErrRegistrationConflict, t, index, count)
	}

	d.ensureSlots(t, int(count), int(index)+1)
	d.states[Sensor{Type: t, Index: index}] = statesFor(t, index)
	d.counts[t] = index + 1

	d.logger.Info("sensor registered", "type", t.String(), "index", index)
	return nil
}

// AddUniSensor reports whether index was newly registered for type t.
func (d *Dispatcher) AddUniSensor(t scratchpad.SensorType, index uint8) bool {
	return d.Claim(t, index) == nil
}

// GetRegisteredStates returns the slots associated with a sensor. ok is
// false when the sensor was never registered.
func (d *Dispatcher) GetRegisteredStates(t scratchpad.SensorType, index uint8) (SensorStates, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.states[Sensor{Type: t, Index: index}]
	return st, ok
}

// GetHardCodedSensorsCount returns the number of firmware-wired sensors of a type.
func (d *Dispatcher) GetHardCodedSensorsCount(t scratchpad.SensorType) uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hardCoded[t]
}

// GetUniSensorsCount returns the total number of sensors of a type, hard
// coded and registered. It is also the next index to assign.
func (d *Dispatcher) GetUniSensorsCount(t scratchpad.SensorType) uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.counts[t]; ok {
		return c
	}
	return d.hardCoded[t]
}

// GetControllerID returns the one-byte controller id, generating the
// identity on first use. A generated identity is persisted by the next
// SaveState.
func (d *Dispatcher) GetControllerID() byte {
	d.mu.RLock()
	if d.hasIdentity {
		id := d.identity.BusID
		d.mu.RUnlock()
		return id
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureIdentity()
	return d.identity.BusID
}

// ControllerUUID returns the full controller identity.
func (d *Dispatcher) ControllerUUID() uuid.UUID {
	d.GetControllerID()

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identity.UUID
}

// PeekRFID returns the rf id the next new module gets. The id stays free
// until ClaimRFID marks it used.
func (d *Dispatcher) PeekRFID() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ensureIdentity()
	if d.identity.NextRFID >= scratchpad.Unused {
		return 0, ErrRFIDExhausted
	}
	return d.identity.NextRFID, nil
}

// ClaimRFID marks id as held by a module. Later ids are never handed out
// twice; claiming an id below the counter is a no-op.
func (d *Dispatcher) ClaimRFID(id byte) {
	if id == scratchpad.Unused {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.ensureIdentity()
	if id >= d.identity.NextRFID {
		d.identity.NextRFID = id + 1
	}
}

// SaveState persists the full mapping.
func (d *Dispatcher) SaveState(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked(ctx)
}

func (d *Dispatcher) saveLocked(ctx context.Context) error {
	d.ensureIdentity()
	if err := d.repo.Save(ctx, d.mappingLocked()); err != nil {
		return fmt.Errorf("saving registrations: %w", err)
	}
	return nil
}

// Registrations returns a copy of the current mapping.
func (d *Dispatcher) Registrations() Mapping {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mappingLocked()
}

// List returns every registered sensor sorted by type and index.
func (d *Dispatcher) List() []Registration {
	d.mu.RLock()
	out := make([]Registration, 0, len(d.states))
	for s, st := range d.states {
		out = append(out, Registration{Sensor: s, States: st})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (d *Dispatcher) mappingLocked() Mapping {
	m := Mapping{
		Identity: d.identity,
		Counts:   make(map[scratchpad.SensorType]uint8, len(d.counts)),
		States:   make(map[Sensor]SensorStates, len(d.states)),
	}
	for t, n := range d.counts {
		m.Counts[t] = n
	}
	for s, st := range d.states {
		m.States[s] = st
	}
	return m
}
