package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

var (
	// ErrSlotNotFound is returned when updating a slot that was never added.
	ErrSlotNotFound = errors.New("state: slot not found")
)

// Key addresses one state slot. Module is the sensor type that owns the
// slot, Category is the quantity it holds. A humidity sensor owns two slots:
// {humidity, humidity, i} and {humidity, temperature, i}.
type Key struct {
	Module   scratchpad.SensorType
	Category scratchpad.SensorType
	Index    uint8
}

// String renders the key as module/category/index.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Module, k.Category, k.Index)
}

// Value is the content of a slot.
type Value struct {
	Reading   float64   `json:"reading" cbor:"reading"`
	NoData    bool      `json:"no_data" cbor:"no_data"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}

// NoDataValue returns the sentinel reading for a category whose module is silent.
func NoDataValue(category scratchpad.SensorType) float64 {
	if category == scratchpad.SensorLuminosity {
		return scratchpad.NoLuminosityData
	}
	return scratchpad.NoTemperatureData
}

// NoData returns a Value carrying the sentinel for category.
func NoData(category scratchpad.SensorType) Value {
	return Value{Reading: NoDataValue(category), NoData: true}
}

// Reading returns a Value for a live measurement.
func Reading(v float64) Value {
	return Value{Reading: v}
}

// Change describes one slot update.
type Change struct {
	Key      Key
	Value    Value
	Previous Value
}

// Observer receives slot changes.
type Observer func(Change)

// Slot pairs a key with its current value, for snapshots.
type Slot struct {
	Key   Key
	Value Value
}

// ModuleStatus is the presence of a non-sensor module (display, execution).
type ModuleStatus struct {
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the in-memory state slot table.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	slots     map[Key]Value
	modules   map[string]ModuleStatus
	observers []Observer
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		slots:   make(map[Key]Value),
		modules: make(map[string]ModuleStatus),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddState creates a slot holding the no-data sentinel. Adding an existing
// slot leaves it untouched and returns false.
func (s *Store) AddState(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[key]; exists {
		return false
	}
	v := NoData(key.Category)
	v.UpdatedAt = s.now()
	s.slots[key] = v
	return true
}

// GetState returns the current value of a slot.
func (s *Store) GetState(key Key) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.slots[key]
	return v, ok
}

// UpdateState stores a new value and notifies observers when the reading or
// the no-data flag changed.
func (s *Store) UpdateState(key Key, value Value) error {
	s.mu.Lock()
	prev, ok := s.slots[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSlotNotFound, key)
	}
	if value.UpdatedAt.IsZero() {
		value.UpdatedAt = s.now()
	}
	s.slots[key] = value
	changed := prev.Reading != value.Reading || prev.NoData != value.NoData
	observers := s.observers
	s.mu.Unlock()

	if changed {
		c := Change{Key: key, Value: value, Previous: prev}
		for _, fn := range observers {
			fn(c)
		}
	}
	return nil
}

// Subscribe registers an observer for slot changes.
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy on write so UpdateState can iterate without the lock.
	observers := make([]Observer, len(s.observers), len(s.observers)+1)
	copy(observers, s.observers)
	s.observers = append(observers, fn)
}

// Snapshot returns every slot sorted by module, category and index.
func (s *Store) Snapshot() []Slot {
	s.mu.RLock()
	out := make([]Slot, 0, len(s.slots))
	for k, v := range s.slots {
		out = append(out, Slot{Key: k, Value: v})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Index < b.Index
	})
	return out
}

// Len returns the number of slots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// SetModuleOnline records the presence of a display or execution module.
func (s *Store) SetModuleOnline(module string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[module] = ModuleStatus{Online: online, UpdatedAt: s.now()}
}

// Module returns the last recorded presence of a module.
func (s *Store) Module(module string) (ModuleStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.modules[module]
	return st, ok
}

// Modules returns a copy of every module presence.
func (s *Store) Modules() map[string]ModuleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ModuleStatus, len(s.modules))
	for k, v := range s.modules {
		out[k] = v
	}
	return out
}
