package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// ErrUnknownCategory marks a record whose category has no enabled client.
// It is a degraded path, not a failure: the Dummy client handles the record.
var ErrUnknownCategory = errors.New("client: unknown module category")

// Client handles one module category.
type Client interface {
	// Category returns the packet type this client handles.
	Category() scratchpad.Category
	// Register is called once per newly discovered module. It only proposes
	// changes to rec; nothing is claimed until Commit.
	Register(ctx context.Context, rec *scratchpad.Record) error
	// Commit is called after the registered rec was written to the module
	// and saved. What Register proposed becomes permanent here.
	Commit(ctx context.Context, rec *scratchpad.Record) error
	// Update is called every polling cycle. When online is false rec is the
	// last good record and the module's state must show no data.
	Update(ctx context.Context, rec *scratchpad.Record, online bool) error
}

// Registry is the part of the registration dispatcher clients use.
type Registry interface {
	Claim(t scratchpad.SensorType, index uint8) error
	GetRegisteredStates(t scratchpad.SensorType, index uint8) (registry.SensorStates, bool)
	GetUniSensorsCount(t scratchpad.SensorType) uint8
	GetControllerID() byte
}

// StateStore is the part of the state store clients use.
type StateStore interface {
	GetState(key state.Key) (state.Value, bool)
	UpdateState(key state.Key, value state.Value) error
	SetModuleOnline(module string, online bool)
}

// Logger is the logging interface used by clients.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// ModuleName is the presence key of a display or execution module.
func ModuleName(rec *scratchpad.Record) string {
	return fmt.Sprintf("%s-%d", rec.Category(), rec.Head.RFID)
}

// Dummy ignores every record.
type Dummy struct {
	category scratchpad.Category
}

// Category implements Client.
func (d Dummy) Category() scratchpad.Category { return d.category }

// Register implements Client.
func (Dummy) Register(context.Context, *scratchpad.Record) error { return nil }

// Commit implements Client.
func (Dummy) Commit(context.Context, *scratchpad.Record) error { return nil }

// Update implements Client.
func (Dummy) Update(context.Context, *scratchpad.Record, bool) error { return nil }
