package rs485

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// ErrTimeout is returned when a peripheral does not answer in time.
var ErrTimeout = errors.New("rs485: reply timeout")

// Port is the serial transport. serial.Port satisfies it.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// OpenPort opens a serial device for 8N1 framing at the given baud rate.
// Reads return after readTimeout with zero bytes when the line is quiet.
func OpenPort(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", name, err)
	}
	return port, nil
}

// Registry is the part of the registration dispatcher the master uses.
type Registry interface {
	Claim(t scratchpad.SensorType, index uint8) error
	GetRegisteredStates(t scratchpad.SensorType, index uint8) (registry.SensorStates, bool)
}

// StateStore is the part of the state store the master writes to.
type StateStore interface {
	UpdateState(key state.Key, value state.Value) error
}

// Table supplies the actuator state to broadcast.
type Table interface {
	State() actuator.ControllerState
}

// Logger is the logging interface used by the master.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Remote addresses one sensor answering on the bus.
type Remote struct {
	Type  scratchpad.SensorType
	Index uint8
}

// MasterOptions configures a Master.
type MasterOptions struct {
	Port     Port
	Table    Table
	Registry Registry
	Store    StateStore
	Sensors  []Remote
	Logger   Logger
}

// Master is the controller side of the RS-485 bus. It broadcasts the
// actuator table and queries the configured remote sensors.
//
// Thread Safety: one transaction runs at a time.
type Master struct {
	mu sync.Mutex

	port     Port
	table    Table
	registry Registry
	store    StateStore
	sensors  []Remote
	logger   Logger

	broadcasts uint64
	timeouts   uint64
}

// NewMaster creates a master. Setup must run before Poll.
func NewMaster(opts MasterOptions) *Master {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Master{
		port:     opts.Port,
		table:    opts.Table,
		registry: opts.Registry,
		store:    opts.Store,
		sensors:  append([]Remote(nil), opts.Sensors...),
		logger:   opts.Logger,
	}
}

// Setup registers the remote sensors with the dispatcher. Sensors restored
// from persistence are left alone.
func (m *Master) Setup() error {
	var errs []error
	for _, r := range m.sensors {
		if _, ok := m.registry.GetRegisteredStates(r.Type, r.Index); ok {
			continue
		}
		if err := m.registry.Claim(r.Type, r.Index); err != nil {
			errs = append(errs, fmt.Errorf("claiming remote %s/%d: %w", r.Type, r.Index, err))
			continue
		}
		m.logger.Info("remote sensor registered", "type", r.Type.String(), "index", r.Index)
	}
	return errors.Join(errs...)
}

// BroadcastState sends the current actuator table to every peripheral.
func (m *Master) BroadcastState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.send(StateFrame(m.table.State())); err != nil {
		return err
	}
	m.broadcasts++
	return nil
}

// QuerySensor asks one remote sensor for its reading.
func (m *Master) QuerySensor(ctx context.Context, t scratchpad.SensorType, index uint8) (scratchpad.SensorEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.port.ResetInputBuffer(); err != nil {
		return scratchpad.SensorEntry{}, fmt.Errorf("rs485: flushing input: %w", err)
	}
	if err := m.send(SensorQuery(t, index)); err != nil {
		return scratchpad.SensorEntry{}, err
	}

	buf := make([]byte, FrameSize)
	if err := m.readFull(ctx, buf); err != nil {
		return scratchpad.SensorEntry{}, err
	}
	f, err := Decode(buf)
	if err != nil {
		return scratchpad.SensorEntry{}, err
	}
	e, err := f.SensorReply()
	if err != nil {
		return scratchpad.SensorEntry{}, err
	}
	if e.Type != t || e.Index != index {
		return scratchpad.SensorEntry{}, fmt.Errorf("rs485: reply from %s/%d to query for %s/%d", e.Type, e.Index, t, index)
	}
	return e, nil
}

// Poll broadcasts the actuator table, then queries every remote sensor and
// mirrors its reading into the state store. A sensor that fails to answer
// shows no data.
func (m *Master) Poll(ctx context.Context) error {
	var errs []error
	if err := m.BroadcastState(ctx); err != nil {
		errs = append(errs, fmt.Errorf("broadcasting state: %w", err))
	}

	for _, r := range m.sensors {
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		states, ok := m.registry.GetRegisteredStates(r.Type, r.Index)
		if !ok {
			continue
		}

		var primary, secondary scratchpad.Reading
		e, err := m.QuerySensor(ctx, r.Type, r.Index)
		if err != nil {
			m.logger.Debug("remote sensor silent", "type", r.Type.String(), "index", r.Index, "error", err)
		} else {
			primary, secondary = e.Decode()
		}

		errs = append(errs, m.store.UpdateState(states.Primary, toValue(states.Primary, primary)))
		if states.HasSecondary {
			errs = append(errs, m.store.UpdateState(states.Secondary, toValue(states.Secondary, secondary)))
		}
	}
	return errors.Join(errs...)
}

// Stats returns the broadcast and reply timeout counters.
func (m *Master) Stats() (broadcasts, timeouts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcasts, m.timeouts
}

// Close closes the port.
func (m *Master) Close() error {
	return m.port.Close()
}

func (m *Master) send(f Frame) error {
	b := f.Encode()
	n, err := m.port.Write(b[:])
	if err != nil {
		return fmt.Errorf("rs485: write: %w", err)
	}
	if n != FrameSize {
		return fmt.Errorf("rs485: short write %d of %d bytes", n, FrameSize)
	}
	return nil
}

// readFull reads until buf is full. A read returning no bytes means the
// port's read timeout expired.
func (m *Master) readFull(ctx context.Context, buf []byte) error {
	for got := 0; got < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := m.port.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("rs485: read: %w", err)
		}
		if n == 0 {
			m.timeouts++
			return ErrTimeout
		}
		got += n
	}
	return nil
}

func toValue(key state.Key, r scratchpad.Reading) state.Value {
	if !r.OK {
		return state.NoData(key.Category)
	}
	return state.Reading(r.Value)
}
