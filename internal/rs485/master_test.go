package rs485

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// fakePort answers sensor queries from a table of replies. A query with no
// reply leaves the line silent, which reads as a timeout.
type fakePort struct {
	replies map[Remote][]byte
	pending []byte
	written []Frame
	flushes int
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	f, err := Decode(b)
	if err != nil {
		return 0, err
	}
	p.written = append(p.written, f)
	if f.Type == TypeSensorData {
		r := Remote{Type: scratchpad.SensorType(f.Data[0]), Index: f.Data[1]}
		p.pending = append(p.pending, p.replies[r]...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	// Dribble bytes to exercise reassembly.
	n := copy(b, p.pending[:min(len(p.pending), 5)])
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.pending = nil
	p.flushes++
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func reply(t scratchpad.SensorType, index uint8, data [4]byte) []byte {
	f := Frame{Direction: FromPeripheral, Type: TypeSensorData}
	for i := range f.Data {
		f.Data[i] = scratchpad.Unused
	}
	f.Data[0], f.Data[1] = byte(t), index
	copy(f.Data[2:6], data[:])
	b := f.Encode()
	return b[:]
}

type missRepository struct{}

func (missRepository) Load(context.Context) (registry.Mapping, error) {
	return registry.Mapping{}, registry.ErrPersistenceMiss
}

func (missRepository) Save(context.Context, registry.Mapping) error { return nil }

type harness struct {
	port   *fakePort
	table  *actuator.Table
	store  *state.Store
	reg    *registry.Dispatcher
	master *Master
}

func newHarness(t *testing.T, sensors ...Remote) *harness {
	t.Helper()

	store := state.NewStore()
	reg := registry.NewDispatcher(store, missRepository{}, registry.HardCoded{}, nil)
	if err := reg.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	h := &harness{
		port:  &fakePort{replies: make(map[Remote][]byte)},
		table: actuator.NewTable(actuator.Thresholds{Open: 28, Close: 22}),
		store: store,
		reg:   reg,
	}
	h.master = NewMaster(MasterOptions{
		Port:     h.port,
		Table:    h.table,
		Registry: reg,
		Store:    store,
		Sensors:  sensors,
	})
	if err := h.master.Setup(); err != nil {
		t.Fatalf("master Setup() error = %v", err)
	}
	return h
}

func TestMaster_SetupClaimsRemoteSensors(t *testing.T) {
	h := newHarness(t,
		Remote{Type: scratchpad.SensorTemperature, Index: 0},
		Remote{Type: scratchpad.SensorHumidity, Index: 1},
	)

	if _, ok := h.reg.GetRegisteredStates(scratchpad.SensorTemperature, 0); !ok {
		t.Error("temperature/0 not registered")
	}
	if _, ok := h.reg.GetRegisteredStates(scratchpad.SensorHumidity, 1); !ok {
		t.Error("humidity/1 not registered")
	}
	if got := h.reg.GetUniSensorsCount(scratchpad.SensorHumidity); got != 2 {
		t.Errorf("humidity count = %d, want 2", got)
	}

	// A second Setup over the same mapping is a no-op.
	if err := h.master.Setup(); err != nil {
		t.Errorf("repeated Setup() error = %v", err)
	}
}

func TestMaster_BroadcastState(t *testing.T) {
	h := newHarness(t)
	if err := h.table.Set(actuator.KindLight, 3, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := h.master.BroadcastState(context.Background()); err != nil {
		t.Fatalf("BroadcastState() error = %v", err)
	}

	if len(h.port.written) != 1 {
		t.Fatalf("frames written = %d, want 1", len(h.port.written))
	}
	f := h.port.written[0]
	if f.Type != TypeActuatorState || f.Direction != FromController {
		t.Errorf("frame = %+v", f)
	}
	if got := actuator.DecodeState(f.Data); !got.LightChannel(3) {
		t.Errorf("broadcast state = %+v, want light 3 on", got)
	}
	if b, _ := h.master.Stats(); b != 1 {
		t.Errorf("broadcasts = %d, want 1", b)
	}
}

func TestMaster_QuerySensor(t *testing.T) {
	h := newHarness(t)
	h.port.replies[Remote{scratchpad.SensorTemperature, 0}] = reply(scratchpad.SensorTemperature, 0, [4]byte{0x00, 0x96, 0xFF, 0xFF})

	e, err := h.master.QuerySensor(context.Background(), scratchpad.SensorTemperature, 0)
	if err != nil {
		t.Fatalf("QuerySensor() error = %v", err)
	}
	if p, _ := e.Decode(); p.Value != 15.0 {
		t.Errorf("reading = %v, want 15.0", p.Value)
	}
	if h.port.flushes != 1 {
		t.Errorf("input flushes = %d, want 1", h.port.flushes)
	}
}

func TestMaster_QuerySensorTimeout(t *testing.T) {
	h := newHarness(t)

	_, err := h.master.QuerySensor(context.Background(), scratchpad.SensorPH, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("QuerySensor() error = %v, want ErrTimeout", err)
	}
	if _, timeouts := h.master.Stats(); timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", timeouts)
	}
}

func TestMaster_QuerySensorWrongResponder(t *testing.T) {
	h := newHarness(t)
	h.port.replies[Remote{scratchpad.SensorTemperature, 0}] = reply(scratchpad.SensorTemperature, 1, [4]byte{0x00, 0x96, 0xFF, 0xFF})

	if _, err := h.master.QuerySensor(context.Background(), scratchpad.SensorTemperature, 0); err == nil {
		t.Error("QuerySensor() accepted a reply from another sensor")
	}
}

func TestMaster_QuerySensorCorruptReply(t *testing.T) {
	h := newHarness(t)
	b := reply(scratchpad.SensorTemperature, 0, [4]byte{0x00, 0x96, 0xFF, 0xFF})
	b[5] ^= 0x01
	h.port.replies[Remote{scratchpad.SensorTemperature, 0}] = b

	_, err := h.master.QuerySensor(context.Background(), scratchpad.SensorTemperature, 0)
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("QuerySensor() error = %v, want ErrChecksum", err)
	}
}

func TestMaster_Poll(t *testing.T) {
	hum := Remote{Type: scratchpad.SensorHumidity, Index: 0}
	lux := Remote{Type: scratchpad.SensorLuminosity, Index: 0}
	h := newHarness(t, hum, lux)
	h.port.replies[hum] = reply(scratchpad.SensorHumidity, 0, [4]byte{0x02, 0x6C, 0x00, 0xD2})

	if err := h.master.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	humStates, _ := h.reg.GetRegisteredStates(scratchpad.SensorHumidity, 0)
	if v, _ := h.store.GetState(humStates.Primary); v.NoData || v.Reading != 62.0 {
		t.Errorf("humidity = %+v, want 62.0", v)
	}
	if v, _ := h.store.GetState(humStates.Secondary); v.NoData || v.Reading != 21.0 {
		t.Errorf("humidity temperature = %+v, want 21.0", v)
	}

	luxStates, _ := h.reg.GetRegisteredStates(scratchpad.SensorLuminosity, 0)
	v, _ := h.store.GetState(luxStates.Primary)
	if !v.NoData || v.Reading != scratchpad.NoLuminosityData {
		t.Errorf("silent luminosity = %+v, want no data", v)
	}

	// One broadcast then one query per sensor.
	if len(h.port.written) != 3 || h.port.written[0].Type != TypeActuatorState {
		t.Errorf("frames written = %+v", h.port.written)
	}
}

func TestMaster_PollCancelled(t *testing.T) {
	h := newHarness(t, Remote{Type: scratchpad.SensorTemperature, Index: 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.master.Poll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}
}

func TestMaster_Close(t *testing.T) {
	h := newHarness(t)
	if err := h.master.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !h.port.closed {
		t.Error("port not closed")
	}
}
