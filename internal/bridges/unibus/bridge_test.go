package unibus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// =============================================================================
// Mocks
// =============================================================================

type published struct {
	topic string
	value any
}

type mockMQTT struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]mqtt.MessageHandler
	connected bool
	codec     mqtt.Codec
}

func newMockMQTT() *mockMQTT {
	codec, _ := mqtt.NewCodec("json")
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler), connected: true, codec: codec}
}

func (m *mockMQTT) PublishValue(topic string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{topic: topic, value: v})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockMQTT) subscribed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) Codec() mqtt.Codec { return m.codec }

func (m *mockMQTT) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.published))
	for _, p := range m.published {
		out = append(out, p.topic)
	}
	return out
}

type mockTelemetry struct {
	mu       sync.Mutex
	readings []influxdb.SensorReading
	lines    []string
}

func (m *mockTelemetry) WriteSensorReading(r influxdb.SensorReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
}

func (m *mockTelemetry) WriteLineStatus(name string, _ bool, _ uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, name)
}

type recorded struct {
	key    state.Key
	value  state.Value
	source string
}

type mockHistory struct {
	mu      sync.Mutex
	records []recorded
	prunes  []time.Duration
}

func (m *mockHistory) RecordStateChange(_ context.Context, key state.Key, value state.Value, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recorded{key, value, source})
	return nil
}

func (m *mockHistory) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunes = append(m.prunes, olderThan)
	return 2, nil
}

type mockLine struct {
	name    string
	online  bool
	elapsed time.Duration
	updates int
}

func (l *mockLine) Update(_ context.Context, dt time.Duration) {
	l.elapsed += dt
	l.updates++
}

func (l *mockLine) Status() line.Status {
	return line.Status{Name: l.name, Role: line.RolePermanent, Online: l.online}
}

type mockPoller struct {
	polls int
	err   error
}

func (p *mockPoller) Poll(context.Context) error {
	p.polls++
	return p.err
}

var tempKey = state.Key{Module: scratchpad.SensorTemperature, Category: scratchpad.SensorTemperature, Index: 0}

type bridgeHarness struct {
	bridge    *Bridge
	store     *state.Store
	table     *actuator.Table
	mqtt      *mockMQTT
	telemetry *mockTelemetry
	history   *mockHistory
}

func newBridgeHarness(t *testing.T, mutate func(*BridgeOptions)) *bridgeHarness {
	t.Helper()

	h := &bridgeHarness{
		store:     state.NewStore(),
		table:     actuator.NewTable(actuator.Thresholds{Open: 28, Close: 22}),
		mqtt:      newMockMQTT(),
		telemetry: &mockTelemetry{},
		history:   &mockHistory{},
	}
	h.store.AddState(tempKey)

	opts := BridgeOptions{
		Store:         h.store,
		Actuators:     h.table,
		MQTT:          h.mqtt,
		Telemetry:     h.telemetry,
		History:       h.history,
		CycleInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	h.bridge = b
	return h
}

// =============================================================================
// Construction
// =============================================================================

func TestNewBridge_RequiresStoreAndActuators(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Actuators: actuator.NewTable(actuator.Thresholds{})}); err == nil {
		t.Error("NewBridge() without store should fail")
	}
	if _, err := NewBridge(BridgeOptions{Store: state.NewStore()}); err == nil {
		t.Error("NewBridge() without actuators should fail")
	}
}

func TestBridge_StopUnsubscribesCommands(t *testing.T) {
	h := newBridgeHarness(t, nil)

	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := h.mqtt.subscribed(); got != 2 {
		t.Fatalf("subscriptions after Start() = %d, want 2", got)
	}

	h.bridge.Stop()
	if got := h.mqtt.subscribed(); got != 0 {
		t.Errorf("subscriptions after Stop() = %d, want 0", got)
	}
	h.bridge.Stop()
}

func TestBridge_StartSubscribesCommands(t *testing.T) {
	h := newBridgeHarness(t, nil)

	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.bridge.Stop()

	if _, ok := h.mqtt.handlers["unibus/command/actuator/+/+"]; !ok {
		t.Error("actuator command topic not subscribed")
	}
	if _, ok := h.mqtt.handlers["unibus/command/thresholds"]; !ok {
		t.Error("thresholds topic not subscribed")
	}
	if err := h.bridge.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

// =============================================================================
// Cycle
// =============================================================================

func TestBridge_RunCycleDrivesLines(t *testing.T) {
	a := &mockLine{name: "a", online: true}
	b := &mockLine{name: "b"}
	h := newBridgeHarness(t, func(o *BridgeOptions) { o.Lines = []Line{a, b} })

	h.bridge.RunCycle(context.Background(), 100*time.Millisecond)
	h.bridge.RunCycle(context.Background(), 250*time.Millisecond)

	if a.updates != 2 || a.elapsed != 350*time.Millisecond || b.updates != 2 {
		t.Errorf("line a = %d updates / %v, line b = %d updates", a.updates, a.elapsed, b.updates)
	}

	lines := h.bridge.Lines()
	if len(lines) != 2 || lines[0].Name != "a" || !lines[0].Online || lines[1].Online {
		t.Errorf("Lines() = %+v", lines)
	}

	// Line status is published once per health change.
	var statusTopics int
	for _, topic := range h.mqtt.topics() {
		if strings.HasPrefix(topic, "unibus/line/") {
			statusTopics++
		}
	}
	if statusTopics != 2 {
		t.Errorf("line status publishes = %d, want 2", statusTopics)
	}
}

func TestBridge_RS485PolledAtInterval(t *testing.T) {
	poller := &mockPoller{err: errors.New("one sensor silent")}
	h := newBridgeHarness(t, func(o *BridgeOptions) {
		o.RS485 = poller
		o.RS485Interval = time.Second
	})

	for i := 0; i < 3; i++ {
		h.bridge.RunCycle(context.Background(), 400*time.Millisecond)
	}
	if poller.polls != 1 {
		t.Fatalf("polls after 1.2s = %d, want 1", poller.polls)
	}
	h.bridge.RunCycle(context.Background(), 400*time.Millisecond)
	if poller.polls != 1 {
		t.Errorf("polls after 1.6s = %d, want 1", poller.polls)
	}
	h.bridge.RunCycle(context.Background(), 600*time.Millisecond)
	if poller.polls != 2 {
		t.Errorf("polls after 2.2s = %d, want 2", poller.polls)
	}
}

// =============================================================================
// State fan-out
// =============================================================================

func TestBridge_StateChangeFanOut(t *testing.T) {
	h := newBridgeHarness(t, nil)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := h.store.UpdateState(tempKey, state.Reading(15.0)); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	h.bridge.Stop()

	var msg StateMessage
	found := false
	h.mqtt.mu.Lock()
	for _, p := range h.mqtt.published {
		if p.topic == "unibus/state/temperature/temperature/0" {
			msg = p.value.(StateMessage)
			found = true
		}
	}
	h.mqtt.mu.Unlock()
	if !found {
		t.Fatalf("state not published, topics = %v", h.mqtt.topics())
	}
	if msg.Reading != 15.0 || msg.NoData {
		t.Errorf("published = %+v", msg)
	}

	if len(h.telemetry.readings) != 1 || h.telemetry.readings[0].Value != 15.0 {
		t.Errorf("telemetry = %+v", h.telemetry.readings)
	}
	if len(h.history.records) != 1 || h.history.records[0].source != state.SourceBus {
		t.Errorf("history = %+v", h.history.records)
	}
}

func TestBridge_RemoteSourceTagged(t *testing.T) {
	h := newBridgeHarness(t, func(o *BridgeOptions) {
		o.RemoteModules = []state.Key{{Module: scratchpad.SensorTemperature, Index: 0}}
	})
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.store.UpdateState(tempKey, state.Reading(19.5)); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	h.bridge.Stop()

	if len(h.history.records) != 1 || h.history.records[0].source != state.SourceRS485 {
		t.Errorf("history = %+v, want rs485 source", h.history.records)
	}
}

func TestBridge_DisconnectedMQTTSkipsPublish(t *testing.T) {
	h := newBridgeHarness(t, nil)
	h.mqtt.connected = false
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.store.UpdateState(tempKey, state.Reading(15.0)); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	h.bridge.Stop()

	if topics := h.mqtt.topics(); len(topics) != 0 {
		t.Errorf("published while disconnected: %v", topics)
	}
	if len(h.history.records) != 1 {
		t.Error("history must be recorded without MQTT")
	}
}

func TestBridge_QueueFullDrops(t *testing.T) {
	h := newBridgeHarness(t, nil)

	// Not started: nothing drains the queue.
	for i := 0; i < changeQueueSize+3; i++ {
		h.bridge.enqueue(state.Change{Key: tempKey})
	}
	if got := h.bridge.DroppedChanges(); got != 3 {
		t.Errorf("DroppedChanges() = %d, want 3", got)
	}
}

func TestBridge_PrunesHistory(t *testing.T) {
	h := newBridgeHarness(t, func(o *BridgeOptions) { o.HistoryRetention = 48 * time.Hour })
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.bridge.Stop()

	h.history.mu.Lock()
	defer h.history.mu.Unlock()
	if len(h.history.prunes) == 0 || h.history.prunes[0] != 48*time.Hour {
		t.Errorf("prunes = %v", h.history.prunes)
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestBridge_ActuatorCommand(t *testing.T) {
	h := newBridgeHarness(t, nil)

	if err := h.bridge.handleActuatorCommand("unibus/command/actuator/light/3", []byte(`{"on":true}`)); err != nil {
		t.Fatalf("handleActuatorCommand() error = %v", err)
	}
	if err := h.bridge.handleActuatorCommand("unibus/command/actuator/window_right/1", []byte(`{"on":true}`)); err != nil {
		t.Fatalf("handleActuatorCommand() error = %v", err)
	}

	st := h.table.State()
	if !st.LightChannel(3) || !st.Window(1, true) || st.Window(1, false) {
		t.Errorf("table = %+v", st)
	}

	if err := h.bridge.handleActuatorCommand("unibus/command/actuator/light/3", []byte(`{"on":false}`)); err != nil {
		t.Fatalf("handleActuatorCommand(off) error = %v", err)
	}
	if h.table.State().LightChannel(3) {
		t.Error("light 3 still on")
	}
}

func TestBridge_ActuatorCommandErrors(t *testing.T) {
	h := newBridgeHarness(t, nil)

	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"unknown kind", "unibus/command/actuator/heater/1", `{"on":true}`, nil},
		{"channel out of range", "unibus/command/actuator/water/8", `{"on":true}`, actuator.ErrChannelRange},
		{"malformed topic", "unibus/command/actuator/light", `{"on":true}`, mqtt.ErrInvalidTopic},
		{"bad payload", "unibus/command/actuator/light/1", `on`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.bridge.handleActuatorCommand(tt.topic, []byte(tt.payload))
			if err == nil {
				t.Fatal("handleActuatorCommand() error = nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if h.table.State() != (actuator.ControllerState{}) {
		t.Errorf("rejected commands changed the table: %+v", h.table.State())
	}
}

func TestBridge_Thresholds(t *testing.T) {
	h := newBridgeHarness(t, nil)

	payload, _ := json.Marshal(ThresholdsMessage{Open: 30, Close: 20})
	if err := h.bridge.handleThresholds("unibus/command/thresholds", payload); err != nil {
		t.Fatalf("handleThresholds() error = %v", err)
	}
	if got := h.table.Thresholds(); got != (actuator.Thresholds{Open: 30, Close: 20}) {
		t.Errorf("Thresholds() = %+v", got)
	}

	inverted, _ := json.Marshal(ThresholdsMessage{Open: 18, Close: 25})
	if err := h.bridge.handleThresholds("unibus/command/thresholds", inverted); err == nil {
		t.Error("inverted thresholds should be rejected")
	}
	if got := h.table.Thresholds(); got.Open != 30 {
		t.Errorf("rejected thresholds applied: %+v", got)
	}
}
