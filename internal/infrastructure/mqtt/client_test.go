package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/config"
)

// testConfig returns a configuration for a local broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "unibus-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		PayloadFormat: config.PayloadJSON,
	}
}

// connectOrSkip connects to the local broker, skipping when none runs.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("broker tests skipped in short mode")
	}
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker on 127.0.0.1:1883: %v", err)
	}
	conn.Close()

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("humidity", "temperature", 0), "unibus/state/humidity/temperature/0"},
		{"LineStatus", topics.LineStatus("north-wall"), "unibus/line/north-wall/status"},
		{"SystemStatus", topics.SystemStatus(), "unibus/system/status"},
		{"ActuatorCommand", topics.ActuatorCommand("light", 3), "unibus/command/actuator/light/3"},
		{"Thresholds", topics.Thresholds(), "unibus/command/thresholds"},
		{"AllActuatorCommands", topics.AllActuatorCommands(), "unibus/command/actuator/+/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseActuatorCommand(t *testing.T) {
	tests := []struct {
		topic   string
		kind    string
		channel uint8
		wantErr bool
	}{
		{topic: "unibus/command/actuator/light/3", kind: "light", channel: 3},
		{topic: "unibus/command/actuator/window_left/15", kind: "window_left", channel: 15},
		{topic: "unibus/command/actuator/pin/63", kind: "pin", channel: 63},
		{topic: "unibus/command/thresholds", wantErr: true},
		{topic: "unibus/command/actuator/light", wantErr: true},
		{topic: "unibus/command/actuator/light/x", wantErr: true},
		{topic: "unibus/command/actuator/light/300", wantErr: true},
		{topic: "unibus/command/actuator//1", wantErr: true},
		{topic: "unibus/command/actuator/light/1/2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, ch, err := ParseActuatorCommand(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseActuatorCommand() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseActuatorCommand() error = %v", err)
			}
			if kind != tt.kind || ch != tt.channel {
				t.Errorf("ParseActuatorCommand() = %q, %d, want %q, %d", kind, ch, tt.kind, tt.channel)
			}
		})
	}
}

// =============================================================================
// Payload Tests
// =============================================================================

type sample struct {
	Reading float64 `json:"reading" cbor:"reading"`
	NoData  bool    `json:"no_data" cbor:"no_data"`
}

func TestCodec(t *testing.T) {
	for _, format := range []string{"", config.PayloadJSON, config.PayloadCBOR} {
		t.Run("format="+format, func(t *testing.T) {
			codec, err := NewCodec(format)
			if err != nil {
				t.Fatalf("NewCodec() error = %v", err)
			}

			data, err := codec.Marshal(sample{Reading: 21.5})
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var got sample
			if err := codec.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got.Reading != 21.5 || got.NoData {
				t.Errorf("decoded = %+v", got)
			}
		})
	}
}

func TestCodec_FormatsDiffer(t *testing.T) {
	jsonCodec, _ := NewCodec(config.PayloadJSON)
	cborCodec, _ := NewCodec(config.PayloadCBOR)

	j, _ := jsonCodec.Marshal(sample{Reading: 1})
	c, _ := cborCodec.Marshal(sample{Reading: 1})

	if j[0] != '{' {
		t.Errorf("json payload starts with 0x%02X", j[0])
	}
	// CBOR map with two entries.
	if c[0] != 0xA2 {
		t.Errorf("cbor payload starts with 0x%02X, want 0xA2", c[0])
	}
	if cborCodec.Format() != config.PayloadCBOR || jsonCodec.Format() != config.PayloadJSON {
		t.Error("Format() mismatch")
	}
}

func TestNewCodec_Unknown(t *testing.T) {
	if _, err := NewCodec("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("NewCodec(xml) error = %v, want ErrUnknownFormat", err)
	}
}

func TestConnect_UnknownFormat(t *testing.T) {
	cfg := testConfig()
	cfg.PayloadFormat = "xml"
	if _, err := Connect(cfg); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Connect() error = %v, want ErrUnknownFormat", err)
	}
}

func TestStatusPayload(t *testing.T) {
	var s Status
	if err := json.Unmarshal(statusPayload(StatusOffline, "ctrl", "unexpected_disconnect"), &s); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if s.Status != "offline" || s.ClientID != "ctrl" || s.Reason != "unexpected_disconnect" || s.Timestamp == "" {
		t.Errorf("status = %+v", s)
	}

	var online map[string]any
	if err := json.Unmarshal(statusPayload(StatusOnline, "ctrl", ""), &online); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if _, ok := online["reason"]; ok {
		t.Error("online status should omit reason")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "user"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "user" || opts.ClientID != "unibus-test" {
		t.Errorf("options = %q/%q", opts.Username, opts.ClientID)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config not set")
	}

	configureLWT(opts, "unibus-test")
	if !opts.WillEnabled || opts.WillTopic != "unibus/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v", err)
	}
	if err := c.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v", err)
	}
	if err := c.Publish("t", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(large) error = %v", err)
	}
	if err := c.Publish("t", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if err := c.Subscribe("t", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
	if c.tracked("t") || len(c.subscriptions) != 0 {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t)

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{}, 1)
	err := client.Subscribe(Topics{}.AllActuatorCommands(), 1, func(topic string, _ []byte) error {
		mu.Lock()
		received = append(received, topic)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.tracked(Topics{}.AllActuatorCommands()) {
		t.Error("subscription not tracked")
	}

	topic := Topics{}.ActuatorCommand("light", 2)
	if err := client.Publish(topic, []byte(`{"on":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != topic {
		t.Errorf("received = %v", received)
	}
}

func TestPublishValue(t *testing.T) {
	client := connectOrSkip(t)

	got := make(chan []byte, 1)
	topic := Topics{}.State("temperature", "temperature", 7)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		got <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.PublishValue(topic, sample{Reading: 15}); err != nil {
		t.Fatalf("PublishValue() error = %v", err)
	}

	select {
	case payload := <-got:
		var s sample
		if err := client.Codec().Unmarshal(payload, &s); err != nil || s.Reading != 15 {
			t.Errorf("payload = %s (%v)", payload, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestUnsubscribe(t *testing.T) {
	client := connectOrSkip(t)

	topic := Topics{}.LineStatus("test")
	if err := client.Subscribe(topic, 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.tracked(topic) {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

// tracked reports whether topic is restored on reconnect.
func (c *Client) tracked(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestHandlerErrorsLogged(t *testing.T) {
	client := connectOrSkip(t)
	logger := &mockLogger{}
	client.SetLogger(logger)

	done := make(chan struct{}, 2)
	topic := Topics{}.ActuatorCommand("pin", 1)
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		defer func() { done <- struct{}{} }()
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish(topic, []byte("1"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
	// The wrapper logs after the handler returns.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		logger.mu.Lock()
		n := len(logger.warns)
		logger.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("handler error not logged")
}
