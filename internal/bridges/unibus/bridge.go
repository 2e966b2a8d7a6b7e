package unibus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// Bridge operation constants.
const (
	defaultCycleInterval = 100 * time.Millisecond
	defaultRS485Interval = time.Second

	// changeQueueSize bounds state changes waiting to be published.
	changeQueueSize = 256

	// pruneInterval is how often old history rows are removed.
	pruneInterval = time.Hour

	recordTimeout = 5 * time.Second
)

// Line is a bus line driven by the cycle loop. Lines are not safe for
// concurrent use; only the cycle goroutine touches them.
type Line interface {
	Update(ctx context.Context, dt time.Duration)
	Status() line.Status
}

// StateSource is the state store the bridge observes.
type StateSource interface {
	Subscribe(fn state.Observer)
}

// Actuators is the actuator table commands are applied to.
type Actuators interface {
	Set(kind actuator.Kind, ch uint8, on bool) error
	SetThresholds(th actuator.Thresholds)
}

// Publisher publishes encoded values.
type Publisher interface {
	PublishValue(topic string, v any) error
	IsConnected() bool
}

// MQTTClient is the MQTT client used by the bridge. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Codec() mqtt.Codec
}

// Telemetry receives sensor and line samples. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteSensorReading(r influxdb.SensorReading)
	WriteLineStatus(name string, online bool, failures uint64)
}

// History records state changes. *state.HistoryRepository satisfies it.
type History interface {
	RecordStateChange(ctx context.Context, key state.Key, value state.Value, source string) error
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Poller is the RS-485 master.
type Poller interface {
	Poll(ctx context.Context) error
}

// Logger is the logging interface used by the bridge.
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

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Lines are the permanent and registration lines, driven in order.
	Lines []Line

	// Store is the state store whose changes are published.
	Store StateSource

	// Actuators receives MQTT commands.
	Actuators Actuators

	// MQTT is optional. Without it nothing is published or subscribed.
	MQTT MQTTClient

	// Telemetry is optional.
	Telemetry Telemetry

	// History is optional.
	History History

	// HistoryRetention is how long history rows are kept. Zero keeps them forever.
	HistoryRetention time.Duration

	// RS485 is optional. It is polled every RS485Interval.
	RS485         Poller
	RS485Interval time.Duration

	// RemoteModules are the sensor types answering on RS-485. Their
	// history rows are tagged with the rs485 source.
	RemoteModules []state.Key

	// CycleInterval is the tick of the line loop. Default: 100ms.
	CycleInterval time.Duration

	// HealthInterval is how often line status is republished.
	HealthInterval time.Duration

	Logger Logger
}

// Bridge connects the bus lines to the outside world. It drives the lines
// from a single cycle loop and fans state changes out to MQTT, InfluxDB and
// the history table. MQTT commands switch the actuator table.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Bridge struct {
	lines     []Line
	store     StateSource
	actuators Actuators
	mqtt      MQTTClient
	telemetry Telemetry
	history   History
	retention time.Duration
	rs485     Poller
	remote    map[state.Key]bool
	health    *HealthReporter
	logger    Logger

	cycleInterval time.Duration
	rs485Interval time.Duration
	rs485Elapsed  time.Duration

	changes chan state.Change
	dropped atomic.Uint64

	// Shutdown coordination
	started  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	cycleMu  sync.Mutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Actuators == nil {
		return nil, fmt.Errorf("actuator table is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	cycle := opts.CycleInterval
	if cycle <= 0 {
		cycle = defaultCycleInterval
	}
	rsInterval := opts.RS485Interval
	if rsInterval <= 0 {
		rsInterval = defaultRS485Interval
	}

	remote := make(map[state.Key]bool, len(opts.RemoteModules))
	for _, k := range opts.RemoteModules {
		remote[state.Key{Module: k.Module, Index: k.Index}] = true
	}

	b := &Bridge{
		lines:         append([]Line(nil), opts.Lines...),
		store:         opts.Store,
		actuators:     opts.Actuators,
		mqtt:          opts.MQTT,
		telemetry:     opts.Telemetry,
		history:       opts.History,
		retention:     opts.HistoryRetention,
		rs485:         opts.RS485,
		remote:        remote,
		logger:        logger,
		cycleInterval: cycle,
		rs485Interval: rsInterval,
		changes:       make(chan state.Change, changeQueueSize),
		done:          make(chan struct{}),
	}

	hc := HealthReporterConfig{
		Interval:  opts.HealthInterval,
		Telemetry: opts.Telemetry,
		Logger:    logger,
	}
	if opts.MQTT != nil {
		hc.Publisher = opts.MQTT
	}
	b.health = NewHealthReporter(hc)

	opts.Store.Subscribe(b.enqueue)
	return b, nil
}

// commandTopics are the topics the bridge takes commands from.
var commandTopics = [...]string{
	mqtt.Topics{}.AllActuatorCommands(),
	mqtt.Topics{}.Thresholds(),
}

// Start subscribes to commands and starts the cycle, publish, health and
// prune loops.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	if b.mqtt != nil {
		if err := b.mqtt.Subscribe(commandTopics[0], 1, b.handleActuatorCommand); err != nil {
			return fmt.Errorf("subscribe to actuator commands: %w", err)
		}
		if err := b.mqtt.Subscribe(commandTopics[1], 1, b.handleThresholds); err != nil {
			return fmt.Errorf("subscribe to thresholds: %w", err)
		}
		b.logger.Info("subscribed to commands", "topics", commandTopics)
	}

	b.wg.Add(2)
	go b.cycleLoop(ctx)
	go b.publishLoop(ctx)
	if b.history != nil && b.retention > 0 {
		b.wg.Add(1)
		go b.pruneLoop(ctx)
	}
	b.health.Start(ctx)

	b.logger.Info("bridge started", "lines", len(b.lines), "rs485", b.rs485 != nil)
	return nil
}

// Stop drops the command subscriptions, shuts the loops down and waits for
// them. Queued state changes are published before Stop returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt != nil && b.started.Load() {
			for _, topic := range commandTopics {
				if err := b.mqtt.Unsubscribe(topic); err != nil {
					b.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
				}
			}
		}
		close(b.done)
		b.health.Stop()
		b.wg.Wait()
		b.logger.Info("bridge stopped", "dropped_changes", b.dropped.Load())
	})
}

// RunCycle advances every line by dt and polls RS-485 when due. The cycle
// loop calls it on every tick.
func (b *Bridge) RunCycle(ctx context.Context, dt time.Duration) {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	statuses := make([]line.Status, 0, len(b.lines))
	for _, l := range b.lines {
		l.Update(ctx, dt)
		statuses = append(statuses, l.Status())
	}
	b.health.Observe(statuses)

	if b.rs485 == nil {
		return
	}
	b.rs485Elapsed += dt
	if b.rs485Elapsed < b.rs485Interval {
		return
	}
	b.rs485Elapsed = 0
	if err := b.rs485.Poll(ctx); err != nil {
		b.logger.Debug("rs485 poll incomplete", "error", err)
	}
}

// Lines returns the status of every line as of the last cycle.
func (b *Bridge) Lines() []line.Status {
	return b.health.Lines()
}

// DroppedChanges returns how many state changes were dropped because the
// publish queue was full.
func (b *Bridge) DroppedChanges() uint64 {
	return b.dropped.Load()
}

func (b *Bridge) cycleLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cycleInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case now := <-ticker.C:
			b.RunCycle(ctx, now.Sub(last))
			last = now
		}
	}
}

// enqueue is the state store observer. It runs on the goroutine that
// updated the slot, so it never blocks.
func (b *Bridge) enqueue(c state.Change) {
	select {
	case b.changes <- c:
	default:
		if b.dropped.Add(1) == 1 {
			b.logger.Warn("state change queue full, dropping changes", "key", c.Key.String())
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case c := <-b.changes:
			b.fanOut(ctx, c)
		case <-ctx.Done():
			return
		case <-b.done:
			for {
				select {
				case c := <-b.changes:
					b.fanOut(context.Background(), c)
				default:
					return
				}
			}
		}
	}
}

// fanOut sends one change to every configured sink.
func (b *Bridge) fanOut(ctx context.Context, c state.Change) {
	msg := NewStateMessage(c)

	if b.mqtt != nil && b.mqtt.IsConnected() {
		topic := mqtt.Topics{}.State(msg.Module, msg.Category, msg.Index)
		if err := b.mqtt.PublishValue(topic, msg); err != nil {
			b.logger.Warn("failed to publish state", "topic", topic, "error", err)
		}
	}

	if b.telemetry != nil {
		b.telemetry.WriteSensorReading(influxdb.SensorReading{
			Module:   msg.Module,
			Category: msg.Category,
			Index:    msg.Index,
			Value:    msg.Reading,
			NoData:   msg.NoData,
			Time:     msg.Timestamp,
		})
	}

	if b.history != nil {
		recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		err := b.history.RecordStateChange(recCtx, c.Key, c.Value, b.sourceOf(c.Key))
		cancel()
		if err != nil {
			b.logger.Error("failed to record state change", "key", c.Key.String(), "error", err)
		}
	}
}

func (b *Bridge) sourceOf(k state.Key) string {
	if b.remote[state.Key{Module: k.Module, Index: k.Index}] {
		return state.SourceRS485
	}
	return state.SourceBus
}

func (b *Bridge) pruneLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	b.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.prune(ctx)
		}
	}
}

func (b *Bridge) prune(ctx context.Context) {
	n, err := b.history.PruneHistory(ctx, b.retention)
	if err != nil {
		b.logger.Error("failed to prune state history", "error", err)
		return
	}
	if n > 0 {
		b.logger.Info("pruned state history", "rows", n, "retention", b.retention.String())
	}
}

// handleActuatorCommand applies unibus/command/actuator/{kind}/{channel}.
func (b *Bridge) handleActuatorCommand(topic string, payload []byte) error {
	kindName, channel, err := mqtt.ParseActuatorCommand(topic)
	if err != nil {
		return err
	}
	kind, err := actuator.ParseKind(kindName)
	if err != nil {
		return err
	}

	var cmd CommandMessage
	if err := b.mqtt.Codec().Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding command for %s/%d: %w", kind, channel, err)
	}

	if err := b.actuators.Set(kind, channel, cmd.On); err != nil {
		if errors.Is(err, actuator.ErrChannelRange) {
			b.logger.Warn("actuator command rejected", "kind", string(kind), "channel", channel, "error", err)
		}
		return err
	}
	b.logger.Info("actuator switched", "kind", string(kind), "channel", channel, "on", cmd.On)
	return nil
}

// handleThresholds applies unibus/command/thresholds. Display modules pick
// the new values up on their next update.
func (b *Bridge) handleThresholds(_ string, payload []byte) error {
	var msg ThresholdsMessage
	if err := b.mqtt.Codec().Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding thresholds: %w", err)
	}
	if msg.Close > msg.Open {
		return fmt.Errorf("thresholds: close %d above open %d", msg.Close, msg.Open)
	}
	b.actuators.SetThresholds(actuator.Thresholds{Open: msg.Open, Close: msg.Close})
	b.logger.Info("window thresholds set", "open", msg.Open, "close", msg.Close)
	return nil
}
