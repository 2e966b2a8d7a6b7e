package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-unibus/migrations"

	"github.com/nerrad567/gray-logic-unibus/internal/api"
	"github.com/nerrad567/gray-logic-unibus/internal/bridges/unibus"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-unibus/internal/rs485"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/client"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/onewire"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller service",
	Long: `Run the controller: restore registrations, poll every configured bus line,
serve the HTTP API and publish state until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting UniBus controller",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	// State store and registration dispatcher
	store := state.NewStore()
	hardCoded, err := hardCodedCounts(cfg.Sensors.HardCoded)
	if err != nil {
		return err
	}
	dispatcher := registry.NewDispatcher(store, registry.NewSQLiteRepository(db.DB), hardCoded, log.Component("registry"))
	if setupErr := dispatcher.Setup(ctx); setupErr != nil {
		return fmt.Errorf("restoring registrations: %w", setupErr)
	}
	log.Info("registration dispatcher ready",
		"controller_id", fmt.Sprintf("0x%02X", dispatcher.GetControllerID()),
		"controller_uuid", dispatcher.ControllerUUID().String(),
		"slots", store.Len(),
	)

	table := actuator.NewTable(actuator.Thresholds{
		Open:  uint8(cfg.Display.OpenTemperature),  // #nosec G115 -- validated 0..100
		Close: uint8(cfg.Display.CloseTemperature), // #nosec G115 -- validated 0..100
	})

	factory, err := buildFactory(cfg, dispatcher, store, table, log)
	if err != nil {
		return err
	}

	lines, closers, err := buildLines(cfg, factory, dispatcher, log)
	defer closeAll(closers, log)
	if err != nil {
		return err
	}
	log.Info("bus lines configured",
		"permanent", len(cfg.Bus.PermanentLines),
		"registration", len(cfg.Bus.RegistrationLines),
	)

	// RS-485 broadcast master (optional)
	var master *rs485.Master
	var remoteKeys []state.Key
	if cfg.RS485.Enabled {
		var port rs485.Port
		master, port, remoteKeys, err = startRS485(cfg.RS485, table, dispatcher, store, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing RS-485 port")
			if closeErr := port.Close(); closeErr != nil {
				log.Error("error closing RS-485 port", "error", closeErr)
			}
		}()
	} else {
		log.Info("RS-485 disabled")
	}

	// Connect to MQTT broker. The controller keeps polling without one.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, state will not be published", "error", err)
		mqttClient = nil
	} else {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"payload_format", mqttClient.Codec().Format(),
		)
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	opts := unibus.BridgeOptions{
		Lines:            lines,
		Store:            store,
		Actuators:        table,
		History:          state.NewHistoryRepository(db.DB),
		HistoryRetention: cfg.Database.HistoryRetention,
		RemoteModules:    remoteKeys,
		CycleInterval:    cfg.Bus.CycleInterval,
		Logger:           log.Component("bridge"),
	}
	// Interface fields stay nil unless the component exists.
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	if master != nil {
		opts.RS485 = master
		opts.RS485Interval = cfg.Bus.PollInterval
	}

	bridge, err := unibus.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
		if err := dispatcher.SaveState(context.Background()); err != nil {
			log.Error("saving registrations failed", "error", err)
		}
	}()

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Registry:  dispatcher,
			Store:     store,
			History:   state.NewHistoryRepository(db.DB),
			Lines:     bridge,
			Actuators: table,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge (which saves the
	// registration mapping), InfluxDB, MQTT, RS-485, bus lines, database.

	log.Info("UniBus controller stopped")
	return nil
}

// openDatabase opens the SQLite database and applies migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := openSchema(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// openSchema opens the database without applying migrations.
func openSchema(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// hardCodedCounts converts the configured firmware-wired sensor counts.
func hardCodedCounts(hc config.HardCodedConfig) (registry.HardCoded, error) {
	counts := map[scratchpad.SensorType]int{
		scratchpad.SensorTemperature:  hc.Temperature,
		scratchpad.SensorHumidity:     hc.Humidity,
		scratchpad.SensorLuminosity:   hc.Luminosity,
		scratchpad.SensorSoilMoisture: hc.SoilMoisture,
		scratchpad.SensorPH:           hc.PH,
	}

	out := make(registry.HardCoded, len(counts))
	for t, n := range counts {
		if n < 0 || n > int(registry.MaxIndex) {
			return nil, fmt.Errorf("hard-coded %s count %d out of range", t, n)
		}
		out[t] = uint8(n)
	}
	return out, nil
}

// buildFactory creates the enabled module clients.
func buildFactory(cfg *config.Config, dispatcher *registry.Dispatcher, store *state.Store, table *actuator.Table, log *logging.Logger) (*client.Factory, error) {
	var clients []client.Client

	if cfg.Clients.Sensors {
		clients = append(clients, client.NewSensors(dispatcher, store, log.Component("sensors")))
	}

	if cfg.Clients.Display {
		readings := make([]client.DisplayReading, 0, len(cfg.Display.Readings))
		for _, r := range cfg.Display.Readings {
			t, err := scratchpad.ParseSensorType(r.Type)
			if err != nil {
				return nil, fmt.Errorf("display reading: %w", err)
			}
			readings = append(readings, client.DisplayReading{Type: t, Index: uint8(r.Index)}) // #nosec G115 -- validated
		}
		clients = append(clients, client.NewDisplay(store, table, readings, log.Component("display")))
	}

	if cfg.Clients.Execution {
		linkage := make([]client.Linkage, 0, len(cfg.Execution.Slots))
		for _, s := range cfg.Execution.Slots {
			t, err := scratchpad.ParseSlotType(s.Type)
			if err != nil {
				return nil, fmt.Errorf("execution slot: %w", err)
			}
			linkage = append(linkage, client.Linkage{Type: t, Channel: uint8(s.Channel)}) // #nosec G115 -- validated
		}
		clients = append(clients, client.NewExecution(store, table, linkage, log.Component("execution")))
	}

	return client.NewFactory(clients...), nil
}

// buildLines opens the physical (or simulated) transport of every configured
// line and wraps it in a permanent or registration manager. The returned
// closers must be closed even when an error is returned.
func buildLines(cfg *config.Config, factory *client.Factory, binder line.Binder, log *logging.Logger) ([]unibus.Line, []io.Closer, error) {
	var (
		lines   []unibus.Line
		closers []io.Closer
	)

	for _, lc := range cfg.Bus.PermanentLines {
		bus, closer, err := openLine(lc, cfg.Bus.TransactionTimeout)
		if err != nil {
			return lines, closers, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		lines = append(lines, line.NewPermanent(line.PermanentOptions{
			Name:               lc.Name,
			Line:               bus,
			Factory:            factory,
			Binder:             binder,
			Logger:             log.Component("line").With("line", lc.Name),
			PollInterval:       cfg.Bus.PollInterval,
			MeasureTime:        cfg.Bus.MeasureTime,
			TransactionTimeout: cfg.Bus.TransactionTimeout,
		}))
	}

	for _, lc := range cfg.Bus.RegistrationLines {
		bus, closer, err := openLine(lc, cfg.Bus.TransactionTimeout)
		if err != nil {
			return lines, closers, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		lines = append(lines, line.NewRegistration(line.RegistrationOptions{
			Name:               lc.Name,
			Line:               bus,
			Factory:            factory,
			Binder:             binder,
			Logger:             log.Component("registration").With("line", lc.Name),
			Interval:           cfg.Bus.RegistrationInterval,
			TransactionTimeout: cfg.Bus.TransactionTimeout,
		}))
	}

	return lines, closers, nil
}

// openLine opens the transport for one line. Simulated lines need no closer.
func openLine(lc config.LineConfig, timeout time.Duration) (onewire.Line, io.Closer, error) {
	switch lc.Driver {
	case config.DriverUART:
		u, err := onewire.OpenUART(lc.Port, timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("opening line %s: %w", lc.Name, err)
		}
		return u, u, nil
	case config.DriverSimulated:
		c, err := scratchpad.ParseCategory(lc.Simulate)
		if err != nil {
			return nil, nil, fmt.Errorf("line %s: %w", lc.Name, err)
		}
		return onewire.NewSimulator(onewire.SimulatedModule(c)), nil, nil
	default:
		return nil, nil, fmt.Errorf("line %s: unknown driver %q", lc.Name, lc.Driver)
	}
}

// startRS485 opens the RS-485 port and registers the remote sensors. It
// returns the state slots the remote sensors write to.
func startRS485(cfg config.RS485Config, table *actuator.Table, dispatcher *registry.Dispatcher, store *state.Store, log *logging.Logger) (*rs485.Master, rs485.Port, []state.Key, error) {
	remotes := make([]rs485.Remote, 0, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		t, err := scratchpad.ParseSensorType(s.Type)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rs485 sensor: %w", err)
		}
		remotes = append(remotes, rs485.Remote{Type: t, Index: uint8(s.Index)}) // #nosec G115 -- validated
	}

	port, err := rs485.OpenPort(cfg.Port, cfg.BaudRate, cfg.ReadTimeout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening RS-485 port: %w", err)
	}

	master := rs485.NewMaster(rs485.MasterOptions{
		Port:     port,
		Table:    table,
		Registry: dispatcher,
		Store:    store,
		Sensors:  remotes,
		Logger:   log.Component("rs485"),
	})
	if err := master.Setup(); err != nil {
		port.Close()
		return nil, nil, nil, fmt.Errorf("registering RS-485 sensors: %w", err)
	}

	var keys []state.Key
	for _, r := range remotes {
		if st, ok := dispatcher.GetRegisteredStates(r.Type, r.Index); ok {
			keys = append(keys, st.Keys()...)
		}
	}

	log.Info("RS-485 master ready", "port", cfg.Port, "baud", cfg.BaudRate, "sensors", len(remotes))
	return master, port, keys, nil
}

// closeAll closes every closer, logging failures.
func closeAll(closers []io.Closer, log *logging.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Error("error closing bus line", "error", err)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil when the broker is unreachable)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
