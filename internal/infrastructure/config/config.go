package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override key.
const envPrefix = "UNIBUS_"

// Line drivers.
const (
	DriverUART      = "uart"
	DriverSimulated = "simulated"
)

// MQTT payload formats.
const (
	PayloadJSON = "json"
	PayloadCBOR = "cbor"
)

// Config is the root configuration structure for the UniBus controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bus       BusConfig       `yaml:"bus"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Clients   ClientsConfig   `yaml:"clients"`
	Display   DisplayConfig   `yaml:"display"`
	Execution ExecutionConfig `yaml:"execution"`
	RS485     RS485Config     `yaml:"rs485"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id" env:"SITE_ID"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long state history rows are kept. Zero keeps
	// them forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PayloadFormat selects the state message encoding: "json" or "cbor".
	PayloadFormat string `yaml:"payload_format" env:"MQTT_PAYLOAD_FORMAT"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MQTT_HOST"`
	Port     int    `yaml:"port" env:"MQTT_PORT"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" env:"API_ENABLED"`
	Host     string           `yaml:"host" env:"API_HOST"`
	Port     int              `yaml:"port" env:"API_PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"INFLUXDB_URL"`
	Token         string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output"`
}

// BusConfig contains the module bus polling settings.
type BusConfig struct {
	// CycleInterval is the period of one cooperative polling pass.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// PollInterval is how often a permanent line starts a new measurement.
	PollInterval time.Duration `yaml:"poll_interval" env:"BUS_POLL_INTERVAL"`

	// MeasureTime is the settle delay between start-measure and read.
	MeasureTime time.Duration `yaml:"measure_time"`

	// TransactionTimeout bounds every single bus transaction.
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`

	// RegistrationInterval is how often registration lines look for modules.
	RegistrationInterval time.Duration `yaml:"registration_interval"`

	PermanentLines    []LineConfig `yaml:"permanent_lines"`
	RegistrationLines []LineConfig `yaml:"registration_lines"`
}

// LineConfig describes one bus line.
type LineConfig struct {
	// Name identifies the line in logs, topics and the API.
	Name string `yaml:"name"`

	// Driver is "uart" (1-Wire over a serial adapter) or "simulated".
	Driver string `yaml:"driver"`

	// Port is the serial device for the uart driver (e.g. /dev/ttyUSB0).
	Port string `yaml:"port"`

	// Simulate names the module category a simulated line answers as:
	// "sensors", "display" or "execution".
	Simulate string `yaml:"simulate"`
}

// SensorsConfig contains sensor inventory settings.
type SensorsConfig struct {
	HardCoded HardCodedConfig `yaml:"hard_coded"`
}

// HardCodedConfig holds the number of sensors of each type wired directly
// to the controller. Bus modules get indices after these.
type HardCodedConfig struct {
	Temperature  int `yaml:"temperature"`
	Humidity     int `yaml:"humidity"`
	Luminosity   int `yaml:"luminosity"`
	SoilMoisture int `yaml:"soil_moisture"`
	PH           int `yaml:"ph"`
}

// ClientsConfig enables or disables the module categories.
// A disabled category is served by the no-op client.
type ClientsConfig struct {
	Sensors   bool `yaml:"sensors"`
	Display   bool `yaml:"display"`
	Execution bool `yaml:"execution"`
}

// DisplayConfig contains settings pushed to remote display modules.
type DisplayConfig struct {
	OpenTemperature  int              `yaml:"open_temperature"`
	CloseTemperature int              `yaml:"close_temperature"`
	Readings         []DisplayReading `yaml:"readings"`
}

// DisplayReading selects one sensor reading to render on the display.
type DisplayReading struct {
	Type  string `yaml:"type"`
	Index int    `yaml:"index"`
}

// ExecutionConfig contains the slot linkage table pushed to execution modules.
type ExecutionConfig struct {
	Slots []ExecutionSlot `yaml:"slots"`
}

// ExecutionSlot binds one execution module slot to a controller channel.
type ExecutionSlot struct {
	// Type is one of window_left, window_right, watering, light, pin.
	Type string `yaml:"type"`

	// Channel is the window, watering, light or pin number.
	Channel int `yaml:"channel"`
}

// RS485Config contains the multi-drop broadcast settings.
type RS485Config struct {
	Enabled     bool          `yaml:"enabled" env:"RS485_ENABLED"`
	Port        string        `yaml:"port" env:"RS485_PORT"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Sensors are remote sensors queried on the RS-485 bus each cycle.
	Sensors []RemoteSensor `yaml:"sensors"`
}

// RemoteSensor addresses one sensor on the RS-485 bus.
type RemoteSensor struct {
	Type  string `yaml:"type"`
	Index int    `yaml:"index"`
}

// Sensor type names accepted in configuration.
var sensorTypeNames = map[string]bool{
	"temperature":   true,
	"humidity":      true,
	"luminosity":    true,
	"soil_moisture": true,
	"ph":            true,
}

// Slot type names accepted in configuration.
var slotTypeNames = map[string]bool{
	"empty":        true,
	"window_left":  true,
	"window_right": true,
	"watering":     true,
	"light":        true,
	"pin":          true,
}

// maxExecutionSlots is the number of slots an execution module carries.
const maxExecutionSlots = 8

// maxDisplayReadings is the number of readings a display module renders.
const maxDisplayReadings = 5

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: UNIBUS_SECTION_KEY
// For example: UNIBUS_DATABASE_PATH, UNIBUS_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides,
// without reading a file. Used by CLI subcommands that only need database
// access when no configuration file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "greenhouse-001",
			Name: "Greenhouse",
		},
		Database: DatabaseConfig{
			Path:             "./data/unibus.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "unibus-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			PayloadFormat: PayloadJSON,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bus: BusConfig{
			CycleInterval:        100 * time.Millisecond,
			PollInterval:         5 * time.Second,
			MeasureTime:          time.Second,
			TransactionTimeout:   500 * time.Millisecond,
			RegistrationInterval: 2 * time.Second,
		},
		Clients: ClientsConfig{
			Sensors:   true,
			Display:   true,
			Execution: true,
		},
		Display: DisplayConfig{
			OpenTemperature:  25,
			CloseTemperature: 20,
		},
		RS485: RS485Config{
			BaudRate:    57600,
			ReadTimeout: 200 * time.Millisecond,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Only variables that are set replace the loaded values.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix})
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	switch c.MQTT.PayloadFormat {
	case PayloadJSON, PayloadCBOR:
	default:
		errs = append(errs, "mqtt.payload_format must be json or cbor")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.Bus.validate()...)
	errs = append(errs, c.Sensors.HardCoded.validate()...)

	if c.Display.OpenTemperature < 0 || c.Display.OpenTemperature > 100 ||
		c.Display.CloseTemperature < 0 || c.Display.CloseTemperature > 100 {
		errs = append(errs, "display temperatures must be 0-100")
	} else if c.Display.CloseTemperature > c.Display.OpenTemperature {
		errs = append(errs, "display.close_temperature must not exceed display.open_temperature")
	}

	if len(c.Display.Readings) > maxDisplayReadings {
		errs = append(errs, fmt.Sprintf("display.readings allows at most %d entries", maxDisplayReadings))
	}
	for i, r := range c.Display.Readings {
		if !sensorTypeNames[r.Type] {
			errs = append(errs, fmt.Sprintf("display.readings[%d].type %q is unknown", i, r.Type))
		}
		if r.Index < 0 || r.Index > 254 {
			errs = append(errs, fmt.Sprintf("display.readings[%d].index must be 0-254", i))
		}
	}

	if len(c.Execution.Slots) > maxExecutionSlots {
		errs = append(errs, fmt.Sprintf("execution.slots allows at most %d entries", maxExecutionSlots))
	}
	for i, s := range c.Execution.Slots {
		if !slotTypeNames[s.Type] {
			errs = append(errs, fmt.Sprintf("execution.slots[%d].type %q is unknown", i, s.Type))
		}
		if s.Channel < 0 || s.Channel > 255 {
			errs = append(errs, fmt.Sprintf("execution.slots[%d].channel must be 0-255", i))
		}
	}

	if c.RS485.Enabled && c.RS485.Port == "" {
		errs = append(errs, "rs485.port is required when rs485 is enabled")
	}
	for i, r := range c.RS485.Sensors {
		if !sensorTypeNames[r.Type] {
			errs = append(errs, fmt.Sprintf("rs485.sensors[%d].type %q is unknown", i, r.Type))
		}
		if r.Index < 0 || r.Index > 254 {
			errs = append(errs, fmt.Sprintf("rs485.sensors[%d].index must be 0-254", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BusConfig) validate() []string {
	var errs []string

	if b.CycleInterval <= 0 {
		errs = append(errs, "bus.cycle_interval must be positive")
	}
	if b.PollInterval < b.MeasureTime {
		errs = append(errs, "bus.poll_interval must not be shorter than bus.measure_time")
	}
	if b.TransactionTimeout <= 0 {
		errs = append(errs, "bus.transaction_timeout must be positive")
	}

	seen := make(map[string]bool)
	check := func(section string, lines []LineConfig) {
		for i, l := range lines {
			if l.Name == "" {
				errs = append(errs, fmt.Sprintf("bus.%s[%d].name is required", section, i))
			} else if seen[l.Name] {
				errs = append(errs, fmt.Sprintf("bus.%s[%d].name %q is duplicated", section, i, l.Name))
			}
			seen[l.Name] = true

			switch l.Driver {
			case DriverUART:
				if l.Port == "" {
					errs = append(errs, fmt.Sprintf("bus.%s[%d].port is required for the uart driver", section, i))
				}
			case DriverSimulated:
				switch l.Simulate {
				case "sensors", "display", "execution":
				default:
					errs = append(errs, fmt.Sprintf("bus.%s[%d].simulate must be sensors, display or execution", section, i))
				}
			default:
				errs = append(errs, fmt.Sprintf("bus.%s[%d].driver must be uart or simulated", section, i))
			}
		}
	}
	check("permanent_lines", b.PermanentLines)
	check("registration_lines", b.RegistrationLines)

	return errs
}

func (h HardCodedConfig) validate() []string {
	var errs []string
	for name, v := range map[string]int{
		"temperature":   h.Temperature,
		"humidity":      h.Humidity,
		"luminosity":    h.Luminosity,
		"soil_moisture": h.SoilMoisture,
		"ph":            h.PH,
	} {
		if v < 0 || v > 254 {
			errs = append(errs, fmt.Sprintf("sensors.hard_coded.%s must be 0-254", name))
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
