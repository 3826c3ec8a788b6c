package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration of the Aqara bridge. Gateway and
// protocol timing settings live in the separate file named by
// Protocols.Aqara.ConfigFile.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

// DatabaseConfig locates the SQLite file that caches accessories and the
// audit trail between restarts.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials. Password is redacted by String
// and MarshalJSON.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String implements fmt.Stringer with the password masked.
func (a MQTTAuthConfig) String() string {
	return fmt.Sprintf("MQTTAuthConfig{Username:%q, Password:%s}", a.Username, mask(a.Password))
}

// MarshalJSON implements json.Marshaler.
func (a MQTTAuthConfig) MarshalJSON() ([]byte, error) {
	type plain MQTTAuthConfig
	safe := plain(a)
	safe.Password = mask(a.Password)
	return json.Marshal(safe)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout returns Timeouts.Read as a duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns Timeouts.Write as a duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns Timeouts.Idle as a duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

// InfluxDBConfig contains InfluxDB connection settings for reading history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ProtocolsConfig contains protocol bridge settings.
type ProtocolsConfig struct {
	Aqara AqaraConfig `yaml:"aqara"`
}

// AqaraConfig points at the gateway bridge configuration.
type AqaraConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigFile string `yaml:"config_file"`
}

// Load builds the configuration from defaults, then the YAML file at path,
// then GRAYLOGIC_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/aqara.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-aqara",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8091,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Protocols: ProtocolsConfig{
			Aqara: AqaraConfig{
				Enabled:    true,
				ConfigFile: "./configs/aqara.yaml",
			},
		},
	}
}

// envOverride binds one GRAYLOGIC_* variable to a field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(cfg *Config, v string) { *field(cfg) = v }
}

// setInt ignores values that do not parse, leaving the file value.
func setInt(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(cfg) = n
		}
	}
}

var envOverrides = []envOverride{
	{"GRAYLOGIC_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"GRAYLOGIC_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"GRAYLOGIC_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"GRAYLOGIC_MQTT_CLIENT_ID", setString(func(c *Config) *string { return &c.MQTT.Broker.ClientID })},
	{"GRAYLOGIC_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"GRAYLOGIC_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"GRAYLOGIC_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"GRAYLOGIC_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"GRAYLOGIC_INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"GRAYLOGIC_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"GRAYLOGIC_LOGGING_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"GRAYLOGIC_AQARA_CONFIG_FILE", setString(func(c *Config) *string { return &c.Protocols.Aqara.ConfigFile })},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Database.Path != "", "database.path is required")

	check(c.MQTT.Broker.Host != "", "mqtt.broker.host is required")
	check(validPort(c.MQTT.Broker.Port), "mqtt.broker.port %d is out of range", c.MQTT.Broker.Port)
	check(c.MQTT.Broker.ClientID != "", "mqtt.broker.client_id is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(c.MQTT.Reconnect.MaxDelay >= c.MQTT.Reconnect.InitialDelay,
		"mqtt.reconnect.max_delay must not be less than initial_delay")

	if c.API.Enabled {
		check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		check(c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
		check(c.InfluxDB.Bucket != "", "influxdb.bucket is required when influxdb is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level))
	}

	if c.Protocols.Aqara.Enabled {
		check(c.Protocols.Aqara.ConfigFile != "", "protocols.aqara.config_file is required when aqara is enabled")
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
