package aqara

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// passwordLength is the AES-128 key size gateway passwords must match.
const passwordLength = 16

// Config is the root configuration for the Aqara bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Network   NetworkConfig   `yaml:"network"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Gateways  []GatewayConfig `yaml:"gateways"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reports.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// SendPolicy is "single" or "duplicate".
	// Default: single.
	SendPolicy SendPolicy `yaml:"send_policy"`
}

// NetworkConfig contains UDP socket settings.
type NetworkConfig struct {
	// MulticastGroup is the discovery group. Default: 224.0.0.50.
	MulticastGroup string `yaml:"multicast_group"`

	// MulticastPort is where whois is sent. Default: 4321.
	MulticastPort int `yaml:"multicast_port"`

	// ListenPort is the local report port. Default: 9898.
	ListenPort int `yaml:"listen_port"`

	// Interface optionally pins multicast to one network interface.
	Interface string `yaml:"interface"`
}

// DiscoveryConfig controls the whois broadcast.
type DiscoveryConfig struct {
	// WhoisInterval is the re-broadcast period (seconds). Default: 300.
	WhoisInterval int `yaml:"whois_interval"`
}

// SweepConfig controls stale device eviction. All values are seconds.
type SweepConfig struct {
	// Interval between sweeps. Default: 1800.
	Interval int `yaml:"interval"`

	// DeviceThreshold is how far a device may trail its gateway. Default: 3600.
	DeviceThreshold int `yaml:"device_threshold"`

	// AbsoluteCeiling is the longest a device may stay silent. Default: 86400.
	AbsoluteCeiling int `yaml:"absolute_ceiling"`
}

// GatewayConfig is the pre-shared password of one gateway.
type GatewayConfig struct {
	// SID is the gateway's hardware identifier as it appears in iam.
	SID string `yaml:"sid"`

	// Password is the 16 character key set in the Aqara app.
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`
}

// String returns a string representation with password masked.
func (g GatewayConfig) String() string {
	password := ""
	if g.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("GatewayConfig{SID:%q, Password:%s}", g.SID, password)
}

// MarshalJSON implements json.Marshaler to redact password in JSON output.
func (g GatewayConfig) MarshalJSON() ([]byte, error) {
	type redacted GatewayConfig
	safe := redacted(g)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AQARA_BRIDGE_KEY.
// AQARA_BRIDGE_GATEWAYS takes "sid=password,sid=password" and replaces or
// adds the matching gateway entries.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

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

// DefaultConfig returns a Config with protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "aqara-bridge-01",
			HealthInterval: 30,
			SendPolicy:     SendSingle,
		},
		Network: NetworkConfig{
			MulticastGroup: DefaultMulticastGroup,
			MulticastPort:  DefaultMulticastPort,
			ListenPort:     DefaultListenPort,
		},
		Discovery: DiscoveryConfig{
			WhoisInterval: 300,
		},
		Sweep: SweepConfig{
			Interval:        int(DefaultSweepInterval / time.Second),
			DeviceThreshold: int(DefaultDeviceThreshold / time.Second),
			AbsoluteCeiling: int(DefaultAbsoluteCeiling / time.Second),
		},
		Gateways: []GatewayConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AQARA_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("AQARA_BRIDGE_SEND_POLICY"); v != "" {
		cfg.Bridge.SendPolicy = SendPolicy(v)
	}
	if v := os.Getenv("AQARA_BRIDGE_INTERFACE"); v != "" {
		cfg.Network.Interface = v
	}
	if v := os.Getenv("AQARA_BRIDGE_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Network.ListenPort = port
		}
	}
	if v := os.Getenv("AQARA_BRIDGE_GATEWAYS"); v != "" {
		cfg.Gateways = mergeGateways(cfg.Gateways, v)
	}
}

// mergeGateways folds "sid=password" pairs into the configured gateways.
func mergeGateways(gateways []GatewayConfig, spec string) []GatewayConfig {
	for _, pair := range strings.Split(spec, ",") {
		sid, password, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || sid == "" {
			continue
		}
		replaced := false
		for i := range gateways {
			if gateways[i].SID == sid {
				gateways[i].Password = password
				replaced = true
			}
		}
		if !replaced {
			gateways = append(gateways, GatewayConfig{SID: sid, Password: password})
		}
	}
	return gateways
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateNetwork()...)
	errs = append(errs, c.validateTiming()...)
	errs = append(errs, c.validateGateways()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if !c.Bridge.SendPolicy.Valid() {
		errs = append(errs, fmt.Sprintf("bridge.send_policy %q is invalid (use single or duplicate)", c.Bridge.SendPolicy))
	}
	return errs
}

func (c *Config) validateNetwork() []string {
	var errs []string
	if ip := net.ParseIP(c.Network.MulticastGroup); ip == nil || !ip.IsMulticast() {
		errs = append(errs, fmt.Sprintf("network.multicast_group %q is not a multicast address", c.Network.MulticastGroup))
	}
	if c.Network.MulticastPort < 1 || c.Network.MulticastPort > 65535 {
		errs = append(errs, "network.multicast_port must be between 1 and 65535")
	}
	if c.Network.ListenPort < 1 || c.Network.ListenPort > 65535 {
		errs = append(errs, "network.listen_port must be between 1 and 65535")
	}
	return errs
}

func (c *Config) validateTiming() []string {
	var errs []string
	if c.Discovery.WhoisInterval < 1 {
		errs = append(errs, "discovery.whois_interval must be at least 1 second")
	}
	if c.Sweep.Interval < 1 {
		errs = append(errs, "sweep.interval must be at least 1 second")
	}
	if c.Sweep.DeviceThreshold < 1 {
		errs = append(errs, "sweep.device_threshold must be at least 1 second")
	}
	if c.Sweep.AbsoluteCeiling < c.Sweep.DeviceThreshold {
		errs = append(errs, "sweep.absolute_ceiling must not be less than sweep.device_threshold")
	}
	return errs
}

func (c *Config) validateGateways() []string {
	var errs []string
	seen := make(map[string]bool)

	for i, gw := range c.Gateways {
		if gw.SID == "" {
			errs = append(errs, fmt.Sprintf("gateways[%d].sid is required", i))
			continue
		}
		if seen[gw.SID] {
			errs = append(errs, fmt.Sprintf("gateways[%d].sid %q is duplicate", i, gw.SID))
		}
		seen[gw.SID] = true

		if len(gw.Password) != passwordLength {
			errs = append(errs, fmt.Sprintf("gateways[%d].password must be %d characters", i, passwordLength))
		}
	}
	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetWhoisInterval returns the whois re-broadcast period.
func (c *Config) GetWhoisInterval() time.Duration {
	return time.Duration(c.Discovery.WhoisInterval) * time.Second
}

// GetSweepInterval returns the period between staleness sweeps.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Sweep.Interval) * time.Second
}

// GetSweepPolicy returns the staleness windows.
func (c *Config) GetSweepPolicy() SweepPolicy {
	return SweepPolicy{
		DeviceThreshold: time.Duration(c.Sweep.DeviceThreshold) * time.Second,
		AbsoluteCeiling: time.Duration(c.Sweep.AbsoluteCeiling) * time.Second,
	}
}

// Passwords returns the gateway sid -> password mapping.
func (c *Config) Passwords() map[string]string {
	out := make(map[string]string, len(c.Gateways))
	for _, gw := range c.Gateways {
		out[gw.SID] = gw.Password
	}
	return out
}

// MulticastAddr returns the whois destination.
func (c *Config) MulticastAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(c.Network.MulticastGroup), Port: c.Network.MulticastPort}
}

// ToUDPConfig converts settings to a UDPConfig for the transport.
func (c *Config) ToUDPConfig() UDPConfig {
	return UDPConfig{
		ListenPort:     c.Network.ListenPort,
		MulticastGroup: c.Network.MulticastGroup,
		Interface:      c.Network.Interface,
	}
}
