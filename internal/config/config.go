// Package config manages netstackd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/gonetstack/internal/netaddr"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete netstackd configuration.
type Config struct {
	Metrics MetricsConfig  `koanf:"metrics"`
	Log     LogConfig      `koanf:"log"`
	ARP     ARPConfig      `koanf:"arp"`
	Devices []DeviceConfig `koanf:"devices"`
	Routes  []RouteConfig  `koanf:"routes"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ARPConfig holds the ARP resolver parameters.
type ARPConfig struct {
	// ResolveTimeout bounds a blocking Resolve call (spec.md §4.3).
	ResolveTimeout time.Duration `koanf:"resolve_timeout"`
}

// DeviceConfig describes one network interface to bring up at startup.
// Each entry becomes a netdev.Device with one attached IP interface.
type DeviceConfig struct {
	// Name is the interface name (truncated to 15 bytes by netdev).
	Name string `koanf:"name"`

	// Addr is the interface's IPv4 address in dotted-quad form.
	Addr string `koanf:"addr"`

	// Netmask is the interface's subnet mask in dotted-quad form.
	Netmask string `koanf:"netmask"`

	// HWAddr is the interface's MAC address, colon-hex (e.g. "02:00:00:00:00:01").
	HWAddr string `koanf:"hwaddr"`

	// MTU is the interface's maximum transmission unit.
	MTU uint16 `koanf:"mtu"`
}

// AddrParsed parses Addr as a netaddr.Addr.
func (dc DeviceConfig) AddrParsed() (netaddr.Addr, error) {
	return parseDottedQuad(dc.Addr)
}

// NetmaskParsed parses Netmask as a netaddr.Addr.
func (dc DeviceConfig) NetmaskParsed() (netaddr.Addr, error) {
	return parseDottedQuad(dc.Netmask)
}

// HWAddrParsed parses HWAddr as a netaddr.HardwareAddr.
func (dc DeviceConfig) HWAddrParsed() (netaddr.HardwareAddr, error) {
	var mac netaddr.HardwareAddr
	parts := strings.Split(dc.HWAddr, ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("parse hwaddr %q: %w", dc.HWAddr, ErrInvalidHWAddr)
	}
	for i, p := range parts {
		var b int
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return mac, fmt.Errorf("parse hwaddr %q: %w", dc.HWAddr, ErrInvalidHWAddr)
		}
		mac[i] = byte(b)
	}
	return mac, nil
}

// RouteConfig describes one static route entry.
type RouteConfig struct {
	// Dest is the destination network in dotted-quad form.
	Dest string `koanf:"dest"`

	// Mask is the destination subnet mask in dotted-quad form.
	Mask string `koanf:"mask"`

	// Gateway is the next-hop address; empty means directly connected.
	Gateway string `koanf:"gateway"`

	// Device is the egress interface name.
	Device string `koanf:"device"`
}

// DestParsed parses Dest as a netaddr.Addr.
func (rc RouteConfig) DestParsed() (netaddr.Addr, error) {
	return parseDottedQuad(rc.Dest)
}

// MaskParsed parses Mask as a netaddr.Addr.
func (rc RouteConfig) MaskParsed() (netaddr.Addr, error) {
	return parseDottedQuad(rc.Mask)
}

// GatewayParsed parses Gateway as a netaddr.Addr, returning the zero
// address when Gateway is empty (no gateway: directly connected).
func (rc RouteConfig) GatewayParsed() (netaddr.Addr, error) {
	if rc.Gateway == "" {
		return netaddr.Any, nil
	}
	return parseDottedQuad(rc.Gateway)
}

func parseDottedQuad(s string) (netaddr.Addr, error) {
	var a, b, c, d int
	if n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); n != 4 || err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, ErrInvalidDottedQuad)
	}
	if a < 0 || a > 255 || b < 0 || b > 255 || c < 0 || c > 255 || d < 0 || d > 255 {
		return 0, fmt.Errorf("parse address %q: %w", s, ErrInvalidDottedQuad)
	}
	return netaddr.AddrFromBytes(byte(a), byte(b), byte(c), byte(d)), nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults: a
// metrics listener, JSON logging, and a loopback-only topology (no
// devices or routes beyond the implicit "lo" the stack always brings up).
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		ARP: ARPConfig{
			ResolveTimeout: time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for netstackd configuration.
// Variables are named NETSTACKD_<section>_<key>, e.g., NETSTACKD_METRICS_ADDR.
const envPrefix = "NETSTACKD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NETSTACKD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NETSTACKD_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
		"arp.resolve_timeout": defaults.ARP.ResolveTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidResolveTimeout indicates the ARP resolve timeout is non-positive.
	ErrInvalidResolveTimeout = errors.New("arp.resolve_timeout must be > 0")

	// ErrInvalidDottedQuad indicates a dotted-quad address string could not be parsed.
	ErrInvalidDottedQuad = errors.New("invalid dotted-quad address")

	// ErrInvalidHWAddr indicates a MAC address string could not be parsed.
	ErrInvalidHWAddr = errors.New("invalid hardware address")

	// ErrDuplicateDeviceName indicates two device entries share a name.
	ErrDuplicateDeviceName = errors.New("duplicate device name")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}
	if cfg.ARP.ResolveTimeout <= 0 {
		return ErrInvalidResolveTimeout
	}
	if err := validateDevices(cfg.Devices); err != nil {
		return err
	}
	if err := validateRoutes(cfg.Routes); err != nil {
		return err
	}
	return nil
}

func validateDevices(devices []DeviceConfig) error {
	seen := make(map[string]struct{}, len(devices))
	for i, dc := range devices {
		if _, err := dc.AddrParsed(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if _, err := dc.NetmaskParsed(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if dc.HWAddr != "" {
			if _, err := dc.HWAddrParsed(); err != nil {
				return fmt.Errorf("devices[%d]: %w", i, err)
			}
		}
		if _, dup := seen[dc.Name]; dup {
			return fmt.Errorf("devices[%d] name %q: %w", i, dc.Name, ErrDuplicateDeviceName)
		}
		seen[dc.Name] = struct{}{}
	}
	return nil
}

func validateRoutes(routes []RouteConfig) error {
	for i, rc := range routes {
		if _, err := rc.DestParsed(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if _, err := rc.MaskParsed(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if _, err := rc.GatewayParsed(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
