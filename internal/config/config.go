package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Scan     ScanConfig    `yaml:"scan"`
	Connect  ConnectConfig `yaml:"connect"`
	Write    WriteConfig   `yaml:"write"`
	BlueZ    BlueZConfig   `yaml:"bluez"`
	Display  DisplayConfig `yaml:"display"`
	Feed     FeedConfig    `yaml:"feed"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies the provisioning peripheral.
type DeviceConfig struct {
	Name           string `yaml:"name"`
	ServiceUUID    string `yaml:"service_uuid"`
	SSIDCharUUID   string `yaml:"ssid_char_uuid"`
	PassCharUUID   string `yaml:"pass_char_uuid"`
	StatusCharUUID string `yaml:"status_char_uuid"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectConfig holds connection settings.
type ConnectConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// WriteConfig holds characteristic write settings.
type WriteConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// BlueZConfig selects the Linux Bluetooth adapter.
type BlueZConfig struct {
	Adapter string `yaml:"adapter"` // e.g. "hci0"
}

// DisplayConfig holds settings for the dashboard's HTTP control API.
type DisplayConfig struct {
	Address string        `yaml:"address"` // dotted-quad IPv4, empty until configured
	Timeout time.Duration `yaml:"timeout"`
}

// FeedConfig holds settings for the market data feeds.
type FeedConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "choclchain-setup")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:           "ChoclChain",
			ServiceUUID:    "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
			SSIDCharUUID:   "beb5483e-36e1-4688-b7f5-ea07361b26a8",
			PassCharUUID:   "beb5483e-36e1-4688-b7f5-ea07361b26a9",
			StatusCharUUID: "beb5483e-36e1-4688-b7f5-ea07361b26aa",
		},
		Scan:    ScanConfig{Timeout: 15 * time.Second},
		Connect: ConnectConfig{Timeout: 10 * time.Second},
		Write:   WriteConfig{Timeout: 10 * time.Second},
		BlueZ:   BlueZConfig{Adapter: "hci0"},
		Display: DisplayConfig{Timeout: 5 * time.Second},
		Feed: FeedConfig{
			BaseURL:  "https://mempool.space",
			Interval: 5 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. UUIDs are normalised to lowercase canonical form.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	for _, u := range cfg.Device.uuids() {
		if parsed, err := uuid.Parse(*u); err == nil {
			*u = parsed.String()
		}
	}
	cfg.Feed.BaseURL = strings.TrimRight(cfg.Feed.BaseURL, "/")

	return cfg, nil
}

func (d *DeviceConfig) uuids() []*string {
	return []*string{&d.ServiceUUID, &d.SSIDCharUUID, &d.PassCharUUID, &d.StatusCharUUID}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Name) == "" {
		return fmt.Errorf("device.name must not be empty")
	}

	fields := []struct {
		key, value string
	}{
		{"device.service_uuid", c.Device.ServiceUUID},
		{"device.ssid_char_uuid", c.Device.SSIDCharUUID},
		{"device.pass_char_uuid", c.Device.PassCharUUID},
		{"device.status_char_uuid", c.Device.StatusCharUUID},
	}
	seen := make(map[uuid.UUID]string, len(fields))
	for _, f := range fields {
		id, err := uuid.Parse(f.value)
		if err != nil {
			return fmt.Errorf("%s is not a valid UUID: %q", f.key, f.value)
		}
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%s duplicates %s", f.key, prev)
		}
		seen[id] = f.key
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}
	if c.Connect.Timeout <= 0 {
		return fmt.Errorf("connect.timeout must be > 0")
	}
	if c.Write.Timeout <= 0 {
		return fmt.Errorf("write.timeout must be > 0")
	}

	if c.BlueZ.Adapter == "" {
		return fmt.Errorf("bluez.adapter must not be empty")
	}

	if c.Display.Timeout <= 0 {
		return fmt.Errorf("display.timeout must be > 0")
	}

	u, err := url.Parse(c.Feed.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("feed.base_url must be an http(s) URL, got %q", c.Feed.BaseURL)
	}
	if c.Feed.Interval < time.Second {
		return fmt.Errorf("feed.interval must be at least 1s, got %s", c.Feed.Interval)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# choclchain-setup configuration
#
# device:   identity of the ChoclChain provisioning peripheral
# scan/connect/write: BLE timeouts
# display:  address of the dashboard on your WiFi network
# feed:     market data source for price/height
`

// WriteDefault writes the default config to DefaultConfigPath. It returns the
// path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
