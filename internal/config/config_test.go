package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Name != "ChoclChain" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "ChoclChain")
	}
	if cfg.Device.ServiceUUID != "4fafc201-1fb5-459e-8fcc-c5c9c331914b" {
		t.Errorf("Device.ServiceUUID = %q", cfg.Device.ServiceUUID)
	}
	if cfg.Scan.Timeout != 15*time.Second {
		t.Errorf("Scan.Timeout = %v, want 15s", cfg.Scan.Timeout)
	}
	if cfg.Connect.Timeout != 10*time.Second {
		t.Errorf("Connect.Timeout = %v, want 10s", cfg.Connect.Timeout)
	}
	if cfg.Write.Timeout != 10*time.Second {
		t.Errorf("Write.Timeout = %v, want 10s", cfg.Write.Timeout)
	}
	if cfg.BlueZ.Adapter != "hci0" {
		t.Errorf("BlueZ.Adapter = %q, want %q", cfg.BlueZ.Adapter, "hci0")
	}
	if cfg.Display.Timeout != 5*time.Second {
		t.Errorf("Display.Timeout = %v, want 5s", cfg.Display.Timeout)
	}
	if cfg.Feed.BaseURL != "https://mempool.space" {
		t.Errorf("Feed.BaseURL = %q", cfg.Feed.BaseURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  name: ChoclChain-Dev
  service_uuid: 4FAFC201-1FB5-459E-8FCC-C5C9C331914B
scan:
  timeout: 30s
connect:
  timeout: 5s
bluez:
  adapter: hci1
display:
  address: 192.168.1.42
feed:
  base_url: https://mempool.example.org/
  interval: 1m
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "ChoclChain-Dev" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "ChoclChain-Dev")
	}
	if cfg.Device.ServiceUUID != "4fafc201-1fb5-459e-8fcc-c5c9c331914b" {
		t.Errorf("Device.ServiceUUID = %q, want lowercase canonical form", cfg.Device.ServiceUUID)
	}
	if cfg.Device.StatusCharUUID != "beb5483e-36e1-4688-b7f5-ea07361b26aa" {
		t.Errorf("Device.StatusCharUUID = %q, want default", cfg.Device.StatusCharUUID)
	}
	if cfg.Scan.Timeout != 30*time.Second {
		t.Errorf("Scan.Timeout = %v, want 30s", cfg.Scan.Timeout)
	}
	if cfg.Connect.Timeout != 5*time.Second {
		t.Errorf("Connect.Timeout = %v, want 5s", cfg.Connect.Timeout)
	}
	if cfg.Write.Timeout != 10*time.Second {
		t.Errorf("Write.Timeout = %v, want default 10s", cfg.Write.Timeout)
	}
	if cfg.BlueZ.Adapter != "hci1" {
		t.Errorf("BlueZ.Adapter = %q, want %q", cfg.BlueZ.Adapter, "hci1")
	}
	if cfg.Display.Address != "192.168.1.42" {
		t.Errorf("Display.Address = %q", cfg.Display.Address)
	}
	if cfg.Feed.BaseURL != "https://mempool.example.org" {
		t.Errorf("Feed.BaseURL = %q, want trailing slash trimmed", cfg.Feed.BaseURL)
	}
	if cfg.Feed.Interval != time.Minute {
		t.Errorf("Feed.Interval = %v, want 1m", cfg.Feed.Interval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	if err := os.WriteFile(filepath.Join(tmpHome, "choclchain.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/choclchain.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "scan:\n  timeout: [not a duration\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty device name",
			modify:  func(c *Config) { c.Device.Name = " " },
			wantErr: true,
		},
		{
			name:    "invalid service uuid",
			modify:  func(c *Config) { c.Device.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "duplicate characteristic uuid",
			modify:  func(c *Config) { c.Device.PassCharUUID = c.Device.SSIDCharUUID },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Scan.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative connect timeout",
			modify:  func(c *Config) { c.Connect.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero write timeout",
			modify:  func(c *Config) { c.Write.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "empty bluez adapter",
			modify:  func(c *Config) { c.BlueZ.Adapter = "" },
			wantErr: true,
		},
		{
			name:    "zero display timeout",
			modify:  func(c *Config) { c.Display.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "feed url without scheme",
			modify:  func(c *Config) { c.Feed.BaseURL = "mempool.space" },
			wantErr: true,
		},
		{
			name:    "feed interval too short",
			modify:  func(c *Config) { c.Feed.Interval = 10 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "choclchain-setup", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# choclchain-setup") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Scan.Timeout != 15*time.Second {
		t.Errorf("written config Scan.Timeout = %v, want 15s", cfg.Scan.Timeout)
	}
	if cfg.Device.Name != "ChoclChain" {
		t.Errorf("written config Device.Name = %q", cfg.Device.Name)
	}

	// Round trip through Load.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Validate() on written config error = %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "choclchain-setup")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
