// Package config loads the engine's single key/value configuration file:
// the session-files base directory, default prefix pools, the default
// wireless range, and the distributed peer list (§6 Environment).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the resolved engine configuration.
type Settings struct {
	BaseDir        string            `yaml:"base_dir"`         // default "/tmp"
	SessionPrefix  string            `yaml:"session_prefix"`   // default "coreemu"
	IPv4Prefixes   map[string]string `yaml:"ipv4_prefixes"`    // network kind -> CIDR
	IPv6Prefixes   map[string]string `yaml:"ipv6_prefixes"`    // network kind -> CIDR
	WirelessRange  float64           `yaml:"wireless_range"`   // meters, default 275
	Peers          map[string]string `yaml:"peers"`            // peer name -> host:port
	GRPCListenAddr string            `yaml:"grpc_listen_addr"` // default "127.0.0.1:50051"
	LogLevel       string            `yaml:"log_level"`        // default "info"
	LogJSON        bool              `yaml:"log_json"`
	TableWidth     int               `yaml:"table_width"` // 0 means auto-detect from $COLUMNS
}

// Default returns the built-in default configuration.
func Default() *Settings {
	return &Settings{
		BaseDir:       "/tmp",
		SessionPrefix: "coreemu",
		IPv4Prefixes: map[string]string{
			"switch": "10.0.0.0/24",
			"hub":    "10.0.1.0/24",
			"ptp":    "10.0.2.0/24",
			"wlan":   "10.0.3.0/24",
		},
		IPv6Prefixes: map[string]string{
			"switch": "2001:0::/64",
			"hub":    "2001:1::/64",
			"ptp":    "2001:2::/64",
			"wlan":   "2001:3::/64",
		},
		WirelessRange:  275,
		GRPCListenAddr: "127.0.0.1:50051",
		LogLevel:       "info",
	}
}

// DefaultPath returns the path the loader checks absent $COREEMU_CONFIG.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "coreemu", "core.yaml")
	}
	return filepath.Join(home, ".config", "coreemu", "core.yaml")
}

// Load reads the file named by $COREEMU_CONFIG, or DefaultPath when that
// variable is unset, over the built-in defaults. A missing file is not an
// error — Load returns the built-in defaults. When $COREEMU_CONFIG is set,
// DefaultPath is not read.
func Load() (*Settings, error) {
	s := Default()

	path := os.Getenv("COREEMU_CONFIG")
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to DefaultPath, creating parent directories as needed.
func (s *Settings) Save() error {
	path := DefaultPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// SessionDir returns the private filesystem root for a session id, e.g.
// "/tmp/coreemu.17".
func (s *Settings) SessionDir(sessionID uint32) string {
	return filepath.Join(s.BaseDir, fmt.Sprintf("%s.%d", s.SessionPrefix, sessionID))
}
