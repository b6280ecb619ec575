// Package config loads the daemon configuration.
package config

import (
	"codeberg.org/miketth/layoutwatch/pkg/kdekeyboard"
	"codeberg.org/miketth/layoutwatch/pkg/xkblayouts"
	"errors"
	"fmt"
	"github.com/adrg/xdg"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	relativePath = "layoutwatch/config.toml"

	defaultPollInterval = 50 * time.Millisecond
	defaultDisplayEnv   = "DISPLAY"
)

// Config holds runtime parameters. Durations are kept as strings in the file
// and resolved by the accessors.
type Config struct {
	PollInterval string   `yaml:"poll_interval" toml:"poll_interval"`
	CallTimeout  string   `yaml:"call_timeout" toml:"call_timeout"`
	Services     []string `yaml:"services" toml:"services"`
	Hyprland     *bool    `yaml:"hyprland" toml:"hyprland"`
	DisplayEnv   string   `yaml:"display_env" toml:"display_env"`
	EvdevXMLPath string   `yaml:"evdev_xml_path" toml:"evdev_xml_path"`
}

func Default() Config {
	hyprland := true
	return Config{
		PollInterval: defaultPollInterval.String(),
		CallTimeout:  kdekeyboard.DefaultCallTimeout.String(),
		Services:     append([]string(nil), kdekeyboard.DefaultServices...),
		Hyprland:     &hyprland,
		DisplayEnv:   defaultDisplayEnv,
		EvdevXMLPath: xkblayouts.DefaultPath,
	}
}

// Load reads a configuration file based on its extension and fills unset
// fields with defaults. Supports .toml, .yaml and .yml.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("empty config path")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadDefault loads the config file from the XDG config directories. A
// missing file yields the defaults.
func LoadDefault() (Config, error) {
	path, err := xdg.SearchConfigFile(relativePath)
	if err != nil {
		return Default(), nil
	}

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c Config) withDefaults() Config {
	def := Default()
	if c.PollInterval == "" {
		c.PollInterval = def.PollInterval
	}
	if c.CallTimeout == "" {
		c.CallTimeout = def.CallTimeout
	}
	if c.Services == nil {
		c.Services = def.Services
	}
	if c.Hyprland == nil {
		c.Hyprland = def.Hyprland
	}
	if c.DisplayEnv == "" {
		c.DisplayEnv = def.DisplayEnv
	}
	if c.EvdevXMLPath == "" {
		c.EvdevXMLPath = def.EvdevXMLPath
	}
	return c
}

func (c Config) Validate() error {
	interval, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return fmt.Errorf("poll_interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}

	if _, err := time.ParseDuration(c.CallTimeout); err != nil {
		return fmt.Errorf("call_timeout: %w", err)
	}

	return nil
}

func (c Config) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return defaultPollInterval
	}
	return d
}

func (c Config) CallTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil || d <= 0 {
		return kdekeyboard.DefaultCallTimeout
	}
	return d
}

func (c Config) HyprlandEnabled() bool {
	return c.Hyprland == nil || *c.Hyprland
}
