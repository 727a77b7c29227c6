// Package config loads the server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// UI modes.
const (
	UIAuto     = "auto"
	UITerminal = "tui"
	UIHeadless = "headless"
)

// Config holds server configuration.
type Config struct {
	Port           int           `yaml:"port"`
	UIMode         string        `yaml:"ui_mode"`
	MaxServices    int           `yaml:"max_services"`
	ServiceCommand string        `yaml:"service_command"`
	HistoryLines   int           `yaml:"history_lines"`
	Console        ConsoleConfig `yaml:"console"`
	Canvas         CanvasConfig  `yaml:"canvas"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

type ConsoleConfig struct {
	Scrollback int `yaml:"scrollback"`
}

type CanvasConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           8420,
		UIMode:         UIAuto,
		MaxServices:    10,
		ServiceCommand: "sh",
		HistoryLines:   1000,
		Console:        ConsoleConfig{Scrollback: 1000},
		Canvas:         CanvasConfig{Width: 80, Height: 24},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file leaves the defaults in place. An empty path is taken from
// CONFIG_PATH.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile reads path over the defaults without looking at the environment.
func ReadFile(path string) (Config, error) {
	cfg := Default()
	cfg.Path = path
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PORT, MAX_SERVICES, UI_MODE and
// SERVICE_COMMAND. Unparseable numbers are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := getenv("MAX_SERVICES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxServices = n
		}
	}
	if v := getenv("UI_MODE"); v != "" {
		c.UIMode = strings.ToLower(v)
	}
	if v := getenv("SERVICE_COMMAND"); v != "" {
		c.ServiceCommand = v
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.UIMode {
	case UIAuto, UITerminal, UIHeadless:
	default:
		return fmt.Errorf("config: unknown ui_mode %q", c.UIMode)
	}
	if c.MaxServices < 1 {
		return fmt.Errorf("config: max_services must be at least 1")
	}
	if len(c.Command()) == 0 {
		return fmt.Errorf("config: service_command is empty")
	}
	return nil
}

// Command splits the service command into program and arguments.
func (c Config) Command() []string {
	return strings.Fields(c.ServiceCommand)
}
