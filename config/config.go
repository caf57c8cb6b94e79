package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed drawbridge.toml
var defaultConfigData []byte

// Global state variables for the selected bridge
var (
	BridgeName string
	Port       string
	CTSFlow    bool
	Retries    int
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string   `toml:"default"`
	Bridge  []Bridge `toml:"bridge"`
}

// Bridge represents one DrawBridge device configuration
type Bridge struct {
	Name    string `toml:"name"`
	Port    string `toml:"port"`
	CTSFlow bool   `toml:"ctsflow"`
	Retries int    `toml:"retries"`
}

// configPath determines the config file path based on the operating system
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "drawbridge")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".drawbridge"), nil
}

// Initialize loads and validates the configuration file.
// If the config file doesn't exist, it creates it from the embedded default.
func Initialize() error {
	configPath, err := configPath()
	if err != nil {
		return err
	}

	// Check if config file exists, create from embedded default if not
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}

		if err := os.WriteFile(configPath, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", configPath, err)
		}
	}

	var conf Config
	if _, err := toml.DecodeFile(configPath, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", configPath, err)
	}

	bridge, err := conf.Select(conf.Default)
	if err != nil {
		return err
	}

	BridgeName = bridge.Name
	Port = bridge.Port
	CTSFlow = bridge.CTSFlow
	Retries = bridge.Retries
	return nil
}

// Select finds and validates the named bridge entry.
func (c *Config) Select(name string) (*Bridge, error) {
	if name == "" {
		return nil, errors.New("`default` key is missing or empty in config")
	}

	var found *Bridge
	for i := range c.Bridge {
		if c.Bridge[i].Name == name {
			found = &c.Bridge[i]
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("bridge %q not found in bridge array", name)
	}

	if found.Port == "" {
		return nil, fmt.Errorf("bridge %q has no serial port configured", name)
	}
	if found.Retries <= 0 {
		return nil, fmt.Errorf("bridge %q has invalid retries: %d (must be positive)", name, found.Retries)
	}

	return found, nil
}
