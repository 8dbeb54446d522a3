// Package config loads and saves the console configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/gwillem/nfconsole/pkg/input"
	"github.com/gwillem/nfconsole/pkg/pendant"
	"github.com/gwillem/nfconsole/pkg/session"
)

const (
	DefaultConfigFile = "nfconsole.json"
	DefaultHz         = 60
	DefaultRecordPath = "nfconsole.db"

	// TokenEnv names the environment variable holding the cloud token.
	TokenEnv = "NF_TOKEN"

	maxConfigSize = 1 << 20
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config holds the console configuration.
type Config struct {
	Mode             string            `json:"mode,omitempty"`
	Host             string            `json:"host,omitempty"`
	RobotID          string            `json:"robot_id,omitempty"`
	Hz               *int              `json:"hz,omitempty"`
	OrbitMode        *bool             `json:"orbit_mode,omitempty"`
	KeyHoldMs        *int              `json:"key_hold_ms,omitempty"`
	ReconnectDelayMs *int              `json:"reconnect_delay_ms,omitempty"`
	GamepadDevice    string            `json:"gamepad_device,omitempty"`
	Pendant          PendantConfig     `json:"pendant,omitempty"`
	RecordPath       *string           `json:"record_path,omitempty"`
	Keymap           map[string]string `json:"keymap,omitempty"`
}

// PendantConfig holds the servo pendant port and calibration.
type PendantConfig struct {
	Port        string              `json:"port,omitempty"`
	Calibration pendant.Calibration `json:"calibration,omitempty"`
}

// IsCalibrated returns true if the pendant has calibration data.
func (p *PendantConfig) IsCalibrated() bool {
	return p.Calibration.Complete()
}

// GetMode returns the connection mode, sim by default.
func (c *Config) GetMode() session.Mode {
	if c.Mode == "" {
		return session.ModeSim
	}
	m, err := session.ParseMode(c.Mode)
	if err != nil {
		return session.ModeSim
	}
	return m
}

// GetHost returns the robot or server host, localhost:8080 in sim mode.
func (c *Config) GetHost() string {
	if c.Host == "" && c.GetMode() == session.ModeSim {
		return "localhost:8080"
	}
	return c.Host
}

// GetHz returns the control loop frequency.
func (c *Config) GetHz() int {
	if c.Hz == nil {
		return DefaultHz
	}
	return *c.Hz
}

// GetOrbitMode returns whether orbit mode starts enabled. Defaults to true.
func (c *Config) GetOrbitMode() bool {
	if c.OrbitMode == nil {
		return true
	}
	return *c.OrbitMode
}

// GetKeyHold returns the keyboard hold window.
func (c *Config) GetKeyHold() time.Duration {
	if c.KeyHoldMs == nil {
		return input.DefaultHoldWindow
	}
	return time.Duration(*c.KeyHoldMs) * time.Millisecond
}

// GetReconnectDelay returns the delay before a reconnect attempt.
func (c *Config) GetReconnectDelay() time.Duration {
	if c.ReconnectDelayMs == nil {
		return session.DefaultReconnectDelay
	}
	return time.Duration(*c.ReconnectDelayMs) * time.Millisecond
}

// GetRecordPath returns the recording database path. An explicit empty
// string disables recording.
func (c *Config) GetRecordPath() string {
	if c.RecordPath == nil {
		return DefaultRecordPath
	}
	return *c.RecordPath
}

// GetKeymap returns the default keymap with the configured overrides.
func (c *Config) GetKeymap() (input.Keymap, error) {
	km := input.DefaultKeymap()
	for key, name := range c.Keymap {
		if err := km.Bind(key, name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return km, nil
}

// Target builds the session target. The token is only used in cloud mode.
func (c *Config) Target(token string) session.Target {
	t := session.Target{
		Mode:    c.GetMode(),
		Host:    c.GetHost(),
		RobotID: c.RobotID,
	}
	if t.Mode == session.ModeCloud {
		t.Token = token
	}
	return t
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Mode != "" {
		if _, err := session.ParseMode(c.Mode); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if hz := c.GetHz(); hz < 1 || hz > 1000 {
		return fmt.Errorf("%w: hz must be between 1 and 1000, got %d", ErrInvalid, hz)
	}
	if c.KeyHoldMs != nil && *c.KeyHoldMs <= 0 {
		return fmt.Errorf("%w: key_hold_ms must be positive", ErrInvalid)
	}
	if c.ReconnectDelayMs != nil && *c.ReconnectDelayMs < 0 {
		return fmt.Errorf("%w: reconnect_delay_ms must not be negative", ErrInvalid)
	}
	if c.GetMode() != session.ModeSim && c.RobotID == "" {
		return fmt.Errorf("%w: robot_id is required in %s mode", ErrInvalid, c.GetMode())
	}
	if c.GetHost() == "" {
		return fmt.Errorf("%w: host is required", ErrInvalid)
	}
	if _, err := c.GetKeymap(); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	if filepath.Ext(path) != ".json" {
		return nil, fmt.Errorf("%w: config file must be .json: %s", ErrInvalid, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalid, path, maxConfigSize)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// LoadEnv loads a .env file from the working directory, when present, and
// returns the cloud token. Variables already set in the environment win.
func LoadEnv() string {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	return os.Getenv(TokenEnv)
}
