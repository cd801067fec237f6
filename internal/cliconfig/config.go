package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SimulatorDevice selects the built-in simulator instead of a serial port.
const SimulatorDevice = "sim"

// Config holds CLI configuration for noskop.
type Config struct {
	Device          string
	Baud            int
	CommandRate     float64
	ResponseTimeout time.Duration
	MaxSpeed        float64
	ProfilePath     string

	Listen   string
	LogLevel string

	BoostPower  float64
	TravelPower float64
	FocusStep   float64
	MoveRate    float64

	// Watch reloads stage tuning from the config file when it changes.
	Watch bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Device:      SimulatorDevice,
		Baud:        115200,
		CommandRate: 15,
		MaxSpeed:    1000,
		Listen:      "127.0.0.1:8420",
		LogLevel:    "info",
		BoostPower:  80,
		TravelPower: 5,
		FocusStep:   0.01,
		MoveRate:    15,
		Watch:       true,
	}
}

// Simulated returns true if no real controller is attached.
func (c Config) Simulated() bool {
	return c.Device == "" || c.Device == SimulatorDevice
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Device == "" {
		c.Device = SimulatorDevice
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive")
	}
	if c.CommandRate < 1 || c.CommandRate > 1000 {
		return fmt.Errorf("command rate %g out of range [1,1000]", c.CommandRate)
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("response timeout must not be negative")
	}
	if c.MaxSpeed <= 0 {
		return fmt.Errorf("max speed must be positive")
	}
	if c.MoveRate < 1 || c.MoveRate > 120 {
		return fmt.Errorf("move rate %g out of range [1,120]", c.MoveRate)
	}
	if c.BoostPower < 1 || c.BoostPower > 200 {
		return fmt.Errorf("boost power %g out of range [1,200]", c.BoostPower)
	}
	if c.TravelPower < 0.1 || c.TravelPower > 20 {
		return fmt.Errorf("travel power %g out of range [0.1,20]", c.TravelPower)
	}
	if c.FocusStep < 0.00001 || c.FocusStep > 10 {
		return fmt.Errorf("focus step %g out of range [0.00001,10]", c.FocusStep)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
