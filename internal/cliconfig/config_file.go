package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Device          string  `toml:"device"`
	Baud            int     `toml:"baud"`
	CommandRate     float64 `toml:"command_rate"`
	ResponseTimeout string  `toml:"response_timeout"`
	MaxSpeed        float64 `toml:"max_speed"`
	ProfilePath     string  `toml:"profile"`
	Listen          string  `toml:"listen"`
	LogLevel        string  `toml:"log_level"`
	Watch           *bool   `toml:"watch"`

	Stage StageFileConfig `toml:"stage"`
}

// StageFileConfig is the [stage] table. It is the only part of the file
// reloaded while running.
type StageFileConfig struct {
	BoostPower  float64 `toml:"boost_power"`
	TravelPower float64 `toml:"travel_power"`
	FocusStep   float64 `toml:"focus_step"`
	MoveRate    float64 `toml:"move_rate"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.noskop/config.toml if the user home directory
// is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".noskop", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device", fc.Device, &cfg.Device)
	s.setInt("baud", fc.Baud, &cfg.Baud)
	s.setFloat("command-rate", fc.CommandRate, &cfg.CommandRate)
	if err := s.setDuration("response-timeout", fc.ResponseTimeout, &cfg.ResponseTimeout); err != nil {
		return err
	}
	s.setFloat("max-speed", fc.MaxSpeed, &cfg.MaxSpeed)
	s.setString("profile", fc.ProfilePath, &cfg.ProfilePath)
	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("watch", fc.Watch, &cfg.Watch)

	s.setFloat("boost-power", fc.Stage.BoostPower, &cfg.BoostPower)
	s.setFloat("travel-power", fc.Stage.TravelPower, &cfg.TravelPower)
	s.setFloat("focus-step", fc.Stage.FocusStep, &cfg.FocusStep)
	s.setFloat("move-rate", fc.Stage.MoveRate, &cfg.MoveRate)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
