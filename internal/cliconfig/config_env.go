package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (NOSKOP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device", os.Getenv("NOSKOP_DEVICE"), &cfg.Device)
	s.setString("profile", os.Getenv("NOSKOP_PROFILE"), &cfg.ProfilePath)
	s.setString("listen", os.Getenv("NOSKOP_LISTEN"), &cfg.Listen)
	s.setString("log-level", os.Getenv("NOSKOP_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("baud", os.Getenv("NOSKOP_BAUD"), &cfg.Baud); err != nil {
		return err
	}
	if err := s.setFloatFromString("command-rate", os.Getenv("NOSKOP_COMMAND_RATE"), &cfg.CommandRate); err != nil {
		return err
	}
	if err := s.setDuration("response-timeout", os.Getenv("NOSKOP_RESPONSE_TIMEOUT"), &cfg.ResponseTimeout); err != nil {
		return err
	}
	if err := s.setFloatFromString("max-speed", os.Getenv("NOSKOP_MAX_SPEED"), &cfg.MaxSpeed); err != nil {
		return err
	}

	if err := s.setFloatFromString("boost-power", os.Getenv("NOSKOP_BOOST_POWER"), &cfg.BoostPower); err != nil {
		return err
	}
	if err := s.setFloatFromString("travel-power", os.Getenv("NOSKOP_TRAVEL_POWER"), &cfg.TravelPower); err != nil {
		return err
	}
	if err := s.setFloatFromString("focus-step", os.Getenv("NOSKOP_FOCUS_STEP"), &cfg.FocusStep); err != nil {
		return err
	}
	if err := s.setFloatFromString("move-rate", os.Getenv("NOSKOP_MOVE_RATE"), &cfg.MoveRate); err != nil {
		return err
	}

	s.setBoolFromString("watch", os.Getenv("NOSKOP_WATCH"), &cfg.Watch)

	return nil
}
