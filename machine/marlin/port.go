package marlin

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// PortConfig describes a physical serial connection.
type PortConfig struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	Baud int

	// ReadTimeout of 0 blocks until data arrives.
	ReadTimeout time.Duration
}

// DefaultPortConfig returns the settings Marlin boards ship with.
func DefaultPortConfig(device string) PortConfig {
	return PortConfig{
		Device: device,
		Baud:   115200,
	}
}

// OpenPort opens a native serial port.
func OpenPort(cfg PortConfig) (io.ReadWriteCloser, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("open port: no device configured")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open port %s: %w", cfg.Device, err)
	}
	return port, nil
}
