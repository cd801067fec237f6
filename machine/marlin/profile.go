package marlin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Axis is a physical machine axis. E drives the objective turret.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	AxisE Axis = "E"
)

// Axes lists every axis in wire order.
var Axes = []Axis{AxisX, AxisY, AxisZ, AxisE}

func (a Axis) valid() bool {
	switch a {
	case AxisX, AxisY, AxisZ, AxisE:
		return true
	}
	return false
}

// Limits are per-stepper maximums.
type Limits struct {
	Feedrate     float64 `yaml:"feedrate"`     // mm/s
	Acceleration float64 `yaml:"acceleration"` // mm/s^2
	Jerk         float64 `yaml:"jerk"`         // mm/s^3
}

// StepperConfig describes one motor on the board.
type StepperConfig struct {
	Name string `yaml:"name"`
	// Port is the driver socket index on the board.
	Port   int     `yaml:"port"`
	Axis   Axis    `yaml:"axis"`
	Steps  float64 `yaml:"steps"` // steps per mm
	Invert bool    `yaml:"invert"`
	Max    Limits  `yaml:"max"`
}

// MotionProfile is everything SetMechanics pushes to the board.
type MotionProfile struct {
	InactivityShutdown float64         `yaml:"inactivityShutdown"` // seconds
	MinFeedrate        float64         `yaml:"minFeedrate"`
	MaxFeedrate        float64         `yaml:"maxFeedrate"`
	MaxAcceleration    float64         `yaml:"maxAcceleration"`
	MaxJerk            float64         `yaml:"maxJerk"`
	Steppers           []StepperConfig `yaml:"steppers"`
}

// DefaultProfile returns the stepper layout of the stock stage.
func DefaultProfile() MotionProfile {
	return MotionProfile{
		InactivityShutdown: 300,
		MinFeedrate:        0.001,
		MaxFeedrate:        1000,
		MaxAcceleration:    1000,
		MaxJerk:            100,
		Steppers: []StepperConfig{
			{Name: "Stage (X)", Port: 0, Axis: AxisX, Steps: 200, Max: Limits{Jerk: 100, Acceleration: 1000, Feedrate: 1600}},
			{Name: "Stage (Y)", Port: 1, Axis: AxisY, Steps: 200, Max: Limits{Jerk: 100, Acceleration: 1000, Feedrate: 1600}},
			{Name: "Focus Control (Z)", Port: 2, Axis: AxisZ, Steps: 10, Max: Limits{Jerk: 1, Acceleration: 20, Feedrate: 40}},
			{Name: "Turret Control", Port: 4, Axis: AxisE, Steps: 50, Max: Limits{Jerk: 10, Acceleration: 200, Feedrate: 100}},
		},
	}
}

// Validate checks the profile for values the board would reject.
func (p MotionProfile) Validate() error {
	if p.InactivityShutdown < 0 {
		return invalid("inactivityShutdown must not be negative")
	}
	if p.MinFeedrate <= 0 || p.MaxFeedrate <= 0 || p.MaxAcceleration <= 0 || p.MaxJerk <= 0 {
		return invalid("global limits must be positive")
	}
	if p.MinFeedrate > p.MaxFeedrate {
		return invalid("minFeedrate %g exceeds maxFeedrate %g", p.MinFeedrate, p.MaxFeedrate)
	}
	seen := make(map[Axis]bool)
	for _, s := range p.Steppers {
		if !s.Axis.valid() {
			return invalid("stepper %q: unknown axis %q", s.Name, s.Axis)
		}
		if seen[s.Axis] {
			return invalid("stepper %q: axis %s configured twice", s.Name, s.Axis)
		}
		seen[s.Axis] = true
		if s.Steps <= 0 {
			return invalid("stepper %q: steps must be positive", s.Name)
		}
		if s.Max.Feedrate <= 0 || s.Max.Acceleration <= 0 || s.Max.Jerk <= 0 {
			return invalid("stepper %q: limits must be positive", s.Name)
		}
	}
	return nil
}

// LoadProfile reads a YAML motion profile. Unknown keys are rejected.
func LoadProfile(path string) (MotionProfile, error) {
	var p MotionProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read profile: %w", err)
	}
	err = yaml.UnmarshalStrict(data, &p)
	if err != nil {
		return p, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return p, p.Validate()
}
