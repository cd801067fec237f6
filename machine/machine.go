package machine

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/coord"
)

// DefaultMaxSpeed is the max overall speed in mm/s, even during boost.
const DefaultMaxSpeed = 1000

// Machine coordinates the mechanics of the microscope.
type Machine struct {
	Adapter

	log         zerolog.Logger
	maxSpeed    float64
	moving      atomic.Bool
	calibrating atomic.Bool
}

// ErrTravelInProgress is returned when a travel that must happen could not
// start because another one holds the machine.
var ErrTravelInProgress = errors.New("another travel is in progress")

// State is the current UX state of the machine.
type State struct {
	MaxSpeed float64 `json:"maxSpeed"`
	MaxMove  float64 `json:"maxMove"`
	Moving   bool    `json:"moving"`
}

// CalibrationResult is the measured time of one travel.
type CalibrationResult struct {
	Distance float64 `json:"distance"` // mm
	Feedrate float64 `json:"feedrate"` // mm/s
	Duration float64 `json:"duration"` // ms
}

func NewMachine(a Adapter, maxSpeed float64, log zerolog.Logger) *Machine {
	if maxSpeed <= 0 {
		maxSpeed = DefaultMaxSpeed
	}
	return &Machine{
		Adapter:  a,
		log:      log.With().Str("module", "scope").Logger(),
		maxSpeed: maxSpeed,
	}
}

// MaxMove returns the largest travel allowed on one axis in a single operation.
func (m *Machine) MaxMove() float64 {
	return m.maxSpeed / math.Max(1, math.Floor(m.CommandRate()/4))
}

// LimitTravel clamps every axis of set to MaxMove in either direction.
func (m *Machine) LimitTravel(set coord.Set) coord.Set {
	return set.Clamp(m.MaxMove())
}

// TravelDuration estimates how long the travel will take, in milliseconds.
func (m *Machine) TravelDuration(feedrate float64, deltas ...float64) float64 {
	return coord.Distance(deltas...) / feedrate * 1000
}

// Travelling returns true if we think a travel is being executed right now.
func (m *Machine) Travelling() bool {
	return m.moving.Load()
}

// Travel performs a relative linear move. It does nothing and returns false
// if another travel is still in progress.
//
// The move is acknowledged when the controller has planned it; if wait is
// set, Travel also blocks until all planned moves are finished.
func (m *Machine) Travel(ctx context.Context, set coord.Set, feedrate float64, wait bool) (bool, error) {
	if !m.moving.CompareAndSwap(false, true) {
		return false, nil
	}
	defer m.moving.Store(false)

	mode, err := m.RelativeMode()
	if err != nil {
		return false, err
	}
	move, err := m.LinearMove(m.LimitTravel(set), feedrate)
	if err != nil {
		return false, err
	}

	if err = mode.WaitOK(ctx); err != nil {
		return true, err
	}
	if err = move.WaitOK(ctx); err != nil {
		return true, err
	}
	if !wait {
		return true, nil
	}

	fin, err := m.Finish()
	if err != nil {
		return true, err
	}
	return true, fin.WaitOK(ctx)
}

var (
	calibrationDistances = []float64{0.001, 0.01, 0.1, 1.0}
	calibrationFeedrates = []float64{0.1, 1, 10, 100}
)

// Calibrate measures how long different kinds of movements take.
//
// An input should be as fresh as possible and reach the board just before
// the active movement enters the decel phase; these timings tell us when
// to send the next travel.
//
// Calibrate waits for a running travel to finish and holds off the stage
// until it is done.
func (m *Machine) Calibrate(ctx context.Context) ([]CalibrationResult, error) {
	if !m.calibrating.CompareAndSwap(false, true) {
		return nil, errors.New("calibration already running")
	}
	defer m.calibrating.Store(false)
	if err := m.waitIdle(ctx); err != nil {
		return nil, err
	}

	res := make([]CalibrationResult, 0, len(calibrationDistances)*len(calibrationFeedrates))
	for _, dist := range calibrationDistances {
		for _, feed := range calibrationFeedrates {
			start := time.Now()
			for _, dir := range []float64{-1, 1, -1, 1, -1, 1} {
				issued, err := m.Travel(ctx, coord.Set{X: dir * dist}, feed, true)
				if err != nil {
					return res, err
				}
				if !issued {
					return res, ErrTravelInProgress
				}
			}
			r := CalibrationResult{
				Distance: dist,
				Feedrate: feed,
				Duration: float64(time.Since(start)) / float64(time.Millisecond) / 4,
			}
			m.log.Info().Float64("distance", r.Distance).Float64("feedrate", r.Feedrate).Float64("duration", r.Duration).Msg("calibration")
			res = append(res, r)
		}
	}
	return res, nil
}

// Calibrating returns true while Calibrate owns the machine. Other travels
// should hold off until it is done.
func (m *Machine) Calibrating() bool {
	return m.calibrating.Load()
}

// waitIdle blocks until the current travel, if any, has finished.
func (m *Machine) waitIdle(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for m.Travelling() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Jingle plays a short tune.
func (m *Machine) Jingle(ctx context.Context) error {
	for _, t := range [][2]float64{{50, 450}, {100, 600}} {
		cmd, err := m.Tone(t[0], t[1])
		if err != nil {
			return err
		}
		if err = cmd.WaitOK(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown powers off the steppers.
func (m *Machine) Shutdown(ctx context.Context) error {
	cmd, err := m.SetSteppers(false, 0)
	if err != nil {
		return err
	}
	return cmd.WaitOK(ctx)
}

// Endstops returns the first line of the controller's endstop report.
// The report is not an acknowledgement, so an unsuccessful command is
// expected here.
func (m *Machine) Endstops(ctx context.Context) (string, error) {
	cmd, err := m.GetEndstopStates()
	if err != nil {
		return "", err
	}
	if err = cmd.Wait(ctx); err != nil {
		return "", err
	}
	return cmd.Response, nil
}

func (m *Machine) State() State {
	return State{
		MaxSpeed: m.maxSpeed,
		MaxMove:  m.MaxMove(),
		Moving:   m.Travelling(),
	}
}
