package machine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/coord"
	"github.com/nsfm/noskop/focusmap"
	"github.com/nsfm/noskop/input"
	"github.com/nsfm/noskop/machine/marlin"
)

// StageConfig tunes how controller inputs become travels.
type StageConfig struct {
	// BoostPower is the max feedrate multiplier with the boost trigger held.
	BoostPower float64
	// TravelPower multiplies the analog stick into mm per travel.
	TravelPower float64
	// FocusStep is the Z (and turret) distance per travel.
	FocusStep float64

	// MoveRate is the number of input samples per second.
	MoveRate float64
	// BaseFeedrate is the unboosted feedrate in mm/s.
	BaseFeedrate float64
	// TravelOverlap is the fraction of a travel's duration to wait before
	// sending the next one.
	TravelOverlap float64
	// MoveThreshold ignores travels smaller than this, in mm.
	MoveThreshold float64

	// HomeLower is how far the stage drops before homing, in mm.
	HomeLower float64
	// Limits restrict the target position while homed.
	Limits [2]coord.Point
}

func DefaultStageConfig() StageConfig {
	return StageConfig{
		BoostPower:    80,
		TravelPower:   5,
		FocusStep:     0.01,
		MoveRate:      15,
		BaseFeedrate:  10,
		TravelOverlap: 0.75,
		MoveThreshold: 0.00025,
		HomeLower:     5,
		Limits: [2]coord.Point{
			{X: -75, Y: -75, Z: -75},
			{X: 75, Y: 75, Z: 75},
		},
	}
}

// Settings are the live-tunable parts of the stage. Zero fields are ignored.
type Settings struct {
	BoostPower  float64 `json:"boostPower,omitempty" toml:"boost_power,omitempty"`
	TravelPower float64 `json:"travelPower,omitempty" toml:"travel_power,omitempty"`
	FocusStep   float64 `json:"focusStep,omitempty" toml:"focus_step,omitempty"`
}

// Validate checks every non-zero field against its allowed range.
func (s Settings) Validate() error {
	check := func(name string, v, min, max float64) error {
		if v != 0 && (v < min || v > max) {
			return &marlin.ValidationError{Reason: fmt.Sprintf("%s %g out of range [%g,%g]", name, v, min, max)}
		}
		return nil
	}
	if err := check("boostPower", s.BoostPower, 1, 200); err != nil {
		return err
	}
	if err := check("travelPower", s.TravelPower, 0.1, 20); err != nil {
		return err
	}
	return check("focusStep", s.FocusStep, 0.00001, 10)
}

// StageState is a snapshot of the stage.
type StageState struct {
	BoostPower     float64        `json:"boostPower"`
	TravelPower    float64        `json:"travelPower"`
	FocusStep      float64        `json:"focusStep"`
	Homed          bool           `json:"homed"`
	Position       coord.Point    `json:"position"`
	TargetPosition coord.Point    `json:"targetPosition"`
	Limits         [2]coord.Point `json:"limits"`
	MoveRate       float64        `json:"moveRate"`
	Boost          float64        `json:"boost"`
}

// Stage manages travel on the X, Y and Z axis (and the objective turret)
// from controller inputs.
type Stage struct {
	m     *Machine
	in    input.Source
	focus *focusmap.Map
	log   zerolog.Logger

	// serializes travel decisions
	moveMx sync.Mutex

	mx       sync.RWMutex
	cfg      StageConfig
	homed    bool
	position coord.Point
	target   coord.Point
}

// NewStage creates a stage. focus may be nil.
func NewStage(m *Machine, in input.Source, focus *focusmap.Map, cfg StageConfig, log zerolog.Logger) *Stage {
	def := DefaultStageConfig()
	if cfg.MoveRate <= 0 {
		cfg.MoveRate = def.MoveRate
	}
	return &Stage{
		m:     m,
		in:    in,
		focus: focus,
		cfg:   cfg,
		log:   log.With().Str("module", "stage").Logger(),
	}
}

func (s *Stage) maxBoost(cfg StageConfig) float64 {
	mod := 1.0
	if s.in.Pressed(input.Coarse) {
		mod = 0.5
	} else if s.in.Pressed(input.Fine) {
		mod = 2
	}
	return cfg.BoostPower / mod
}

// MaxBoost is the feedrate multiplier at full boost.
func (s *Stage) MaxBoost() float64 {
	return s.maxBoost(s.config())
}

// Boost is the feedrate multiplier from the triggers: boost scales linearly
// up to MaxBoost, brake scales the result down to zero.
func (s *Stage) Boost() float64 {
	return s.boost(s.config())
}

func (s *Stage) boost(cfg StageConfig) float64 {
	return (1 - s.in.Axis(input.Brake)) * coord.Lerp(1, s.maxBoost(cfg), s.in.Axis(input.Boost))
}

func (s *Stage) config() StageConfig {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.cfg
}

func direction(in input.Source, neg, pos input.Button) float64 {
	if in.Pressed(neg) {
		return -1
	}
	if in.Pressed(pos) {
		return 1
	}
	return 0
}

// limit keeps the target within the configured limits, and corrects Z to
// follow the focal plane.
func (s *Stage) limit(set coord.Set, cfg StageConfig, target coord.Point) coord.Set {
	lo, hi := cfg.Limits[0], cfg.Limits[1]
	clamp := func(cur, d, min, max float64) float64 {
		return math.Min(math.Max(cur+d, min), max) - cur
	}
	set.X = clamp(target.X, set.X, lo.X, hi.X)
	set.Y = clamp(target.Y, set.Y, lo.Y, hi.Y)
	if s.focus != nil {
		next := coord.Point{X: target.X + set.X, Y: target.Y + set.Y}
		set.Z += s.focus.Correction(target, next)
	}
	set.Z = clamp(target.Z, set.Z, lo.Z, hi.Z)
	return set
}

// Move checks active inputs to produce a suitable travel, and schedules the
// next check to begin before this travel ends.
//
// Unless followUp is set, nothing happens while commands are still queued.
// Nothing happens at all during calibration.
func (s *Stage) Move(ctx context.Context, followUp bool) error {
	if s.m.Calibrating() {
		return nil
	}
	if !followUp && s.m.Busy() {
		return nil
	}
	s.moveMx.Lock()
	defer s.moveMx.Unlock()

	s.mx.RLock()
	cfg, homed, target := s.cfg, s.homed, s.target
	s.mx.RUnlock()

	set := coord.Set{
		X: s.in.Axis(input.AnalogX) * cfg.TravelPower,
		Y: s.in.Axis(input.AnalogY) * cfg.TravelPower,
		Z: cfg.FocusStep * direction(s.in, input.FocusIn, input.FocusOut),
		E: cfg.FocusStep * direction(s.in, input.TurretLeft, input.TurretRight),
	}
	// keep the bookkeeping in line with what the machine will send
	set = s.m.LimitTravel(set)
	if homed {
		set = s.m.LimitTravel(s.limit(set, cfg, target))
	}
	if set.Aggregate() < cfg.MoveThreshold {
		return nil
	}
	feedrate := cfg.BaseFeedrate * s.boost(cfg)
	if feedrate <= 0 {
		return nil
	}

	duration := s.m.TravelDuration(feedrate, set.X, set.Y, set.Z)
	delay := time.Duration(math.Round(coord.Lerp(0, duration, cfg.TravelOverlap))) * time.Millisecond
	next := time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		s.log.Debug().Dur("delay", delay).Float64("feedrate", feedrate).Msg("chain travel")
		if err := s.Move(ctx, true); err != nil {
			s.log.Error().Err(err).Msg("chained travel")
		}
	})

	issued, err := s.m.Travel(ctx, set, feedrate, false)
	if !issued {
		next.Stop()
		return err
	}

	s.mx.Lock()
	s.position = s.target
	s.target = s.target.Move(set)
	s.mx.Unlock()
	return err
}

// Run samples inputs at the move rate until ctx is done.
func (s *Stage) Run(ctx context.Context) error {
	t := time.NewTicker(time.Duration(float64(time.Second) / s.config().MoveRate))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if s.m.Travelling() {
			continue
		}
		if err := s.Move(ctx, false); err != nil {
			s.log.Error().Err(err).Msg("travel")
		}
	}
}

// Home homes the machine. Positions are absolute afterwards.
func (s *Stage) Home(ctx context.Context) error {
	s.moveMx.Lock()
	defer s.moveMx.Unlock()

	cmd, err := s.m.Home(s.config().HomeLower)
	if err != nil {
		return err
	}
	if err = cmd.WaitOK(ctx); err != nil {
		return fmt.Errorf("home: %w", err)
	}

	s.mx.Lock()
	s.homed = true
	s.position = coord.Point{}
	s.target = coord.Point{}
	s.mx.Unlock()
	s.log.Info().Msg("homed")
	return nil
}

// MarkFocus records the current target as in focus.
func (s *Stage) MarkFocus() error {
	if s.focus == nil {
		return fmt.Errorf("no focus map")
	}
	s.mx.RLock()
	homed, target := s.homed, s.target
	s.mx.RUnlock()
	if !homed {
		return fmt.Errorf("focus points need a homed stage")
	}
	s.log.Info().Float64("x", target.X).Float64("y", target.Y).Float64("z", target.Z).Msg("focus point")
	return s.focus.Record(target)
}

// Configure updates the tunable settings.
func (s *Stage) Configure(set Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if set.BoostPower != 0 {
		s.cfg.BoostPower = set.BoostPower
	}
	if set.TravelPower != 0 {
		s.cfg.TravelPower = set.TravelPower
	}
	if set.FocusStep != 0 {
		s.cfg.FocusStep = set.FocusStep
	}
	s.log.Info().Float64("boostPower", s.cfg.BoostPower).Float64("travelPower", s.cfg.TravelPower).Float64("focusStep", s.cfg.FocusStep).Msg("configured")
	return nil
}

func (s *Stage) State() StageState {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return StageState{
		BoostPower:     s.cfg.BoostPower,
		TravelPower:    s.cfg.TravelPower,
		FocusStep:      s.cfg.FocusStep,
		Homed:          s.homed,
		Position:       s.position,
		TargetPosition: s.target,
		Limits:         s.cfg.Limits,
		MoveRate:       s.cfg.MoveRate,
		Boost:          s.boost(s.cfg),
	}
}
