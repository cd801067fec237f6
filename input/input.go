// Package input describes the human interface driving the stage.
//
// Analog axes and triggers are sampled by the stage on every move tick,
// discrete buttons are delivered as events.
package input

import (
	"fmt"
	"math"
	"sync"
)

// Axis is an analog control.
type Axis string

const (
	// AnalogX and AnalogY are the left stick, in [-1,1].
	AnalogX Axis = "x"
	AnalogY Axis = "y"

	// Boost (L2) scales the feedrate up to the max boost, in [0,1].
	Boost Axis = "boost"
	// Brake (R2) scales the feedrate down to zero, in [0,1].
	Brake Axis = "brake"
)

// Button is a discrete control.
type Button string

const (
	FocusIn     Button = "focusIn"
	FocusOut    Button = "focusOut"
	TurretLeft  Button = "turretLeft"
	TurretRight Button = "turretRight"

	// Coarse halves the boost precision, Fine doubles it.
	Coarse Button = "coarse"
	Fine   Button = "fine"

	Shutdown  Button = "shutdown"
	Endstops  Button = "endstops"
	Calibrate Button = "calibrate"
	Steppers  Button = "steppers"
	Home      Button = "home"
	MarkFocus Button = "markFocus"
)

var axisRange = map[Axis][2]float64{
	AnalogX: {-1, 1},
	AnalogY: {-1, 1},
	Boost:   {0, 1},
	Brake:   {0, 1},
}

var buttons = map[Button]bool{
	FocusIn: true, FocusOut: true, TurretLeft: true, TurretRight: true,
	Coarse: true, Fine: true,
	Shutdown: true, Endstops: true, Calibrate: true, Steppers: true, Home: true,
	MarkFocus: true,
}

// Event is a button transition.
type Event struct {
	Button  Button `json:"button"`
	Pressed bool   `json:"pressed"`
}

// A Source is anything the stage can read controls from.
type Source interface {
	Axis(Axis) float64
	Pressed(Button) bool
	Events() <-chan Event
}

// State is an in-memory Source, updated by whatever bridge feeds it.
type State struct {
	mx      sync.RWMutex
	axes    map[Axis]float64
	pressed map[Button]bool

	events chan Event
}

var _ Source = &State{}

func NewState() *State {
	return &State{
		axes:    make(map[Axis]float64),
		pressed: make(map[Button]bool),
		events:  make(chan Event, 32),
	}
}

func (s *State) Axis(a Axis) float64 {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.axes[a]
}

func (s *State) Pressed(b Button) bool {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.pressed[b]
}

// Events delivers button transitions. Events are dropped if nobody reads them.
func (s *State) Events() <-chan Event { return s.events }

// SetAxis updates an analog control, clamping v to the axis range.
func (s *State) SetAxis(a Axis, v float64) error {
	r, ok := axisRange[a]
	if !ok {
		return fmt.Errorf("unknown axis %q", a)
	}
	if math.IsNaN(v) {
		return fmt.Errorf("axis %q: value is not a number", a)
	}
	if v < r[0] {
		v = r[0]
	} else if v > r[1] {
		v = r[1]
	}

	s.mx.Lock()
	s.axes[a] = v
	s.mx.Unlock()
	return nil
}

// SetButton updates a button, emitting an Event if its state changed.
func (s *State) SetButton(b Button, pressed bool) error {
	if !buttons[b] {
		return fmt.Errorf("unknown button %q", b)
	}

	s.mx.Lock()
	changed := s.pressed[b] != pressed
	s.pressed[b] = pressed
	s.mx.Unlock()
	if !changed {
		return nil
	}

	select {
	case s.events <- Event{Button: b, Pressed: pressed}:
	default:
	}
	return nil
}

// Reset releases every control.
func (s *State) Reset() {
	s.mx.Lock()
	var released []Button
	for b, p := range s.pressed {
		if p {
			released = append(released, b)
		}
	}
	s.axes = make(map[Axis]float64)
	s.pressed = make(map[Button]bool)
	s.mx.Unlock()

	for _, b := range released {
		select {
		case s.events <- Event{Button: b}:
		default:
		}
	}
}
