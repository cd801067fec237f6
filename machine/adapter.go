package machine

import (
	"github.com/nsfm/noskop/coord"
	"github.com/nsfm/noskop/machine/marlin"
)

// An Adapter represents the minimal motion controller interface.
type Adapter interface {
	// CommandRate is the number of commands the controller link sends per second.
	CommandRate() float64
	// Busy returns true if commands are waiting to be sent.
	Busy() bool

	RelativeMode() (*marlin.Command, error)
	LinearMove(set coord.Set, feedrate float64) (*marlin.Command, error)
	Finish() (*marlin.Command, error)
	Home(lower float64) (*marlin.Command, error)

	SetSteppers(on bool, inactivity float64) (*marlin.Command, error)
	GetEndstopStates() (*marlin.Command, error)
	Tone(ms, hz float64) (*marlin.Command, error)
}

var _ Adapter = &marlin.Marlin{}
