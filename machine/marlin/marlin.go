package marlin

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/nsfm/noskop/coord"
	"github.com/nsfm/noskop/gcode"
)

// Marlin provides the Marlin gcode instruction set on top of an Engine.
type Marlin struct {
	*Engine

	mx     sync.RWMutex
	invert map[Axis]bool
}

// New wraps e with the Marlin vocabulary.
func New(e *Engine) *Marlin {
	return &Marlin{
		Engine: e,
		invert: make(map[Axis]bool),
	}
}

func g(n float64) gcode.Word { return gcode.Word{W: 'G', Arg: n} }
func m(n float64) gcode.Word { return gcode.Word{W: 'M', Arg: n} }
func arg(w byte, v float64) gcode.Word { return gcode.Word{W: w, Arg: v} }
func flag(w byte) gcode.Word { return gcode.Word{W: w, Flag: true} }
func axisArg(a Axis, v float64) gcode.Word { return arg(a[0], v) }

func (mc *Marlin) send(description string, b gcode.Block) (*Command, error) {
	return mc.Command(description, b.String(), false)
}

func (mc *Marlin) sendPriority(description string, b gcode.Block) (*Command, error) {
	return mc.Command(description, b.String(), true)
}

// SetInverted reverses the travel direction of axis for LinearMove.
func (mc *Marlin) SetInverted(axis Axis, invert bool) {
	mc.mx.Lock()
	defer mc.mx.Unlock()
	mc.invert[axis] = invert
}

func (mc *Marlin) modifier(axis Axis) float64 {
	mc.mx.RLock()
	defer mc.mx.RUnlock()
	if mc.invert[axis] {
		return -1
	}
	return 1
}

// LinearMove travels by (or to, in absolute mode) set at feedrate mm/s.
func (mc *Marlin) LinearMove(set coord.Set, feedrate float64) (*Command, error) {
	return mc.send("Move", gcode.Block{
		g(0),
		arg('X', mc.modifier(AxisX)*set.X),
		arg('Y', mc.modifier(AxisY)*set.Y),
		arg('Z', mc.modifier(AxisZ)*set.Z),
		arg('E', mc.modifier(AxisE)*set.E),
		arg('F', feedrate),
	})
}

// Home homes X, Y and Z, first raising the stage by lower mm.
func (mc *Marlin) Home(lower float64) (*Command, error) {
	return mc.send("Home", gcode.Block{g(28), flag('O'), arg('R', lower), flag('X'), flag('Y'), flag('Z')})
}

func (mc *Marlin) AbsoluteMode() (*Command, error) {
	return mc.send("Absolute Mode", gcode.Block{g(90)})
}

func (mc *Marlin) RelativeMode() (*Command, error) {
	return mc.send("Relative Mode", gcode.Block{g(91)})
}

// SetTravelUnit switches to millimeters.
func (mc *Marlin) SetTravelUnit() (*Command, error) {
	return mc.send("Set Units", gcode.Block{g(21)})
}

func (mc *Marlin) AllowColdExtrusion() (*Command, error) {
	return mc.send("Allow Cold Extrusion", gcode.Block{m(302), arg('S', 0)})
}

// Stop kills the machine immediately. Homing is lost.
func (mc *Marlin) Stop() (*Command, error) {
	return mc.sendPriority("Stop", gcode.Block{m(112)})
}

// Quickstop discards planned moves. Homing is lost.
func (mc *Marlin) Quickstop() (*Command, error) {
	return mc.sendPriority("Quickstop", gcode.Block{m(410)})
}

func (mc *Marlin) CancelMove() (*Command, error) {
	return mc.sendPriority("Cancel Move", gcode.Block{g(80)})
}

// SetSteppers powers the motors on or off. When turning them off, a
// non-zero inactivity delays the shutdown by that many seconds.
func (mc *Marlin) SetSteppers(on bool, inactivity float64) (*Command, error) {
	if on {
		return mc.send("Steppers On", gcode.Block{m(17)})
	}
	b := gcode.Block{m(18)}
	if inactivity > 0 {
		b = append(b, arg('S', inactivity))
	}
	return mc.send("Steppers Off", b)
}

func (mc *Marlin) EnableSteppers() (*Command, error) { return mc.SetSteppers(true, 0) }
func (mc *Marlin) DisableSteppers() (*Command, error) { return mc.SetSteppers(false, 0) }

func (mc *Marlin) SetStepsPerUnit(axis Axis, steps float64) (*Command, error) {
	return mc.send(fmt.Sprintf("Steps per Unit (%s)", axis), gcode.Block{m(92), axisArg(axis, steps)})
}

func (mc *Marlin) SetAxisFeedrate(axis Axis, feedrate float64) (*Command, error) {
	return mc.send("Max Feedrate", gcode.Block{m(203), axisArg(axis, feedrate)})
}

func (mc *Marlin) SetMaxFeedrate(feedrate float64) (*Command, error) {
	return mc.send("Max Feedrate", allAxes(m(203), feedrate))
}

func (mc *Marlin) SetAxisAcceleration(axis Axis, acceleration float64) (*Command, error) {
	return mc.send("Max Acceleration", gcode.Block{m(201), axisArg(axis, acceleration)})
}

func (mc *Marlin) SetMaxAcceleration(acceleration float64) (*Command, error) {
	return mc.send("Max Acceleration", allAxes(m(201), acceleration))
}

func (mc *Marlin) SetAxisJerk(axis Axis, jerk float64) (*Command, error) {
	return mc.send(fmt.Sprintf("%s Jerk", axis), gcode.Block{m(205), axisArg(axis, jerk)})
}

func (mc *Marlin) SetMaxJerk(jerk float64) (*Command, error) {
	return mc.send("Max Jerk", allAxes(m(205), jerk))
}

func (mc *Marlin) SetMinFeedrate(feedrate float64) (*Command, error) {
	return mc.send("Min Feedrate", gcode.Block{m(205), arg('T', feedrate), arg('S', feedrate)})
}

func allAxes(code gcode.Word, v float64) gcode.Block {
	b := gcode.Block{code}
	for _, a := range Axes {
		b = append(b, axisArg(a, v))
	}
	return b
}

// SetFeedratePercentage applies a global speed factor, 0 (stopped) to 1 (100%).
func (mc *Marlin) SetFeedratePercentage(pct float64) (*Command, error) {
	return mc.send("Set Feedrate", gcode.Block{m(220), arg('S', math.Round(pct*100))})
}

// SetFan sets fan index to speed in [0,1].
func (mc *Marlin) SetFan(index int, speed float64) (*Command, error) {
	if speed < 0 || speed > 1 {
		return nil, invalid("fan speed %g out of range [0,1]", speed)
	}
	return mc.send("Set Fan", gcode.Block{m(106), arg('I', float64(index)), arg('S', speed*255)})
}

func (mc *Marlin) DisableFan(index int) (*Command, error) {
	return mc.send("Disable Fan", gcode.Block{m(107), arg('I', float64(index))})
}

// SetLED sets a neopixel color; every component is in [0,1].
func (mc *Marlin) SetLED(index int, red, green, blue, brightness float64) (*Command, error) {
	for _, v := range []float64{red, green, blue, brightness} {
		if v < 0 || v > 1 {
			return nil, invalid("led component %g out of range [0,1]", v)
		}
	}
	return mc.send("Set LEDs", gcode.Block{
		m(150),
		arg('I', float64(index)),
		arg('R', math.Round(red*255)),
		arg('U', math.Round(green*255)),
		arg('B', math.Round(blue*255)),
		arg('P', math.Round(brightness*255)),
	})
}

// SetPositionInterval enables position auto-reports every s seconds, 0 to disable.
func (mc *Marlin) SetPositionInterval(s float64) (*Command, error) {
	return mc.send("Position Interval", gcode.Block{m(154), arg('S', s)})
}

// SetTemperatureInterval enables temperature auto-reports every s seconds, 0 to disable.
func (mc *Marlin) SetTemperatureInterval(s float64) (*Command, error) {
	return mc.send("Temperature Interval", gcode.Block{m(155), arg('S', s)})
}

func (mc *Marlin) Keepalive(s float64) (*Command, error) {
	return mc.send("Keepalive", gcode.Block{m(113), arg('S', s)})
}

func (mc *Marlin) Dwell(ms float64) (*Command, error) {
	return mc.send("Dwell", gcode.Block{g(4), arg('P', ms)})
}

// Finish waits for all planned moves to complete.
func (mc *Marlin) Finish() (*Command, error) {
	return mc.send("Finish Up", gcode.Block{m(400)})
}

func (mc *Marlin) GetEndstopStates() (*Command, error) {
	return mc.send("Check Endstops", gcode.Block{m(119)})
}

func (mc *Marlin) EnableEndstops() (*Command, error) {
	return mc.send("Enable Endstops", gcode.Block{m(120)})
}

func (mc *Marlin) DisableEndstops() (*Command, error) {
	return mc.send("Disable Endstops", gcode.Block{m(121)})
}

func (mc *Marlin) SetInactivityShutdown(s float64) (*Command, error) {
	return mc.send("Set Auto-Shutdown", gcode.Block{m(85), arg('S', math.Floor(s))})
}

func (mc *Marlin) Tone(ms, hz float64) (*Command, error) {
	return mc.send(fmt.Sprintf("Tone (%ghz)", hz), gcode.Block{m(300), arg('P', ms), arg('S', hz)})
}

func (mc *Marlin) Babystep(axis Axis, mm float64) (*Command, error) {
	if axis == AxisE {
		return nil, invalid("cannot babystep %s", axis)
	}
	return mc.send("Babystep", gcode.Block{m(290), axisArg(axis, mm)})
}

func (mc *Marlin) DeployProbe() (*Command, error) {
	return mc.send("Deploy Probe", gcode.Block{m(401)})
}

func (mc *Marlin) StowProbe() (*Command, error) {
	return mc.send("Stow Probe", gcode.Block{m(402)})
}

// SetFeedback enables temperature and position auto-reports.
func (mc *Marlin) SetFeedback(ctx context.Context) error {
	return run(ctx,
		func() (*Command, error) { return mc.SetTemperatureInterval(20) },
		func() (*Command, error) { return mc.SetPositionInterval(5) },
	)
}

// SetMechanics pushes p to the board. Motion is paused (feedrate 0%) until
// every setting has been acknowledged.
func (mc *Marlin) SetMechanics(ctx context.Context, p MotionProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	steps := []func() (*Command, error){
		func() (*Command, error) { return mc.SetFeedratePercentage(0) },
		mc.AllowColdExtrusion,
		mc.SetTravelUnit,
		mc.RelativeMode,
		func() (*Command, error) { return mc.SetInactivityShutdown(p.InactivityShutdown) },
		func() (*Command, error) { return mc.SetMinFeedrate(p.MinFeedrate) },
		func() (*Command, error) { return mc.SetMaxFeedrate(p.MaxFeedrate) },
		func() (*Command, error) { return mc.SetMaxAcceleration(p.MaxAcceleration) },
		func() (*Command, error) { return mc.SetMaxJerk(p.MaxJerk) },
	}
	for _, s := range p.Steppers {
		s := s
		steps = append(steps,
			func() (*Command, error) {
				mc.SetInverted(s.Axis, s.Invert)
				return mc.SetStepsPerUnit(s.Axis, s.Steps)
			},
			func() (*Command, error) { return mc.SetAxisJerk(s.Axis, s.Max.Jerk) },
			func() (*Command, error) { return mc.SetAxisAcceleration(s.Axis, s.Max.Acceleration) },
			func() (*Command, error) { return mc.SetAxisFeedrate(s.Axis, s.Max.Feedrate) },
		)
	}
	steps = append(steps, func() (*Command, error) { return mc.SetFeedratePercentage(1) })

	if err := run(ctx, steps...); err != nil {
		return fmt.Errorf("set mechanics: %w", err)
	}
	return nil
}

// run issues each step after the previous one was acknowledged.
func run(ctx context.Context, steps ...func() (*Command, error)) error {
	for _, step := range steps {
		cmd, err := step()
		if err != nil {
			return err
		}
		if err = cmd.WaitOK(ctx); err != nil {
			return err
		}
	}
	return nil
}
