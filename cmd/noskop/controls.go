package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/input"
	"github.com/nsfm/noskop/machine"
)

// stage is the part of *machine.Stage the button bindings use.
type stage interface {
	Home(ctx context.Context) error
	MarkFocus() error
}

// controls binds discrete button presses to machine actions. Analog inputs
// are left to the stage.
type controls struct {
	m     *machine.Machine
	stage stage
	stop  func()
	log   zerolog.Logger

	mx       sync.Mutex
	steppers bool
	busy     map[input.Button]bool
}

func newControls(m *machine.Machine, s stage, stop func(), log zerolog.Logger) *controls {
	return &controls{
		m:        m,
		stage:    s,
		stop:     stop,
		log:      log.With().Str("module", "controls").Logger(),
		steppers: true,
		busy:     make(map[input.Button]bool),
	}
}

func (c *controls) run(ctx context.Context, events <-chan input.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !ev.Pressed {
				continue
			}
			c.press(ctx, ev.Button)
		}
	}
}

// press runs the action bound to b in the background. A button is ignored
// while its previous action is still running.
func (c *controls) press(ctx context.Context, b input.Button) {
	action := c.action(b)
	if action == nil {
		return
	}
	c.mx.Lock()
	if c.busy[b] {
		c.mx.Unlock()
		c.log.Debug().Str("button", string(b)).Msg("still running")
		return
	}
	c.busy[b] = true
	c.mx.Unlock()

	go func() {
		defer func() {
			c.mx.Lock()
			c.busy[b] = false
			c.mx.Unlock()
		}()
		if err := action(ctx); err != nil {
			c.log.Error().Err(err).Str("button", string(b)).Msg("action failed")
		}
	}()
}

func (c *controls) action(b input.Button) func(context.Context) error {
	switch b {
	case input.Shutdown:
		return c.shutdown
	case input.Endstops:
		return c.endstops
	case input.Calibrate:
		return c.calibrate
	case input.Steppers:
		return c.toggleSteppers
	case input.Home:
		return c.stage.Home
	case input.MarkFocus:
		return func(context.Context) error { return c.stage.MarkFocus() }
	}
	return nil
}

func (c *controls) shutdown(ctx context.Context) error {
	c.log.Warn().Msg("shutting down")
	defer c.stop()
	return c.m.Shutdown(ctx)
}

func (c *controls) endstops(ctx context.Context) error {
	res, err := c.m.Endstops(ctx)
	if err != nil {
		return err
	}
	c.log.Info().Str("endstops", res).Msg("endstop states")
	return nil
}

func (c *controls) calibrate(ctx context.Context) error {
	res, err := c.m.Calibrate(ctx)
	if err != nil {
		return err
	}
	c.log.Info().Interface("results", res).Msg("calibrated")
	return nil
}

func (c *controls) toggleSteppers(ctx context.Context) error {
	c.mx.Lock()
	on := !c.steppers
	c.mx.Unlock()

	cmd, err := c.m.SetSteppers(on, 0)
	if err != nil {
		return err
	}
	if err = cmd.WaitOK(ctx); err != nil {
		return err
	}

	c.mx.Lock()
	c.steppers = on
	c.mx.Unlock()
	c.log.Info().Bool("enabled", on).Msg("steppers")
	return nil
}
