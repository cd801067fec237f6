package marlin

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/coord"
)

// HardStop is the emergency stop injected when something unexpected happens.
const HardStop = "M112"

// DefaultCommandRate is the number of transmit ticks per second.
const DefaultCommandRate = 15

// Options configure an Engine.
type Options struct {
	// CommandRate is the maximum number of commands sent per second.
	CommandRate float64

	// ResponseTimeout abandons an unacknowledged command and escalates.
	// Zero waits forever.
	ResponseTimeout time.Duration

	Logger zerolog.Logger

	// Exit terminates the process when a hard stop fails. Defaults to os.Exit.
	Exit func(code int)

	OnPosition    func(coord.Set)
	OnTemperature func(map[string]Temperature)
}

// Status is a point-in-time copy of the engine state.
type Status struct {
	Queued    int    `json:"queued"`
	InFlight  string `json:"inFlight,omitempty"`
	Sent      uint64 `json:"sent"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`

	Position     coord.Set              `json:"position"`
	Temperatures map[string]Temperature `json:"temperatures,omitempty"`
}

// Engine owns the command queue and the single in-flight slot for one link.
//
// Transmit and Process may be called from different goroutines; all state
// is guarded by one mutex so they never interleave.
type Engine struct {
	w   LineWriter
	log zerolog.Logger

	rate    float64
	timeout time.Duration
	exit    func(int)
	now     func() time.Time

	onPosition    func(coord.Set)
	onTemperature func(map[string]Temperature)

	mx      sync.Mutex
	queue   Queue
	pending *Command
	nextID  uint64
	closed  bool

	sent, completed, failed uint64

	position     coord.Set
	temperatures map[string]Temperature
}

// NewEngine creates an Engine writing to w. Lines read from the device must
// be passed to Process, and Run (or Transmit) must be driven for anything
// to be sent.
func NewEngine(w LineWriter, opt Options) *Engine {
	if opt.CommandRate <= 0 {
		opt.CommandRate = DefaultCommandRate
	}
	if opt.Exit == nil {
		opt.Exit = os.Exit
	}
	return &Engine{
		w:             w,
		log:           opt.Logger.With().Str("module", "cnc").Logger(),
		rate:          opt.CommandRate,
		timeout:       opt.ResponseTimeout,
		exit:          opt.Exit,
		now:           time.Now,
		onPosition:    opt.OnPosition,
		onTemperature: opt.OnTemperature,
	}
}

// CommandRate returns the configured transmit frequency in Hz.
func (e *Engine) CommandRate() float64 { return e.rate }

// Interval is the time between transmit ticks.
func (e *Engine) Interval() time.Duration {
	return time.Duration(float64(time.Second) / e.rate)
}

func validate(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return invalid("cannot include newline in command %q", text)
	}
	if strings.TrimSpace(text) == "" {
		return invalid("empty command")
	}
	return nil
}

// Command adds text to the end of the queue, to be sent when the device is
// idle. Priority commands go ahead of every queued normal command.
func (e *Engine) Command(description, text string, priority bool) (*Command, error) {
	if err := validate(text); err != nil {
		e.log.Error().Err(err).Str("description", description).Msg("rejected command")
		return nil, err
	}

	e.mx.Lock()
	defer e.mx.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.enqueue(description, text, priority), nil
}

// PriorityCommand queues text ahead of all normal commands.
func (e *Engine) PriorityCommand(description, text string) (*Command, error) {
	return e.Command(description, text, true)
}

func (e *Engine) enqueue(description, text string, priority bool) *Command {
	e.nextID++
	cmd := newCommand(e.nextID, description, text, priority, e.now())
	if e.closed {
		cmd.abandon(ErrClosed, e.now())
		return cmd
	}
	e.queue.Push(cmd)
	return cmd
}

// Busy returns true if there are commands waiting to be sent.
func (e *Engine) Busy() bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.queue.Busy()
}

// Transmit writes the next queued command if nothing is in flight.
func (e *Engine) Transmit() {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.pending != nil {
		e.checkTimeout()
		return
	}
	cmd := e.queue.Next()
	if cmd == nil {
		return
	}

	e.pending = cmd
	cmd.SentAt = e.now()
	ev := e.log.Debug()
	if cmd.Priority {
		ev = e.log.Warn()
	}
	ev.Str("command", cmd.Text).Msg(cmd.Description + " ->")

	err := e.w.WriteLine(cmd.Text)
	if err != nil {
		e.pending = nil
		e.failed++
		cmd.abandon(fmt.Errorf("write %q: %w", cmd.Text, err), e.now())
		if cmd.Text != HardStop {
			e.unexpected("write failed: " + err.Error())
		}
		return
	}
	e.sent++
}

func (e *Engine) checkTimeout() {
	if e.timeout <= 0 || e.now().Sub(e.pending.SentAt) < e.timeout {
		return
	}
	cmd := e.pending
	e.pending = nil
	e.failed++
	cmd.abandon(ErrResponseTimeout, e.now())
	if cmd.Text != HardStop {
		e.unexpected(fmt.Sprintf("no response to %s after %s", cmd.Description, e.timeout))
	}
}

// Process handles one line of device output.
func (e *Engine) Process(line string) {
	msg := strings.TrimSpace(line)

	switch {
	case strings.Contains(msg, "//"):
		// mostly UI hints
		e.log.Debug().Msg("[comment] <- " + msg)
		return
	case strings.Contains(msg, "echo:busy:"):
		e.log.Debug().Msg("busy...")
		return
	case strings.HasPrefix(msg, "X:"):
		e.updatePosition(msg)
		return
	case strings.HasPrefix(msg, "T:"):
		e.updateTemperature(msg)
		return
	}

	e.mx.Lock()
	cmd := e.pending
	if cmd == nil {
		e.mx.Unlock()
		e.log.Info().Msg("[received] <- " + msg)
		return
	}
	e.pending = nil
	cmd.complete(msg, e.now())
	if cmd.Success {
		e.completed++
	} else {
		e.failed++
	}
	e.mx.Unlock()

	ev := e.log.Info()
	if !cmd.Success {
		ev = e.log.Warn()
	}
	ev.Str("command", cmd.Text).
		Dur("latency", cmd.CompletedAt.Sub(cmd.SentAt)).
		Msg(cmd.Description + " <- " + msg)
}

func (e *Engine) updatePosition(msg string) {
	e.log.Trace().Msg("[position] <- " + msg)
	pos, err := parsePosition(msg)
	if err != nil {
		e.log.Warn().Err(err).Msg("parse position")
		return
	}
	e.mx.Lock()
	e.position = pos
	e.mx.Unlock()
	if e.onPosition != nil {
		e.onPosition(pos)
	}
}

func (e *Engine) updateTemperature(msg string) {
	e.log.Trace().Msg("[temperature] <- " + msg)
	temps, err := parseTemperature(msg)
	if err != nil {
		e.log.Warn().Err(err).Msg("parse temperature")
		return
	}
	e.mx.Lock()
	e.temperatures = temps
	e.mx.Unlock()
	if e.onTemperature != nil {
		e.onTemperature(temps)
	}
}

// Unexpected is called when something has gone wrong that we can't recover
// from. It stops the machine, and exits the process if the stop fails.
func (e *Engine) Unexpected(reason string) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.unexpected(reason)
}

func (e *Engine) unexpected(reason string) error {
	e.log.Error().Str("reason", reason).Msg("unexpected")
	stop := e.enqueue("Stop", HardStop, true)
	go e.escalate(stop)
	return fmt.Errorf("unexpected: %s", reason)
}

func (e *Engine) escalate(stop *Command) {
	<-stop.Done()
	if err := stop.Err(); err != nil {
		e.log.Error().Err(err).Msg("unexpected: stop failed, exiting")
		e.exit(9)
		return
	}
	e.log.Error().Msg("unexpected: stopped")
}

// Run drives Transmit at the command rate until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Transmit()
		}
	}
}

// Close abandons the in-flight command and everything still queued.
func (e *Engine) Close() error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	now := e.now()
	if e.pending != nil {
		e.pending.abandon(ErrClosed, now)
		e.pending = nil
	}
	for _, cmd := range e.queue.Drain() {
		cmd.abandon(ErrClosed, now)
	}
	return nil
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mx.Lock()
	defer e.mx.Unlock()
	s := Status{
		Queued:    e.queue.Len(),
		Sent:      e.sent,
		Completed: e.completed,
		Failed:    e.failed,
		Position:  e.position,
	}
	if e.pending != nil {
		s.InFlight = e.pending.Description
	}
	if len(e.temperatures) > 0 {
		s.Temperatures = make(map[string]Temperature, len(e.temperatures))
		for k, v := range e.temperatures {
			s.Temperatures[k] = v
		}
	}
	return s
}
