package marlin

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	gc "github.com/256dpi/gcode"
	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/coord"
	"github.com/nsfm/noskop/gcode"
)

// SimulatorConfig tunes the simulated controller.
type SimulatorConfig struct {
	// MinDelay and MaxDelay bound the random acknowledgement latency.
	MinDelay, MaxDelay time.Duration

	// SlowDelay is used for commands that wait on motion, such as G28 and M400.
	SlowDelay time.Duration

	Seed int64

	Logger zerolog.Logger
}

// DefaultSimulatorConfig returns latencies close to a real board at 115200 baud.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		MinDelay:  10 * time.Millisecond,
		MaxDelay:  20 * time.Millisecond,
		SlowDelay: 500 * time.Millisecond,
		Seed:      time.Now().UnixNano(),
	}
}

// Simulator pretends to be a Marlin board on the other end of a serial link.
// Every line written to it is acknowledged after a short delay, motion is
// tracked, and position/temperature auto-reports are produced on request.
type Simulator struct {
	cfg SimulatorConfig
	log zerolog.Logger

	mx      sync.Mutex
	rnd     *rand.Rand
	vm      *gcode.VM
	lineBuf []byte

	readBuf   []byte
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	position    *reporter
	temperature *reporter
}

// NewSimulator starts a simulator. Close it to stop its report loops.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.MaxDelay <= 0 {
		cfg.MinDelay, cfg.MaxDelay = def.MinDelay, def.MaxDelay
	}
	if cfg.MinDelay > cfg.MaxDelay {
		cfg.MinDelay = cfg.MaxDelay
	}
	if cfg.SlowDelay <= 0 {
		cfg.SlowDelay = def.SlowDelay
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}

	s := &Simulator{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("module", "sim").Logger(),
		rnd:  rand.New(rand.NewSource(cfg.Seed)),
		vm:   gcode.NewVM(),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	s.position = newReporter(s.done, s.positionReport)
	s.temperature = newReporter(s.done, s.temperatureReport)
	go s.position.loop(s.reply)
	go s.temperature.loop(s.reply)
	return s
}

func (s *Simulator) Read(p []byte) (int, error) {
	if len(s.readBuf) == 0 {
		select {
		case r := <-s.out:
			s.readBuf = r
		case <-s.done:
			return 0, io.EOF
		}
	}

	n := copy(p, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

// Write never blocks; replies are delivered asynchronously.
func (s *Simulator) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	for _, ch := range p {
		if ch != '\n' {
			s.lineBuf = append(s.lineBuf, ch)
			continue
		}
		line := strings.TrimSpace(string(s.lineBuf))
		s.lineBuf = s.lineBuf[:0]
		if line != "" {
			s.processLine(line)
		}
	}
	return len(p), nil
}

func (s *Simulator) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Position returns the simulated machine position.
func (s *Simulator) Position() coord.Set {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.vm.Pos()
}

// fillFlags gives bare axis flags (G28 X Y) a zero value so the line parses.
func fillFlags(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if len(f) == 1 {
			fields[i] = f + "0"
		}
	}
	return strings.Join(fields, " ")
}

func (s *Simulator) delay() time.Duration {
	span := int64(s.cfg.MaxDelay - s.cfg.MinDelay)
	if span <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(s.rnd.Int63n(span+1))
}

// processLine acknowledges every line with ok, like a board in debug mode.
// Lines the simulator can't interpret are only logged.
func (s *Simulator) processLine(line string) {
	s.log.Debug().Msg("> " + line)
	d := s.delay()
	defer func() { s.replyAfter(d, "ok") }()

	parsed, err := gc.ParseLine(fillFlags(line))
	if err != nil {
		s.log.Warn().Err(err).Str("line", line).Msg("unknown command")
		return
	}
	var b gcode.Block
	for _, code := range parsed.Codes {
		if code.Letter == "" {
			continue
		}
		b = append(b, gcode.Word{W: strings.ToUpper(code.Letter)[0], Arg: code.Value})
	}
	code, ok := b.Code()
	if !ok {
		s.log.Warn().Str("line", line).Msg("unknown command")
		return
	}
	if err := s.vm.Run(b); err != nil {
		s.log.Warn().Err(err).Msg("run")
	}

	switch code.String() {
	case "G28", "G4", "M400":
		d = s.cfg.SlowDelay
	case "M112":
		s.log.Warn().Msg("emergency stop")
	case "M154":
		_, v := b.Arg('S')
		s.position.set(time.Duration(v * float64(time.Second)))
	case "M155":
		_, v := b.Arg('S')
		s.temperature.set(time.Duration(v * float64(time.Second)))
	}
}

func (s *Simulator) replyAfter(d time.Duration, line string) {
	time.AfterFunc(d, func() { s.reply(line) })
}

func (s *Simulator) reply(line string) {
	s.log.Debug().Msg("< " + line)
	select {
	case s.out <- []byte(line + "\n"):
	case <-s.done:
	}
}

func (s *Simulator) positionReport() string {
	s.mx.Lock()
	pos := s.vm.Pos()
	s.mx.Unlock()
	return fmt.Sprintf("X:%.2f Y:%.2f Z:%.2f E:%.2f Count X:0 Y:0 Z:0", pos.X, pos.Y, pos.Z, pos.E)
}

func (s *Simulator) temperatureReport() string {
	return "T:25.00 /0.00 B:25.00 /0.00 @:0 B@:0"
}

// reporter emits a line on an interval that can be changed at any time.
type reporter struct {
	done   <-chan struct{}
	report func() string

	mx       sync.Mutex
	interval time.Duration
	notify   chan struct{}
}

func newReporter(done <-chan struct{}, report func() string) *reporter {
	return &reporter{done: done, report: report, notify: make(chan struct{}, 1)}
}

func (r *reporter) set(interval time.Duration) {
	r.mx.Lock()
	r.interval = interval
	r.mx.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *reporter) get() time.Duration {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.interval
}

func (r *reporter) loop(send func(string)) {
	var tick <-chan time.Time
	var t *time.Ticker
	for {
		select {
		case <-r.done:
			if t != nil {
				t.Stop()
			}
			return
		case <-r.notify:
			if t != nil {
				t.Stop()
				t, tick = nil, nil
			}
			if iv := r.get(); iv > 0 {
				t = time.NewTicker(iv)
				tick = t.C
			}
		case <-tick:
			send(r.report())
		}
	}
}
