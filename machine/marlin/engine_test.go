package marlin

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsfm/noskop/coord"
)

type fakeWriter struct {
	mx    sync.Mutex
	lines []string
	err   error

	onWrite func(string)
}

func (w *fakeWriter) WriteLine(text string) error {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.onWrite != nil {
		w.onWrite(text)
	}
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, text)
	return nil
}

func (w *fakeWriter) Lines() []string {
	w.mx.Lock()
	defer w.mx.Unlock()
	return append([]string(nil), w.lines...)
}

func (w *fakeWriter) Last() string {
	w.mx.Lock()
	defer w.mx.Unlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}

func newTestEngine(t *testing.T, opt Options) (*Engine, *fakeWriter, chan int) {
	t.Helper()
	w := &fakeWriter{}
	exits := make(chan int, 1)
	opt.Logger = zerolog.Nop()
	opt.Exit = func(code int) {
		select {
		case exits <- code:
		default:
		}
	}
	e := NewEngine(w, opt)
	return e, w, exits
}

// autoAck drives e until ctx ends, answering every written line.
func autoAck(ctx context.Context, e *Engine, w *fakeWriter, respond func(string) string) {
	go func() {
		var seen int
		for ctx.Err() == nil {
			e.Transmit()
			lines := w.Lines()
			for _, l := range lines[seen:] {
				e.Process(respond(l))
			}
			seen = len(lines)
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestEngine_Move(t *testing.T) {
	e, w, _ := newTestEngine(t, Options{})

	cmd, err := e.Command("Move", "G0 X1 Y0 Z0 E0 F10", false)
	require.NoError(t, err)
	assert.False(t, cmd.Resolved())
	assert.True(t, e.Busy())

	e.Transmit()
	assert.Equal(t, []string{"G0 X1 Y0 Z0 E0 F10"}, w.Lines())
	assert.False(t, e.Busy())
	assert.Equal(t, "Move", e.Status().InFlight)

	e.Process("ok")
	require.True(t, cmd.Resolved())
	assert.True(t, cmd.Success)
	assert.Equal(t, "ok", cmd.Response)
	assert.NoError(t, cmd.WaitOK(context.Background()))
	assert.False(t, cmd.SentAt.IsZero())
	assert.False(t, cmd.CompletedAt.Before(cmd.SentAt))

	st := e.Status()
	assert.Equal(t, uint64(1), st.Sent)
	assert.Equal(t, uint64(1), st.Completed)
	assert.Empty(t, st.InFlight)
}

func TestEngine_PriorityOvertakesQueued(t *testing.T) {
	e, w, _ := newTestEngine(t, Options{})

	a, _ := e.Command("A", "G91", false)
	b, _ := e.Command("B", "G0 X1", false)
	e.Transmit()

	stop, err := e.PriorityCommand("Quickstop", "M410")
	require.NoError(t, err)

	// nothing is written while A is unacknowledged
	e.Transmit()
	assert.Equal(t, []string{"G91"}, w.Lines())

	e.Process("ok")
	e.Transmit()
	e.Process("ok")
	e.Transmit()
	e.Process("ok")

	assert.Equal(t, []string{"G91", "M410", "G0 X1"}, w.Lines())
	for _, cmd := range []*Command{a, b, stop} {
		assert.True(t, cmd.Success, cmd.Description)
	}
}

func TestEngine_RejectsNewline(t *testing.T) {
	e, w, _ := newTestEngine(t, Options{})

	cmd, err := e.Command("Home", "G28\n O R5 X Y Z", false)
	assert.Nil(t, cmd)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "newline")

	_, err = e.Command("Blank", "   ", false)
	assert.True(t, errors.As(err, &verr))

	e.Transmit()
	assert.Empty(t, w.Lines())
	assert.Equal(t, 0, e.Status().Queued)
}

func TestEngine_DeviceError(t *testing.T) {
	e, _, exits := newTestEngine(t, Options{})

	cmd, _ := e.Command("Turret", "G0 E5 F10", false)
	e.Transmit()
	e.Process("Error: cold extrusion prevented")

	require.True(t, cmd.Resolved())
	assert.False(t, cmd.Success)
	assert.NoError(t, cmd.Wait(context.Background()))

	var derr *DeviceError
	require.True(t, errors.As(cmd.WaitOK(context.Background()), &derr))
	assert.Equal(t, "Error: cold extrusion prevented", derr.Response)
	assert.Equal(t, "G0 E5 F10", derr.Command)
	assert.Equal(t, uint64(1), e.Status().Failed)

	// a failed acknowledgement is the caller's problem, not an emergency
	assert.Equal(t, 0, e.Status().Queued)
	select {
	case <-exits:
		t.Fatal("unexpected exit")
	default:
	}
}

func TestEngine_Telemetry(t *testing.T) {
	var positions []coord.Set
	var temps []map[string]Temperature
	e, _, _ := newTestEngine(t, Options{
		OnPosition:    func(s coord.Set) { positions = append(positions, s) },
		OnTemperature: func(m map[string]Temperature) { temps = append(temps, m) },
	})

	cmd, _ := e.Command("Move", "G0 X10", false)
	e.Transmit()

	e.Process("X:10.00 Y:2.50 Z:0.00 E:0.00 Count X:2000 Y:500 Z:0")
	e.Process("T:25.00 /0.00 B:24.50 /60.00 @:0 B@:0")
	e.Process("echo:busy: processing")
	e.Process("//action:notification Homing")
	assert.False(t, cmd.Resolved())

	e.Process("ok")
	assert.True(t, cmd.Success)

	require.Len(t, positions, 1)
	assert.Equal(t, coord.Set{X: 10, Y: 2.5}, positions[0])
	require.Len(t, temps, 1)
	assert.Equal(t, Temperature{Current: 24.5, Target: 60}, temps[0]["B"])

	st := e.Status()
	assert.Equal(t, coord.Set{X: 10, Y: 2.5}, st.Position)
	assert.Equal(t, 25.0, st.Temperatures["T"].Current)
}

func TestEngine_UnsolicitedLine(t *testing.T) {
	e, w, _ := newTestEngine(t, Options{})
	e.Process("ok")
	e.Process("start")

	cmd, _ := e.Command("Move", "G0 X1", false)
	e.Transmit()
	assert.Equal(t, []string{"G0 X1"}, w.Lines())
	assert.False(t, cmd.Resolved())
}

func TestEngine_NoWriteWhilePending(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	w := &fakeWriter{}
	e := NewEngine(w, Options{Logger: zerolog.Nop(), Exit: func(int) {}})

	var writes, acks int
	w.onWrite = func(string) {
		writes++
		assert.LessOrEqual(t, writes-acks, 1)
	}

	var issued []*Command
	for i := 0; i < 2000; i++ {
		switch rnd.Intn(4) {
		case 0:
			cmd, err := e.Command("Move", "G0 X1", rnd.Intn(5) == 0)
			require.NoError(t, err)
			issued = append(issued, cmd)
		case 1, 2:
			e.Transmit()
		case 3:
			if e.Status().InFlight != "" {
				acks++
			}
			e.Process("ok")
		}
	}

	for {
		e.Transmit()
		if e.Status().InFlight == "" {
			break
		}
		acks++
		e.Process("ok")
	}
	for _, cmd := range issued {
		assert.True(t, cmd.Success)
	}
	assert.Equal(t, writes, acks)
}

func TestEngine_Unexpected(t *testing.T) {
	t.Run("stop acknowledged", func(t *testing.T) {
		e, w, exits := newTestEngine(t, Options{})
		_, _ = e.Command("Move", "G0 X1", false)

		err := e.Unexpected("lost track")
		assert.Error(t, err)

		e.Transmit()
		assert.Equal(t, []string{HardStop}, w.Lines())
		e.Process("ok")

		select {
		case <-exits:
			t.Fatal("should not exit after a successful stop")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("stop rejected", func(t *testing.T) {
		e, w, exits := newTestEngine(t, Options{})
		_ = e.Unexpected("lost track")
		e.Transmit()
		assert.Equal(t, HardStop, w.Last())
		e.Process("Error:Printer halted. kill() called!")

		select {
		case code := <-exits:
			assert.Equal(t, 9, code)
		case <-time.After(time.Second):
			t.Fatal("expected exit")
		}
	})
}

func TestEngine_WriteFailure(t *testing.T) {
	e, w, exits := newTestEngine(t, Options{})
	w.err = errors.New("port gone")

	cmd, _ := e.Command("Move", "G0 X1", false)
	e.Transmit()
	require.True(t, cmd.Resolved())
	assert.ErrorContains(t, cmd.Wait(context.Background()), "port gone")

	// the stop cannot be written either
	assert.Equal(t, 1, e.Status().Queued)
	e.Transmit()
	assert.Equal(t, 0, e.Status().Queued)

	select {
	case code := <-exits:
		assert.Equal(t, 9, code)
	case <-time.After(time.Second):
		t.Fatal("expected exit")
	}
}

func TestEngine_ResponseTimeout(t *testing.T) {
	e, w, _ := newTestEngine(t, Options{ResponseTimeout: time.Second})
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }

	cmd, _ := e.Command("Move", "G0 X1", false)
	e.Transmit()

	now = now.Add(500 * time.Millisecond)
	e.Transmit()
	assert.False(t, cmd.Resolved())

	now = now.Add(time.Second)
	e.Transmit()
	require.True(t, cmd.Resolved())
	assert.ErrorIs(t, cmd.Wait(context.Background()), ErrResponseTimeout)

	e.Transmit()
	assert.Equal(t, []string{"G0 X1", HardStop}, w.Lines())
}

func TestEngine_Close(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	a, _ := e.Command("A", "G91", false)
	b, _ := e.Command("B", "G0 X1", false)
	e.Transmit()

	require.NoError(t, e.Close())
	assert.ErrorIs(t, a.Wait(context.Background()), ErrClosed)
	assert.ErrorIs(t, b.Wait(context.Background()), ErrClosed)

	_, err := e.Command("C", "G90", false)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, e.Close())
}

func TestEngine_WaitContext(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	cmd, _ := e.Command("Move", "G0 X1", false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cmd.Wait(ctx), context.DeadlineExceeded)
}

func TestEngine_Run(t *testing.T) {
	e, w, _ := newTestEngine(t, Options{CommandRate: 200})
	assert.Equal(t, 5*time.Millisecond, e.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- e.Run(ctx) }()

	cmd, _ := e.Command("Move", "G0 X1", false)
	require.Eventually(t, func() bool { return w.Last() == "G0 X1" }, time.Second, time.Millisecond)
	e.Process("ok")
	assert.NoError(t, cmd.WaitOK(ctx))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(&fakeWriter{}, Options{})
	assert.Equal(t, float64(DefaultCommandRate), e.CommandRate())
	assert.NotNil(t, e.exit)
}
