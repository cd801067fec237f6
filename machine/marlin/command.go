package marlin

import (
	"context"
	"sync"
	"time"
)

// Command is a single outbound instruction. It doubles as the completion
// handle returned to the caller; result fields may only be read after Done
// is closed.
type Command struct {
	ID          uint64
	Text        string
	Description string
	Priority    bool

	RequestedAt time.Time
	SentAt      time.Time
	CompletedAt time.Time

	Response string
	Success  bool

	err  error
	done chan struct{}
	once sync.Once
}

func newCommand(id uint64, description, text string, priority bool, now time.Time) *Command {
	return &Command{
		ID:          id,
		Text:        text,
		Description: description,
		Priority:    priority,
		RequestedAt: now,
		done:        make(chan struct{}),
	}
}

func (c *Command) complete(response string, at time.Time) {
	c.once.Do(func() {
		c.CompletedAt = at
		c.Response = response
		c.Success = response == "ok"
		close(c.done)
	})
}

func (c *Command) abandon(err error, at time.Time) {
	c.once.Do(func() {
		c.CompletedAt = at
		c.err = err
		close(c.done)
	})
}

// Done is closed once the command has been resolved or abandoned.
func (c *Command) Done() <-chan struct{} { return c.done }

// Resolved returns true if the command is no longer queued or in flight.
func (c *Command) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the command is resolved. It returns an error only if the
// context ends first or the command was abandoned; an unsuccessful device
// response is not an error here, see Err.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

// Err returns the abandonment cause, or a *DeviceError if the device did
// not acknowledge with "ok". It must only be called after Done is closed.
func (c *Command) Err() error {
	if c.err != nil {
		return c.err
	}
	if !c.Success {
		return &DeviceError{Description: c.Description, Command: c.Text, Response: c.Response}
	}
	return nil
}

// WaitOK waits for the command and requires a successful acknowledgement.
func (c *Command) WaitOK(ctx context.Context) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	return c.Err()
}
