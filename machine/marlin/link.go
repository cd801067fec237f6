package marlin

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const maxLineSize = 4096

// LineWriter is the outbound half of a Link.
type LineWriter interface {
	WriteLine(text string) error
}

// Link is a newline delimited duplex channel to the device.
type Link struct {
	rw  io.ReadWriteCloser
	log zerolog.Logger

	wMx sync.Mutex
}

var _ LineWriter = &Link{}

// NewLink frames lines over rw, which may be a serial port or a Simulator.
func NewLink(rw io.ReadWriteCloser, log zerolog.Logger) *Link {
	return &Link{
		rw:  rw,
		log: log.With().Str("module", "link").Logger(),
	}
}

// WriteLine will block until text and its terminator have been written.
func (l *Link) WriteLine(text string) error {
	l.wMx.Lock()
	defer l.wMx.Unlock()
	_, err := io.WriteString(l.rw, text+"\n")
	return err
}

// Listen reads frames until the underlying reader fails, calling onLine
// once per non-empty line. It returns io.EOF when the device goes away.
func (l *Link) Listen(onLine func(string)) error {
	scan := bufio.NewScanner(l.rw)
	scan.Buffer(make([]byte, 256), maxLineSize)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		onLine(line)
	}
	if err := scan.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Close will close the underlying port, unblocking Listen.
func (l *Link) Close() error {
	return l.rw.Close()
}
