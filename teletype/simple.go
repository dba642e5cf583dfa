package teletype

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Simple connects the teletype to the terminal the emulator runs in: stdin
// is switched to raw mode and every byte read is queued as a key press.
// Output goes to stdout with newlines expanded for the raw terminal.
type Simple struct {
	tele *Teletype
	in   *os.File
	out  io.Writer

	fd       int
	oldState *term.State

	stopped sync.Once
	done    chan struct{}

	log *logrus.Logger
}

// NewSimple returns new host side for tele.
func NewSimple(tele *Teletype, in *os.File, out io.Writer, log *logrus.Logger) *Simple {
	s := &Simple{
		tele: tele,
		in:   in,
		out:  out,
		fd:   int(in.Fd()),
		done: make(chan struct{}),
		log:  log,
	}
	tele.SetOutput(s)
	return s
}

// Run : switch the terminal to raw mode (when it is one) and start the
// keyboard reader.
func (s *Simple) Run() error {
	if term.IsTerminal(s.fd) {
		oldState, err := term.MakeRaw(s.fd)
		if err != nil {
			s.log.WithError(err).Warn("teletype: failed to set raw mode")
		} else {
			s.oldState = oldState
		}
	}
	go s.stdin()
	return nil
}

func (s *Simple) stdin() {
	defer close(s.done)
	var b [1]byte
	for {
		n, err := s.in.Read(b[:])
		if n == 1 {
			s.tele.AddChar(translateKey(b[0]))
		}
		if err != nil {
			if err != io.EOF {
				s.log.WithError(err).Debug("teletype: stdin closed")
			}
			return
		}
	}
}

// Stop restores the terminal state.
func (s *Simple) Stop() {
	s.stopped.Do(func() {
		if s.oldState != nil {
			_ = term.Restore(s.fd, s.oldState)
			s.oldState = nil
		}
	})
}

// Write implements io.Writer for the teletype output.
func (s *Simple) Write(p []byte) (int, error) {
	for _, c := range p {
		var err error
		if c == '\n' && s.oldState != nil {
			_, err = s.out.Write([]byte{'\r', '\n'})
		} else {
			_, err = s.out.Write([]byte{c})
		}
		if err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// translateKey maps what raw terminals send to what guests expect: CR for
// enter becomes LF, DEL for backspace becomes BS.
func translateKey(b byte) byte {
	switch b {
	case '\r':
		return '\n'
	case 0x7f:
		return 0x08
	}
	return b
}
