package console

import (
	"io"
	"strings"
	"sync"
)

// Simple console writes status messages as lines to a writer, for headless
// runs where the terminal belongs to the guest.
type Simple struct {
	out io.Writer
	mu  sync.Mutex

	// raw terminals need CR LF
	crlf bool
}

// NewSimple returns a console writing to out.
func NewSimple(out io.Writer, crlf bool) *Simple {
	return &Simple{out: out, crlf: crlf}
}

// WriteConsole displays a string on the console
func (c *Simple) WriteConsole(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	nl := "\n"
	if c.crlf {
		nl = "\r\n"
	}
	for _, line := range strings.Split(msg, "\n") {
		if line == "" {
			continue
		}
		if _, err := io.WriteString(c.out, line+nl); err != nil {
			return err
		}
	}
	return nil
}
