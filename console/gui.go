package console

import (
	"errors"
	"fmt"
	"strings"

	"dtemu/system"

	"github.com/jroimartin/gocui"
)

// view names
const (
	ConsoleView   = "console"
	RegistersView = "registers"
	StatusView    = "status"
)

// Gui type definition: the guest console on top, the register file in the
// middle and the emulator status at the bottom.
type Gui struct {
	g *gocui.Gui

	// status messages, written to the status view by the gocui main loop
	consoleOut chan string
	messages   []string
}

// max status messages kept below the statistics
const maxMessages = 8

// NewGui creates the terminal user interface.
func NewGui() (*Gui, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	c := &Gui{g: g, consoleOut: make(chan string, 64)}
	g.Cursor = true
	g.SetManagerFunc(layout)
	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		g.Close()
		return nil, fmt.Errorf("console: %w", err)
	}
	go c.initGui()
	return c, nil
}

// Gocui returns the underlying gocui object.
func (c *Gui) Gocui() *gocui.Gui {
	return c.g
}

// OnReady runs f in the main loop once the views exist.
func (c *Gui) OnReady(f func(g *gocui.Gui) error) {
	c.g.Update(func(g *gocui.Gui) error {
		if err := layout(g); err != nil {
			return err
		}
		if _, err := g.SetCurrentView(ConsoleView); err != nil {
			return err
		}
		return f(g)
	})
}

// MainLoop runs the user interface until the user quits.
func (c *Gui) MainLoop() error {
	if err := c.g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// Close restores the terminal.
func (c *Gui) Close() {
	c.g.Close()
}

// initGui collects status messages; they are shown with the next refresh.
func (c *Gui) initGui() {
	for s := range c.consoleOut {
		msg := s
		c.g.Update(func(g *gocui.Gui) error {
			c.messages = append(c.messages, msg)
			if len(c.messages) > maxMessages {
				c.messages = c.messages[1:]
			}
			return nil
		})
	}
}

// WriteConsole displays a string in the status view
func (c *Gui) WriteConsole(msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		if line != "" {
			c.consoleOut <- line
		}
	}
	return nil
}

// Refresh redraws the register and status views from s.
func (c *Gui) Refresh(s system.Snapshot) {
	c.g.Update(func(g *gocui.Gui) error {
		v, err := g.View(RegistersView)
		if err != nil {
			// not laid out yet
			return nil
		}
		v.Clear()
		WriteRegisters(v, &s)

		v, err = g.View(StatusView)
		if err != nil {
			return nil
		}
		v.Clear()
		for _, m := range c.messages {
			fmt.Fprintln(v, m)
		}
		WriteStatus(v, &s)
		return nil
	})
}

// gocui layout
func layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	stat := min(13, maxY/3)
	regs := min(10, maxY/4)
	top := maxY - stat - regs - 3

	// up -> console
	if v, err := g.SetView(ConsoleView, 0, 0, maxX-1, top); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Console"
	}

	// middle -> register values
	if v, err := g.SetView(RegistersView, 0, top+1, maxX-1, top+2+regs); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Registers"
	}
	// down -> status
	if v, err := g.SetView(StatusView, 0, top+3+regs, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Autoscroll = true
	}
	return nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}
