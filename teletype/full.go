package teletype

import (
	"fmt"
	"sync"

	"github.com/jroimartin/gocui"
)

// Full connects the teletype to a gocui view: key presses in the view are
// queued as input, output is appended to the view.
type Full struct {
	tele *Teletype
	gui  *gocui.Gui
	view string

	// terminal out channel -> required, as due to way gocui refreshes the
	// view, it needs to happen in the separate goroutine
	consoleOut chan string
	closeOnce  sync.Once
}

// NewFull returns the gocui host side for tele, bound to view.
func NewFull(gui *gocui.Gui, view string, tele *Teletype) (*Full, error) {
	v, err := gui.View(view)
	if err != nil {
		return nil, err
	}
	f := &Full{
		tele:       tele,
		gui:        gui,
		view:       view,
		consoleOut: make(chan string, 1024),
	}
	v.Editable = true
	v.Wrap = true
	v.Autoscroll = true
	v.Editor = gocui.EditorFunc(func(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
		switch {
		case ch != 0 && mod == 0:
			tele.AddChar(byte(ch))
		case key == gocui.KeySpace:
			tele.AddChar(' ')
		case key == gocui.KeyEnter:
			tele.AddChar('\n')
		case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
			tele.AddChar(0x08)
		case key == gocui.KeyTab:
			tele.AddChar('\t')
		case key == gocui.KeyEsc:
			tele.AddChar(0x1b)
		}
	})
	tele.SetOutput(f)
	go f.initOutput()
	return f, nil
}

// initOutput reads from the consoleOut channel and calls gui.Update to
// modify the view.
func (f *Full) initOutput() {
	for s := range f.consoleOut {
		// collect whatever else is queued into one update
		for more := true; more; {
			select {
			case next, ok := <-f.consoleOut:
				if !ok {
					more = false
					break
				}
				s += next
			default:
				more = false
			}
		}
		out := s
		f.gui.Update(func(g *gocui.Gui) error {
			v, err := g.View(f.view)
			if err != nil {
				return err
			}
			fmt.Fprint(v, out)
			return nil
		})
	}
}

// Write implements io.Writer for the teletype output.
func (f *Full) Write(p []byte) (int, error) {
	f.consoleOut <- string(p)
	return len(p), nil
}

// Stop ends the output goroutine. The teletype must not write afterwards.
func (f *Full) Stop() {
	f.closeOnce.Do(func() { close(f.consoleOut) })
}
