package teletype

import (
	"io"
	"sync"

	"dtemu/interrupts"
	"dtemu/memory"
)

// register offsets
const (
	RegPutGetChar = 0x00
	RegHalt       = 0x10

	// Length of the register window
	Length = 0x20
)

// Teletype type  - the console device. Characters written to PUTGETCHAR go
// to the output writer, characters typed on the host keyboard are queued and
// read back one at a time. The console interrupt line stays asserted while
// input is pending.
type Teletype struct {
	out   io.Writer
	outMu sync.Mutex

	// keyboard input from the host side. buffered so that the host reader
	// never blocks the emulation
	keyboardInput chan byte

	// chars moved from keyboardInput by Tick, waiting to be read
	keybuffer []byte

	irq  interrupts.Line
	halt func()

	// Written counts output characters
	Written uint64
}

// New returns new teletype object. halt is called when the guest writes to
// the HALT register.
func New(out io.Writer, irq interrupts.Line, halt func()) *Teletype {
	return &Teletype{
		out:           out,
		keyboardInput: make(chan byte, 256),
		irq:           irq,
		halt:          halt,
	}
}

// SetOutput replaces the output writer, e.g. once the terminal view exists.
func (t *Teletype) SetOutput(out io.Writer) {
	t.outMu.Lock()
	t.out = out
	t.outMu.Unlock()
}

// AddChar queues a key press. Safe to call from any goroutine; keys are
// dropped if the guest does not keep up.
func (t *Teletype) AddChar(char byte) {
	select {
	case t.keyboardInput <- char:
	default:
	}
}

// Tick - moves pending key presses to the key buffer and updates the
// interrupt line.
func (t *Teletype) Tick() {
	for {
		select {
		case c := <-t.keyboardInput:
			t.keybuffer = append(t.keybuffer, c)
		default:
			t.irq.Set(len(t.keybuffer) > 0)
			return
		}
	}
}

// getChar - return char from keybuffer, 0 if there is none
func (t *Teletype) getChar() byte {
	if len(t.keybuffer) == 0 {
		return 0
	}
	c := t.keybuffer[0]
	t.keybuffer = t.keybuffer[1:]
	if len(t.keybuffer) == 0 {
		t.irq.Deassert()
	}
	return c
}

func (t *Teletype) writeTerminal(char byte) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	if t.out != nil {
		_, _ = t.out.Write([]byte{char})
	}
	t.Written++
}

// Access implements memory.Device.
func (t *Teletype) Access(req *memory.Request) bool {
	switch req.Offset {
	case RegPutGetChar:
		if req.Write {
			t.writeTerminal(byte(req.Value()))
		} else {
			req.SetValue(uint64(t.getChar()))
		}
	case RegHalt:
		if req.Write {
			if t.halt != nil {
				t.halt()
			}
		} else {
			req.SetValue(0)
		}
	default:
		return false
	}
	return true
}
