package interrupts

/**
 * Separate package exists mainly in order to avoid cyclic imports
 */

import (
	"dtemu/memory"
)

// interrupt lines on the interrupt controller:

// Console : raised while console input is pending
const Console = 2

// RTC : periodic timer interrupt
const RTC = 3

// Ether : packet received
const Ether = 4

// CPU interrupt inputs:

// InputIRQC - output of the interrupt controller
const InputIRQC = 0

// InputIPI - inter processor interrupts, one per CPU
const InputIPI = 1

/********************************
 * controller registers:
 ********************************/

// RegIRQ - read: asserted lines as a bit mask
const RegIRQ = 0x00

// RegMask - write: line number to mask
const RegMask = 0x08

// RegUnmask - write: line number to unmask
const RegUnmask = 0x10

// Length of the register window
const Length = 0x18

// Sink receives the controller output, normally a CPU interrupt input.
type Sink interface {
	SetIRQ(line int, asserted bool)
}

// Controller collects device interrupt lines and drives a single CPU input
// with the OR of all asserted, unmasked lines.
type Controller struct {
	status  uint32
	enabled uint32

	out   Sink
	input int

	// Asserts counts rising edges, for the statistics view
	Asserts uint64
}

// NewController returns a controller with every line masked.
func NewController(out Sink, input int) *Controller {
	return &Controller{out: out, input: input}
}

// Line returns a handle on one interrupt line for a device.
func (c *Controller) Line(irq int) Line {
	return Line{c: c, irq: irq}
}

// Assert raises line irq.
func (c *Controller) Assert(irq int) {
	bit := uint32(1) << uint(irq)
	if c.status&bit == 0 {
		c.Asserts++
	}
	c.status |= bit
	c.update()
}

// Deassert lowers line irq.
func (c *Controller) Deassert(irq int) {
	c.status &^= uint32(1) << uint(irq)
	c.update()
}

// Pending returns the asserted lines, masked or not.
func (c *Controller) Pending() uint32 {
	return c.status
}

// Enabled returns the unmasked lines.
func (c *Controller) Enabled() uint32 {
	return c.enabled
}

func (c *Controller) update() {
	if c.out != nil {
		c.out.SetIRQ(c.input, c.status&c.enabled != 0)
	}
}

// Access implements memory.Device.
func (c *Controller) Access(req *memory.Request) bool {
	switch req.Offset {
	case RegIRQ:
		if req.Write {
			return false
		}
		req.SetValue(uint64(c.status))
	case RegMask, RegUnmask:
		if !req.Write {
			req.SetValue(uint64(c.enabled))
			return true
		}
		irq := req.Value()
		if irq >= 32 {
			return false
		}
		if req.Offset == RegMask {
			c.enabled &^= 1 << irq
		} else {
			c.enabled |= 1 << irq
		}
		c.update()
	default:
		return false
	}
	return true
}

// Line is a device's handle on one controller input.
type Line struct {
	c   *Controller
	irq int
}

// Assert raises the line. A zero Line does nothing.
func (l Line) Assert() {
	if l.c != nil {
		l.c.Assert(l.irq)
	}
}

// Deassert lowers the line.
func (l Line) Deassert() {
	if l.c != nil {
		l.c.Deassert(l.irq)
	}
}

// Set raises or lowers the line.
func (l Line) Set(asserted bool) {
	if asserted {
		l.Assert()
	} else {
		l.Deassert()
	}
}
