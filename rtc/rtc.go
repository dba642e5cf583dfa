package rtc

import (
	"time"

	"dtemu/interrupts"
	"dtemu/memory"
)

// register offsets
const (
	RegTriggerRead  = 0x000
	RegSec          = 0x010
	RegUsec         = 0x020
	RegHz           = 0x100
	RegInterruptAck = 0x110

	// Length of the register window
	Length = 0x200
)

// MaxHz is the highest interrupt rate accepted
const MaxHz = 10000

// RTC is the real time clock. A write to TRIGGER_READ latches the host time
// into SEC and USEC. Writing a non zero value to HZ starts a periodic
// interrupt; each interrupt stays asserted until it is acknowledged.
type RTC struct {
	sec, usec uint64

	hz       uint64
	period   time.Duration
	next     time.Time
	asserted bool

	irq interrupts.Line

	// now is replaceable for tests
	now func() time.Time

	// Ticks counts interrupts raised
	Ticks uint64
}

// New returns a stopped clock raising its interrupts on irq.
func New(irq interrupts.Line) *RTC {
	return &RTC{irq: irq, now: time.Now}
}

// Tick implements memory.Ticker. It is called often enough for the
// configured rates; missed periods are not made up for.
func (r *RTC) Tick() {
	if r.hz == 0 || r.asserted {
		return
	}
	now := r.now()
	if now.Before(r.next) {
		return
	}
	r.next = now.Add(r.period)
	r.asserted = true
	r.Ticks++
	r.irq.Assert()
}

func (r *RTC) setHz(hz uint64) {
	if hz > MaxHz {
		hz = MaxHz
	}
	r.hz = hz
	if hz == 0 {
		r.ack()
		return
	}
	r.period = time.Second / time.Duration(hz)
	r.next = r.now().Add(r.period)
}

func (r *RTC) ack() {
	r.asserted = false
	r.irq.Deassert()
}

// Access implements memory.Device.
func (r *RTC) Access(req *memory.Request) bool {
	switch req.Offset {
	case RegTriggerRead:
		if req.Write {
			t := r.now()
			r.sec = uint64(t.Unix())
			r.usec = uint64(t.Nanosecond() / 1000)
		} else {
			req.SetValue(0)
		}
	case RegSec:
		if req.Write {
			return false
		}
		req.SetValue(r.sec)
	case RegUsec:
		if req.Write {
			return false
		}
		req.SetValue(r.usec)
	case RegHz:
		if req.Write {
			r.setHz(req.Value())
		} else {
			req.SetValue(r.hz)
		}
	case RegInterruptAck:
		if req.Write {
			r.ack()
		} else {
			req.SetValue(0)
		}
	default:
		return false
	}
	return true
}
