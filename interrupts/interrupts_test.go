package interrupts

import (
	"encoding/binary"
	"testing"

	"dtemu/memory"
)

type input struct {
	line     int
	asserted bool
	calls    int
}

func (i *input) SetIRQ(line int, asserted bool) {
	i.line = line
	i.asserted = asserted
	i.calls++
}

func write(t *testing.T, c *Controller, off, v uint64) {
	t.Helper()
	req := &memory.Request{Offset: off, Data: make([]byte, 4), Write: true, Order: binary.BigEndian}
	req.SetValue(v)
	if !c.Access(req) {
		t.Fatalf("write to %#x refused", off)
	}
}

func TestController(t *testing.T) {
	cpu := &input{}
	c := NewController(cpu, InputIRQC)
	rtc := c.Line(RTC)

	tests := []struct {
		name string
		op   func()
		want bool
	}{
		{"masked line", rtc.Assert, false},
		{"unmask", func() { write(t, c, RegUnmask, RTC) }, true},
		{"acknowledge", rtc.Deassert, false},
		{"assert again", func() { rtc.Set(true) }, true},
		{"mask", func() { write(t, c, RegMask, RTC) }, false},
		{"other masked line", c.Line(Console).Assert, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.op()
			if cpu.asserted != tt.want || cpu.line != InputIRQC {
				t.Errorf("cpu input %d = %v, want %v", cpu.line, cpu.asserted, tt.want)
			}
		})
	}

	req := &memory.Request{Offset: RegIRQ, Data: make([]byte, 4), Order: binary.BigEndian}
	if !c.Access(req) {
		t.Fatal("read of IRQ register refused")
	}
	if got := req.Value(); got != 1<<RTC|1<<Console {
		t.Errorf("IRQ register = %#x, want %#x", got, 1<<RTC|1<<Console)
	}
	if c.Asserts != 3 {
		t.Errorf("Asserts = %d, want 3", c.Asserts)
	}

	if c.Access(&memory.Request{Offset: 0x20, Data: make([]byte, 4)}) {
		t.Errorf("access to unknown register accepted")
	}
}

func TestLine_Zero(t *testing.T) {
	var l Line
	l.Assert()
	l.Deassert()
}
