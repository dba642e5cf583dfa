package teletype

import (
	"bytes"
	"encoding/binary"
	"testing"

	"dtemu/interrupts"
	"dtemu/memory"
)

type irqInput struct {
	asserted bool
}

func (i *irqInput) SetIRQ(_ int, asserted bool) {
	i.asserted = asserted
}

func newTestTeletype() (*Teletype, *bytes.Buffer, *irqInput, *bool) {
	out := &bytes.Buffer{}
	cpu := &irqInput{}
	irqc := interrupts.NewController(cpu, interrupts.InputIRQC)
	irqc.Access(&memory.Request{Offset: interrupts.RegUnmask, Data: []byte{interrupts.Console}, Write: true})
	halted := false
	tele := New(out, irqc.Line(interrupts.Console), func() { halted = true })
	return tele, out, cpu, &halted
}

func access(tele *Teletype, off uint64, write bool, v uint64) (uint64, bool) {
	req := &memory.Request{Offset: off, Data: make([]byte, 4), Write: write, Order: binary.LittleEndian}
	if write {
		req.SetValue(v)
	}
	ok := tele.Access(req)
	return req.Value(), ok
}

func TestTeletype_Output(t *testing.T) {
	tele, out, _, _ := newTestTeletype()
	for _, c := range []byte("hi\n") {
		if _, ok := access(tele, RegPutGetChar, true, uint64(c)); !ok {
			t.Fatalf("write refused")
		}
	}
	if out.String() != "hi\n" || tele.Written != 3 {
		t.Errorf("output = %q (%d written), want \"hi\\n\"", out.String(), tele.Written)
	}
}

func TestTeletype_Input(t *testing.T) {
	tele, _, cpu, _ := newTestTeletype()

	tests := []struct {
		name    string
		op      func()
		wantIRQ bool
	}{
		{"no input", tele.Tick, false},
		{"key queued but not ticked", func() { tele.AddChar('a'); tele.AddChar('b') }, false},
		{"tick", tele.Tick, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.op()
			if cpu.asserted != tt.wantIRQ {
				t.Errorf("console irq = %v, want %v", cpu.asserted, tt.wantIRQ)
			}
		})
	}

	for _, want := range []uint64{'a', 'b', 0} {
		got, ok := access(tele, RegPutGetChar, false, 0)
		if !ok || got != want {
			t.Errorf("PUTGETCHAR read = %#x, want %#x", got, want)
		}
	}
	if cpu.asserted {
		t.Errorf("console irq still asserted after the buffer was drained")
	}
}

func TestTeletype_Halt(t *testing.T) {
	tele, _, _, halted := newTestTeletype()
	if _, ok := access(tele, RegHalt, true, 0); !ok || !*halted {
		t.Errorf("write to HALT did not halt")
	}
	if _, ok := access(tele, 0x08, false, 0); ok {
		t.Errorf("read of unknown register accepted")
	}
}

func TestTranslateKey(t *testing.T) {
	tests := []struct {
		in, want byte
	}{
		{'\r', '\n'},
		{0x7f, 0x08},
		{'x', 'x'},
	}
	for _, tt := range tests {
		if got := translateKey(tt.in); got != tt.want {
			t.Errorf("translateKey(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
