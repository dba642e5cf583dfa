package ether

import (
	"encoding/binary"
	"testing"

	"dtemu/interrupts"
	"dtemu/logger"
	"dtemu/memory"
)

type irqInput struct {
	asserted bool
}

func (i *irqInput) SetIRQ(_ int, asserted bool) {
	i.asserted = asserted
}

func newTestNIC(net Network) (*NIC, *irqInput) {
	cpu := &irqInput{}
	irqc := interrupts.NewController(cpu, interrupts.InputIRQC)
	irqc.Access(&memory.Request{Offset: interrupts.RegUnmask, Data: []byte{interrupts.Ether}, Write: true})
	n := New([6]byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}, net, irqc.Line(interrupts.Ether), logger.Discard())
	return n, cpu
}

func reg(n *NIC, off uint64, write bool, v uint64) uint64 {
	req := &memory.Request{Offset: off, Data: make([]byte, 4), Write: write, Order: binary.LittleEndian}
	if write {
		req.SetValue(v)
	}
	n.Access(req)
	return req.Value()
}

func send(n *NIC, payload string) {
	n.Access(&memory.Request{Offset: RegBuffer, Data: []byte(payload), Write: true})
	reg(n, RegPacketLength, true, uint64(len(payload)))
	reg(n, RegCommand, true, CmdTX)
}

func TestNIC_Loopback(t *testing.T) {
	n, cpu := newTestNIC(nil)
	send(n, "first")
	send(n, "second")
	if !cpu.asserted {
		t.Fatalf("ether irq not asserted after loopback")
	}

	tests := []struct {
		name       string
		want       string
		wantStatus uint64
		wantIRQ    bool
	}{
		{"first packet", "first", StatusPacketReceived | StatusMorePacketsAvailable, true},
		{"second packet", "second", StatusPacketReceived, false},
		{"empty queue", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg(n, RegCommand, true, CmdRX)
			if st := reg(n, RegStatus, false, 0); st != tt.wantStatus {
				t.Errorf("STATUS = %d, want %d", st, tt.wantStatus)
			}
			l := reg(n, RegPacketLength, false, 0)
			buf := make([]byte, l)
			n.Access(&memory.Request{Offset: RegBuffer, Data: buf})
			if string(buf) != tt.want {
				t.Errorf("packet = %q, want %q", buf, tt.want)
			}
			if cpu.asserted != tt.wantIRQ {
				t.Errorf("ether irq = %v, want %v", cpu.asserted, tt.wantIRQ)
			}
		})
	}
}

func TestNIC_MAC(t *testing.T) {
	n, _ := newTestNIC(nil)
	b := make([]byte, 6)
	if !n.Access(&memory.Request{Offset: RegMAC, Data: b}) {
		t.Fatal("MAC read refused")
	}
	if b[0] != 0x10 || b[5] != 0x60 {
		t.Errorf("MAC = % x", b)
	}
	if n.MACString() != "10:20:30:40:50:60" {
		t.Errorf("MACString() = %s", n.MACString())
	}
	if n.Access(&memory.Request{Offset: RegMAC + 4, Data: make([]byte, 8)}) {
		t.Errorf("read past MAC accepted")
	}
}

func TestHub(t *testing.T) {
	hub := &Hub{}
	a, _ := newTestNIC(nil)
	b, irqB := newTestNIC(nil)
	hub.Attach(a)
	hub.Attach(b)

	send(a, "ping")
	if a.Received != 0 || b.Received != 1 || !irqB.asserted {
		t.Errorf("received a=%d b=%d, want 0 and 1", a.Received, b.Received)
	}

	for i := 0; i < MaxQueued+1; i++ {
		send(a, "x")
	}
	if b.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", b.Dropped)
	}
}
