package mp

import (
	"encoding/binary"
	"testing"

	"dtemu/logger"
	"dtemu/memory"
)

type fakeCPU struct {
	pc, sp   uint64
	started  bool
	paused   bool
	ipi      bool
	executed uint64
}

type fakeMachine struct {
	cpus []*fakeCPU
}

func newFakeMachine(n int) *fakeMachine {
	m := &fakeMachine{}
	for i := 0; i < n; i++ {
		m.cpus = append(m.cpus, &fakeCPU{executed: uint64(1000 * (i + 1))})
	}
	return m
}

func (m *fakeMachine) NCPUs() int { return len(m.cpus) }
func (m *fakeMachine) StartCPU(id int, pc, sp uint64) error {
	m.cpus[id].pc, m.cpus[id].sp, m.cpus[id].started = pc, sp, true
	return nil
}
func (m *fakeMachine) PauseCPU(id int, paused bool) { m.cpus[id].paused = paused }
func (m *fakeMachine) Executed(id int) uint64 { return m.cpus[id].executed }
func (m *fakeMachine) SetIPI(id int, asserted bool) { m.cpus[id].ipi = asserted }
func (m *fakeMachine) RAMSize() uint64 { return 32 << 20 }

func reg(t *testing.T, d *MP, cpu int, off uint64, write bool, v uint64) uint64 {
	t.Helper()
	req := &memory.Request{CPU: cpu, Offset: off, Data: make([]byte, 8), Write: write, Order: binary.BigEndian}
	if write {
		req.SetValue(v)
	}
	if !d.Access(req) {
		t.Fatalf("access to %#x refused", off)
	}
	return req.Value()
}

func TestMP_Read(t *testing.T) {
	m := newFakeMachine(4)
	d := New(m, 1, logger.Discard())

	tests := []struct {
		name string
		cpu  int
		off  uint64
		want uint64
	}{
		{"whoami cpu 0", 0, RegWhoAmI, 0},
		{"whoami cpu 3", 3, RegWhoAmI, 3},
		{"ncpus", 1, RegNCPUs, 4},
		{"memory", 0, RegMemory, 32 << 20},
		{"ncycles", 2, RegNCycles, 3000},
		{"no ipi", 1, RegIPIRead, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg(t, d, tt.cpu, tt.off, false, 0); got != tt.want {
				t.Errorf("read %#x on cpu %d = %d, want %d", tt.off, tt.cpu, got, tt.want)
			}
		})
	}
	if reg(t, d, 0, RegHardwareRandom, false, 0) == reg(t, d, 0, RegHardwareRandom, false, 0) {
		t.Errorf("HARDWARE_RANDOM returned the same value twice")
	}
}

func TestMP_Startup(t *testing.T) {
	m := newFakeMachine(2)
	d := New(m, 1, logger.Discard())
	reg(t, d, 0, RegStartupAddr, true, 0x80001000)
	reg(t, d, 0, RegStartupStack, true, 0x80200000)
	reg(t, d, 0, RegStartupCPU, true, 1)
	if c := m.cpus[1]; !c.started || c.pc != 0x80001000 || c.sp != 0x80200000 {
		t.Errorf("cpu 1 = %+v, want started at 0x80001000 with stack 0x80200000", *c)
	}
	reg(t, d, 1, RegStartupCPU, true, 0)
	if !m.cpus[0].started {
		t.Errorf("cpu 0 not started")
	}
	req := &memory.Request{Offset: RegStartupCPU, Data: make([]byte, 4), Write: true, Order: binary.BigEndian}
	req.SetValue(2)
	if d.Access(req) {
		t.Errorf("startup of missing cpu 2 accepted")
	}

	reg(t, d, 1, RegPauseCPU, true, 1)
	if !m.cpus[0].paused || m.cpus[1].paused {
		t.Errorf("PAUSE_CPU 1: paused = %v %v, want true false", m.cpus[0].paused, m.cpus[1].paused)
	}
	reg(t, d, 1, RegUnpauseCPU, true, 0)
	if m.cpus[0].paused {
		t.Errorf("UNPAUSE_CPU 0 left cpu 0 paused")
	}
}

func TestMP_IPI(t *testing.T) {
	m := newFakeMachine(3)
	d := New(m, 1, logger.Discard())

	reg(t, d, 0, RegIPIOne, true, 7<<16|2)
	reg(t, d, 1, RegIPIOne, true, 8<<16|2)
	reg(t, d, 2, RegIPIMany, true, 9<<16)
	tests := []struct {
		name    string
		cpu     int
		want    uint64
		wantIPI bool
		pending int
	}{
		{"cpu 2 first ipi", 2, 7, true, 1},
		{"cpu 2 second ipi", 2, 8, false, 0},
		{"cpu 2 drained", 2, 0, false, 0},
		{"cpu 0 broadcast", 0, 9, false, 0},
		{"cpu 1 broadcast", 1, 9, false, 0},
	}
	if !m.cpus[2].ipi {
		t.Fatalf("ipi line of cpu 2 not asserted")
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg(t, d, tt.cpu, RegIPIRead, false, 0)
			if got != tt.want {
				t.Errorf("IPI_READ = %d, want %d", got, tt.want)
			}
			if m.cpus[tt.cpu].ipi != tt.wantIPI || d.Pending(tt.cpu) != tt.pending {
				t.Errorf("ipi line %v pending %d, want %v %d", m.cpus[tt.cpu].ipi, d.Pending(tt.cpu), tt.wantIPI, tt.pending)
			}
		})
	}
	if d.IPIs != 4 {
		t.Errorf("IPIs = %d, want 4", d.IPIs)
	}
}
