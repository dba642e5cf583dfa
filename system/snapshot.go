package system

import (
	"time"

	"dtemu/dyntrans"
)

// CPUSnapshot is the state of one CPU.
type CPUSnapshot struct {
	dyntrans.Info
	Started   bool
	Paused    bool
	Registers []dyntrans.Register
}

// DeviceStats are the device counters.
type DeviceStats struct {
	ConsoleOut   uint64
	IRQAsserts   uint64
	IRQPending   uint32
	IPIs         uint64
	DiskReads    uint64
	DiskWrites   uint64
	PacketsSent  uint64
	PacketsRecv  uint64
	RTCTicks     uint64
	FBResizes    uint64
	FBResolution [2]int
}

// Snapshot is a consistent copy of the machine state for the front end.
type Snapshot struct {
	CPUs       []CPUSnapshot
	Executed   uint64
	CodeWrites uint64
	Elapsed    time.Duration
	Devices    DeviceStats

	// Trace lines, oldest first
	Trace []string
}

// MIPS returns the emulation speed in millions of instructions per second.
func (s *Snapshot) MIPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Executed) / s.Elapsed.Seconds() / 1e6
}

// Snapshot copies the machine state. It waits for the current round to end.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Executed:   m.executed,
		CodeWrites: m.Domain.CodeWrites,
	}
	if !m.begin.IsZero() {
		s.Elapsed = time.Since(m.begin)
	}
	for id, c := range m.CPUs {
		s.CPUs = append(s.CPUs, CPUSnapshot{
			Info:      c.Info(),
			Started:   m.started[id],
			Paused:    m.paused[id],
			Registers: c.Registers(),
		})
	}

	d := &s.Devices
	d.ConsoleOut = m.Console.Written
	if m.IRQC != nil {
		d.IRQAsserts = m.IRQC.Asserts
		d.IRQPending = m.IRQC.Pending()
	}
	if m.MP != nil {
		d.IPIs = m.MP.IPIs
	}
	if m.Disk != nil {
		d.DiskReads, d.DiskWrites = m.Disk.Reads, m.Disk.Writes
	}
	if m.NIC != nil {
		d.PacketsSent, d.PacketsRecv = m.NIC.Sent, m.NIC.Received
	}
	if m.RTC != nil {
		d.RTCTicks = m.RTC.Ticks
	}
	if m.Framebuffer != nil {
		d.FBResizes = m.Framebuffer.Resizes
		d.FBResolution[0], d.FBResolution[1] = m.Framebuffer.Resolution()
	}

	if m.Trace != nil {
		for _, e := range m.Trace.Entries() {
			s.Trace = append(s.Trace, e.String()+"  "+m.CPUs[e.CPU].Disassemble(e.PC, e.Word))
		}
	}
	return s
}
