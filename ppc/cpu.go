// Package ppc implements a 32-bit PowerPC processor (603 class, integer
// UISA subset plus the supervisor MSR/SPR/BAT model) on top of the dyntrans
// engine. Address translation uses the block address translation registers
// only; hashed page tables are not emulated.
package ppc

import (
	"encoding/binary"

	"dtemu/dyntrans"
	"dtemu/faults"
	"dtemu/memory"
)

// CPU is a PowerPC processor.
type CPU = dyntrans.CPU[State]

// Call is a translated PowerPC instruction.
type Call = dyntrans.Call[State]

// Handler executes a translated PowerPC instruction.
type Handler = dyntrans.Handler[State]

// Geometry of PowerPC translation pages: 4 KiB pages, 4 byte instructions.
var Geometry = dyntrans.Geometry{PageShift: 12, InstrShift: 2}

// State is the PowerPC register file.
type State struct {
	GPR [32]uint32

	CR, XER, LR, CTR uint32

	MSR        uint32
	SRR0, SRR1 uint32
	DAR, DSISR uint32
	SPRG       [4]uint32
	DEC        uint32
	SDR1       uint32
	SR         [16]uint32

	IBAT, DBAT [4]BAT
}

// MSR bits
const (
	MSREE = 1 << 15 // external interrupts enabled
	MSRPR = 1 << 14 // problem state
	MSRFP = 1 << 13
	MSRME = 1 << 12
	MSRIP = 1 << 6 // exception prefix
	MSRIR = 1 << 5 // instruction relocation
	MSRDR = 1 << 4 // data relocation
	MSRRI = 1 << 1
	MSRLE = 1 << 0
)

// the MSR bits saved in SRR1 on an exception
const srr1Mask = 0x87c0ffff

// XER bits
const (
	XERSO = 1 << 31
	XEROV = 1 << 30
	XERCA = 1 << 29
)

// CR field bits
const (
	crLT = 8
	crGT = 4
	crEQ = 2
	crSO = 1
)

// SRR1 bits of a program exception
const (
	ProgramIllegal    = 1 << 19
	ProgramPrivileged = 1 << 18
	ProgramTrap       = 1 << 17
)

// DSISR bits, also used in SRR1 for instruction storage exceptions
const (
	DSISRNoTranslation = 1 << 30
	DSISRProtection    = 1 << 27
	DSISRStore         = 1 << 25
)

// exception vector offsets
const (
	VectorReset        = 0x100
	VectorMachineCheck = 0x200
	VectorDSI          = 0x300
	VectorISI          = 0x400
	VectorExternal     = 0x500
	VectorAlignment    = 0x600
	VectorProgram      = 0x700
	VectorSyscall      = 0xc00

	// MSR[IP] moves the vectors here
	highVectors = 0xfff00000
)

// PVR of a 603e
const PVR = 0x00060101

// Arch implements dyntrans.Arch for PowerPC.
type Arch struct{}

// Name implements dyntrans.Arch.
func (Arch) Name() string {
	return "ppc"
}

// New creates a PowerPC CPU. The guest is big endian and integer accesses
// need not be aligned; cfg.Geometry, cfg.Order and cfg.AllowUnaligned are
// overridden.
func New(cfg dyntrans.Config, mem *memory.Store) *CPU {
	cfg.Geometry = Geometry
	cfg.Order = binary.BigEndian
	cfg.AllowUnaligned = true
	c := dyntrans.NewCPU[State](cfg, Arch{}, mem)
	c.Translator = &MMU{c: c}
	return c
}

// Reset clears the register file and starts the CPU in supervisor state at
// pc with translation and external interrupts off.
func Reset(c *CPU, pc uint64) {
	c.State = State{MSR: MSRME}
	c.FlushTLB()
	c.Reset(pc)
}

// Fault implements dyntrans.Arch.
func (Arch) Fault(c *CPU, f *faults.Fault) {
	s := &c.State
	switch f.Kind {
	case faults.AlignmentFault:
		s.DAR = uint32(f.Addr)
		s.DSISR = 0
		exception(c, VectorAlignment, uint32(c.FaultPC()), 0)
	default:
		exception(c, VectorMachineCheck, uint32(c.FaultPC()), 0)
	}
}

// Interrupt implements dyntrans.Arch.
func (Arch) Interrupt(c *CPU) bool {
	if c.IRQ() == 0 || c.State.MSR&MSREE == 0 {
		return false
	}
	exception(c, VectorExternal, uint32(c.FaultPC()), 0)
	return true
}

// exception saves the return address srr0 and the MSR (with the extra SRR1
// bits) and enters the handler at the vector offset in supervisor state with
// translation off.
func exception(c *CPU, vector uint32, srr0 uint32, srr1 uint32) {
	s := &c.State
	s.SRR0 = srr0
	s.SRR1 = s.MSR&srr1Mask | srr1
	setMSR(c, s.MSR&(MSRIP|MSRME))

	v := uint64(vector)
	if s.MSR&MSRIP != 0 {
		v |= highVectors
	}
	c.Exception(v)
}

// setMSR changes the MSR, dropping cached translations when the privilege
// level or the relocation bits change.
func setMSR(c *CPU, v uint32) {
	s := &c.State
	if (s.MSR^v)&(MSRPR|MSRIR|MSRDR) != 0 {
		c.FlushTLB()
	}
	s.MSR = v
}

// program raises a program exception for the instruction being executed.
func program(c *CPU, reason uint32) {
	exception(c, VectorProgram, uint32(c.InstrPC()), reason)
}

// Core adapts a PowerPC CPU to the machine.
type Core struct {
	*CPU
}

// Start resets the CPU to run from pc with stack pointer sp.
func (k Core) Start(pc, sp uint64) {
	Reset(k.CPU, pc)
	k.State.GPR[1] = uint32(sp)
}

// Registers returns the register file for display.
func (k Core) Registers() []dyntrans.Register {
	s := &k.State
	regs := make([]dyntrans.Register, 0, 42)
	regs = append(regs, dyntrans.Register{Name: "pc", Value: k.PC})
	for i := range s.GPR {
		regs = append(regs, dyntrans.Register{Name: regNames[i], Value: uint64(s.GPR[i])})
	}
	regs = append(regs,
		dyntrans.Register{Name: "cr", Value: uint64(s.CR)},
		dyntrans.Register{Name: "xer", Value: uint64(s.XER)},
		dyntrans.Register{Name: "lr", Value: uint64(s.LR)},
		dyntrans.Register{Name: "ctr", Value: uint64(s.CTR)},
		dyntrans.Register{Name: "msr", Value: uint64(s.MSR)},
		dyntrans.Register{Name: "srr0", Value: uint64(s.SRR0)},
		dyntrans.Register{Name: "srr1", Value: uint64(s.SRR1)},
		dyntrans.Register{Name: "dar", Value: uint64(s.DAR)},
		dyntrans.Register{Name: "dsisr", Value: uint64(s.DSISR)},
	)
	return regs
}

// Disassemble returns the assembly text of word at pc.
func (k Core) Disassemble(pc uint64, word uint32) string {
	return Disassemble(uint32(pc), word)
}
