// Package mips implements a MIPS I (R3000 class) processor on top of the
// dyntrans engine: 32 general purpose registers, HI/LO, system control
// coprocessor 0 with a 64 entry software managed TLB, branch delay slots and
// both byte orders.
package mips

import (
	"fmt"

	"dtemu/dyntrans"
	"dtemu/faults"
	"dtemu/memory"
)

// CPU is a MIPS processor.
type CPU = dyntrans.CPU[State]

// Call is a translated MIPS instruction.
type Call = dyntrans.Call[State]

// Handler executes a translated MIPS instruction.
type Handler = dyntrans.Handler[State]

// Geometry of MIPS translation pages: 4 KiB pages, 4 byte instructions.
var Geometry = dyntrans.Geometry{PageShift: 12, InstrShift: 2}

// sink is the register written instead of $zero, so that no handler needs
// to special case it
const sink = 32

// State is the MIPS register file.
type State struct {
	// GPR[0] is always zero. GPR[32] absorbs writes to $zero
	GPR    [33]uint32
	HI, LO uint32

	CP0 [32]uint32
	TLB [TLBEntries]TLBEntry
}

// coprocessor 0 register numbers
const (
	CP0Index    = 0
	CP0Random   = 1
	CP0EntryLo  = 2
	CP0Context  = 4
	CP0BadVAddr = 8
	CP0EntryHi  = 10
	CP0Status   = 12
	CP0Cause    = 13
	CP0EPC      = 14
	CP0PRId     = 15
)

// Status register bits
const (
	StatusIEc = 1 << 0
	StatusKUc = 1 << 1
	StatusIEp = 1 << 2
	StatusKUp = 1 << 3
	StatusIEo = 1 << 4
	StatusKUo = 1 << 5
	StatusIM  = 0xff00
	StatusBEV = 1 << 22
	StatusCU0 = 1 << 28
)

// Cause register bits
const (
	CauseBD      = 1 << 31
	CauseIP      = 0xff00
	CauseSoftIP  = 0x0300
	CauseExcCode = 0x7c
)

// exception codes
const (
	ExcInt  = 0
	ExcMod  = 1
	ExcTLBL = 2
	ExcTLBS = 3
	ExcAdEL = 4
	ExcAdES = 5
	ExcIBE  = 6
	ExcDBE  = 7
	ExcSys  = 8
	ExcBp   = 9
	ExcRI   = 10
	ExcCpU  = 11
	ExcOv   = 12
)

var excNames = map[uint32]string{
	ExcInt: "Int", ExcMod: "Mod", ExcTLBL: "TLBL", ExcTLBS: "TLBS", ExcAdEL: "AdEL", ExcAdES: "AdES",
	ExcIBE: "IBE", ExcDBE: "DBE", ExcSys: "Sys", ExcBp: "Bp", ExcRI: "RI", ExcCpU: "CpU", ExcOv: "Ov",
}

// exception vectors
const (
	VectorUTLBMiss    = 0x80000000
	VectorGeneral     = 0x80000080
	VectorBEVUTLBMiss = 0xbfc00100
	VectorBEVGeneral  = 0xbfc00180
)

// PRId of an R3000A
const PRId = 0x0230

// CPU interrupt inputs are wired to hardware interrupt bits IP2 and up
const (
	inputSoftware = 7
	hwIPShift     = 10
)

// Arch implements dyntrans.Arch for MIPS.
type Arch struct{}

// Name implements dyntrans.Arch.
func (Arch) Name() string {
	return "mips"
}

// New creates a MIPS CPU. cfg.Geometry is overridden.
func New(cfg dyntrans.Config, mem *memory.Store) *CPU {
	cfg.Geometry = Geometry
	c := dyntrans.NewCPU[State](cfg, Arch{}, mem)
	c.Translator = &MMU{c: c}
	return c
}

// Reset clears the register file and starts the CPU in kernel mode at pc
// with interrupts disabled and exception vectors in kseg0.
func Reset(c *CPU, pc uint64) {
	c.State = State{}
	c.State.CP0[CP0PRId] = PRId
	c.FlushTLB()
	c.SetIRQ(inputSoftware, false)
	c.Reset(pc)
}

// Fault implements dyntrans.Arch.
func (Arch) Fault(c *CPU, f *faults.Fault) {
	switch f.Kind {
	case faults.AlignmentFault:
		code := uint32(ExcAdEL)
		if f.Write {
			code = ExcAdES
		}
		c.State.CP0[CP0BadVAddr] = uint32(f.Addr)
		exception(c, code, false)
	default:
		exception(c, ExcDBE, false)
	}
}

// Interrupt implements dyntrans.Arch.
func (Arch) Interrupt(c *CPU) bool {
	s := &c.State
	cause := updateCause(c)
	if s.CP0[CP0Status]&StatusIEc == 0 || cause&s.CP0[CP0Status]&StatusIM == 0 {
		return false
	}
	exception(c, ExcInt, false)
	return true
}

// updateCause merges the CPU interrupt inputs into the IP bits of Cause.
func updateCause(c *CPU) uint32 {
	s := &c.State
	hw := (c.IRQ() & 0x3f) << hwIPShift
	s.CP0[CP0Cause] = s.CP0[CP0Cause]&^(CauseIP&^CauseSoftIP) | hw
	return s.CP0[CP0Cause]
}

// exception enters the exception handler. utlb selects the UTLB miss vector.
func exception(c *CPU, code uint32, utlb bool) {
	s := &c.State
	pc := uint32(c.FaultPC())
	cause := s.CP0[CP0Cause] &^ (CauseBD | CauseExcCode)
	if c.InDelaySlot() {
		pc -= 4
		cause |= CauseBD
	}
	s.CP0[CP0EPC] = pc
	s.CP0[CP0Cause] = cause | code<<2

	// push the KU/IE stack
	st := s.CP0[CP0Status]
	s.CP0[CP0Status] = st&^0x3f | st<<2&0x3c

	var vector uint64
	switch {
	case st&StatusBEV != 0 && utlb:
		vector = VectorBEVUTLBMiss
	case st&StatusBEV != 0:
		vector = VectorBEVGeneral
	case utlb:
		vector = VectorUTLBMiss
	default:
		vector = VectorGeneral
	}
	c.Exception(vector)
}

// ExceptionName returns the mnemonic of an exception code.
func ExceptionName(code uint32) string {
	if n, ok := excNames[code]; ok {
		return n
	}
	return fmt.Sprintf("exc%d", code)
}

// Core adapts a MIPS CPU to the machine.
type Core struct {
	*CPU
}

// Start resets the CPU to run from pc with stack pointer sp.
func (k Core) Start(pc, sp uint64) {
	Reset(k.CPU, pc)
	k.State.GPR[29] = uint32(sp)
}

// Registers returns the register file for display.
func (k Core) Registers() []dyntrans.Register {
	s := &k.State
	regs := make([]dyntrans.Register, 0, 40)
	regs = append(regs, dyntrans.Register{Name: "pc", Value: k.PC})
	for i := 1; i < 32; i++ {
		regs = append(regs, dyntrans.Register{Name: regNames[i], Value: uint64(s.GPR[i])})
	}
	regs = append(regs,
		dyntrans.Register{Name: "hi", Value: uint64(s.HI)},
		dyntrans.Register{Name: "lo", Value: uint64(s.LO)},
		dyntrans.Register{Name: "status", Value: uint64(s.CP0[CP0Status])},
		dyntrans.Register{Name: "cause", Value: uint64(s.CP0[CP0Cause])},
		dyntrans.Register{Name: "epc", Value: uint64(s.CP0[CP0EPC])},
		dyntrans.Register{Name: "badvaddr", Value: uint64(s.CP0[CP0BadVAddr])},
	)
	return regs
}

// Disassemble returns the assembly text of word at pc.
func (k Core) Disassemble(pc uint64, word uint32) string {
	return Disassemble(uint32(pc), word)
}
