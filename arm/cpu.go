// Package arm implements an ARMv4 processor (ARM state only) on top of the
// dyntrans engine: banked registers for the privileged modes, conditional
// execution, the load/store multiple family and a CP15 system control
// coprocessor with a section and coarse page table MMU.
package arm

import (
	"fmt"

	"dtemu/dyntrans"
	"dtemu/faults"
	"dtemu/memory"
	"dtemu/psw"
)

// CPU is an ARM processor.
type CPU = dyntrans.CPU[State]

// Call is a translated ARM instruction.
type Call = dyntrans.Call[State]

// Handler executes a translated ARM instruction.
type Handler = dyntrans.Handler[State]

// Geometry of ARM translation pages: 4 KiB pages, 4 byte instructions.
var Geometry = dyntrans.Geometry{PageShift: 12, InstrShift: 2}

// State is the ARM register file.
type State struct {
	// R[15] is not used, the program counter lives in the engine. r15 reads
	// as the instruction address plus 8, see read()
	R    [16]uint32
	CPSR psw.PSW
	SPSR psw.PSW

	// r13, r14 and SPSR of the modes not currently active
	banks [nbanks]bank

	// r8-r12 of the FIQ mode while another mode is active, and the other
	// modes' r8-r12 while in FIQ mode
	fiqHi, usrHi [5]uint32

	CP15 CP15
}

type bank struct {
	SP, LR uint32
	SPSR   psw.PSW
}

const (
	bankUsr = iota
	bankFIQ
	bankIRQ
	bankSvc
	bankAbt
	bankUnd
	nbanks
)

func bankIndex(mode uint32) int {
	switch mode {
	case psw.FIQMode:
		return bankFIQ
	case psw.IRQMode:
		return bankIRQ
	case psw.SupervisorMode:
		return bankSvc
	case psw.AbortMode:
		return bankAbt
	case psw.UndefinedMode:
		return bankUnd
	}
	return bankUsr
}

// CP15 holds the system control coprocessor registers.
type CP15 struct {
	Control uint32
	TTBR    uint32
	DACR    uint32
	FSR     uint32
	FAR     uint32
}

// Control register bits
const (
	CtrlM = 1 << 0
	CtrlA = 1 << 1
	CtrlS = 1 << 8
	CtrlR = 1 << 9
	CtrlV = 1 << 13

	// bits 4-6 read as one
	ctrlFixed = 0x70
	ctrlMask  = CtrlM | CtrlA | CtrlS | CtrlR | CtrlV | 0x1f0c
)

// MainID is the value of CP15 register 0, an ARM920T.
const MainID = 0x41129200

// exception vectors
const (
	VectorReset         = 0x00
	VectorUndefined     = 0x04
	VectorSWI           = 0x08
	VectorPrefetchAbort = 0x0c
	VectorDataAbort     = 0x10
	VectorIRQ           = 0x18
	VectorFIQ           = 0x1c

	highVectors = 0xffff0000
)

// Arch implements dyntrans.Arch for ARM.
type Arch struct{}

// Name implements dyntrans.Arch.
func (Arch) Name() string {
	return "arm"
}

// New creates an ARM CPU. cfg.Geometry is overridden.
func New(cfg dyntrans.Config, mem *memory.Store) *CPU {
	cfg.Geometry = Geometry
	c := dyntrans.NewCPU[State](cfg, Arch{}, mem)
	c.Translator = &MMU{c: c}
	return c
}

// Reset clears the register file and starts the CPU in supervisor mode at pc
// with interrupts disabled and the MMU off.
func Reset(c *CPU, pc uint64) {
	c.State = State{}
	c.State.CPSR.Set(psw.SupervisorMode)
	c.State.CPSR.SetI(true)
	c.State.CPSR.SetF(true)
	c.State.CP15.Control = ctrlFixed
	c.FlushTLB()
	c.Reset(pc)
}

// read returns register r as seen by the executing instruction.
func read(c *CPU, r uint64) uint32 {
	if r == 15 {
		return uint32(c.InstrPC()) + 8
	}
	return c.State.R[r]
}

// write sets register r. Writing r15 is a jump.
func write(c *CPU, r uint64, v uint32) {
	if r == 15 {
		c.Branch(uint64(v &^ 3))
		return
	}
	c.State.R[r] = v
}

// setMode switches the processor mode, swapping banked registers. Leaving or
// entering user mode changes the access permissions of every page, so the
// fast TLB is dropped.
func setMode(c *CPU, mode uint32) {
	s := &c.State
	old := s.CPSR.GetMode()
	mode &= 0x1f
	if old == mode {
		return
	}
	ob, nb := bankIndex(old), bankIndex(mode)
	if ob != nb {
		s.banks[ob] = bank{SP: s.R[13], LR: s.R[14], SPSR: s.SPSR}
		s.R[13], s.R[14], s.SPSR = s.banks[nb].SP, s.banks[nb].LR, s.banks[nb].SPSR
	}
	switch {
	case old == psw.FIQMode:
		copy(s.fiqHi[:], s.R[8:13])
		copy(s.R[8:13], s.usrHi[:])
	case mode == psw.FIQMode:
		copy(s.usrHi[:], s.R[8:13])
		copy(s.R[8:13], s.fiqHi[:])
	}
	s.CPSR.SwitchMode(mode)
	if (old == psw.UserMode) != (mode == psw.UserMode) {
		c.FlushTLB()
	}
}

// hasSPSR is false in the modes without a saved program status register.
func hasSPSR(s *State) bool {
	m := s.CPSR.GetMode()
	return m != psw.UserMode && m != psw.SystemMode
}

// restoreCPSR copies SPSR into CPSR on exception return.
func restoreCPSR(c *CPU) {
	s := &c.State
	if !hasSPSR(s) {
		return
	}
	spsr := s.SPSR
	if psw.ValidMode(spsr.Get()) {
		setMode(c, spsr.GetMode())
	}
	s.CPSR.Set(spsr.Get()&^0x1f | s.CPSR.GetMode())
}

// userReg reads register r of the user bank, for the S forms of ldm/stm.
func userReg(c *CPU, r int) uint32 {
	s := &c.State
	m := s.CPSR.GetMode()
	switch {
	case r == 15:
		return uint32(c.InstrPC()) + 12
	case r >= 13 && bankIndex(m) != bankUsr:
		if r == 13 {
			return s.banks[bankUsr].SP
		}
		return s.banks[bankUsr].LR
	case r >= 8 && r < 13 && m == psw.FIQMode:
		return s.usrHi[r-8]
	}
	return s.R[r]
}

func setUserReg(c *CPU, r int, v uint32) {
	s := &c.State
	m := s.CPSR.GetMode()
	switch {
	case r >= 13 && bankIndex(m) != bankUsr:
		if r == 13 {
			s.banks[bankUsr].SP = v
		} else {
			s.banks[bankUsr].LR = v
		}
	case r >= 8 && r < 13 && m == psw.FIQMode:
		s.usrHi[r-8] = v
	default:
		s.R[r] = v
	}
}

// exception enters mode at vector with lr as the return address.
func exception(c *CPU, mode, vector, lr uint32) {
	s := &c.State
	saved := s.CPSR
	setMode(c, mode)
	s.SPSR = saved
	s.R[14] = lr
	s.CPSR.SetI(true)
	if mode == psw.FIQMode {
		s.CPSR.SetF(true)
	}
	if s.CP15.Control&CtrlV != 0 {
		vector |= highVectors
	}
	c.Exception(uint64(vector))
}

// undefined raises the undefined instruction exception.
func undefined(c *CPU, _ *Call) {
	exception(c, psw.UndefinedMode, VectorUndefined, uint32(c.InstrPC())+4)
}

// dataAbort records the fault status and raises a data abort for the
// executing instruction.
func dataAbort(c *CPU, status, domain, addr uint32) {
	c.State.CP15.FSR = domain<<4 | status
	c.State.CP15.FAR = addr
	exception(c, psw.AbortMode, VectorDataAbort, uint32(c.FaultPC())+8)
}

// Fault implements dyntrans.Arch.
func (Arch) Fault(c *CPU, f *faults.Fault) {
	switch f.Kind {
	case faults.AlignmentFault:
		dataAbort(c, fsrAlignment, 0, uint32(f.Addr))
	default:
		dataAbort(c, fsrExternal, 0, uint32(f.Addr))
	}
}

// Interrupt implements dyntrans.Arch. Every interrupt input is routed to
// IRQ.
func (Arch) Interrupt(c *CPU) bool {
	if c.IRQ() == 0 || c.State.CPSR.I() {
		return false
	}
	exception(c, psw.IRQMode, VectorIRQ, uint32(c.FaultPC())+4)
	return true
}

// ModeName returns the short name of a processor mode.
func ModeName(mode uint32) string {
	p := psw.PSW(mode)
	return p.GetFlags()[1:4]
}

// Core adapts an ARM CPU to the machine.
type Core struct {
	*CPU
}

// Start resets the CPU to run from pc with stack pointer sp.
func (k Core) Start(pc, sp uint64) {
	Reset(k.CPU, pc)
	k.State.R[13] = uint32(sp)
}

// Registers returns the register file for display.
func (k Core) Registers() []dyntrans.Register {
	s := &k.State
	regs := make([]dyntrans.Register, 0, 24)
	for i := 0; i < 13; i++ {
		regs = append(regs, dyntrans.Register{Name: fmt.Sprintf("r%d", i), Value: uint64(s.R[i])})
	}
	regs = append(regs,
		dyntrans.Register{Name: "sp", Value: uint64(s.R[13])},
		dyntrans.Register{Name: "lr", Value: uint64(s.R[14])},
		dyntrans.Register{Name: "pc", Value: k.PC},
		dyntrans.Register{Name: "cpsr", Value: uint64(s.CPSR)},
		dyntrans.Register{Name: "spsr", Value: uint64(s.SPSR)},
		dyntrans.Register{Name: "control", Value: uint64(s.CP15.Control)},
		dyntrans.Register{Name: "ttbr", Value: uint64(s.CP15.TTBR)},
		dyntrans.Register{Name: "fsr", Value: uint64(s.CP15.FSR)},
		dyntrans.Register{Name: "far", Value: uint64(s.CP15.FAR)},
	)
	return regs
}

// Disassemble returns the assembly text of word at pc.
func (k Core) Disassemble(pc uint64, word uint32) string {
	return Disassemble(uint32(pc), word)
}
