package psw

/**
Program status register package (ARM CPSR/SPSR layout)
*/

// register layout. Values here are bits, not the
// powers of 2
const vFlag = 28
const cFlag = 29
const zFlag = 30
const nFlag = 31
const tFlag = 5
const fFlag = 6
const iFlag = 7

// processor modes
const (
	UserMode       = 0x10
	FIQMode        = 0x11
	IRQMode        = 0x12
	SupervisorMode = 0x13
	AbortMode      = 0x17
	UndefinedMode  = 0x1b
	SystemMode     = 0x1f
)

const modeMask = 0x1f

// PSW keeps the program status register
type PSW uint32

// Get returns current program status register
func (psw *PSW) Get() uint32 {
	return uint32(*psw)
}

// Set PSW value
func (psw *PSW) Set(p uint32) {
	*psw = PSW(p)
}

// GetMode returns the processor mode bits
func (psw *PSW) GetMode() uint32 {
	return uint32(*psw) & modeMask
}

// IsUserMode - only user mode is unprivileged
func (psw *PSW) IsUserMode() bool {
	return psw.GetMode() == UserMode
}

// SwitchMode sets the mode bits, leaving everything else alone
func (psw *PSW) SwitchMode(m uint32) {
	*psw = PSW(uint32(*psw)&^modeMask | m&modeMask)
}

// ValidMode checks if m is one of the defined processor modes
func ValidMode(m uint32) bool {
	switch m & modeMask {
	case UserMode, FIQMode, IRQMode, SupervisorMode, AbortMode, UndefinedMode, SystemMode:
		return true
	}
	return false
}

// C returns C flag:
func (psw *PSW) C() bool {
	return psw.getFlag(cFlag)
}

// SetC sets C flag
func (psw *PSW) SetC(status bool) {
	psw.setFlag(cFlag, status)
}

// V returns v flag
func (psw *PSW) V() bool {
	return psw.getFlag(vFlag)
}

// SetV sets processor V flag
func (psw *PSW) SetV(status bool) {
	psw.setFlag(vFlag, status)
}

// Z returns Z flag
func (psw *PSW) Z() bool {
	return psw.getFlag(zFlag)
}

// SetZ sets processor Z flag
func (psw *PSW) SetZ(status bool) {
	psw.setFlag(zFlag, status)
}

// N returns N flag
func (psw *PSW) N() bool {
	return psw.getFlag(nFlag)
}

// SetN sets processor N flag
func (psw *PSW) SetN(status bool) {
	psw.setFlag(nFlag, status)
}

// T returns the thumb state flag
func (psw *PSW) T() bool {
	return psw.getFlag(tFlag)
}

// I returns true if IRQs are disabled
func (psw *PSW) I() bool {
	return psw.getFlag(iFlag)
}

// SetI masks or unmasks IRQs
func (psw *PSW) SetI(status bool) {
	psw.setFlag(iFlag, status)
}

// F returns true if FIQs are disabled
func (psw *PSW) F() bool {
	return psw.getFlag(fFlag)
}

// SetF masks or unmasks FIQs
func (psw *PSW) SetF(status bool) {
	psw.setFlag(fFlag, status)
}

// SetNZ sets N and Z from a 32 bit result
func (psw *PSW) SetNZ(result uint32) {
	psw.setFlag(nFlag, result&0x80000000 != 0)
	psw.setFlag(zFlag, result == 0)
}

// generic get flag function
func (psw *PSW) getFlag(flag uint) bool {
	return (*psw & (1 << flag)) > 0
}

// generic set flag function
func (psw *PSW) setFlag(flag uint, status bool) {
	if status {
		*psw |= (1 << flag)
	} else {
		*psw &^= (1 << flag)
	}
}

// condition predicates, indexed by the 4 bit condition field
var conditions = [16]func(psw PSW) bool{
	func(p PSW) bool { return p.Z() },                      // EQ
	func(p PSW) bool { return !p.Z() },                     // NE
	func(p PSW) bool { return p.C() },                      // CS
	func(p PSW) bool { return !p.C() },                     // CC
	func(p PSW) bool { return p.N() },                      // MI
	func(p PSW) bool { return !p.N() },                     // PL
	func(p PSW) bool { return p.V() },                      // VS
	func(p PSW) bool { return !p.V() },                     // VC
	func(p PSW) bool { return p.C() && !p.Z() },            // HI
	func(p PSW) bool { return !p.C() || p.Z() },            // LS
	func(p PSW) bool { return p.N() == p.V() },             // GE
	func(p PSW) bool { return p.N() != p.V() },             // LT
	func(p PSW) bool { return !p.Z() && p.N() == p.V() },   // GT
	func(p PSW) bool { return p.Z() || p.N() != p.V() },    // LE
	func(p PSW) bool { return true },                       // AL
	func(p PSW) bool { return false },                      // NV
}

// Cond evaluates the condition field cond (0-15) against the flags
func (psw PSW) Cond(cond uint32) bool {
	return conditions[cond&0xf](psw)
}

// CondNames are the assembler suffixes of the condition codes
var CondNames = [16]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "", "nv"}

// GetFlags returns set flags
func (psw *PSW) GetFlags() string {
	var flags string
	switch psw.GetMode() {
	case UserMode:
		flags = "usr"
	case FIQMode:
		flags = "fiq"
	case IRQMode:
		flags = "irq"
	case SupervisorMode:
		flags = "svc"
	case AbortMode:
		flags = "abt"
	case UndefinedMode:
		flags = "und"
	case SystemMode:
		flags = "sys"
	default:
		flags = "???"
	}
	flags += " "

	if psw.N() {
		flags += "N"
	} else {
		flags += " "
	}
	if psw.Z() {
		flags += "Z"
	} else {
		flags += " "
	}
	if psw.C() {
		flags += "C"
	} else {
		flags += " "
	}
	if psw.V() {
		flags += "V"
	} else {
		flags += " "
	}
	if psw.I() {
		flags += "I"
	} else {
		flags += " "
	}
	if psw.F() {
		flags += "F"
	} else {
		flags += " "
	}
	return "[" + flags + "]"
}
