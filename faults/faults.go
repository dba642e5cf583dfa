package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault raised while executing guest code.
type Kind int

// Fault kinds. TranslationFault and AlignmentFault are guest visible and are
// turned into guest exceptions; the rest stop the CPU.
const (
	TranslationFault Kind = iota
	AlignmentFault
	OutOfRange
	BusError
	Unimplemented
)

var kindNames = [...]string{
	TranslationFault: "translation fault",
	AlignmentFault:   "alignment fault",
	OutOfRange:       "physical address out of range",
	BusError:         "bus error",
	Unimplemented:    "unimplemented instruction",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// Fatal returns true for fault kinds that stop the CPU rather than being
// delivered to the guest.
func (k Kind) Fatal() bool {
	return k == OutOfRange || k == Unimplemented
}

// Fault describes a failed memory access or instruction.
type Fault struct {
	Kind Kind

	// Addr is the faulting address. Virtual for translation and alignment
	// faults, physical for OutOfRange and BusError.
	Addr uint64

	// PC of the instruction that raised the fault, when known
	PC uint64

	Write bool

	// Raised is true once the fault has been delivered to the guest as an
	// exception (PC already points at the exception vector).
	Raised bool

	Msg string
}

func (f *Fault) Error() string {
	access := "read"
	if f.Write {
		access = "write"
	}
	if f.Msg != "" {
		return fmt.Sprintf("%s: %s %#x (pc %#x): %s", f.Kind, access, f.Addr, f.PC, f.Msg)
	}
	return fmt.Sprintf("%s: %s %#x (pc %#x)", f.Kind, access, f.Addr, f.PC)
}

// New returns a fault of the given kind.
func New(kind Kind, addr uint64, write bool, format string, args ...interface{}) *Fault {
	return &Fault{
		Kind:  kind,
		Addr:  addr,
		Write: write,
		Msg:   fmt.Sprintf(format, args...),
	}
}

// Is checks whether err is, or wraps, a fault of the given kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// IsFatal checks whether err is a fault that must stop the CPU. Errors which
// are not faults are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind.Fatal()
	}
	return true
}

// Raised checks whether err is a fault already delivered to the guest.
func Raised(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Raised
	}
	return false
}
