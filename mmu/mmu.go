package mmu

import "fmt"

// Flags describe the kind of access a translation is requested for.
type Flags uint8

const (
	// Write -> the access modifies memory
	Write Flags = 1 << iota

	// Instruction -> the access is an instruction fetch
	Instruction

	// NoExceptions -> probe only. a failed translation must not change guest
	// state (no exception, no fault registers updated)
	NoExceptions
)

// Read is the zero value of Flags: a data read that may raise exceptions.
const Read Flags = 0

func (f Flags) String() string {
	s := "read"
	if f&Write == Write {
		s = "write"
	}
	if f&Instruction == Instruction {
		s = "fetch"
	}
	if f&NoExceptions == NoExceptions {
		s += ",probe"
	}
	return s
}

// Status of a translation.
type Status int

const (
	Fault Status = iota
	ReadOnly
	Writable
)

func (s Status) String() string {
	switch s {
	case ReadOnly:
		return "ok-readonly"
	case Writable:
		return "ok-writable"
	}
	return "fault"
}

// Result of a successful translation.
type Result struct {
	PAddr  uint64
	Status Status
}

// Writable returns true if the translated page may be written.
func (r Result) Writable() bool {
	return r.Status == Writable
}

func (r Result) String() string {
	return fmt.Sprintf("%#x (%s)", r.PAddr, r.Status)
}
