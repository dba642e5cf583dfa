package ppc

import (
	"dtemu/faults"
	"dtemu/mmu"
)

// BAT is one block address translation register pair.
type BAT struct {
	Upper, Lower uint32
}

// BAT fields
const (
	batBEPI = 0xfffe0000
	batBL   = 0x00001ffc
	batVs   = 1 << 1
	batVp   = 1 << 0
	batBRPN = 0xfffe0000
	batPP   = 0x3
)

// page protection values
const (
	ppNoAccess  = 0
	ppReadOnly  = 1
	ppReadWrite = 2
)

// match reports whether the BAT maps va for the given privilege and returns
// the physical address.
func (b BAT) match(va uint32, user bool) (uint32, bool) {
	if user && b.Upper&batVp == 0 || !user && b.Upper&batVs == 0 {
		return 0, false
	}
	// BL selects the block size from 128 KiB to 256 MiB
	mask := (b.Upper & batBL) << 15
	if va&batBEPI&^mask != b.Upper&batBEPI&^mask {
		return 0, false
	}
	return b.Lower&batBRPN&^mask | va&(mask|0x1ffff), true
}

// Size of the block in bytes.
func (b BAT) Size() uint32 {
	return ((b.Upper&batBL)<<15 | 0x1ffff) + 1
}

// MMU translates effective addresses through the BAT registers. Instruction
// fetches are relocated when MSR[IR] is set, data accesses when MSR[DR] is
// set; otherwise addresses are physical.
type MMU struct {
	c *CPU

	// Misses counts accesses not covered by any BAT
	Misses uint64
}

// Translate implements mmu.Translator.
func (m *MMU) Translate(vaddr uint64, flags mmu.Flags) (mmu.Result, error) {
	s := &m.c.State
	va := uint32(vaddr)
	fetch := flags&mmu.Instruction != 0
	write := flags&mmu.Write != 0

	bats := &s.DBAT
	relocate := s.MSR&MSRDR != 0
	if fetch {
		bats = &s.IBAT
		relocate = s.MSR&MSRIR != 0
	}
	if !relocate {
		return mmu.Result{PAddr: uint64(va), Status: mmu.Writable}, nil
	}

	user := s.MSR&MSRPR != 0
	for _, b := range bats {
		pa, ok := b.match(va, user)
		if !ok {
			continue
		}
		switch pp := b.Lower & batPP; {
		case pp == ppNoAccess:
			return mmu.Result{}, m.fault(va, flags, DSISRProtection)
		case pp == ppReadWrite:
			return mmu.Result{PAddr: uint64(pa), Status: mmu.Writable}, nil
		case write:
			return mmu.Result{}, m.fault(va, flags, DSISRProtection)
		}
		return mmu.Result{PAddr: uint64(pa), Status: mmu.ReadOnly}, nil
	}

	m.Misses++
	return mmu.Result{}, m.fault(va, flags, DSISRNoTranslation)
}

// fault raises an instruction or data storage exception.
func (m *MMU) fault(va uint32, flags mmu.Flags, reason uint32) error {
	write := flags&mmu.Write != 0
	f := faults.New(faults.TranslationFault, uint64(va), write, "bat %s", reasonName(reason))
	if flags&mmu.NoExceptions != 0 {
		return f
	}
	c := m.c
	f.PC = c.FaultPC()
	f.Raised = true
	if flags&mmu.Instruction != 0 {
		exception(c, VectorISI, uint32(f.PC), reason)
		return f
	}
	if write {
		reason |= DSISRStore
	}
	c.State.DAR = va
	c.State.DSISR = reason
	exception(c, VectorDSI, uint32(f.PC), 0)
	return f
}

func reasonName(reason uint32) string {
	if reason&DSISRProtection != 0 {
		return "protection"
	}
	return "no translation"
}

// bat returns the BAT register pair selected by the SPR number of an
// IBAT/DBAT register, and whether it is the upper half.
func (s *State) bat(spr uint32) (*BAT, bool) {
	n := spr - sprIBAT0U
	b := &s.IBAT[n>>1&3]
	if n >= 8 {
		b = &s.DBAT[n>>1&3]
	}
	return b, n&1 == 0
}
