package mips

import (
	"dtemu/faults"
	"dtemu/mmu"
)

// TLBEntries in the R3000 TLB
const TLBEntries = 64

// the first Random value. entries below are never replaced by tlbwr
const tlbWired = 8

// EntryHi fields
const (
	entryHiVPN  = 0xfffff000
	entryHiASID = 0x00000fc0
)

// EntryLo fields
const (
	entryLoPFN = 0xfffff000
	entryLoN   = 1 << 11
	entryLoD   = 1 << 10
	entryLoV   = 1 << 9
	entryLoG   = 1 << 8
)

// segment boundaries
const (
	kseg0 = 0x80000000
	kseg1 = 0xa0000000
	kseg2 = 0xc0000000

	ksegMask = 0x1fffffff
)

// TLBEntry is one entry of the TLB.
type TLBEntry struct {
	Hi, Lo uint32
}

func (e TLBEntry) matches(vpn, asid uint32) bool {
	return e.Hi&entryHiVPN == vpn && (e.Lo&entryLoG != 0 || e.Hi&entryHiASID == asid)
}

// MMU translates virtual addresses: kseg0 and kseg1 map directly onto the
// first 512 MiB of physical memory, kuseg and kseg2 go through the TLB.
// Kernel segments are only accessible in kernel mode.
type MMU struct {
	c *CPU

	// Refills counts TLB misses
	Refills uint64
}

// Translate implements mmu.Translator.
func (m *MMU) Translate(vaddr uint64, flags mmu.Flags) (mmu.Result, error) {
	s := &m.c.State
	va := uint32(vaddr)
	write := flags&mmu.Write != 0
	user := s.CP0[CP0Status]&StatusKUc != 0

	if va >= kseg0 {
		if user {
			return mmu.Result{}, m.addressError(va, flags)
		}
		if va < kseg2 {
			return mmu.Result{PAddr: uint64(va & ksegMask), Status: mmu.Writable}, nil
		}
	}

	vpn := va & entryHiVPN
	asid := s.CP0[CP0EntryHi] & entryHiASID
	for i := range s.TLB {
		e := s.TLB[i]
		if !e.matches(vpn, asid) {
			continue
		}
		switch {
		case e.Lo&entryLoV == 0:
			return mmu.Result{}, m.tlbFault(va, flags, tlbCode(write), false)
		case write && e.Lo&entryLoD == 0:
			return mmu.Result{}, m.tlbFault(va, flags, ExcMod, false)
		}
		st := mmu.ReadOnly
		if e.Lo&entryLoD != 0 {
			st = mmu.Writable
		}
		return mmu.Result{PAddr: uint64(e.Lo&entryLoPFN | va&^entryHiVPN), Status: st}, nil
	}

	m.Refills++
	return mmu.Result{}, m.tlbFault(va, flags, tlbCode(write), va < kseg0)
}

func tlbCode(write bool) uint32 {
	if write {
		return ExcTLBS
	}
	return ExcTLBL
}

func (m *MMU) addressError(va uint32, flags mmu.Flags) error {
	write := flags&mmu.Write != 0
	f := faults.New(faults.TranslationFault, uint64(va), write, "kernel address in user mode")
	if flags&mmu.NoExceptions != 0 {
		return f
	}
	code := uint32(ExcAdEL)
	if write {
		code = ExcAdES
	}
	m.c.State.CP0[CP0BadVAddr] = va
	f.PC = m.c.FaultPC()
	f.Raised = true
	exception(m.c, code, false)
	return f
}

func (m *MMU) tlbFault(va uint32, flags mmu.Flags, code uint32, utlb bool) error {
	f := faults.New(faults.TranslationFault, uint64(va), flags&mmu.Write != 0, "tlb %s", ExceptionName(code))
	if flags&mmu.NoExceptions != 0 {
		return f
	}
	s := &m.c.State
	s.CP0[CP0BadVAddr] = va
	s.CP0[CP0Context] = s.CP0[CP0Context]&0xffe00000 | va>>12<<2&0x1ffffc
	s.CP0[CP0EntryHi] = va&entryHiVPN | s.CP0[CP0EntryHi]&entryHiASID
	f.PC = m.c.FaultPC()
	f.Raised = true
	exception(m.c, code, utlb)
	return f
}

// random returns the value of the Random register. It cycles through the
// non wired entries as instructions execute.
func random(c *CPU) uint32 {
	return tlbWired + uint32(c.Executed%(TLBEntries-tlbWired))
}

// tlbr: read the indexed entry into EntryHi/EntryLo.
func tlbr(c *CPU, _ *Call) {
	s := &c.State
	e := s.TLB[s.CP0[CP0Index]>>8&(TLBEntries-1)]
	s.CP0[CP0EntryHi], s.CP0[CP0EntryLo] = e.Hi, e.Lo
	c.FlushTLB()
}

// tlbwi: write EntryHi/EntryLo into the indexed entry.
func tlbwi(c *CPU, _ *Call) {
	s := &c.State
	writeTLB(c, s.CP0[CP0Index]>>8&(TLBEntries-1))
}

// tlbwr: write EntryHi/EntryLo into the entry selected by Random.
func tlbwr(c *CPU, _ *Call) {
	writeTLB(c, random(c))
}

func writeTLB(c *CPU, i uint32) {
	s := &c.State
	s.TLB[i] = TLBEntry{Hi: s.CP0[CP0EntryHi], Lo: s.CP0[CP0EntryLo]}
	c.FlushTLB()
}

// tlbp: probe for an entry matching EntryHi. Index gets the entry number, or
// the P bit if there is none.
func tlbp(c *CPU, _ *Call) {
	s := &c.State
	hi := s.CP0[CP0EntryHi]
	for i := range s.TLB {
		if s.TLB[i].matches(hi&entryHiVPN, hi&entryHiASID) {
			s.CP0[CP0Index] = uint32(i) << 8
			return
		}
	}
	s.CP0[CP0Index] = 1 << 31
}
