package arm

import (
	"dtemu/faults"
	"dtemu/mmu"
	"dtemu/psw"
)

// fault status codes
const (
	fsrAlignment          = 0x1
	fsrExternal           = 0x8
	fsrSectionTranslation = 0x5
	fsrPageTranslation    = 0x7
	fsrSectionDomain      = 0x9
	fsrPageDomain         = 0xb
	fsrSectionPermission  = 0xd
	fsrPagePermission     = 0xf
)

var fsrNames = map[uint32]string{
	fsrAlignment:          "alignment",
	fsrExternal:           "external abort",
	fsrSectionTranslation: "section translation",
	fsrPageTranslation:    "page translation",
	fsrSectionDomain:      "section domain",
	fsrPageDomain:         "page domain",
	fsrSectionPermission:  "section permission",
	fsrPagePermission:     "page permission",
}

// domain access control values
const (
	domainNoAccess = 0
	domainClient   = 1
	domainManager  = 3
)

// MMU translates virtual addresses through the CP15 page tables. With the
// MMU disabled addresses are physical.
type MMU struct {
	c *CPU

	// Walks counts page table walks
	Walks uint64
}

// Translate implements mmu.Translator.
func (m *MMU) Translate(vaddr uint64, flags mmu.Flags) (mmu.Result, error) {
	s := &m.c.State
	va := uint32(vaddr)
	if s.CP15.Control&CtrlM == 0 {
		return mmu.Result{PAddr: uint64(va), Status: mmu.Writable}, nil
	}
	m.Walks++

	l1, err := m.read(s.CP15.TTBR&^0x3fff | va>>20<<2)
	if err != nil {
		return mmu.Result{}, err
	}
	domain := l1 >> 5 & 0xf

	var pa, ap uint32
	page := false
	switch l1 & 3 {
	case 2:
		pa = l1&0xfff00000 | va&0x000fffff
		ap = l1 >> 10 & 3
	case 1:
		page = true
		l2, err := m.read(l1&^0x3ff | va>>12&0xff<<2)
		if err != nil {
			return mmu.Result{}, err
		}
		switch l2 & 3 {
		case 1:
			pa = l2&0xffff0000 | va&0xffff
			ap = l2 >> (4 + 2*(va>>14&3)) & 3
		case 2:
			pa = l2&0xfffff000 | va&0xfff
			ap = l2 >> (4 + 2*(va>>10&3)) & 3
		default:
			return mmu.Result{}, m.fault(va, flags, fsrPageTranslation, domain)
		}
	default:
		// fine tables are not supported
		return mmu.Result{}, m.fault(va, flags, fsrSectionTranslation, domain)
	}

	switch s.CP15.DACR >> (2 * domain) & 3 {
	case domainManager:
		return mmu.Result{PAddr: uint64(pa), Status: mmu.Writable}, nil
	case domainClient:
	default:
		if page {
			return mmu.Result{}, m.fault(va, flags, fsrPageDomain, domain)
		}
		return mmu.Result{}, m.fault(va, flags, fsrSectionDomain, domain)
	}

	r, w := permissions(ap, s.CPSR.IsUserMode(), s.CP15.Control)
	if !r || (flags&mmu.Write != 0 && !w) {
		if page {
			return mmu.Result{}, m.fault(va, flags, fsrPagePermission, domain)
		}
		return mmu.Result{}, m.fault(va, flags, fsrSectionPermission, domain)
	}
	st := mmu.ReadOnly
	if w {
		st = mmu.Writable
	}
	return mmu.Result{PAddr: uint64(pa), Status: st}, nil
}

// permissions decodes an AP field for the current privilege level.
func permissions(ap uint32, user bool, control uint32) (r, w bool) {
	switch ap {
	case 0:
		r = control&CtrlR != 0 || (!user && control&CtrlS != 0)
	case 1:
		r, w = !user, !user
	case 2:
		r, w = true, !user
	default:
		r, w = true, true
	}
	return r, w
}

// read fetches a page table descriptor from physical memory.
func (m *MMU) read(paddr uint32) (uint32, error) {
	var b [4]byte
	if err := m.c.Mem.Read(uint64(paddr), b[:]); err != nil {
		return 0, err
	}
	return m.c.Order.Uint32(b[:]), nil
}

// fault raises a prefetch abort for instruction fetches and a data abort
// otherwise. ARMv4 leaves FSR and FAR alone on prefetch aborts.
func (m *MMU) fault(va uint32, flags mmu.Flags, status, domain uint32) error {
	f := faults.New(faults.TranslationFault, uint64(va), flags&mmu.Write != 0, "%s fault", fsrNames[status])
	if flags&mmu.NoExceptions != 0 {
		return f
	}
	c := m.c
	f.PC = c.FaultPC()
	f.Raised = true
	if flags&mmu.Instruction != 0 {
		exception(c, psw.AbortMode, VectorPrefetchAbort, uint32(c.FaultPC())+4)
		return f
	}
	dataAbort(c, status, domain, va)
	return f
}
