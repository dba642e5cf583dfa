package arm

// CP15 register numbers (CRn)
const (
	cp15ID      = 0
	cp15Control = 1
	cp15TTBR    = 2
	cp15DACR    = 3
	cp15FSR     = 5
	cp15FAR     = 6
	cp15Cache   = 7
	cp15TLB     = 8
)

// decodeCP15 handles mrc/mcr p15: Arg[0] = rd, Arg[1] = CRn,
// Arg[2] = CRm | opcode2<<4.
func decodeCP15(ic *Call) error {
	w := ic.Word
	if w&(1<<20) != 0 {
		ic.F = privileged(mrc)
	} else {
		ic.F = privileged(mcr)
	}
	ic.Arg[0], ic.Arg[1], ic.Arg[2] = uint64(w>>12&15), uint64(w>>16&15), uint64(w&15|(w>>5&7)<<4)
	return nil
}

// privileged makes h undefined in user mode.
func privileged(h Handler) Handler {
	return func(c *CPU, ic *Call) {
		if c.State.CPSR.IsUserMode() {
			undefined(c, ic)
			return
		}
		h(c, ic)
	}
}

func mrc(c *CPU, ic *Call) {
	s := &c.State
	var v uint32
	switch ic.Arg[1] {
	case cp15ID:
		v = MainID
	case cp15Control:
		v = s.CP15.Control
	case cp15TTBR:
		v = s.CP15.TTBR
	case cp15DACR:
		v = s.CP15.DACR
	case cp15FSR:
		v = s.CP15.FSR
	case cp15FAR:
		v = s.CP15.FAR
	}
	if ic.Arg[0] == 15 {
		// rd = pc sets the condition flags
		s.CPSR.Set(s.CPSR.Get()&0x0fffffff | v&0xf0000000)
		return
	}
	s.R[ic.Arg[0]] = v
}

func mcr(c *CPU, ic *Call) {
	s := &c.State
	v := read(c, ic.Arg[0])
	switch ic.Arg[1] {
	case cp15Control:
		old := s.CP15.Control
		s.CP15.Control = v&ctrlMask | ctrlFixed
		if (old^s.CP15.Control)&(CtrlM|CtrlS|CtrlR) != 0 {
			c.FlushTLB()
			c.Resync()
		}
	case cp15TTBR:
		s.CP15.TTBR = v &^ 0x3fff
		c.FlushTLB()
	case cp15DACR:
		s.CP15.DACR = v
		c.FlushTLB()
	case cp15FSR:
		s.CP15.FSR = v
	case cp15FAR:
		s.CP15.FAR = v
	case cp15Cache:
		// caches are not modelled. stores to translated code are caught by
		// the domain
	case cp15TLB:
		if ic.Arg[2]>>4 == 1 {
			c.InvalidateVirtual(uint64(v))
		} else {
			c.FlushTLB()
		}
	}
}
