package mips

import (
	"dtemu/faults"
)

// COP0 rs field values
const (
	copMF = 0x00
	copMT = 0x04
	copCO = 0x10
)

// COP0 function codes with the CO bit set
const (
	coTlbr  = 0x01
	coTlbwi = 0x02
	coTlbwr = 0x06
	coTlbp  = 0x08
	coRfe   = 0x10
)

// writable bits of the coprocessor 0 registers
var cp0WriteMask = map[int]uint32{
	CP0Index:    0x3f << 8,
	CP0EntryLo:  entryLoPFN | entryLoN | entryLoD | entryLoV | entryLoG,
	CP0Context:  0xffe00000,
	CP0EntryHi:  entryHiVPN | entryHiASID,
	CP0Status:   0xf27fff3f,
	CP0Cause:    CauseSoftIP,
	CP0EPC:      0,
	CP0BadVAddr: 0,
}

func decodeCop0(ic *Call) error {
	w := ic.Word
	rs, rt, rd := w>>21&31, w>>16&31, w>>11&31

	if rs&copCO != 0 {
		switch w & 63 {
		case coTlbr:
			ic.F = kernelOnly(tlbr)
		case coTlbwi:
			ic.F = kernelOnly(tlbwi)
		case coTlbwr:
			ic.F = kernelOnly(tlbwr)
		case coTlbp:
			ic.F = kernelOnly(tlbp)
		case coRfe:
			ic.F = kernelOnly(rfe)
		default:
			ic.F = reserved
		}
		return nil
	}

	switch rs {
	case copMF:
		ic.F = kernelOnly(mfc0)
		ic.Arg[0], ic.Arg[1] = dest(rt), uint64(rd)
	case copMT:
		ic.F = kernelOnly(mtc0)
		ic.Arg[0], ic.Arg[1] = uint64(rt), uint64(rd)
	default:
		return faults.New(faults.Unimplemented, 0, false, "cop0 %#08x", w)
	}
	return nil
}

// kernelOnly wraps a coprocessor 0 handler with the usability check: in
// user mode cop0 needs the CU0 bit.
func kernelOnly(h Handler) Handler {
	return func(c *CPU, ic *Call) {
		st := c.State.CP0[CP0Status]
		if st&StatusKUc != 0 && st&StatusCU0 == 0 {
			c.State.CP0[CP0Cause] &^= 3 << 28
			exception(c, ExcCpU, false)
			return
		}
		h(c, ic)
	}
}

func mfc0(c *CPU, ic *Call) {
	s := &c.State
	var v uint32
	switch int(ic.Arg[1]) {
	case CP0Random:
		v = random(c) << 8
	case CP0Cause:
		v = updateCause(c)
	default:
		v = s.CP0[ic.Arg[1]]
	}
	s.GPR[ic.Arg[0]] = v
}

func mtc0(c *CPU, ic *Call) {
	s := &c.State
	reg := int(ic.Arg[1])
	v := s.GPR[ic.Arg[0]]
	mask, ok := cp0WriteMask[reg]
	if !ok {
		// read only or not implemented
		return
	}
	old := s.CP0[reg]
	s.CP0[reg] = old&^mask | v&mask

	switch reg {
	case CP0EntryHi:
		if (old^v)&entryHiASID != 0 {
			c.FlushTLB()
		}
	case CP0Status:
		if (old^v)&StatusKUc != 0 {
			c.FlushTLB()
		}
		// interrupts may have been enabled
		c.Resync()
	case CP0Cause:
		c.SetIRQ(inputSoftware, s.CP0[CP0Cause]&CauseSoftIP != 0)
		c.Resync()
	}
}

// rfe pops the KU/IE stack.
func rfe(c *CPU, _ *Call) {
	s := &c.State
	st := s.CP0[CP0Status]
	s.CP0[CP0Status] = st&^0x0f | st>>2&0x0f
	if (st^s.CP0[CP0Status])&StatusKUc != 0 {
		c.FlushTLB()
	}
	c.Resync()
}
