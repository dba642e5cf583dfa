package arm

import (
	"math/bits"

	"dtemu/dyntrans"
)

// transfer addressing bits
const (
	bitL = 1 << 0 // load
	bitW = 1 << 1 // write back
	bitB = 1 << 2 // byte, or the immediate form for halfwords, or S for ldm/stm
	bitU = 1 << 3 // add the offset
	bitP = 1 << 4 // pre-indexed
	bitI = 1 << 5 // register offset (single transfers only)
)

// handler tables indexed by the addressing bits of the instruction
var (
	// ldr/str/ldrb/strb by bits 20-25: Arg[0] = rd | rn<<4, Arg[1] = offset
	// or rm | type<<4 | amount<<8
	singleTransfers [64]Handler

	// ldrh/strh/ldrsb/ldrsh by bits 20-24 | SH<<5: Arg[0] = rd | rn<<4,
	// Arg[1] = offset or rm
	halfTransfers [128]Handler

	// ldm/stm by bits 20-24: Arg[0] = rn, Arg[1] = register list
	blockTransfers [32]Handler
)

func init() {
	for k := range singleTransfers {
		singleTransfers[k] = singleTransfer(uint32(k))
	}
	for k := range halfTransfers {
		if k>>5 != 0 {
			halfTransfers[k] = halfTransfer(uint32(k))
		}
	}
	for k := range blockTransfers {
		blockTransfers[k] = blockTransfer(uint32(k))
	}
}

func decodeTransfer(ic *Call) {
	w := ic.Word
	ic.F = singleTransfers[w>>20&0x3f]
	ic.Arg[0] = uint64(w>>12&15 | (w>>16&15)<<4)
	if w&(1<<25) != 0 {
		ic.Arg[1] = uint64(w&15 | (w>>5&3)<<4 | (w>>7&31)<<8)
	} else {
		ic.Arg[1] = uint64(w & 0xfff)
	}
	if w&(1<<20) != 0 && w>>12&15 == 15 {
		ic.Flags |= dyntrans.FlagBranch
	}
}

func decodeHalfword(ic *Call) {
	w := ic.Word
	sh := w >> 5 & 3
	// strd/ldrd do not exist on ARMv4, signed stores neither
	if sh == 0 || w&(1<<20) == 0 && sh != 1 {
		ic.F = undefined
		return
	}
	ic.F = halfTransfers[w>>20&0x1f|sh<<5]
	ic.Arg[0] = uint64(w>>12&15 | (w>>16&15)<<4)
	if w&(1<<22) != 0 {
		ic.Arg[1] = uint64(w>>4&0xf0 | w&0xf)
	} else {
		ic.Arg[1] = uint64(w & 15)
	}
}

func decodeBlock(ic *Call) {
	w := ic.Word
	ic.F = blockTransfers[w>>20&0x1f]
	ic.Arg[0], ic.Arg[1] = uint64(w>>16&15), uint64(w&0xffff)
	if w&(1<<20) != 0 && w&(1<<15) != 0 {
		ic.Flags |= dyntrans.FlagBranch
	}
}

// address computes the transfer address and the written back base.
func address(base, off, k uint32) (addr, wb uint32) {
	if k&bitU == 0 {
		off = -off
	}
	if k&bitP != 0 {
		return base + off, base + off
	}
	return base, base + off
}

// alignedWord returns the address used for a word access at addr. Without
// alignment checking the bottom bits are ignored and loads rotate the word.
func alignedWord(c *CPU, addr uint32) uint64 {
	if c.State.CP15.Control&CtrlA != 0 {
		return uint64(addr)
	}
	return uint64(addr &^ 3)
}

func singleTransfer(k uint32) Handler {
	size := 4
	if k&bitB != 0 {
		size = 1
	}
	writeback := k&bitW != 0 || k&bitP == 0
	return func(c *CPU, ic *Call) {
		s := &c.State
		rd, rn := ic.Arg[0]&15, ic.Arg[0]>>4&15
		off := uint32(ic.Arg[1])
		if k&bitI != 0 {
			a := ic.Arg[1]
			off, _ = shiftImm(s.R[a&15], uint32(a>>4&3), uint32(a>>8&31), s.CPSR.C())
		}
		addr, wb := address(read(c, rn), off, k)

		if k&bitL != 0 {
			var v uint64
			var ok bool
			if size == 1 {
				v, ok = c.Load(uint64(addr), 1)
			} else {
				v, ok = c.Load(alignedWord(c, addr), 4)
				v = uint64(bits.RotateLeft32(uint32(v), -int(addr&3)*8))
			}
			if !ok {
				return
			}
			if writeback && rn != 15 {
				s.R[rn] = wb
			}
			write(c, rd, uint32(v))
			return
		}

		v := read(c, rd)
		if rd == 15 {
			v += 4
		}
		a := uint64(addr)
		if size == 4 {
			a = alignedWord(c, addr)
		}
		if !c.Store(a, size, uint64(v)) {
			return
		}
		if writeback && rn != 15 {
			s.R[rn] = wb
		}
	}
}

func halfTransfer(k uint32) Handler {
	sh := k >> 5
	writeback := k&bitW != 0 || k&bitP == 0
	return func(c *CPU, ic *Call) {
		s := &c.State
		rd, rn := ic.Arg[0]&15, ic.Arg[0]>>4&15
		off := uint32(ic.Arg[1])
		if k&bitB == 0 {
			off = s.R[off&15]
		}
		addr, wb := address(read(c, rn), off, k)

		if k&bitL == 0 {
			if !c.Store(uint64(addr), 2, uint64(read(c, rd))) {
				return
			}
			if writeback && rn != 15 {
				s.R[rn] = wb
			}
			return
		}

		var v uint64
		var ok bool
		switch sh {
		case 1:
			v, ok = c.Load(uint64(addr), 2)
		case 2:
			v, ok = c.Load(uint64(addr), 1)
			v = dyntrans.SignExtend(v, 1)
		default:
			v, ok = c.Load(uint64(addr), 2)
			v = dyntrans.SignExtend(v, 2)
		}
		if !ok {
			return
		}
		if writeback && rn != 15 {
			s.R[rn] = wb
		}
		write(c, rd, uint32(v))
	}
}

func blockTransfer(k uint32) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		rn := ic.Arg[0]
		list := uint32(ic.Arg[1])
		n := uint32(bits.OnesCount32(list))
		base := s.R[rn]

		var start, wb uint32
		switch k & (bitP | bitU) {
		case bitU:
			start, wb = base, base+4*n
		case bitP | bitU:
			start, wb = base+4, base+4*n
		case 0:
			start, wb = base-4*n+4, base-4*n
		default:
			start, wb = base-4*n, base-4*n
		}
		load := k&bitL != 0
		userBank := k&bitB != 0 && (!load || list&0x8000 == 0)

		if !load {
			addr := start
			for r := 0; r < 16; r++ {
				if list&(1<<r) == 0 {
					continue
				}
				var v uint32
				switch {
				case userBank:
					v = userReg(c, r)
				case r == 15:
					v = uint32(c.InstrPC()) + 12
				default:
					v = s.R[r]
				}
				if !c.Store(alignedWord(c, addr), 4, uint64(v)) {
					return
				}
				addr += 4
			}
			if k&bitW != 0 {
				s.R[rn] = wb
			}
			return
		}

		// registers are only written once every load succeeded
		var vals [16]uint32
		addr := start
		for r := 0; r < 16; r++ {
			if list&(1<<r) == 0 {
				continue
			}
			v, ok := c.Load(alignedWord(c, addr), 4)
			if !ok {
				return
			}
			vals[r] = uint32(v)
			addr += 4
		}
		if k&bitW != 0 {
			s.R[rn] = wb
		}
		for r := 0; r < 15; r++ {
			if list&(1<<r) == 0 {
				continue
			}
			if userBank {
				setUserReg(c, r, vals[r])
			} else {
				s.R[r] = vals[r]
			}
		}
		if list&0x8000 != 0 {
			if k&bitB != 0 {
				restoreCPSR(c)
				c.SetPC(uint64(vals[15] &^ 3))
				return
			}
			c.Branch(uint64(vals[15] &^ 3))
		}
	}
}
