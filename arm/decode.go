package arm

import (
	"dtemu/dyntrans"
	"dtemu/faults"
	"dtemu/psw"
)

const (
	condAL = 0xe
	condNV = 0xf
)

// Decode implements dyntrans.Arch.
func (Arch) Decode(c *CPU, ic *Call, slot int) error {
	w := ic.Word
	cond := w >> 28
	if cond == condNV {
		// unpredictable on ARMv4
		ic.F = nop
		return nil
	}
	if err := decode(c, ic, slot); err != nil {
		return err
	}
	if cond != condAL {
		ic.F = conditional(cond, ic.F)
	}
	return nil
}

// conditional wraps h with the check of the condition field.
func conditional(cond uint32, h Handler) Handler {
	return func(c *CPU, ic *Call) {
		if c.State.CPSR.Cond(cond) {
			h(c, ic)
		}
	}
}

func decode(c *CPU, ic *Call, slot int) error {
	w := ic.Word
	switch w >> 25 & 7 {
	case 0:
		switch {
		case w&0x0fc000f0 == 0x00000090:
			decodeMultiply(ic)
		case w&0x0f8000f0 == 0x00800090:
			decodeMultiplyLong(ic)
		case w&0x0fb00ff0 == 0x01000090:
			ic.F = swap(w&(1<<22) != 0)
			ic.Arg[0], ic.Arg[1], ic.Arg[2] = uint64(w>>12&15), uint64(w>>16&15), uint64(w&15)
		case w&0x0ffffff0 == 0x012fff10:
			ic.Flags |= dyntrans.FlagBranch
			ic.F = bx
			ic.Arg[0] = uint64(w & 15)
		case w&0x0fbf0fff == 0x010f0000:
			ic.F = mrs
			ic.Arg[0], ic.Arg[1] = uint64(w>>12&15), uint64(w>>22&1)
		case w&0x0fb0fff0 == 0x0120f000:
			ic.F = msr(true)
			ic.Arg[0], ic.Arg[1], ic.Arg[2] = uint64(w>>16&15), uint64(w>>22&1), uint64(w&15)
		case w&0x90 == 0x90:
			decodeHalfword(ic)
		default:
			kind := operandShiftImm
			if w&0x10 != 0 {
				kind = operandShiftReg
			}
			decodeDataProcessing(ic, kind)
		}
	case 1:
		if w&0x0fb0f000 == 0x0320f000 {
			v, _ := rotatedImm(w)
			ic.F = msr(false)
			ic.Arg[0], ic.Arg[1], ic.Arg[2] = uint64(w>>16&15), uint64(w>>22&1), uint64(v)
			return nil
		}
		decodeDataProcessing(ic, operandImm)
	case 2:
		decodeTransfer(ic)
	case 3:
		if w&0x10 != 0 {
			ic.F = undefined
			return nil
		}
		decodeTransfer(ic)
	case 4:
		decodeBlock(ic)
	case 5:
		decodeBranch(c, ic, slot)
	case 6:
		// ldc/stc, no coprocessor has memory transfers
		ic.F = undefined
	case 7:
		switch {
		case w&(1<<24) != 0:
			ic.F = swi
		case w&0x10 != 0 && w>>8&15 == 15:
			return decodeCP15(ic)
		default:
			ic.F = undefined
		}
	}
	return nil
}

func decodeDataProcessing(ic *Call, kind int) {
	w := ic.Word
	op := w >> 21 & 15
	s := w >> 20 & 1
	rd, rn := w>>12&15, w>>16&15

	// the test ops without S are the psr transfers, handled before
	if aluOps[op].test && s == 0 {
		ic.F = undefined
		return
	}
	ic.F = dataProcessing[op][s][kind]
	ic.Arg[0] = uint64(rd | rn<<4)
	switch kind {
	case operandImm:
		v, carry := rotatedImm(w)
		ic.Arg[1], ic.Arg[2] = uint64(v), uint64(carry)
	case operandShiftImm:
		ic.Arg[1] = uint64(w&15 | (w>>5&3)<<4 | (w>>7&31)<<8)
	default:
		ic.Arg[1] = uint64(w&15 | (w>>5&3)<<4 | (w>>8&15)<<8)
	}
	if rd == 15 && !aluOps[op].test {
		ic.Flags |= dyntrans.FlagBranch
	}
}

func decodeBranch(c *CPU, ic *Call, slot int) {
	w := ic.Word
	ic.Flags |= dyntrans.FlagBranch
	off := int(int32(w<<8) >> 8)
	link := w&(1<<24) != 0
	target := slot + 2 + off
	if target >= 0 && target < c.InstrPerPage() {
		ic.Arg[0] = uint64(target)
		ic.F = branchSamePage(link)
		return
	}
	ic.Arg[0] = uint64(int64(off) << 2)
	ic.F = branch(link)
}

// branch returns the handler of b/bl with the byte offset from pc+8 in
// Arg[0].
func branch(link bool) Handler {
	return func(c *CPU, ic *Call) {
		pc := uint32(c.InstrPC())
		if link {
			c.State.R[14] = pc + 4
		}
		c.Branch(uint64(pc + 8 + uint32(ic.Arg[0])))
	}
}

// branchSamePage returns the handler of b/bl whose target is slot Arg[0] of
// the current page.
func branchSamePage(link bool) Handler {
	return func(c *CPU, ic *Call) {
		if link {
			c.State.R[14] = uint32(c.InstrPC()) + 4
		}
		c.Goto(int(ic.Arg[0]))
	}
}

func bx(c *CPU, ic *Call) {
	target := read(c, ic.Arg[0])
	if target&1 != 0 {
		f := faults.New(faults.Unimplemented, uint64(target), false, "thumb state")
		f.PC = c.InstrPC()
		c.Halt(f)
		return
	}
	c.Branch(uint64(target &^ 3))
}

func swi(c *CPU, _ *Call) {
	exception(c, psw.SupervisorMode, VectorSWI, uint32(c.InstrPC())+4)
}

func nop(*CPU, *Call) {}

// mul/mla: Arg[0] = rd | rn<<4 | rs<<8 | rm<<12
func decodeMultiply(ic *Call) {
	w := ic.Word
	ic.F = multiply(w&(1<<21) != 0, w&(1<<20) != 0)
	ic.Arg[0] = uint64(w>>16&15 | (w>>12&15)<<4 | (w>>8&15)<<8 | (w&15)<<12)
}

func multiply(accumulate, setFlags bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		r := s.R[a>>12&15] * s.R[a>>8&15]
		if accumulate {
			r += s.R[a>>4&15]
		}
		s.R[a&15] = r
		if setFlags {
			s.CPSR.SetNZ(r)
		}
	}
}

// umull/umlal/smull/smlal: Arg[0] = rdlo | rdhi<<4 | rs<<8 | rm<<12
func decodeMultiplyLong(ic *Call) {
	w := ic.Word
	ic.F = multiplyLong(w&(1<<22) != 0, w&(1<<21) != 0, w&(1<<20) != 0)
	ic.Arg[0] = uint64(w>>12&15 | (w>>16&15)<<4 | (w>>8&15)<<8 | (w&15)<<12)
}

func multiplyLong(signed, accumulate, setFlags bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		lo, hi := a&15, a>>4&15
		x, y := s.R[a>>12&15], s.R[a>>8&15]
		var r uint64
		if signed {
			r = uint64(int64(int32(x)) * int64(int32(y)))
		} else {
			r = uint64(x) * uint64(y)
		}
		if accumulate {
			r += uint64(s.R[hi])<<32 | uint64(s.R[lo])
		}
		s.R[lo], s.R[hi] = uint32(r), uint32(r>>32)
		if setFlags {
			s.CPSR.SetN(r>>63 != 0)
			s.CPSR.SetZ(r == 0)
		}
	}
}

// swap returns the handler of swp/swpb: Arg[0] = rd, Arg[1] = rn, Arg[2] = rm.
func swap(byteSize bool) Handler {
	size := 4
	if byteSize {
		size = 1
	}
	return func(c *CPU, ic *Call) {
		s := &c.State
		addr := s.R[ic.Arg[1]]
		v := s.R[ic.Arg[2]]
		rd := ic.Arg[0]
		old, ok := c.Load(uint64(addr), size)
		if !ok || !c.Store(uint64(addr), size, uint64(v)) {
			return
		}
		s.R[rd] = uint32(old)
	}
}

// mrs: Arg[0] = rd, Arg[1] = 1 for SPSR
func mrs(c *CPU, ic *Call) {
	s := &c.State
	v := s.CPSR.Get()
	if ic.Arg[1] != 0 {
		v = s.SPSR.Get()
	}
	s.R[ic.Arg[0]] = v
}

// fieldMask expands the field mask of msr into a bit mask.
func fieldMask(fields uint64) uint32 {
	var m uint32
	for i := 0; i < 4; i++ {
		if fields&(1<<i) != 0 {
			m |= 0xff << (8 * i)
		}
	}
	return m
}

// msr returns the handler of msr: Arg[0] = field mask, Arg[1] = 1 for SPSR,
// Arg[2] = immediate or source register.
func msr(fromReg bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		v := uint32(ic.Arg[2])
		if fromReg {
			v = s.R[ic.Arg[2]]
		}
		mask := fieldMask(ic.Arg[0])
		if ic.Arg[1] != 0 {
			if hasSPSR(s) {
				s.SPSR.Set(s.SPSR.Get()&^mask | v&mask)
			}
			return
		}
		if s.CPSR.IsUserMode() {
			mask &= 0xff000000
		}
		nv := s.CPSR.Get()&^mask | v&mask
		if mask&0xff != 0 && psw.ValidMode(nv) {
			setMode(c, nv&0x1f)
		}
		s.CPSR.Set(nv&^0x1f | s.CPSR.GetMode())
		if mask&0xff != 0 {
			// interrupts may have been unmasked
			c.Resync()
		}
	}
}

// Combine implements dyntrans.Arch: "mov rd, #a" followed by
// "orr rd, rd, #b" becomes a single constant load.
func (Arch) Combine(c *CPU, p *dyntrans.Page[State], slot int) {
	prev, cur := &p.Calls[slot-1], &p.Calls[slot]
	pw, cw := prev.Word, cur.Word
	if pw&0xfff00000 != 0xe3a00000 || cw&0xfff00000 != 0xe3800000 {
		return
	}
	rd := pw >> 12 & 15
	if rd == 15 || cw>>12&15 != rd || cw>>16&15 != rd {
		return
	}
	a, _ := rotatedImm(pw)
	b, _ := rotatedImm(cw)
	prev.F = setConst
	prev.Arg[0], prev.Arg[1] = uint64(rd), uint64(a|b)
	prev.Span = 2
}
