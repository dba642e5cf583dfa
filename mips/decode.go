package mips

import (
	"dtemu/dyntrans"
	"dtemu/faults"
)

// primary opcodes
const (
	opSpecial = 0x00
	opRegImm  = 0x01
	opJ       = 0x02
	opJal     = 0x03
	opBeq     = 0x04
	opBne     = 0x05
	opBlez    = 0x06
	opBgtz    = 0x07
	opAddi    = 0x08
	opAddiu   = 0x09
	opSlti    = 0x0a
	opSltiu   = 0x0b
	opAndi    = 0x0c
	opOri     = 0x0d
	opXori    = 0x0e
	opLui     = 0x0f
	opCop0    = 0x10
	opCop1    = 0x11
	opCop2    = 0x12
	opCop3    = 0x13
	opLb      = 0x20
	opLh      = 0x21
	opLwl     = 0x22
	opLw      = 0x23
	opLbu     = 0x24
	opLhu     = 0x25
	opLwr     = 0x26
	opSb      = 0x28
	opSh      = 0x29
	opSwl     = 0x2a
	opSw      = 0x2b
	opSwr     = 0x2e
	opLwc1    = 0x31
	opSwc1    = 0x39
)

// SPECIAL function codes
const (
	fnSll     = 0x00
	fnSrl     = 0x02
	fnSra     = 0x03
	fnSllv    = 0x04
	fnSrlv    = 0x06
	fnSrav    = 0x07
	fnJr      = 0x08
	fnJalr    = 0x09
	fnSyscall = 0x0c
	fnBreak   = 0x0d
	fnMfhi    = 0x10
	fnMthi    = 0x11
	fnMflo    = 0x12
	fnMtlo    = 0x13
	fnMult    = 0x18
	fnMultu   = 0x19
	fnDiv     = 0x1a
	fnDivu    = 0x1b
	fnAdd     = 0x20
	fnAddu    = 0x21
	fnSub     = 0x22
	fnSubu    = 0x23
	fnAnd     = 0x24
	fnOr      = 0x25
	fnXor     = 0x26
	fnNor     = 0x27
	fnSlt     = 0x2a
	fnSltu    = 0x2b
)

// REGIMM rt codes
const (
	riBltz   = 0x00
	riBgez   = 0x01
	riBltzal = 0x10
	riBgezal = 0x11
)

// three register operations: Arg[0] = rd, Arg[1] = rs, Arg[2] = rt
var specialOps = map[uint32]Handler{
	fnSllv: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[2]] << (r[ic.Arg[1]] & 31) },
	fnSrlv: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[2]] >> (r[ic.Arg[1]] & 31) },
	fnSrav: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		r[ic.Arg[0]] = uint32(int32(r[ic.Arg[2]]) >> (r[ic.Arg[1]] & 31))
	},
	fnAddu: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] + r[ic.Arg[2]] },
	fnSubu: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] - r[ic.Arg[2]] },
	fnAnd:  func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] & r[ic.Arg[2]] },
	fnOr:   func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] | r[ic.Arg[2]] },
	fnXor:  func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] ^ r[ic.Arg[2]] },
	fnNor:  func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = ^(r[ic.Arg[1]] | r[ic.Arg[2]]) },
	fnSlt: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		r[ic.Arg[0]] = b2u(int32(r[ic.Arg[1]]) < int32(r[ic.Arg[2]]))
	},
	fnSltu: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = b2u(r[ic.Arg[1]] < r[ic.Arg[2]]) },
	fnAdd: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		a, b := r[ic.Arg[1]], r[ic.Arg[2]]
		sum := a + b
		if (a^sum)&(b^sum)&0x80000000 != 0 {
			exception(c, ExcOv, false)
			return
		}
		r[ic.Arg[0]] = sum
	},
	fnSub: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		a, b := r[ic.Arg[1]], r[ic.Arg[2]]
		diff := a - b
		if (a^b)&(a^diff)&0x80000000 != 0 {
			exception(c, ExcOv, false)
			return
		}
		r[ic.Arg[0]] = diff
	},
	fnMfhi: func(c *CPU, ic *Call) { c.State.GPR[ic.Arg[0]] = c.State.HI },
	fnMflo: func(c *CPU, ic *Call) { c.State.GPR[ic.Arg[0]] = c.State.LO },
	fnMthi: func(c *CPU, ic *Call) { c.State.HI = c.State.GPR[ic.Arg[1]] },
	fnMtlo: func(c *CPU, ic *Call) { c.State.LO = c.State.GPR[ic.Arg[1]] },
	fnMult: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		p := int64(int32(r[ic.Arg[1]])) * int64(int32(r[ic.Arg[2]]))
		c.State.HI, c.State.LO = uint32(uint64(p)>>32), uint32(p)
	},
	fnMultu: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		p := uint64(r[ic.Arg[1]]) * uint64(r[ic.Arg[2]])
		c.State.HI, c.State.LO = uint32(p>>32), uint32(p)
	},
	fnDiv: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		a, b := int32(r[ic.Arg[1]]), int32(r[ic.Arg[2]])
		switch {
		case b == 0:
			// result unpredictable; HI and LO are left alone
		case a == -1<<31 && b == -1:
			c.State.LO, c.State.HI = uint32(a), 0
		default:
			c.State.LO, c.State.HI = uint32(a/b), uint32(a%b)
		}
	},
	fnDivu: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		a, b := r[ic.Arg[1]], r[ic.Arg[2]]
		if b != 0 {
			c.State.LO, c.State.HI = a/b, a%b
		}
	},
}

// shifts by a constant: Arg[0] = rd, Arg[1] = rt, Arg[2] = sa
var shiftOps = map[uint32]Handler{
	fnSll: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] << ic.Arg[2] },
	fnSrl: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] >> ic.Arg[2] },
	fnSra: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = uint32(int32(r[ic.Arg[1]]) >> ic.Arg[2]) },
}

// immediate operations: Arg[0] = rt, Arg[1] = rs, Arg[2] = immediate,
// already extended the way the instruction wants it
var immOps = map[uint32]Handler{
	opAddiu: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] + uint32(ic.Arg[2]) },
	opSlti: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		r[ic.Arg[0]] = b2u(int32(r[ic.Arg[1]]) < int32(uint32(ic.Arg[2])))
	},
	opSltiu: func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = b2u(r[ic.Arg[1]] < uint32(ic.Arg[2])) },
	opAndi:  func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] & uint32(ic.Arg[2]) },
	opOri:   func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] | uint32(ic.Arg[2]) },
	opXori:  func(c *CPU, ic *Call) { r := &c.State.GPR; r[ic.Arg[0]] = r[ic.Arg[1]] ^ uint32(ic.Arg[2]) },
	opLui:   func(c *CPU, ic *Call) { c.State.GPR[ic.Arg[0]] = uint32(ic.Arg[2]) },
	opAddi: func(c *CPU, ic *Call) {
		r := &c.State.GPR
		a, b := r[ic.Arg[1]], uint32(ic.Arg[2])
		sum := a + b
		if (a^sum)&(b^sum)&0x80000000 != 0 {
			exception(c, ExcOv, false)
			return
		}
		r[ic.Arg[0]] = sum
	},
}

// branch conditions: Arg[0] = rs, Arg[1] = rt
type condition func(r *[33]uint32, ic *Call) bool

var branchConds = map[uint32]condition{
	opBeq:  func(r *[33]uint32, ic *Call) bool { return r[ic.Arg[0]] == r[ic.Arg[1]] },
	opBne:  func(r *[33]uint32, ic *Call) bool { return r[ic.Arg[0]] != r[ic.Arg[1]] },
	opBlez: func(r *[33]uint32, ic *Call) bool { return int32(r[ic.Arg[0]]) <= 0 },
	opBgtz: func(r *[33]uint32, ic *Call) bool { return int32(r[ic.Arg[0]]) > 0 },
}

var regImmConds = map[uint32]condition{
	riBltz:   func(r *[33]uint32, ic *Call) bool { return int32(r[ic.Arg[0]]) < 0 },
	riBgez:   func(r *[33]uint32, ic *Call) bool { return int32(r[ic.Arg[0]]) >= 0 },
	riBltzal: func(r *[33]uint32, ic *Call) bool { return int32(r[ic.Arg[0]]) < 0 },
	riBgezal: func(r *[33]uint32, ic *Call) bool { return int32(r[ic.Arg[0]]) >= 0 },
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// dest maps a destination register number so that writes to $zero are
// discarded.
func dest(r uint32) uint64 {
	if r == 0 {
		return sink
	}
	return uint64(r)
}

func signExt16(v uint32) uint32 {
	return uint32(int32(int16(v)))
}

// Decode implements dyntrans.Arch.
func (Arch) Decode(c *CPU, ic *Call, slot int) error {
	w := ic.Word
	op := w >> 26
	rs, rt := w>>21&31, w>>16&31
	imm := w & 0xffff

	switch op {
	case opSpecial:
		decodeSpecial(ic)

	case opRegImm:
		cond, ok := regImmConds[rt]
		if !ok {
			ic.F = reserved
			return nil
		}
		ic.Arg[0] = uint64(rs)
		decodeBranch(c, ic, slot, cond, rt&0x10 != 0)

	case opJ, opJal:
		ic.Flags |= dyntrans.FlagBranch
		ic.Arg[0] = uint64((w & 0x03ffffff) << 2)
		if op == opJal {
			ic.F = jal
		} else {
			ic.F = j
		}

	case opBeq, opBne, opBlez, opBgtz:
		ic.Arg[0], ic.Arg[1] = uint64(rs), uint64(rt)
		decodeBranch(c, ic, slot, branchConds[op], false)

	case opAddi, opAddiu, opSlti, opSltiu:
		ic.F = immOps[op]
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = dest(rt), uint64(rs), uint64(signExt16(imm))

	case opAndi, opOri, opXori:
		ic.F = immOps[op]
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = dest(rt), uint64(rs), uint64(imm)

	case opLui:
		ic.F = immOps[op]
		ic.Arg[0], ic.Arg[2] = dest(rt), uint64(imm<<16)

	case opCop0:
		return decodeCop0(ic)

	case opCop1, opCop2, opCop3:
		ic.F = coprocessorUnusable
		ic.Arg[0] = uint64(op - opCop0)

	case opLb, opLh, opLw, opLbu, opLhu:
		ic.F = loads[op]
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = dest(rt), uint64(rs), uint64(signExt16(imm))

	case opSb, opSh, opSw:
		ic.F = stores[op]
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = uint64(rt), uint64(rs), uint64(signExt16(imm))

	case opLwl, opLwr, opSwl, opSwr:
		ic.F = unaligned[op]
		// lwl/lwr read the old value of rt, the handlers map $zero themselves
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = uint64(rt), uint64(rs), uint64(signExt16(imm))

	case opLwc1, opSwc1:
		return faults.New(faults.Unimplemented, 0, false, "coprocessor 1 load/store %#08x", w)

	default:
		ic.F = reserved
	}
	return nil
}

func decodeSpecial(ic *Call) {
	w := ic.Word
	rs, rt, rd, sa := w>>21&31, w>>16&31, w>>11&31, w>>6&31
	fn := w & 63

	if h, ok := shiftOps[fn]; ok {
		ic.F = h
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = dest(rd), uint64(rt), uint64(sa)
		if w == 0 {
			ic.F = nop
		}
		return
	}
	if h, ok := specialOps[fn]; ok {
		ic.F = h
		ic.Arg[0], ic.Arg[1], ic.Arg[2] = dest(rd), uint64(rs), uint64(rt)
		return
	}

	switch fn {
	case fnJr:
		ic.Flags |= dyntrans.FlagBranch
		ic.F = jr
		ic.Arg[0] = uint64(rs)
	case fnJalr:
		ic.Flags |= dyntrans.FlagBranch
		ic.F = jalr
		ic.Arg[0], ic.Arg[1] = uint64(rs), dest(rd)
	case fnSyscall:
		ic.F = syscall
	case fnBreak:
		ic.F = breakpoint
	default:
		ic.F = reserved
	}
}

// decodeBranch picks the same page or the generic variant of a conditional
// branch. A branch in the last slot of a page has its delay slot on the
// next page and always takes the generic variant.
func decodeBranch(c *CPU, ic *Call, slot int, cond condition, link bool) {
	ic.Flags |= dyntrans.FlagBranch
	off := int(int16(ic.Word))
	target := slot + 1 + off
	if target >= 0 && target < c.InstrPerPage() && slot < c.InstrPerPage()-1 {
		ic.Arg[2] = uint64(target)
		ic.F = branchSamePage(cond, link)
		return
	}
	ic.Arg[2] = uint64(int64(off) << 2)
	ic.F = branch(cond, link)
}

// branch returns the handler of a conditional branch whose target is
// computed at run time from Arg[2], the byte offset from the delay slot.
func branch(cond condition, link bool) Handler {
	return func(c *CPU, ic *Call) {
		pc := uint32(c.InstrPC())
		taken := cond(&c.State.GPR, ic)
		target := pc + 4 + uint32(ic.Arg[2])
		if link {
			c.State.GPR[31] = pc + 8
		}
		if c.DelaySlot() && taken {
			c.Branch(uint64(target))
		}
	}
}

// branchSamePage returns the handler of a conditional branch whose target
// is slot Arg[2] of the current page.
func branchSamePage(cond condition, link bool) Handler {
	return func(c *CPU, ic *Call) {
		taken := cond(&c.State.GPR, ic)
		target := int(ic.Arg[2])
		if link {
			c.State.GPR[31] = uint32(c.InstrPC()) + 8
		}
		if c.DelaySlot() && taken {
			c.Goto(target)
		}
	}
}

func j(c *CPU, ic *Call) {
	pc := uint32(c.InstrPC())
	target := (pc+4)&0xf0000000 | uint32(ic.Arg[0])
	if c.DelaySlot() {
		c.Branch(uint64(target))
	}
}

func jal(c *CPU, ic *Call) {
	pc := uint32(c.InstrPC())
	target := (pc+4)&0xf0000000 | uint32(ic.Arg[0])
	c.State.GPR[31] = pc + 8
	if c.DelaySlot() {
		c.Branch(uint64(target))
	}
}

func jr(c *CPU, ic *Call) {
	target := c.State.GPR[ic.Arg[0]]
	if c.DelaySlot() {
		c.Branch(uint64(target))
	}
}

func jalr(c *CPU, ic *Call) {
	target := c.State.GPR[ic.Arg[0]]
	c.State.GPR[ic.Arg[1]] = uint32(c.InstrPC()) + 8
	if c.DelaySlot() {
		c.Branch(uint64(target))
	}
}

func nop(*CPU, *Call) {}

func syscall(c *CPU, _ *Call) {
	exception(c, ExcSys, false)
}

func breakpoint(c *CPU, _ *Call) {
	exception(c, ExcBp, false)
}

func reserved(c *CPU, _ *Call) {
	exception(c, ExcRI, false)
}

func coprocessorUnusable(c *CPU, ic *Call) {
	s := &c.State
	s.CP0[CP0Cause] = s.CP0[CP0Cause]&^(3<<28) | uint32(ic.Arg[0])<<28
	exception(c, ExcCpU, false)
}

// setConst is the fused lui + ori/addiu: Arg[0] = rt, Arg[1] = value.
func setConst(c *CPU, ic *Call) {
	c.State.GPR[ic.Arg[0]] = uint32(ic.Arg[1])
}

// Combine implements dyntrans.Arch. It fuses
//
//	lui   rX, hi
//	ori   rX, rX, lo    (or addiu)
//
// into a single constant load.
func (Arch) Combine(c *CPU, p *dyntrans.Page[State], slot int) {
	prev, cur := &p.Calls[slot-1], &p.Calls[slot]
	if prev.Word>>26 != opLui {
		return
	}
	op := cur.Word >> 26
	if op != opOri && op != opAddiu {
		return
	}
	rt := prev.Word >> 16 & 31
	if rt == 0 || cur.Word>>16&31 != rt || cur.Word>>21&31 != rt {
		return
	}
	v := (prev.Word & 0xffff) << 16
	if op == opOri {
		v |= cur.Word & 0xffff
	} else {
		v += signExt16(cur.Word & 0xffff)
	}
	prev.F = setConst
	prev.Arg[0], prev.Arg[1] = uint64(rt), uint64(v)
	prev.Span = 2
}
