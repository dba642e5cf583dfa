package ppc

import "math/bits"

// setCRField sets CR field n (0 is the most significant) to v.
func (s *State) setCRField(n, v uint32) {
	shift := 28 - 4*n
	s.CR = s.CR&^(0xf<<shift) | (v&0xf)<<shift
}

// crField returns CR field n.
func (s *State) crField(n uint32) uint32 {
	return s.CR >> (28 - 4*n) & 0xf
}

// crBit returns CR bit n, numbered from the most significant bit.
func (s *State) crBit(n uint32) bool {
	return s.CR>>(31-n)&1 != 0
}

func (s *State) setCRBit(n uint32, v bool) {
	m := uint32(1) << (31 - n)
	if v {
		s.CR |= m
	} else {
		s.CR &^= m
	}
}

// compare returns the LT/GT/EQ bits of a signed comparison plus SO.
func (s *State) compare(a, b int32) uint32 {
	var v uint32
	switch {
	case a < b:
		v = crLT
	case a > b:
		v = crGT
	default:
		v = crEQ
	}
	if s.XER&XERSO != 0 {
		v |= crSO
	}
	return v
}

func (s *State) compareUnsigned(a, b uint32) uint32 {
	var v uint32
	switch {
	case a < b:
		v = crLT
	case a > b:
		v = crGT
	default:
		v = crEQ
	}
	if s.XER&XERSO != 0 {
		v |= crSO
	}
	return v
}

// record sets CR0 from result r (the "." forms).
func (s *State) record(r uint32) {
	s.setCRField(0, s.compare(int32(r), 0))
}

func (s *State) setCA(ca bool) {
	if ca {
		s.XER |= XERCA
	} else {
		s.XER &^= XERCA
	}
}

func (s *State) ca() uint32 {
	return s.XER >> 29 & 1
}

func (s *State) setOV(ov bool) {
	if ov {
		s.XER |= XEROV | XERSO
	} else {
		s.XER &^= XEROV
	}
}

// addc adds with carry in and reports carry out and signed overflow.
func addc(a, b, cin uint32) (r uint32, ca, ov bool) {
	r, carry := bits.Add32(a, b, cin)
	ov = (a^r)&(b^r)&0x80000000 != 0
	return r, carry != 0, ov
}

// arithOp is an XO-form operation: result and signed overflow of rA and rB.
// Operations with carry update XER[CA] themselves.
type arithOp struct {
	name  string
	f     func(s *State, a, b uint32) (uint32, bool)
	unary bool
}

// XO-form extended opcodes (bits 22-30, without OE)
const (
	xoSubfc  = 8
	xoAddc   = 10
	xoMulhwu = 11
	xoSubf   = 40
	xoMulhw  = 75
	xoNeg    = 104
	xoSubfe  = 136
	xoAdde   = 138
	xoSubfze = 200
	xoAddze  = 202
	xoSubfme = 232
	xoAddme  = 234
	xoMullw  = 235
	xoAdd    = 266
	xoDivwu  = 459
	xoDivw   = 491
)

var arithOps = map[uint32]arithOp{
	xoAdd: {"add", func(s *State, a, b uint32) (uint32, bool) {
		r, _, ov := addc(a, b, 0)
		return r, ov
	}, false},
	xoAddc: {"addc", func(s *State, a, b uint32) (uint32, bool) {
		r, ca, ov := addc(a, b, 0)
		s.setCA(ca)
		return r, ov
	}, false},
	xoAdde: {"adde", func(s *State, a, b uint32) (uint32, bool) {
		r, ca, ov := addc(a, b, s.ca())
		s.setCA(ca)
		return r, ov
	}, false},
	xoAddze: {"addze", func(s *State, a, _ uint32) (uint32, bool) {
		r, ca, ov := addc(a, 0, s.ca())
		s.setCA(ca)
		return r, ov
	}, true},
	xoAddme: {"addme", func(s *State, a, _ uint32) (uint32, bool) {
		r, ca, ov := addc(a, 0xffffffff, s.ca())
		s.setCA(ca)
		return r, ov
	}, true},
	xoSubf: {"subf", func(s *State, a, b uint32) (uint32, bool) {
		r, _, ov := addc(^a, b, 1)
		return r, ov
	}, false},
	xoSubfc: {"subfc", func(s *State, a, b uint32) (uint32, bool) {
		r, ca, ov := addc(^a, b, 1)
		s.setCA(ca)
		return r, ov
	}, false},
	xoSubfe: {"subfe", func(s *State, a, b uint32) (uint32, bool) {
		r, ca, ov := addc(^a, b, s.ca())
		s.setCA(ca)
		return r, ov
	}, false},
	xoSubfze: {"subfze", func(s *State, a, _ uint32) (uint32, bool) {
		r, ca, ov := addc(^a, 0, s.ca())
		s.setCA(ca)
		return r, ov
	}, true},
	xoSubfme: {"subfme", func(s *State, a, _ uint32) (uint32, bool) {
		r, ca, ov := addc(^a, 0xffffffff, s.ca())
		s.setCA(ca)
		return r, ov
	}, true},
	xoNeg: {"neg", func(s *State, a, _ uint32) (uint32, bool) {
		return -a, a == 0x80000000
	}, true},
	xoMullw: {"mullw", func(s *State, a, b uint32) (uint32, bool) {
		r := int64(int32(a)) * int64(int32(b))
		return uint32(r), r != int64(int32(r))
	}, false},
	xoMulhw: {"mulhw", func(s *State, a, b uint32) (uint32, bool) {
		return uint32(int64(int32(a)) * int64(int32(b)) >> 32), false
	}, false},
	xoMulhwu: {"mulhwu", func(s *State, a, b uint32) (uint32, bool) {
		hi, _ := bits.Mul32(a, b)
		return hi, false
	}, false},
	xoDivw: {"divw", func(s *State, a, b uint32) (uint32, bool) {
		if b == 0 || a == 0x80000000 && b == 0xffffffff {
			// undefined result
			return 0, true
		}
		return uint32(int32(a) / int32(b)), false
	}, false},
	xoDivwu: {"divwu", func(s *State, a, b uint32) (uint32, bool) {
		if b == 0 {
			return 0, true
		}
		return a / b, false
	}, false},
}

// arith returns the handler of an XO-form operation: Arg[0] = rt | ra<<5 |
// rb<<10.
func arith(op arithOp, oe, rc bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		r, ov := op.f(s, s.GPR[a>>5&31], s.GPR[a>>10&31])
		if oe {
			s.setOV(ov)
		}
		s.GPR[a&31] = r
		if rc {
			s.record(r)
		}
	}
}

// X-form logical extended opcodes (bits 21-30)
const (
	xSlw    = 24
	xCntlzw = 26
	xAnd    = 28
	xAndc   = 60
	xNor    = 124
	xEqv    = 284
	xXor    = 316
	xOrc    = 412
	xOr     = 444
	xNand   = 476
	xSrw    = 536
	xSraw   = 792
	xSrawi  = 824
	xExtsh  = 922
	xExtsb  = 954
)

// logicOp is an X-form operation with rS and rB as sources and rA as
// destination. Shifts by register update XER[CA] themselves.
type logicOp struct {
	name  string
	f     func(s *State, a, b uint32) uint32
	unary bool
}

var logicOps = map[uint32]logicOp{
	xAnd:  {"and", func(_ *State, a, b uint32) uint32 { return a & b }, false},
	xAndc: {"andc", func(_ *State, a, b uint32) uint32 { return a &^ b }, false},
	xOr:   {"or", func(_ *State, a, b uint32) uint32 { return a | b }, false},
	xOrc:  {"orc", func(_ *State, a, b uint32) uint32 { return a | ^b }, false},
	xXor:  {"xor", func(_ *State, a, b uint32) uint32 { return a ^ b }, false},
	xNand: {"nand", func(_ *State, a, b uint32) uint32 { return ^(a & b) }, false},
	xNor:  {"nor", func(_ *State, a, b uint32) uint32 { return ^(a | b) }, false},
	xEqv:  {"eqv", func(_ *State, a, b uint32) uint32 { return ^(a ^ b) }, false},
	xSlw: {"slw", func(_ *State, a, b uint32) uint32 {
		if b&0x20 != 0 {
			return 0
		}
		return a << (b & 31)
	}, false},
	xSrw: {"srw", func(_ *State, a, b uint32) uint32 {
		if b&0x20 != 0 {
			return 0
		}
		return a >> (b & 31)
	}, false},
	xSraw: {"sraw", func(s *State, a, b uint32) uint32 {
		return shiftRightAlgebraic(s, a, b&0x3f)
	}, false},
	xCntlzw: {"cntlzw", func(_ *State, a, _ uint32) uint32 { return uint32(bits.LeadingZeros32(a)) }, true},
	xExtsb:  {"extsb", func(_ *State, a, _ uint32) uint32 { return uint32(int32(int8(a))) }, true},
	xExtsh:  {"extsh", func(_ *State, a, _ uint32) uint32 { return uint32(int32(int16(a))) }, true},
}

// shiftRightAlgebraic shifts a right by n (0 to 63) and sets XER[CA] when a
// is negative and one bits were shifted out.
func shiftRightAlgebraic(s *State, a, n uint32) uint32 {
	if n > 31 {
		s.setCA(int32(a) < 0)
		return uint32(int32(a) >> 31)
	}
	r := uint32(int32(a) >> n)
	s.setCA(int32(a) < 0 && a&(1<<n-1) != 0)
	return r
}

// logic returns the handler of an X-form logical operation: Arg[0] = ra |
// rs<<5 | rb<<10.
func logic(op logicOp, rc bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		r := op.f(s, s.GPR[a>>5&31], s.GPR[a>>10&31])
		s.GPR[a&31] = r
		if rc {
			s.record(r)
		}
	}
}

// srawi: Arg[0] = ra | rs<<5, Arg[1] = shift
func srawi(rc bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		r := shiftRightAlgebraic(s, s.GPR[a>>5&31], uint32(ic.Arg[1]))
		s.GPR[a&31] = r
		if rc {
			s.record(r)
		}
	}
}

// rotateMask returns the mask of rlwinm and friends, bits mb to me counted
// from the most significant bit, wrapping around when mb > me.
func rotateMask(mb, me uint32) uint32 {
	m := uint32(0xffffffff)>>mb ^ uint32(0x7fffffff)>>me
	if mb > me {
		return ^m
	}
	return m
}

// rotate returns the handler of rlwinm (by immediate), rlwnm (by rB) and
// rlwimi (insert): Arg[0] = ra | rs<<5 | sh or rb<<10, Arg[1] = mask.
func rotate(byReg, insert, rc bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		n := int(a >> 10 & 31)
		if byReg {
			n = int(s.GPR[a>>10&31] & 31)
		}
		m := uint32(ic.Arg[1])
		r := bits.RotateLeft32(s.GPR[a>>5&31], n) & m
		if insert {
			r |= s.GPR[a&31] &^ m
		}
		s.GPR[a&31] = r
		if rc {
			s.record(r)
		}
	}
}

// D-form immediate operations: Arg[0] = rt | ra<<5, Arg[1] = immediate
// (sign extended or shifted as the instruction requires).

func addi(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	var base uint32
	if ra := a >> 5 & 31; ra != 0 {
		base = s.GPR[ra]
	}
	s.GPR[a&31] = base + uint32(ic.Arg[1])
}

func addic(rc bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		r, ca, _ := addc(s.GPR[a>>5&31], uint32(ic.Arg[1]), 0)
		s.setCA(ca)
		s.GPR[a&31] = r
		if rc {
			s.record(r)
		}
	}
}

func subfic(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	r, ca, _ := addc(^s.GPR[a>>5&31], uint32(ic.Arg[1]), 1)
	s.setCA(ca)
	s.GPR[a&31] = r
}

func mulli(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	s.GPR[a&31] = uint32(int32(s.GPR[a>>5&31]) * int32(uint32(ic.Arg[1])))
}

// logical immediates: Arg[0] = ra | rs<<5, Arg[1] = immediate. andi. and
// andis. always record.
func logicImm(f func(a, b uint32) uint32, rc bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		r := f(s.GPR[a>>5&31], uint32(ic.Arg[1]))
		s.GPR[a&31] = r
		if rc {
			s.record(r)
		}
	}
}

// compares: Arg[0] = crf | ra<<5 | rb<<10, Arg[1] = immediate
func cmp(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	s.setCRField(uint32(a&7), s.compare(int32(s.GPR[a>>5&31]), int32(s.GPR[a>>10&31])))
}

func cmpl(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	s.setCRField(uint32(a&7), s.compareUnsigned(s.GPR[a>>5&31], s.GPR[a>>10&31]))
}

func cmpi(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	s.setCRField(uint32(a&7), s.compare(int32(s.GPR[a>>5&31]), int32(uint32(ic.Arg[1]))))
}

func cmpli(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	s.setCRField(uint32(a&7), s.compareUnsigned(s.GPR[a>>5&31], uint32(ic.Arg[1])))
}

// crLogic returns the handler of a CR logical operation: Arg[0] = bt | ba<<5
// | bb<<10.
func crLogic(f func(a, b bool) bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := uint32(ic.Arg[0])
		s.setCRBit(a&31, f(s.crBit(a>>5&31), s.crBit(a>>10&31)))
	}
}

// mcrf: Arg[0] = crfd | crfs<<5
func mcrf(c *CPU, ic *Call) {
	s := &c.State
	a := uint32(ic.Arg[0])
	s.setCRField(a&7, s.crField(a>>5&7))
}

func mfcr(c *CPU, ic *Call) {
	c.State.GPR[ic.Arg[0]] = c.State.CR
}

// mtcrf: Arg[0] = rs, Arg[1] = field mask
func mtcrf(c *CPU, ic *Call) {
	s := &c.State
	var m uint32
	for i := uint32(0); i < 8; i++ {
		if ic.Arg[1]&(0x80>>i) != 0 {
			m |= 0xf0000000 >> (4 * i)
		}
	}
	s.CR = s.CR&^m | s.GPR[ic.Arg[0]]&m
}

// tw: Arg[0] = to | ra<<5 | rb<<10
func tw(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	if trap(uint32(a&31), s.GPR[a>>5&31], s.GPR[a>>10&31]) {
		program(c, ProgramTrap)
	}
}

// twi: Arg[0] = to | ra<<5, Arg[1] = immediate
func twi(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	if trap(uint32(a&31), s.GPR[a>>5&31], uint32(ic.Arg[1])) {
		program(c, ProgramTrap)
	}
}

// trap evaluates the TO field of tw/twi.
func trap(to, a, b uint32) bool {
	return to&0x10 != 0 && int32(a) < int32(b) ||
		to&0x08 != 0 && int32(a) > int32(b) ||
		to&0x04 != 0 && a == b ||
		to&0x02 != 0 && a < b ||
		to&0x01 != 0 && a > b
}
