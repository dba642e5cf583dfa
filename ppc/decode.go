package ppc

import (
	"dtemu/dyntrans"
	"dtemu/faults"
)

// primary opcodes
const (
	opTwi    = 3
	opMulli  = 7
	opSubfic = 8
	opCmpli  = 10
	opCmpi   = 11
	opAddic  = 12
	opAddicR = 13
	opAddi   = 14
	opAddis  = 15
	opBc     = 16
	opSc     = 17
	opB      = 18
	opXL     = 19
	opRlwimi = 20
	opRlwinm = 21
	opRlwnm  = 23
	opOri    = 24
	opOris   = 25
	opXori   = 26
	opXoris  = 27
	opAndiR  = 28
	opAndisR = 29
	opX      = 31
	opLmw    = 46
	opStmw   = 47
	opLfs    = 48
	opStfdu  = 55
	opFP     = 63
	opFPS    = 59
)

// XL-form extended opcodes
const (
	xlMcrf   = 0
	xlBclr   = 16
	xlCrnor  = 33
	xlRfi    = 50
	xlCrandc = 129
	xlIsync  = 150
	xlCrxor  = 193
	xlCrnand = 225
	xlCrand  = 257
	xlCreqv  = 289
	xlCrorc  = 417
	xlCror   = 449
	xlBcctr  = 528
)

// X-form extended opcodes other than the arithmetic, logical and transfer
// tables
const (
	xCmp    = 0
	xTw     = 4
	xMfcr   = 19
	xCmpl   = 32
	xDcbst  = 54
	xMfmsr  = 83
	xDcbf   = 86
	xMtcrf  = 144
	xMtmsr  = 146
	xMtsr   = 210
	xDcbtst = 246
	xDcbt   = 278
	xTlbie  = 306
	xMfspr  = 339
	xMftb   = 371
	xMtspr  = 467
	xDcbi   = 470
	xTlbsyn = 566
	xMfsr   = 595
	xSync   = 598
	xEieio  = 854
	xIcbi   = 982
	xDcbz   = 1014
)

var crOps = map[uint32]func(a, b bool) bool{
	xlCrand:  func(a, b bool) bool { return a && b },
	xlCror:   func(a, b bool) bool { return a || b },
	xlCrxor:  func(a, b bool) bool { return a != b },
	xlCrnand: func(a, b bool) bool { return !(a && b) },
	xlCrnor:  func(a, b bool) bool { return !(a || b) },
	xlCreqv:  func(a, b bool) bool { return a == b },
	xlCrandc: func(a, b bool) bool { return a && !b },
	xlCrorc:  func(a, b bool) bool { return a || !b },
}

// D-form arithmetic with a sign extended immediate
var immOps = map[uint32]Handler{
	opMulli:  mulli,
	opSubfic: subfic,
	opAddic:  addic(false),
	opAddicR: addic(true),
	opAddi:   addi,
}

func signExt16(v uint32) uint64 {
	return uint64(uint32(int32(int16(v))))
}

// Decode implements dyntrans.Arch.
func (Arch) Decode(c *CPU, ic *Call, slot int) error {
	w := ic.Word
	op := w >> 26
	rt, ra, rb := w>>21&31, w>>16&31, w>>11&31
	imm := w & 0xffff

	switch op {
	case opTwi:
		ic.F = twi
		ic.Arg[0], ic.Arg[1] = uint64(rt|ra<<5), signExt16(imm)
	case opMulli, opSubfic, opAddic, opAddicR, opAddi:
		ic.F = immOps[op]
		ic.Arg[0], ic.Arg[1] = uint64(rt|ra<<5), signExt16(imm)
	case opAddis:
		ic.F = addi
		ic.Arg[0], ic.Arg[1] = uint64(rt|ra<<5), uint64(imm<<16)
	case opCmpi, opCmpli:
		if rt&3 != 0 {
			// 64-bit compares
			ic.F = illegal
			return nil
		}
		ic.F = cmpi
		ic.Arg[1] = signExt16(imm)
		if op == opCmpli {
			ic.F = cmpli
			ic.Arg[1] = uint64(imm)
		}
		ic.Arg[0] = uint64(rt>>2 | ra<<5)
	case opBc:
		decodeBranchConditional(c, ic, slot)
	case opSc:
		ic.F = sc
	case opB:
		decodeBranch(c, ic, slot)
	case opXL:
		decodeXL(ic)
	case opRlwimi, opRlwinm, opRlwnm:
		ic.F = rotate(op == opRlwnm, op == opRlwimi, w&1 != 0)
		ic.Arg[0] = uint64(ra | rt<<5 | rb<<10)
		ic.Arg[1] = uint64(rotateMask(w>>6&31, w>>1&31))
	case opOri, opOris, opXori, opXoris, opAndiR, opAndisR:
		decodeLogicImm(ic)
	case opX:
		return decodeX(ic)
	case opLmw, opStmw:
		ic.F = lmw
		if op == opStmw {
			ic.F = stmw
		} else if ra != 0 && ra >= rt {
			ic.F = illegal
			return nil
		}
		ic.Arg[0], ic.Arg[1] = uint64(rt|ra<<5), signExt16(imm)
	default:
		if x, ok := dTransfers[op]; ok {
			if !validTransfer(x, rt, ra) {
				ic.F = illegal
				return nil
			}
			ic.F = transfers[sizeIndex(x.size)][x.kind]
			ic.Arg[0], ic.Arg[1] = uint64(rt|ra<<5), signExt16(imm)
			return nil
		}
		if op >= opLfs && op <= opStfdu || op == opFP || op == opFPS {
			return faults.New(faults.Unimplemented, 0, false, "floating point %#08x", w)
		}
		ic.F = illegal
	}
	return nil
}

func decodeLogicImm(ic *Call) {
	w := ic.Word
	op := w >> 26
	rs, ra := w>>21&31, w>>16&31
	imm := w & 0xffff
	if op&1 != 0 {
		imm <<= 16
	}
	var f func(a, b uint32) uint32
	switch op {
	case opOri, opOris:
		f = func(a, b uint32) uint32 { return a | b }
	case opXori, opXoris:
		f = func(a, b uint32) uint32 { return a ^ b }
	default:
		f = func(a, b uint32) uint32 { return a & b }
	}
	ic.F = logicImm(f, op == opAndiR || op == opAndisR)
	ic.Arg[0], ic.Arg[1] = uint64(ra|rs<<5), uint64(imm)
}

func decodeXL(ic *Call) {
	w := ic.Word
	xo := w >> 1 & 0x3ff
	bt, ba, bb := w>>21&31, w>>16&31, w>>11&31
	switch xo {
	case xlMcrf:
		ic.F = mcrf
		ic.Arg[0] = uint64(bt>>2 | (ba>>2)<<5)
	case xlBclr, xlBcctr:
		ic.Flags |= dyntrans.FlagBranch
		ic.F = branchRegister(xo == xlBcctr, w&1 != 0)
		ic.Arg[0] = uint64(bt | ba<<5)
	case xlRfi:
		ic.Flags |= dyntrans.FlagBranch
		ic.F = privileged(rfi)
	case xlIsync:
		ic.F = nop
	default:
		f, ok := crOps[xo]
		if !ok {
			ic.F = illegal
			return
		}
		ic.F = crLogic(f)
		ic.Arg[0] = uint64(bt | ba<<5 | bb<<10)
	}
}

func decodeX(ic *Call) error {
	w := ic.Word
	rt, ra, rb := w>>21&31, w>>16&31, w>>11&31
	xo := w >> 1 & 0x3ff
	rc := w&1 != 0

	if op, ok := arithOps[xo&0x1ff]; ok {
		oe := w&(1<<10) != 0
		ic.F = arith(op, oe, rc)
		ic.Arg[0] = uint64(rt | ra<<5 | rb<<10)
		return nil
	}
	if op, ok := logicOps[xo]; ok {
		ic.F = logic(op, rc)
		ic.Arg[0] = uint64(ra | rt<<5 | rb<<10)
		return nil
	}
	if x, ok := xTransfers[xo]; ok {
		if !validTransfer(x, rt, ra) {
			ic.F = illegal
			return nil
		}
		ic.F = transfers[sizeIndex(x.size)][x.kind]
		ic.Arg[0] = uint64(rt | ra<<5 | rb<<10)
		return nil
	}

	switch xo {
	case xSrawi:
		ic.F = srawi(rc)
		ic.Arg[0], ic.Arg[1] = uint64(ra|rt<<5), uint64(rb)
	case xCmp, xCmpl:
		if rt&3 != 0 {
			ic.F = illegal
			return nil
		}
		ic.F = cmp
		if xo == xCmpl {
			ic.F = cmpl
		}
		ic.Arg[0] = uint64(rt>>2 | ra<<5 | rb<<10)
	case xTw:
		ic.F = tw
		ic.Arg[0] = uint64(rt | ra<<5 | rb<<10)
	case xMfcr:
		ic.F = mfcr
		ic.Arg[0] = uint64(rt)
	case xMtcrf:
		ic.F = mtcrf
		ic.Arg[0], ic.Arg[1] = uint64(rt), uint64(w>>12&0xff)
	case xMfmsr:
		ic.F = privileged(mfmsr)
		ic.Arg[0] = uint64(rt)
	case xMtmsr:
		ic.F = privileged(mtmsr)
		ic.Arg[0] = uint64(rt)
	case xMfspr, xMtspr:
		spr := sprNumber(w)
		ic.F = mfspr
		if xo == xMtspr {
			ic.F = mtspr
		}
		if !userSPR(spr) {
			ic.F = privileged(ic.F)
		}
		ic.Arg[0], ic.Arg[1] = uint64(rt), uint64(spr)
	case xMftb:
		ic.F = mftb
		ic.Arg[0], ic.Arg[1] = uint64(rt), uint64(sprNumber(w))
	case xMfsr, xMtsr:
		ic.F = privileged(mfsr)
		if xo == xMtsr {
			ic.F = privileged(mtsr)
		}
		ic.Arg[0], ic.Arg[1] = uint64(rt), uint64(ra&15)
	case xTlbie:
		ic.F = privileged(tlbie)
		ic.Arg[0] = uint64(rb)
	case xDcbi, xTlbsyn:
		ic.F = privileged(nop)
	case xSync, xEieio, xIcbi, xDcbf, xDcbst, xDcbt, xDcbtst:
		// caches are not modelled. stores to translated code are caught by
		// the domain
		ic.F = nop
	case xDcbz:
		ic.F = dcbz
		ic.Arg[0] = uint64(ra<<5 | rb<<10)
	default:
		ic.F = illegal
	}
	return nil
}

// branch target modes
const (
	// Arg[1] holds a byte displacement from the instruction
	targetRelative = iota
	// Arg[1] holds an absolute address
	targetAbsolute
	// Arg[1] holds a slot of the current page
	targetSlot
)

// branchTarget chooses the cheapest form of a branch displacement.
func branchTarget(c *CPU, ic *Call, slot int, disp int32, absolute bool) {
	ic.Flags |= dyntrans.FlagBranch
	switch {
	case absolute:
		ic.Arg[2] = targetAbsolute
		ic.Arg[1] = uint64(uint32(disp))
	case disp&3 == 0 && slot+int(disp>>2) >= 0 && slot+int(disp>>2) < c.InstrPerPage():
		ic.Arg[2] = targetSlot
		ic.Arg[1] = uint64(slot + int(disp>>2))
	default:
		ic.Arg[2] = targetRelative
		ic.Arg[1] = uint64(uint32(disp))
	}
}

// jump transfers control to the target of a b/bc call.
func jump(c *CPU, ic *Call) {
	switch ic.Arg[2] {
	case targetSlot:
		c.Goto(int(ic.Arg[1]))
	case targetAbsolute:
		c.Branch(ic.Arg[1])
	default:
		c.Branch(uint64(uint32(c.InstrPC()) + uint32(ic.Arg[1])))
	}
}

func decodeBranch(c *CPU, ic *Call, slot int) {
	w := ic.Word
	disp := int32(w<<6) >> 6 &^ 3
	branchTarget(c, ic, slot, disp, w&2 != 0)
	ic.F = b
	if w&1 != 0 {
		ic.F = bl
	}
}

func b(c *CPU, ic *Call) {
	jump(c, ic)
}

func bl(c *CPU, ic *Call) {
	c.State.LR = uint32(c.InstrPC()) + 4
	jump(c, ic)
}

// bc: Arg[0] = bo | bi<<5
func decodeBranchConditional(c *CPU, ic *Call, slot int) {
	w := ic.Word
	disp := int32(int16(w & 0xfffc))
	branchTarget(c, ic, slot, disp, w&2 != 0)
	ic.F = bc(w&1 != 0)
	ic.Arg[0] = uint64(w>>21&31 | (w>>16&31)<<5)
}

// taken evaluates BO and BI, decrementing CTR when BO asks for it.
func taken(s *State, bo, bi uint32) bool {
	ctrOK := true
	if bo&0x04 == 0 {
		s.CTR--
		ctrOK = (s.CTR != 0) != (bo&0x02 != 0)
	}
	condOK := bo&0x10 != 0 || s.crBit(bi) == (bo&0x08 != 0)
	return ctrOK && condOK
}

func bc(link bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := uint32(ic.Arg[0])
		if link {
			s.LR = uint32(c.InstrPC()) + 4
		}
		if taken(s, a&31, a>>5&31) {
			jump(c, ic)
		}
	}
}

// branchRegister returns the handler of bclr (to LR) or bcctr (to CTR):
// Arg[0] = bo | bi<<5. bcctr never decrements CTR.
func branchRegister(toCTR, link bool) Handler {
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := uint32(ic.Arg[0])
		bo := a & 31
		target := s.LR
		if toCTR {
			target = s.CTR
			bo |= 0x04
		}
		if link {
			s.LR = uint32(c.InstrPC()) + 4
		}
		if taken(s, bo, a>>5&31) {
			c.Branch(uint64(target &^ 3))
		}
	}
}

func sc(c *CPU, _ *Call) {
	exception(c, VectorSyscall, uint32(c.InstrPC())+4, 0)
}

func illegal(c *CPU, _ *Call) {
	program(c, ProgramIllegal)
}

func nop(*CPU, *Call) {}

// setConst is the fused lis + ori/addi: Arg[0] = rt, Arg[1] = value.
func setConst(c *CPU, ic *Call) {
	c.State.GPR[ic.Arg[0]] = uint32(ic.Arg[1])
}

// Combine implements dyntrans.Arch. It fuses
//
//	lis  rX, hi
//	ori  rX, rX, lo    (or addi)
//
// into a single constant load.
func (Arch) Combine(c *CPU, p *dyntrans.Page[State], slot int) {
	prev, cur := &p.Calls[slot-1], &p.Calls[slot]
	pw, cw := prev.Word, cur.Word
	// lis is addis with rA = 0
	if pw>>26 != opAddis || pw>>16&31 != 0 {
		return
	}
	rt := pw >> 21 & 31
	op := cw >> 26
	switch {
	case op == opOri && cw>>21&31 == rt && cw>>16&31 == rt:
	case op == opAddi && rt != 0 && cw>>21&31 == rt && cw>>16&31 == rt:
	default:
		return
	}
	v := pw << 16
	if op == opOri {
		v |= cw & 0xffff
	} else {
		v += uint32(signExt16(cw & 0xffff))
	}
	prev.F = setConst
	prev.Arg[0], prev.Arg[1] = uint64(rt), uint64(v)
	prev.Span = 2
}
