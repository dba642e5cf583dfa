package ppc

import (
	"fmt"
	"sort"
)

var regNames = [32]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"r16", "r17", "r18", "r19", "r20", "r21", "r22", "r23",
	"r24", "r25", "r26", "r27", "r28", "r29", "r30", "r31",
}

// operand formats
const (
	fmtNone = iota
	fmtRtRaSimm
	fmtRaRsUimm
	fmtRtSimm
	fmtRtUimm
	fmtCrfRaSimm
	fmtCrfRaUimm
	fmtCrfRaRb
	fmtRtDispRa
	fmtRtRaRb
	fmtRtRa
	fmtRaRsRb
	fmtRaRs
	fmtRaRsSh
	fmtRlw
	fmtTarget
	fmtBc
	fmtBoBi
	fmtCrBits
	fmtRt
	fmtRtSpr
	fmtSprRt
	fmtRaRb
	fmtToRaSimm
	fmtRtSr
	fmtFxmRs
)

type disasmEntry struct {
	mask, match uint32
	msg         string
	format      int
	// rc appends "." when the record bit is set, oe appends "o" for the
	// overflow enable bit
	rc, oe bool
}

const (
	maskD  = 0xfc000000
	maskX  = 0xfc0007fe
	maskXO = 0xfc0003fe
)

// the simplified mnemonics come first so they win over the generic forms
var disasmtable = []disasmEntry{
	{0xffffffff, 0x60000000, "nop", fmtNone, false, false},
	{0xfc1f0000, 0x38000000, "li", fmtRtSimm, false, false},
	{0xfc1f0000, 0x3c000000, "lis", fmtRtUimm, false, false},
	{0xffffffff, 0x4e800020, "blr", fmtNone, false, false},
	{0xffffffff, 0x4e800021, "blrl", fmtNone, false, false},
	{0xffffffff, 0x4e800420, "bctr", fmtNone, false, false},
	{0xffffffff, 0x4e800421, "bctrl", fmtNone, false, false},
	{0xfc1fffff, 0x7c0802a6, "mflr", fmtRt, false, false},
	{0xfc1fffff, 0x7c0803a6, "mtlr", fmtRt, false, false},
	{0xfc1fffff, 0x7c0902a6, "mfctr", fmtRt, false, false},
	{0xfc1fffff, 0x7c0903a6, "mtctr", fmtRt, false, false},

	{maskD, opTwi << 26, "twi", fmtToRaSimm, false, false},
	{maskD, opMulli << 26, "mulli", fmtRtRaSimm, false, false},
	{maskD, opSubfic << 26, "subfic", fmtRtRaSimm, false, false},
	{0xfc600000, opCmpli << 26, "cmplwi", fmtCrfRaUimm, false, false},
	{0xfc600000, opCmpi << 26, "cmpwi", fmtCrfRaSimm, false, false},
	{maskD, opAddic << 26, "addic", fmtRtRaSimm, false, false},
	{maskD, opAddicR << 26, "addic.", fmtRtRaSimm, false, false},
	{maskD, opAddi << 26, "addi", fmtRtRaSimm, false, false},
	{maskD, opAddis << 26, "addis", fmtRtRaSimm, false, false},
	{maskD, opBc << 26, "bc", fmtBc, false, false},
	{0xffffffff, 0x44000002, "sc", fmtNone, false, false},
	{maskD, opB << 26, "b", fmtTarget, false, false},
	{0xfc0007ff, opXL<<26 | xlBclr<<1, "bclr", fmtBoBi, false, false},
	{0xfc0007ff, opXL<<26 | xlBclr<<1 | 1, "bclrl", fmtBoBi, false, false},
	{0xfc0007ff, opXL<<26 | xlBcctr<<1, "bcctr", fmtBoBi, false, false},
	{0xfc0007ff, opXL<<26 | xlBcctr<<1 | 1, "bcctrl", fmtBoBi, false, false},
	{0xffffffff, opXL<<26 | xlRfi<<1, "rfi", fmtNone, false, false},
	{0xffffffff, opXL<<26 | xlIsync<<1, "isync", fmtNone, false, false},
	{maskD, opRlwimi << 26, "rlwimi", fmtRlw, true, false},
	{maskD, opRlwinm << 26, "rlwinm", fmtRlw, true, false},
	{maskD, opRlwnm << 26, "rlwnm", fmtRlw, true, false},
	{maskD, opOri << 26, "ori", fmtRaRsUimm, false, false},
	{maskD, opOris << 26, "oris", fmtRaRsUimm, false, false},
	{maskD, opXori << 26, "xori", fmtRaRsUimm, false, false},
	{maskD, opXoris << 26, "xoris", fmtRaRsUimm, false, false},
	{maskD, opAndiR << 26, "andi.", fmtRaRsUimm, false, false},
	{maskD, opAndisR << 26, "andis.", fmtRaRsUimm, false, false},
	{maskD, opLmw << 26, "lmw", fmtRtDispRa, false, false},
	{maskD, opStmw << 26, "stmw", fmtRtDispRa, false, false},

	{0xfc6007ff, opX<<26 | xCmp<<1, "cmpw", fmtCrfRaRb, false, false},
	{0xfc6007ff, opX<<26 | xCmpl<<1, "cmplw", fmtCrfRaRb, false, false},
	{maskX, opX<<26 | xTw<<1, "tw", fmtRtRaRb, false, false},
	{maskX, opX<<26 | xSrawi<<1, "srawi", fmtRaRsSh, true, false},
	{maskX, opX<<26 | xMfcr<<1, "mfcr", fmtRt, false, false},
	{maskX, opX<<26 | xMtcrf<<1, "mtcrf", fmtFxmRs, false, false},
	{maskX, opX<<26 | xMfmsr<<1, "mfmsr", fmtRt, false, false},
	{maskX, opX<<26 | xMtmsr<<1, "mtmsr", fmtRt, false, false},
	{maskX, opX<<26 | xMfspr<<1, "mfspr", fmtRtSpr, false, false},
	{maskX, opX<<26 | xMtspr<<1, "mtspr", fmtSprRt, false, false},
	{maskX, opX<<26 | xMftb<<1, "mftb", fmtRtSpr, false, false},
	{maskX, opX<<26 | xMfsr<<1, "mfsr", fmtRtSr, false, false},
	{maskX, opX<<26 | xMtsr<<1, "mtsr", fmtRtSr, false, false},
	{maskX, opX<<26 | xTlbie<<1, "tlbie", fmtRaRb, false, false},
	{maskX, opX<<26 | xTlbsyn<<1, "tlbsync", fmtNone, false, false},
	{maskX, opX<<26 | xSync<<1, "sync", fmtNone, false, false},
	{maskX, opX<<26 | xEieio<<1, "eieio", fmtNone, false, false},
	{maskX, opX<<26 | xIcbi<<1, "icbi", fmtRaRb, false, false},
	{maskX, opX<<26 | xDcbf<<1, "dcbf", fmtRaRb, false, false},
	{maskX, opX<<26 | xDcbst<<1, "dcbst", fmtRaRb, false, false},
	{maskX, opX<<26 | xDcbt<<1, "dcbt", fmtRaRb, false, false},
	{maskX, opX<<26 | xDcbtst<<1, "dcbtst", fmtRaRb, false, false},
	{maskX, opX<<26 | xDcbi<<1, "dcbi", fmtRaRb, false, false},
	{maskX, opX<<26 | xDcbz<<1, "dcbz", fmtRaRb, false, false},
}

func init() {
	var generated []disasmEntry
	for op, x := range dTransfers {
		generated = append(generated, disasmEntry{maskD, op << 26, x.name, fmtRtDispRa, false, false})
	}
	for xo, x := range xTransfers {
		generated = append(generated, disasmEntry{maskX, opX<<26 | xo<<1, x.name, fmtRtRaRb, false, false})
	}
	for xo, op := range arithOps {
		f := fmtRtRaRb
		if op.unary {
			f = fmtRtRa
		}
		generated = append(generated, disasmEntry{maskXO, opX<<26 | xo<<1, op.name, f, true, true})
	}
	for xo, op := range logicOps {
		f := fmtRaRsRb
		if op.unary {
			f = fmtRaRs
		}
		generated = append(generated, disasmEntry{maskX, opX<<26 | xo<<1, op.name, f, true, false})
	}
	for xo := range crOps {
		generated = append(generated, disasmEntry{maskX, opXL<<26 | xo<<1, crNames[xo], fmtCrBits, false, false})
	}
	// map order is random, keep the table stable
	sort.Slice(generated, func(i, j int) bool { return generated[i].match < generated[j].match })
	disasmtable = append(disasmtable, generated...)
}

var crNames = map[uint32]string{
	xlCrand: "crand", xlCror: "cror", xlCrxor: "crxor", xlCrnand: "crnand",
	xlCrnor: "crnor", xlCreqv: "creqv", xlCrandc: "crandc", xlCrorc: "crorc",
}

// Disassemble returns the assembly text of the instruction word w at pc.
func Disassemble(pc, w uint32) string {
	rt, ra, rb := regNames[w>>21&31], regNames[w>>16&31], regNames[w>>11&31]
	simm := int16(w)
	for _, d := range disasmtable {
		if w&d.mask != d.match {
			continue
		}
		msg := d.msg
		if d.oe && w&(1<<10) != 0 {
			msg += "o"
		}
		if d.rc && w&1 != 0 {
			msg += "."
		}
		switch d.format {
		case fmtNone:
			return msg
		case fmtRtRaSimm:
			return fmt.Sprintf("%s %s, %s, %d", msg, rt, ra, simm)
		case fmtRaRsUimm:
			return fmt.Sprintf("%s %s, %s, %#x", msg, ra, rt, uint16(w))
		case fmtRtSimm:
			return fmt.Sprintf("%s %s, %d", msg, rt, simm)
		case fmtRtUimm:
			return fmt.Sprintf("%s %s, %#x", msg, rt, uint16(w))
		case fmtCrfRaSimm:
			return fmt.Sprintf("%s cr%d, %s, %d", msg, w>>23&7, ra, simm)
		case fmtCrfRaUimm:
			return fmt.Sprintf("%s cr%d, %s, %#x", msg, w>>23&7, ra, uint16(w))
		case fmtCrfRaRb:
			return fmt.Sprintf("%s cr%d, %s, %s", msg, w>>23&7, ra, rb)
		case fmtRtDispRa:
			return fmt.Sprintf("%s %s, %d(%s)", msg, rt, simm, ra)
		case fmtRtRaRb:
			return fmt.Sprintf("%s %s, %s, %s", msg, rt, ra, rb)
		case fmtRtRa:
			return fmt.Sprintf("%s %s, %s", msg, rt, ra)
		case fmtRaRsRb:
			return fmt.Sprintf("%s %s, %s, %s", msg, ra, rt, rb)
		case fmtRaRs:
			return fmt.Sprintf("%s %s, %s", msg, ra, rt)
		case fmtRaRsSh:
			return fmt.Sprintf("%s %s, %s, %d", msg, ra, rt, w>>11&31)
		case fmtRlw:
			sh := fmt.Sprint(w >> 11 & 31)
			if w>>26 == opRlwnm {
				sh = rb
			}
			return fmt.Sprintf("%s %s, %s, %s, %d, %d", msg, ra, rt, sh, w>>6&31, w>>1&31)
		case fmtTarget, fmtBc:
			var disp uint32
			if d.format == fmtTarget {
				disp = uint32(int32(w<<6) >> 6 &^ 3)
			} else {
				disp = uint32(int32(int16(w & 0xfffc)))
			}
			target := disp
			if w&2 == 0 {
				target += pc
			}
			suffix := ""
			if w&1 != 0 {
				suffix += "l"
			}
			if w&2 != 0 {
				suffix += "a"
			}
			if d.format == fmtBc {
				return fmt.Sprintf("%s%s %d, %d, %#x", msg, suffix, w>>21&31, w>>16&31, target)
			}
			return fmt.Sprintf("%s%s %#x", msg, suffix, target)
		case fmtBoBi:
			return fmt.Sprintf("%s %d, %d", msg, w>>21&31, w>>16&31)
		case fmtCrBits:
			return fmt.Sprintf("%s %d, %d, %d", msg, w>>21&31, w>>16&31, w>>11&31)
		case fmtRt:
			return fmt.Sprintf("%s %s", msg, rt)
		case fmtRtSpr:
			return fmt.Sprintf("%s %s, %s", msg, rt, SPRName(sprNumber(w)))
		case fmtSprRt:
			return fmt.Sprintf("%s %s, %s", msg, SPRName(sprNumber(w)), rt)
		case fmtRaRb:
			return fmt.Sprintf("%s %s, %s", msg, ra, rb)
		case fmtToRaSimm:
			return fmt.Sprintf("%s %d, %s, %d", msg, w>>21&31, ra, simm)
		case fmtRtSr:
			return fmt.Sprintf("%s %s, %d", msg, rt, w>>16&15)
		case fmtFxmRs:
			return fmt.Sprintf("%s %#x, %s", msg, w>>12&0xff, rt)
		}
	}
	return fmt.Sprintf(".long %#08x", w)
}
