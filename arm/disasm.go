package arm

import (
	"fmt"
	"strings"

	"dtemu/psw"
)

var regNames = [16]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
}

var shiftNames = [4]string{"lsl", "lsr", "asr", "ror"}

// Disassemble returns the assembly text of the instruction word w at pc.
func Disassemble(pc, w uint32) string {
	cond := psw.CondNames[w>>28]
	if w>>28 == condNV {
		return fmt.Sprintf(".word %#08x", w)
	}
	rd, rn, rs, rm := regNames[w>>12&15], regNames[w>>16&15], regNames[w>>8&15], regNames[w&15]

	switch w >> 25 & 7 {
	case 0:
		switch {
		case w&0x0fc000f0 == 0x00000090:
			rd, rn := regNames[w>>16&15], regNames[w>>12&15]
			if w&(1<<21) != 0 {
				return fmt.Sprintf("mla%s%s %s, %s, %s, %s", cond, sflag(w), rd, rm, rs, rn)
			}
			return fmt.Sprintf("mul%s%s %s, %s, %s", cond, sflag(w), rd, rm, rs)
		case w&0x0f8000f0 == 0x00800090:
			op := [4]string{"umull", "umlal", "smull", "smlal"}[w>>21&3]
			return fmt.Sprintf("%s%s%s %s, %s, %s, %s", op, cond, sflag(w), rd, rn, rm, rs)
		case w&0x0fb00ff0 == 0x01000090:
			b := ""
			if w&(1<<22) != 0 {
				b = "b"
			}
			return fmt.Sprintf("swp%s%s %s, %s, [%s]", cond, b, rd, rm, rn)
		case w&0x0ffffff0 == 0x012fff10:
			return fmt.Sprintf("bx%s %s", cond, rm)
		case w&0x0fbf0fff == 0x010f0000:
			return fmt.Sprintf("mrs%s %s, %s", cond, rd, psrName(w))
		case w&0x0fb0fff0 == 0x0120f000:
			return fmt.Sprintf("msr%s %s_%s, %s", cond, psrName(w), fields(w), rm)
		case w&0x90 == 0x90:
			return disasmHalfword(w, cond)
		}
		return disasmDataProcessing(w, cond)
	case 1:
		if w&0x0fb0f000 == 0x0320f000 {
			v, _ := rotatedImm(w)
			return fmt.Sprintf("msr%s %s_%s, #%#x", cond, psrName(w), fields(w), v)
		}
		return disasmDataProcessing(w, cond)
	case 2, 3:
		if w&(1<<25) != 0 && w&0x10 != 0 {
			break
		}
		return disasmTransfer(w, cond)
	case 4:
		return disasmBlock(w, cond)
	case 5:
		l := ""
		if w&(1<<24) != 0 {
			l = "l"
		}
		off := uint32(int32(w<<8) >> 6)
		return fmt.Sprintf("b%s%s %#x", l, cond, pc+8+off)
	case 7:
		switch {
		case w&(1<<24) != 0:
			return fmt.Sprintf("swi%s %#x", cond, w&0xffffff)
		case w&0x10 != 0:
			op := "mcr"
			if w&(1<<20) != 0 {
				op = "mrc"
			}
			return fmt.Sprintf("%s%s p%d, %d, %s, c%d, c%d, %d", op, cond, w>>8&15, w>>21&7, rd, w>>16&15, w&15, w>>5&7)
		}
	}
	return fmt.Sprintf(".word %#08x", w)
}

func sflag(w uint32) string {
	if w&(1<<20) != 0 {
		return "s"
	}
	return ""
}

func psrName(w uint32) string {
	if w&(1<<22) != 0 {
		return "spsr"
	}
	return "cpsr"
}

func fields(w uint32) string {
	var b strings.Builder
	for i, f := range "cxsf" {
		if w>>16&(1<<i) != 0 {
			b.WriteRune(f)
		}
	}
	return b.String()
}

func operand2Text(w uint32) string {
	if w&(1<<25) != 0 {
		v, _ := rotatedImm(w)
		return fmt.Sprintf("#%#x", v)
	}
	rm := regNames[w&15]
	typ := w >> 5 & 3
	if w&0x10 != 0 {
		return fmt.Sprintf("%s, %s %s", rm, shiftNames[typ], regNames[w>>8&15])
	}
	n := w >> 7 & 31
	switch {
	case n == 0 && typ == shiftLSL:
		return rm
	case n == 0 && typ == shiftROR:
		return rm + ", rrx"
	case n == 0:
		n = 32
	}
	return fmt.Sprintf("%s, %s #%d", rm, shiftNames[typ], n)
}

func disasmDataProcessing(w uint32, cond string) string {
	op := aluOps[w>>21&15]
	rd, rn := regNames[w>>12&15], regNames[w>>16&15]
	switch {
	case op.test:
		return fmt.Sprintf("%s%s %s, %s", op.name, cond, rn, operand2Text(w))
	case op.unary:
		return fmt.Sprintf("%s%s%s %s, %s", op.name, cond, sflag(w), rd, operand2Text(w))
	}
	return fmt.Sprintf("%s%s%s %s, %s, %s", op.name, cond, sflag(w), rd, rn, operand2Text(w))
}

// addressText formats the addressing mode of a transfer with offset text off.
func addressText(w uint32, rn, off string) string {
	if off != "" {
		off = ", " + off
	}
	switch {
	case w&(1<<24) == 0:
		return fmt.Sprintf("[%s]%s", rn, off)
	case w&(1<<21) != 0:
		return fmt.Sprintf("[%s%s]!", rn, off)
	}
	return fmt.Sprintf("[%s%s]", rn, off)
}

func sign(w uint32) string {
	if w&(1<<23) == 0 {
		return "-"
	}
	return ""
}

func disasmTransfer(w uint32, cond string) string {
	op := "str"
	if w&(1<<20) != 0 {
		op = "ldr"
	}
	if w&(1<<22) != 0 {
		op += "b"
	}
	var off string
	switch {
	case w&(1<<25) != 0:
		off = sign(w) + operand2Text(w&^(1<<25|0x10))
	case w&0xfff != 0:
		off = fmt.Sprintf("#%s%#x", sign(w), w&0xfff)
	}
	return fmt.Sprintf("%s%s %s, %s", op, cond, regNames[w>>12&15], addressText(w, regNames[w>>16&15], off))
}

func disasmHalfword(w uint32, cond string) string {
	op := "str"
	if w&(1<<20) != 0 {
		op = "ldr"
	}
	op += [4]string{"", "h", "sb", "sh"}[w>>5&3]
	var off string
	switch {
	case w&(1<<22) == 0:
		off = sign(w) + regNames[w&15]
	case w>>4&0xf0|w&0xf != 0:
		off = fmt.Sprintf("#%s%#x", sign(w), w>>4&0xf0|w&0xf)
	}
	return fmt.Sprintf("%s%s %s, %s", op, cond, regNames[w>>12&15], addressText(w, regNames[w>>16&15], off))
}

func disasmBlock(w uint32, cond string) string {
	op := "stm"
	if w&(1<<20) != 0 {
		op = "ldm"
	}
	op += [4]string{"da", "ia", "db", "ib"}[w>>23&3]
	wb := ""
	if w&(1<<21) != 0 {
		wb = "!"
	}
	var regs []string
	for r := 0; r < 16; r++ {
		if w&(1<<r) != 0 {
			regs = append(regs, regNames[r])
		}
	}
	user := ""
	if w&(1<<22) != 0 {
		user = "^"
	}
	return fmt.Sprintf("%s%s %s%s, {%s}%s", op, cond, regNames[w>>16&15], wb, strings.Join(regs, ", "), user)
}
