package mips

import "fmt"

var regNames = [...]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

// operand formats
const (
	fmtNone = iota
	fmtRdRsRt
	fmtRdRtSa
	fmtRdRtRs
	fmtRs
	fmtRdRs
	fmtRd
	fmtRsRt
	fmtRtRsImm
	fmtRtImm
	fmtRsRtOff
	fmtRsOff
	fmtTarget
	fmtRtOffBase
	fmtRtCp0
)

var disasmtable = []struct {
	mask, match uint32
	msg         string
	format      int
}{
	{0xffffffff, 0x00000000, "nop", fmtNone},
	{0xfc00003f, 0x00000000, "sll", fmtRdRtSa},
	{0xfc00003f, 0x00000002, "srl", fmtRdRtSa},
	{0xfc00003f, 0x00000003, "sra", fmtRdRtSa},
	{0xfc00003f, 0x00000004, "sllv", fmtRdRtRs},
	{0xfc00003f, 0x00000006, "srlv", fmtRdRtRs},
	{0xfc00003f, 0x00000007, "srav", fmtRdRtRs},
	{0xfc00003f, 0x00000008, "jr", fmtRs},
	{0xfc00003f, 0x00000009, "jalr", fmtRdRs},
	{0xfc00003f, 0x0000000c, "syscall", fmtNone},
	{0xfc00003f, 0x0000000d, "break", fmtNone},
	{0xfc00003f, 0x00000010, "mfhi", fmtRd},
	{0xfc00003f, 0x00000011, "mthi", fmtRs},
	{0xfc00003f, 0x00000012, "mflo", fmtRd},
	{0xfc00003f, 0x00000013, "mtlo", fmtRs},
	{0xfc00003f, 0x00000018, "mult", fmtRsRt},
	{0xfc00003f, 0x00000019, "multu", fmtRsRt},
	{0xfc00003f, 0x0000001a, "div", fmtRsRt},
	{0xfc00003f, 0x0000001b, "divu", fmtRsRt},
	{0xfc00003f, 0x00000020, "add", fmtRdRsRt},
	{0xfc00003f, 0x00000021, "addu", fmtRdRsRt},
	{0xfc00003f, 0x00000022, "sub", fmtRdRsRt},
	{0xfc00003f, 0x00000023, "subu", fmtRdRsRt},
	{0xfc00003f, 0x00000024, "and", fmtRdRsRt},
	{0xfc00003f, 0x00000025, "or", fmtRdRsRt},
	{0xfc00003f, 0x00000026, "xor", fmtRdRsRt},
	{0xfc00003f, 0x00000027, "nor", fmtRdRsRt},
	{0xfc00003f, 0x0000002a, "slt", fmtRdRsRt},
	{0xfc00003f, 0x0000002b, "sltu", fmtRdRsRt},
	{0xfc1f0000, 0x04000000, "bltz", fmtRsOff},
	{0xfc1f0000, 0x04010000, "bgez", fmtRsOff},
	{0xfc1f0000, 0x04100000, "bltzal", fmtRsOff},
	{0xfc1f0000, 0x04110000, "bgezal", fmtRsOff},
	{0xfc000000, 0x08000000, "j", fmtTarget},
	{0xfc000000, 0x0c000000, "jal", fmtTarget},
	{0xfc000000, 0x10000000, "beq", fmtRsRtOff},
	{0xfc000000, 0x14000000, "bne", fmtRsRtOff},
	{0xfc000000, 0x18000000, "blez", fmtRsOff},
	{0xfc000000, 0x1c000000, "bgtz", fmtRsOff},
	{0xfc000000, 0x20000000, "addi", fmtRtRsImm},
	{0xfc000000, 0x24000000, "addiu", fmtRtRsImm},
	{0xfc000000, 0x28000000, "slti", fmtRtRsImm},
	{0xfc000000, 0x2c000000, "sltiu", fmtRtRsImm},
	{0xfc000000, 0x30000000, "andi", fmtRtRsImm},
	{0xfc000000, 0x34000000, "ori", fmtRtRsImm},
	{0xfc000000, 0x38000000, "xori", fmtRtRsImm},
	{0xfc000000, 0x3c000000, "lui", fmtRtImm},
	{0xffe00000, 0x40000000, "mfc0", fmtRtCp0},
	{0xffe00000, 0x40800000, "mtc0", fmtRtCp0},
	{0xffffffff, 0x42000001, "tlbr", fmtNone},
	{0xffffffff, 0x42000002, "tlbwi", fmtNone},
	{0xffffffff, 0x42000006, "tlbwr", fmtNone},
	{0xffffffff, 0x42000008, "tlbp", fmtNone},
	{0xffffffff, 0x42000010, "rfe", fmtNone},
	{0xfc000000, 0x80000000, "lb", fmtRtOffBase},
	{0xfc000000, 0x84000000, "lh", fmtRtOffBase},
	{0xfc000000, 0x88000000, "lwl", fmtRtOffBase},
	{0xfc000000, 0x8c000000, "lw", fmtRtOffBase},
	{0xfc000000, 0x90000000, "lbu", fmtRtOffBase},
	{0xfc000000, 0x94000000, "lhu", fmtRtOffBase},
	{0xfc000000, 0x98000000, "lwr", fmtRtOffBase},
	{0xfc000000, 0xa0000000, "sb", fmtRtOffBase},
	{0xfc000000, 0xa4000000, "sh", fmtRtOffBase},
	{0xfc000000, 0xa8000000, "swl", fmtRtOffBase},
	{0xfc000000, 0xac000000, "sw", fmtRtOffBase},
	{0xfc000000, 0xb8000000, "swr", fmtRtOffBase},
}

// Disassemble returns the assembly text of the instruction word w at pc.
func Disassemble(pc, w uint32) string {
	rs, rt, rd := regNames[w>>21&31], regNames[w>>16&31], regNames[w>>11&31]
	imm := int16(w)
	for _, d := range disasmtable {
		if w&d.mask != d.match {
			continue
		}
		switch d.format {
		case fmtNone:
			return d.msg
		case fmtRdRsRt:
			return fmt.Sprintf("%s %s, %s, %s", d.msg, rd, rs, rt)
		case fmtRdRtSa:
			return fmt.Sprintf("%s %s, %s, %d", d.msg, rd, rt, w>>6&31)
		case fmtRdRtRs:
			return fmt.Sprintf("%s %s, %s, %s", d.msg, rd, rt, rs)
		case fmtRs:
			return fmt.Sprintf("%s %s", d.msg, rs)
		case fmtRdRs:
			return fmt.Sprintf("%s %s, %s", d.msg, rd, rs)
		case fmtRd:
			return fmt.Sprintf("%s %s", d.msg, rd)
		case fmtRsRt:
			return fmt.Sprintf("%s %s, %s", d.msg, rs, rt)
		case fmtRtRsImm:
			return fmt.Sprintf("%s %s, %s, %d", d.msg, rt, rs, imm)
		case fmtRtImm:
			return fmt.Sprintf("%s %s, %#x", d.msg, rt, uint16(w))
		case fmtRsRtOff:
			return fmt.Sprintf("%s %s, %s, %#x", d.msg, rs, rt, pc+4+uint32(int32(imm)<<2))
		case fmtRsOff:
			return fmt.Sprintf("%s %s, %#x", d.msg, rs, pc+4+uint32(int32(imm)<<2))
		case fmtTarget:
			return fmt.Sprintf("%s %#x", d.msg, (pc+4)&0xf0000000|(w&0x03ffffff)<<2)
		case fmtRtOffBase:
			return fmt.Sprintf("%s %s, %d(%s)", d.msg, rt, imm, rs)
		case fmtRtCp0:
			return fmt.Sprintf("%s %s, $%d", d.msg, rt, w>>11&31)
		}
	}
	return fmt.Sprintf(".word %#08x", w)
}
