package arm

import (
	"math/bits"
)

// data processing opcodes
const (
	opAnd = iota
	opEor
	opSub
	opRsb
	opAdd
	opAdc
	opSbc
	opRsc
	opTst
	opTeq
	opCmp
	opCmn
	opOrr
	opMov
	opBic
	opMvn
)

// shift types
const (
	shiftLSL = iota
	shiftLSR
	shiftASR
	shiftROR
)

// second operand kinds
const (
	operandImm = iota
	operandShiftImm
	operandShiftReg
)

// carry out of a rotated immediate, kept in Arg[2]
const (
	immCarryKeep = iota
	immCarryClear
	immCarrySet
)

type aluOp struct {
	name string
	f    func(a, b uint32, carry bool) (r uint32, c, v bool)

	// arith ops set C and V from the adder, the others take C from the
	// shifter and leave V alone
	arith bool
	// test ops only set flags
	test bool
	// unary ops ignore Rn
	unary bool
}

func addc(a, b uint32, cin bool) (uint32, bool, bool) {
	var ci uint32
	if cin {
		ci = 1
	}
	r, co := bits.Add32(a, b, ci)
	return r, co != 0, (a^r)&(b^r)&0x80000000 != 0
}

var aluOps = [16]aluOp{
	opAnd: {name: "and", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return a & b, false, false }},
	opEor: {name: "eor", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return a ^ b, false, false }},
	opSub: {name: "sub", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return addc(a, ^b, true) }, arith: true},
	opRsb: {name: "rsb", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return addc(b, ^a, true) }, arith: true},
	opAdd: {name: "add", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return addc(a, b, false) }, arith: true},
	opAdc: {name: "adc", f: addc, arith: true},
	opSbc: {name: "sbc", f: func(a, b uint32, c bool) (uint32, bool, bool) { return addc(a, ^b, c) }, arith: true},
	opRsc: {name: "rsc", f: func(a, b uint32, c bool) (uint32, bool, bool) { return addc(b, ^a, c) }, arith: true},
	opTst: {name: "tst", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return a & b, false, false }, test: true},
	opTeq: {name: "teq", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return a ^ b, false, false }, test: true},
	opCmp: {name: "cmp", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return addc(a, ^b, true) }, arith: true, test: true},
	opCmn: {name: "cmn", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return addc(a, b, false) }, arith: true, test: true},
	opOrr: {name: "orr", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return a | b, false, false }},
	opMov: {name: "mov", f: func(_, b uint32, _ bool) (uint32, bool, bool) { return b, false, false }, unary: true},
	opBic: {name: "bic", f: func(a, b uint32, _ bool) (uint32, bool, bool) { return a &^ b, false, false }},
	opMvn: {name: "mvn", f: func(_, b uint32, _ bool) (uint32, bool, bool) { return ^b, false, false }, unary: true},
}

// rotatedImm decodes the immediate form of the second operand.
func rotatedImm(w uint32) (v uint32, carry int) {
	rot := int(w >> 8 & 0xf * 2)
	v = bits.RotateLeft32(w&0xff, -rot)
	switch {
	case rot == 0:
		return v, immCarryKeep
	case v&0x80000000 != 0:
		return v, immCarrySet
	}
	return v, immCarryClear
}

// shiftImm applies a shift by a constant. An amount of zero encodes LSR #32,
// ASR #32 and RRX for the shifts other than LSL.
func shiftImm(v uint32, typ, n uint32, cf bool) (uint32, bool) {
	switch typ {
	case shiftLSL:
		if n == 0 {
			return v, cf
		}
		return v << n, v>>(32-n)&1 != 0
	case shiftLSR:
		if n == 0 {
			return 0, v&0x80000000 != 0
		}
		return v >> n, v>>(n-1)&1 != 0
	case shiftASR:
		if n == 0 {
			return uint32(int32(v) >> 31), v&0x80000000 != 0
		}
		return uint32(int32(v) >> n), v>>(n-1)&1 != 0
	}
	if n == 0 {
		r := v >> 1
		if cf {
			r |= 0x80000000
		}
		return r, v&1 != 0
	}
	return bits.RotateLeft32(v, -int(n)), v>>(n-1)&1 != 0
}

// shiftReg applies a shift by the bottom byte of a register.
func shiftReg(v uint32, typ, n uint32, cf bool) (uint32, bool) {
	if n == 0 {
		return v, cf
	}
	switch typ {
	case shiftLSL:
		switch {
		case n < 32:
			return v << n, v>>(32-n)&1 != 0
		case n == 32:
			return 0, v&1 != 0
		}
		return 0, false
	case shiftLSR:
		switch {
		case n < 32:
			return v >> n, v>>(n-1)&1 != 0
		case n == 32:
			return 0, v&0x80000000 != 0
		}
		return 0, false
	case shiftASR:
		if n < 32 {
			return uint32(int32(v) >> n), v>>(n-1)&1 != 0
		}
		return uint32(int32(v) >> 31), v&0x80000000 != 0
	}
	n &= 31
	if n == 0 {
		return v, v&0x80000000 != 0
	}
	return bits.RotateLeft32(v, -int(n)), v>>(n-1)&1 != 0
}

// operand2 evaluates the second operand of a data processing instruction.
//
//	immediate:      Arg[1] = value, Arg[2] = carry out
//	shift by imm:   Arg[1] = rm | type<<4 | amount<<8
//	shift by reg:   Arg[1] = rm | type<<4 | rs<<8
func operand2(c *CPU, ic *Call, kind int) (uint32, bool) {
	cf := c.State.CPSR.C()
	a := ic.Arg[1]
	switch kind {
	case operandImm:
		switch ic.Arg[2] {
		case immCarryClear:
			return uint32(a), false
		case immCarrySet:
			return uint32(a), true
		}
		return uint32(a), cf
	case operandShiftImm:
		return shiftImm(read(c, a&15), uint32(a>>4&3), uint32(a>>8&31), cf)
	}
	v := read(c, a&15)
	if a&15 == 15 {
		v += 4
	}
	return shiftReg(v, uint32(a>>4&3), c.State.R[a>>8&15]&0xff, cf)
}

// dataProcessing handlers by [opcode][S][operand kind], Arg[0] = rd | rn<<4
var dataProcessing [16][2][3]Handler

func init() {
	for op := range aluOps {
		for s := 0; s < 2; s++ {
			for kind := operandImm; kind <= operandShiftReg; kind++ {
				dataProcessing[op][s][kind] = dataProcHandler(aluOps[op], s == 1, kind)
			}
		}
	}
}

func dataProcHandler(op aluOp, setFlags bool, kind int) Handler {
	return func(c *CPU, ic *Call) {
		rd, rn := ic.Arg[0]&15, ic.Arg[0]>>4&15
		b, sc := operand2(c, ic, kind)
		var a uint32
		if !op.unary {
			a = read(c, rn)
			if rn == 15 && kind == operandShiftReg {
				a += 4
			}
		}
		s := &c.State
		r, ac, av := op.f(a, b, s.CPSR.C())

		if rd == 15 && !op.test {
			if setFlags {
				restoreCPSR(c)
				c.SetPC(uint64(r &^ 3))
				return
			}
			c.Branch(uint64(r &^ 3))
			return
		}
		if setFlags {
			s.CPSR.SetNZ(r)
			if op.arith {
				s.CPSR.SetC(ac)
				s.CPSR.SetV(av)
			} else {
				s.CPSR.SetC(sc)
			}
		}
		if !op.test {
			s.R[rd] = r
		}
	}
}

// setConst is a fused mov/orr pair building a constant: Arg[0] = rd,
// Arg[1] = value.
func setConst(c *CPU, ic *Call) {
	c.State.R[ic.Arg[0]] = uint32(ic.Arg[1])
}
