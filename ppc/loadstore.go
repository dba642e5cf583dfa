package ppc

import (
	"math/bits"

	"dtemu/dyntrans"
)

// transfer variants
const (
	xferStore     = 1 << 0
	xferUpdate    = 1 << 1
	xferIndexed   = 1 << 2
	xferAlgebraic = 1 << 3 // sign extend
	xferReverse   = 1 << 4 // byte reversed
)

type xfer struct {
	name string
	size int
	kind int
}

// D-form transfers by primary opcode
var dTransfers = map[uint32]xfer{
	32: {"lwz", 4, 0},
	33: {"lwzu", 4, xferUpdate},
	34: {"lbz", 1, 0},
	35: {"lbzu", 1, xferUpdate},
	36: {"stw", 4, xferStore},
	37: {"stwu", 4, xferStore | xferUpdate},
	38: {"stb", 1, xferStore},
	39: {"stbu", 1, xferStore | xferUpdate},
	40: {"lhz", 2, 0},
	41: {"lhzu", 2, xferUpdate},
	42: {"lha", 2, xferAlgebraic},
	43: {"lhau", 2, xferAlgebraic | xferUpdate},
	44: {"sth", 2, xferStore},
	45: {"sthu", 2, xferStore | xferUpdate},
}

// X-form transfers by extended opcode
var xTransfers = map[uint32]xfer{
	23:  {"lwzx", 4, xferIndexed},
	55:  {"lwzux", 4, xferIndexed | xferUpdate},
	87:  {"lbzx", 1, xferIndexed},
	119: {"lbzux", 1, xferIndexed | xferUpdate},
	151: {"stwx", 4, xferIndexed | xferStore},
	183: {"stwux", 4, xferIndexed | xferStore | xferUpdate},
	215: {"stbx", 1, xferIndexed | xferStore},
	247: {"stbux", 1, xferIndexed | xferStore | xferUpdate},
	279: {"lhzx", 2, xferIndexed},
	311: {"lhzux", 2, xferIndexed | xferUpdate},
	343: {"lhax", 2, xferIndexed | xferAlgebraic},
	375: {"lhaux", 2, xferIndexed | xferAlgebraic | xferUpdate},
	407: {"sthx", 2, xferIndexed | xferStore},
	439: {"sthux", 2, xferIndexed | xferStore | xferUpdate},
	534: {"lwbrx", 4, xferIndexed | xferReverse},
	662: {"stwbrx", 4, xferIndexed | xferStore | xferReverse},
	790: {"lhbrx", 2, xferIndexed | xferReverse},
	918: {"sthbrx", 2, xferIndexed | xferStore | xferReverse},
}

// transfers holds one handler per size (1, 2, 4 bytes) and variant.
// Arg[0] = rt | ra<<5 | rb<<10, Arg[1] = sign extended displacement.
var transfers [3][32]Handler

func init() {
	for i, size := range []int{1, 2, 4} {
		for kind := range transfers[i] {
			transfers[i][kind] = transfer(size, kind)
		}
	}
}

func sizeIndex(size int) int {
	return bits.TrailingZeros(uint(size))
}

// validTransfer rejects the invalid update forms: rA = 0, and loads with
// rA = rT.
func validTransfer(x xfer, rt, ra uint32) bool {
	if x.kind&xferUpdate == 0 {
		return true
	}
	return ra != 0 && (x.kind&xferStore != 0 || ra != rt)
}

// effectiveAddress computes (rA|0) + displacement or (rA|0) + rB.
func effectiveAddress(s *State, a, disp uint64, indexed bool) uint32 {
	var ea uint32
	if ra := a >> 5 & 31; ra != 0 {
		ea = s.GPR[ra]
	}
	if indexed {
		return ea + s.GPR[a>>10&31]
	}
	return ea + uint32(disp)
}

func reverse(v uint64, size int) uint64 {
	switch size {
	case 2:
		return uint64(bits.ReverseBytes16(uint16(v)))
	case 4:
		return uint64(bits.ReverseBytes32(uint32(v)))
	}
	return v
}

func transfer(size, kind int) Handler {
	store := kind&xferStore != 0
	update := kind&xferUpdate != 0
	indexed := kind&xferIndexed != 0
	return func(c *CPU, ic *Call) {
		s := &c.State
		a := ic.Arg[0]
		ea := effectiveAddress(s, a, ic.Arg[1], indexed)

		if store {
			v := uint64(s.GPR[a&31])
			if kind&xferReverse != 0 {
				v = reverse(v, size)
			}
			if !c.Store(uint64(ea), size, v) {
				return
			}
		} else {
			v, ok := c.Load(uint64(ea), size)
			if !ok {
				return
			}
			if kind&xferReverse != 0 {
				v = reverse(v, size)
			}
			if kind&xferAlgebraic != 0 {
				v = dyntrans.SignExtend(v, size)
			}
			s.GPR[a&31] = uint32(v)
		}
		if update {
			s.GPR[a>>5&31] = ea
		}
	}
}

// checkWordAligned raises an alignment exception unless ea is word aligned.
func checkWordAligned(c *CPU, ea uint32) bool {
	if ea&3 == 0 {
		return true
	}
	c.State.DAR = ea
	c.State.DSISR = 0
	exception(c, VectorAlignment, uint32(c.InstrPC()), 0)
	return false
}

// lmw: Arg[0] = rt | ra<<5, Arg[1] = displacement. Registers are written
// once every load succeeded.
func lmw(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	ea := effectiveAddress(s, a, ic.Arg[1], false)
	if !checkWordAligned(c, ea) {
		return
	}
	rt := a & 31
	var vals [32]uint32
	for r := rt; r < 32; r++ {
		v, ok := c.Load(uint64(ea), 4)
		if !ok {
			return
		}
		vals[r] = uint32(v)
		ea += 4
	}
	copy(s.GPR[rt:], vals[rt:])
}

// stmw: Arg[0] = rs | ra<<5, Arg[1] = displacement
func stmw(c *CPU, ic *Call) {
	s := &c.State
	a := ic.Arg[0]
	ea := effectiveAddress(s, a, ic.Arg[1], false)
	if !checkWordAligned(c, ea) {
		return
	}
	for r := a & 31; r < 32; r++ {
		if !c.Store(uint64(ea), 4, uint64(s.GPR[r])) {
			return
		}
		ea += 4
	}
}

// dcbz: Arg[0] = ra<<5 | rb<<10. Clears the 32 byte cache block.
func dcbz(c *CPU, ic *Call) {
	ea := effectiveAddress(&c.State, ic.Arg[0], 0, true) &^ 31
	for i := uint32(0); i < 32; i += 8 {
		if !c.Store(uint64(ea+i), 8, 0) {
			return
		}
	}
}
