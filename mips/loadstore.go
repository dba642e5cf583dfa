package mips

import (
	"encoding/binary"

	"dtemu/dyntrans"
)

// load and store handlers by opcode. Arg[0] = rt, Arg[1] = base register,
// Arg[2] = sign extended offset
var (
	loads     = map[uint32]Handler{}
	stores    = map[uint32]Handler{}
	unaligned = map[uint32]Handler{}
)

func init() {
	for op, l := range map[uint32]struct {
		size   int
		signed bool
	}{
		opLb:  {1, true},
		opLbu: {1, false},
		opLh:  {2, true},
		opLhu: {2, false},
		opLw:  {4, false},
	} {
		loads[op] = loadHandler(l.size, l.signed)
	}
	for op, size := range map[uint32]int{opSb: 1, opSh: 2, opSw: 4} {
		stores[op] = storeHandler(size)
	}
	unaligned[opLwl] = lwl
	unaligned[opLwr] = lwr
	unaligned[opSwl] = swl
	unaligned[opSwr] = swr
}

func loadHandler(size int, signed bool) Handler {
	return func(c *CPU, ic *Call) {
		addr := c.State.GPR[ic.Arg[1]] + uint32(ic.Arg[2])
		v, ok := c.Load(uint64(addr), size)
		if !ok {
			return
		}
		if signed {
			v = dyntrans.SignExtend(v, size)
		}
		c.State.GPR[ic.Arg[0]] = uint32(v)
	}
}

func storeHandler(size int) Handler {
	return func(c *CPU, ic *Call) {
		v := c.State.GPR[ic.Arg[0]]
		addr := c.State.GPR[ic.Arg[1]] + uint32(ic.Arg[2])
		c.Store(uint64(addr), size, uint64(v))
	}
}

// shift returns the byte lane count used by the lwl/swl family: the offset
// inside the word counted from the most significant byte.
func shift(c *CPU, addr uint32) uint32 {
	if c.Order == binary.BigEndian {
		return addr & 3
	}
	return 3 - addr&3
}

func lwl(c *CPU, ic *Call) {
	rt := ic.Arg[0]
	addr := c.State.GPR[ic.Arg[1]] + uint32(ic.Arg[2])
	w, ok := c.Load(uint64(addr&^3), 4)
	if !ok {
		return
	}
	sh := 8 * shift(c, addr)
	c.State.GPR[dest(uint32(rt))] = uint32(w)<<sh | c.State.GPR[rt]&(uint32(1)<<sh-1)
}

func lwr(c *CPU, ic *Call) {
	rt := ic.Arg[0]
	addr := c.State.GPR[ic.Arg[1]] + uint32(ic.Arg[2])
	w, ok := c.Load(uint64(addr&^3), 4)
	if !ok {
		return
	}
	sh := 8 * (3 - shift(c, addr))
	c.State.GPR[dest(uint32(rt))] = uint32(w)>>sh | c.State.GPR[rt]&^(0xffffffff>>sh)
}

func swl(c *CPU, ic *Call) {
	v := c.State.GPR[ic.Arg[0]]
	addr := c.State.GPR[ic.Arg[1]] + uint32(ic.Arg[2])
	w, ok := c.Load(uint64(addr&^3), 4)
	if !ok {
		return
	}
	sh := 8 * shift(c, addr)
	c.Store(uint64(addr&^3), 4, uint64(uint32(w)&^(0xffffffff>>sh)|v>>sh))
}

func swr(c *CPU, ic *Call) {
	v := c.State.GPR[ic.Arg[0]]
	addr := c.State.GPR[ic.Arg[1]] + uint32(ic.Arg[2])
	w, ok := c.Load(uint64(addr&^3), 4)
	if !ok {
		return
	}
	sh := 8 * (3 - shift(c, addr))
	c.Store(uint64(addr&^3), 4, uint64(v<<sh|uint32(w)&(uint32(1)<<sh-1)))
}
