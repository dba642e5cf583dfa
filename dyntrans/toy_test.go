package dyntrans

import (
	"encoding/binary"
	"testing"

	"dtemu/faults"
	"dtemu/memory"
	"dtemu/mmu"
)

// toy is a minimal 32 bit architecture used to exercise the engine.
//
//	op(8) r(4) a(4) imm(16)
type toyState struct {
	R          [16]uint64
	Vector     uint64
	EPC        uint64
	BD         bool
	Faults     []*faults.Fault
	IRQEnabled bool
	IRQTaken   int
}

type toyCPU = CPU[toyState]
type toyCall = Call[toyState]

const (
	opNop = iota
	opAddi
	opLoad
	opStore
	opBr
	opJr
	opHalt
	opLui
	opOri
	opBnz
	opSys
	opBrd
	opBrds
	opSync
)

func enc(op, r, a int, imm int) uint32 {
	return uint32(op)<<24 | uint32(r&0xf)<<20 | uint32(a&0xf)<<16 | uint32(uint16(imm))
}

type toyArch struct {
	fuse bool
}

func (toyArch) Name() string { return "toy" }

func (toyArch) Decode(c *toyCPU, ic *toyCall, slot int) error {
	w := ic.Word
	ic.Arg[0] = uint64(w>>20) & 0xf
	ic.Arg[1] = uint64(w>>16) & 0xf
	ic.Arg[2] = uint64(int64(int16(w)))

	switch w >> 24 {
	case opNop:
		ic.F = toyNop
	case opAddi:
		ic.F = toyAddi
	case opLoad:
		ic.F = toyLoad
	case opStore:
		ic.F = toyStore
	case opBr, opBnz:
		ic.Flags |= FlagBranch
		target := slot + 1 + int(int16(w))
		if target >= 0 && target < c.InstrPerPage() {
			ic.Arg[2] = uint64(target)
			ic.F = toyBrSamePage
		} else {
			ic.F = toyBr
		}
		if w>>24 == opBnz {
			same := ic.F
			ic.F = func(c *toyCPU, ic *toyCall) {
				if c.State.R[ic.Arg[0]] != 0 {
					same(c, ic)
				}
			}
		}
	case opBrd:
		ic.Flags |= FlagBranch
		ic.F = toyBrd
	case opBrds:
		ic.Flags |= FlagBranch
		ic.Arg[2] = uint64(slot + 1 + int(int16(w)))
		ic.F = toyBrdSamePage
	case opSync:
		ic.F = toySync
	case opJr:
		ic.Flags |= FlagBranch
		ic.F = toyJr
	case opHalt:
		ic.F = toyHalt
	case opLui:
		ic.F = toyLui
	case opOri:
		ic.F = toyOri
	case opSys:
		ic.F = toySys
	default:
		return faults.New(faults.Unimplemented, 0, false, "opcode %#x", w>>24)
	}
	return nil
}

func (a toyArch) Combine(c *toyCPU, p *Page[toyState], slot int) {
	if !a.fuse {
		return
	}
	prev, cur := &p.Calls[slot-1], &p.Calls[slot]
	if prev.Word>>24 != opLui || cur.Word>>24 != opOri {
		return
	}
	r := prev.Arg[0]
	if cur.Arg[0] != r || cur.Arg[1] != r {
		return
	}
	prev.Arg[1] = uint64(uint16(prev.Word))<<16 | uint64(uint16(cur.Word))
	prev.F = toyLuiOri
	prev.Span = 2
}

func (toyArch) Fault(c *toyCPU, f *faults.Fault) {
	c.State.Faults = append(c.State.Faults, f)
	c.State.EPC = c.FaultPC()
	c.Exception(c.State.Vector)
}

func (toyArch) Interrupt(c *toyCPU) bool {
	if !c.State.IRQEnabled {
		return false
	}
	c.State.IRQEnabled = false
	c.State.IRQTaken++
	c.State.EPC = c.PC
	c.Exception(c.State.Vector)
	return true
}

func toyNop(*toyCPU, *toyCall) {}

func toyAddi(c *toyCPU, ic *toyCall) {
	c.State.R[ic.Arg[0]] += ic.Arg[2]
}

func toyLoad(c *toyCPU, ic *toyCall) {
	r, addr := ic.Arg[0], c.State.R[ic.Arg[1]]+ic.Arg[2]
	if v, ok := c.Load(addr, 4); ok {
		c.State.R[r] = v
	}
}

func toyStore(c *toyCPU, ic *toyCall) {
	v, addr := c.State.R[ic.Arg[0]], c.State.R[ic.Arg[1]]+ic.Arg[2]
	c.Store(addr, 4, v)
}

func toyBrSamePage(c *toyCPU, ic *toyCall) {
	c.Goto(int(ic.Arg[2]))
}

func toyBr(c *toyCPU, ic *toyCall) {
	c.Branch(c.InstrPC() + 4 + ic.Arg[2]*4)
}

func toyBrd(c *toyCPU, ic *toyCall) {
	target := c.InstrPC() + 4 + ic.Arg[2]*4
	if c.DelaySlot() {
		c.Branch(target)
	}
}

// toyBrdSamePage is a delayed branch to a slot of the current page.
func toyBrdSamePage(c *toyCPU, ic *toyCall) {
	target := int(ic.Arg[2])
	if c.DelaySlot() {
		c.Goto(target)
	}
}

func toySync(c *toyCPU, _ *toyCall) {
	c.Resync()
}

func toyJr(c *toyCPU, ic *toyCall) {
	c.Branch(c.State.R[ic.Arg[1]])
}

func toyHalt(c *toyCPU, _ *toyCall) {
	c.Halt(nil)
}

func toyLui(c *toyCPU, ic *toyCall) {
	c.State.R[ic.Arg[0]] = uint64(uint16(ic.Word)) << 16
}

func toyOri(c *toyCPU, ic *toyCall) {
	c.State.R[ic.Arg[0]] = c.State.R[ic.Arg[1]] | uint64(uint16(ic.Word))
}

func toyLuiOri(c *toyCPU, ic *toyCall) {
	c.State.R[ic.Arg[0]] = ic.Arg[1]
}

func toySys(c *toyCPU, _ *toyCall) {
	c.State.EPC = c.FaultPC()
	c.State.BD = c.InDelaySlot()
	c.Exception(c.State.Vector)
}

// toyMMU maps virtual pages explicitly; anything else faults.
type toyMMU struct {
	c     *toyCPU
	pages map[uint64]uint64
	ro    map[uint64]bool
}

func (m *toyMMU) Translate(vaddr uint64, flags mmu.Flags) (mmu.Result, error) {
	vp := vaddr &^ 0xfff
	pp, ok := m.pages[vp]
	if !ok || (flags&mmu.Write != 0 && m.ro[vp]) {
		f := faults.New(faults.TranslationFault, vaddr, flags&mmu.Write != 0, "not mapped")
		if flags&mmu.NoExceptions == 0 {
			f.Raised = true
			m.c.State.EPC = m.c.FaultPC()
			m.c.Exception(m.c.State.Vector)
		}
		return mmu.Result{}, f
	}
	st := mmu.Writable
	if m.ro[vp] {
		st = mmu.ReadOnly
	}
	return mmu.Result{PAddr: pp | vaddr&0xfff, Status: st}, nil
}

func newToy(t *testing.T, base uint64, prog []uint32, fuse bool) (*toyCPU, *memory.Store) {
	t.Helper()
	mem := memory.NewStore(nil)
	if _, err := mem.AddRAM("ram", 0, 0x10000); err != nil {
		t.Fatal(err)
	}
	load(t, mem, base, prog)

	c := NewCPU[toyState](Config{
		Geometry: Geometry{PageShift: 12, InstrShift: 2},
		Order:    binary.BigEndian,
	}, toyArch{fuse: fuse}, mem)
	d := NewDomain(12, nil)
	d.Join(c)
	c.Domain = d
	c.Reset(base)
	return c, mem
}

func load(t *testing.T, mem *memory.Store, base uint64, prog []uint32) {
	t.Helper()
	buf := make([]byte, 4*len(prog))
	for i, w := range prog {
		binary.BigEndian.PutUint32(buf[i*4:], w)
	}
	if err := mem.Load(base, buf); err != nil {
		t.Fatal(err)
	}
}
