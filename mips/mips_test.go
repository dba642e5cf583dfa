package mips

import (
	"encoding/binary"
	"testing"

	"dtemu/dyntrans"
	"dtemu/faults"
	"dtemu/memory"
	"dtemu/mmu"
)

// register numbers used by the test programs
const (
	zero = 0
	v0   = 2
	v1   = 3
	a0   = 4
	t0   = 8
	t1   = 9
	t2   = 10
	t3   = 11
	s0   = 16
	t9   = 25
	k0   = 26
	k1   = 27
	ra   = 31
)

func rtype(fn, rd, rs, rt, sa uint32) uint32 {
	return rs<<21 | rt<<16 | rd<<11 | sa<<6 | fn
}

func itype(op, rt, rs uint32, imm int) uint32 {
	return op<<26 | rs<<21 | rt<<16 | uint32(uint16(imm))
}

func jtype(op, target uint32) uint32 {
	return op<<26 | target>>2&0x03ffffff
}

func mfc0w(rt, rd uint32) uint32 {
	return opCop0<<26 | copMF<<21 | rt<<16 | rd<<11
}

func mtc0w(rt, rd uint32) uint32 {
	return opCop0<<26 | copMT<<21 | rt<<16 | rd<<11
}

func cop0w(fn uint32) uint32 {
	return opCop0<<26 | copCO<<21 | fn
}

// halt stores to the halt device through kseg1
var halt = []uint32{
	itype(opLui, t9, zero, 0xbfc0),
	itype(opSw, zero, t9, 0),
}

// handler records EPC and Cause in k0/k1 and halts
var handler = append([]uint32{mfc0w(k0, CP0EPC), mfc0w(k1, CP0Cause)}, halt...)

const haltDevice = 0x1fc00000

func newMIPS(t *testing.T, order binary.ByteOrder, base uint32, prog []uint32) (*CPU, *memory.Store) {
	t.Helper()
	mem := memory.NewStore(nil)
	if _, err := mem.AddRAM("ram", 0, 1<<20); err != nil {
		t.Fatal(err)
	}
	var c *CPU
	if _, err := mem.AddDevice("halt", haltDevice, 0x100, memory.DeviceFunc(func(*memory.Request) bool {
		c.Halt(nil)
		return true
	}), 0); err != nil {
		t.Fatal(err)
	}

	c = New(dyntrans.Config{Order: order}, mem)
	d := dyntrans.NewDomain(Geometry.PageShift, nil)
	d.Join(c)
	c.Domain = d

	loadProgram(t, c, VectorUTLBMiss, handler)
	loadProgram(t, c, VectorGeneral, handler)
	loadProgram(t, c, base, prog)
	Reset(c, uint64(base))
	return c, mem
}

func loadProgram(t *testing.T, c *CPU, vaddr uint32, prog []uint32) {
	t.Helper()
	buf := make([]byte, 4*len(prog))
	for i, w := range prog {
		c.Order.PutUint32(buf[i*4:], w)
	}
	if err := c.Mem.Load(uint64(vaddr&ksegMask), buf); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, c *CPU) {
	t.Helper()
	if _, err := c.Run(100000); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.Status() != dyntrans.Halted {
		t.Fatalf("cpu did not halt, pc %#x", c.PC)
	}
}

func TestPrograms(t *testing.T) {
	tests := []struct {
		name  string
		prog  []uint32
		reg   int
		want  uint32
		fused uint64
	}{
		{
			name: "sum with delay slot decrement",
			prog: append([]uint32{
				itype(opAddiu, t0, zero, 10),
				rtype(fnAddu, v0, zero, zero, 0),
				rtype(fnAddu, v0, v0, t0, 0),
				itype(opBne, zero, t0, -2),
				itype(opAddiu, t0, t0, -1),
			}, halt...),
			reg:  v0,
			want: 55,
		},
		{
			name: "lui ori constant",
			prog: append([]uint32{
				itype(opLui, a0, zero, 0x1234),
				itype(opOri, a0, a0, 0x5678),
			}, halt...),
			reg:   a0,
			want:  0x12345678,
			fused: 1,
		},
		{
			name: "lui addiu negative constant",
			prog: append([]uint32{
				itype(opLui, a0, zero, 0x1234),
				itype(opAddiu, a0, a0, -1),
			}, halt...),
			reg:   a0,
			want:  0x1233ffff,
			fused: 1,
		},
		{
			name: "jal and return",
			prog: append([]uint32{
				jtype(opJal, 0x80001000+6*4),
				rtype(0, 0, 0, 0, 0),
				itype(opAddiu, v0, v0, 1),
			}, append(halt,
				rtype(0, 0, 0, 0, 0),
				// subroutine at slot 6
				itype(opAddiu, v0, zero, 41),
				rtype(fnJr, 0, ra, 0, 0),
				rtype(0, 0, 0, 0, 0),
			)...),
			reg:  v0,
			want: 42,
		},
		{
			name: "writes to zero are discarded",
			prog: append([]uint32{
				itype(opAddiu, zero, zero, 5),
				rtype(fnAddu, v0, zero, zero, 0),
			}, halt...),
			reg:  v0,
			want: 0,
		},
		{
			name: "mult and mflo",
			prog: append([]uint32{
				itype(opAddiu, t0, zero, -6),
				itype(opAddiu, t1, zero, 7),
				rtype(fnMult, 0, t0, t1, 0),
				rtype(fnMflo, v0, 0, 0, 0),
			}, halt...),
			reg:  v0,
			want: 0xffffffd6,
		},
		{
			name: "shifts",
			prog: append([]uint32{
				itype(opAddiu, t0, zero, -16),
				rtype(fnSra, t1, 0, t0, 2),
				rtype(fnSrl, v0, 0, t1, 28),
			}, halt...),
			reg:  v0,
			want: 0xf,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newMIPS(t, binary.BigEndian, 0x80001000, tt.prog)
			run(t, c)
			if got := c.State.GPR[tt.reg]; got != tt.want {
				t.Errorf("%s = %#x, want %#x", regNames[tt.reg], got, tt.want)
			}
			if c.Stats.Fused != tt.fused {
				t.Errorf("fused calls = %d, want %d", c.Stats.Fused, tt.fused)
			}
			if c.State.GPR[0] != 0 {
				t.Errorf("$zero = %#x", c.State.GPR[0])
			}
		})
	}
}

func TestDelaySlotAcrossPage(t *testing.T) {
	c, _ := newMIPS(t, binary.LittleEndian, 0x80001ffc, []uint32{
		jtype(opJ, 0x80003000),
		itype(opAddiu, v0, zero, 7),
	})
	loadProgram(t, c, 0x80003000, halt)
	run(t, c)
	if c.State.GPR[v0] != 7 {
		t.Errorf("v0 = %d, want 7 (delay slot on the next page not executed)", c.State.GPR[v0])
	}
}

func TestDelaySlotOfSamePageBranch(t *testing.T) {
	const base = 0x80001000
	nop := rtype(0, 0, 0, 0, 0)
	tests := []struct {
		name     string
		prog     []uint32
		reg      int
		want     uint32
		executed uint64
	}{
		{
			// the lui/addiu pair is translated and fused before the beq
			name: "delay slot translated as part of a constant",
			prog: append([]uint32{
				jtype(opJ, base+3*4),
				nop,
				itype(opBeq, zero, zero, 3),
				itype(opLui, t0, zero, 0x1234),
				itype(opAddiu, t0, t0, 5),
				jtype(opJ, base+2*4),
				nop,
			}, halt...),
			reg:      t0,
			want:     0x12340000,
			executed: 11,
		},
		{
			name: "mtc0 status in delay slot",
			prog: append([]uint32{
				itype(opAddiu, t0, zero, 1),
				itype(opBne, t0, zero, 2),
				mtc0w(zero, CP0Status),
				itype(opAddiu, v0, zero, 1),
				itype(opAddiu, v0, v0, 2),
			}, halt...),
			reg:      v0,
			want:     2,
			executed: 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newMIPS(t, binary.BigEndian, base, tt.prog)
			run(t, c)
			if got := c.State.GPR[tt.reg]; got != tt.want {
				t.Errorf("%s = %#x, want %#x", regNames[tt.reg], got, tt.want)
			}
			if c.Executed != tt.executed {
				t.Errorf("Executed = %d, want %d", c.Executed, tt.executed)
			}
		})
	}
}

func TestExceptions(t *testing.T) {
	tests := []struct {
		name     string
		prog     []uint32
		wantEPC  uint32
		wantCode uint32
		wantBD   bool
	}{
		{
			name:     "syscall",
			prog:     []uint32{rtype(0, 0, 0, 0, 0), rtype(fnSyscall, 0, 0, 0, 0)},
			wantEPC:  0x80001004,
			wantCode: ExcSys,
		},
		{
			name:     "break in delay slot",
			prog:     []uint32{itype(opBeq, zero, zero, 2), rtype(fnBreak, 0, 0, 0, 0)},
			wantEPC:  0x80001000,
			wantCode: ExcBp,
			wantBD:   true,
		},
		{
			name: "add overflow",
			prog: []uint32{
				itype(opLui, t0, zero, 0x7fff),
				rtype(fnAdd, t1, t0, t0, 0),
			},
			wantEPC:  0x80001004,
			wantCode: ExcOv,
		},
		{
			name:     "misaligned load",
			prog:     []uint32{itype(opLw, t0, zero, 2)},
			wantEPC:  0x80001000,
			wantCode: ExcAdEL,
		},
		{
			name:     "tlb miss on store",
			prog:     []uint32{itype(opSw, zero, zero, 0x100)},
			wantEPC:  0x80001000,
			wantCode: ExcTLBS,
		},
		{
			name:     "reserved instruction",
			prog:     []uint32{0x7c000000},
			wantEPC:  0x80001000,
			wantCode: ExcRI,
		},
		{
			name:     "coprocessor 1",
			prog:     []uint32{opCop1 << 26},
			wantEPC:  0x80001000,
			wantCode: ExcCpU,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newMIPS(t, binary.BigEndian, 0x80001000, tt.prog)
			run(t, c)
			s := &c.State
			if s.GPR[k0] != tt.wantEPC {
				t.Errorf("EPC = %#x, want %#x", s.GPR[k0], tt.wantEPC)
			}
			if code := s.GPR[k1] & CauseExcCode >> 2; code != tt.wantCode {
				t.Errorf("ExcCode = %s, want %s", ExceptionName(code), ExceptionName(tt.wantCode))
			}
			if bd := s.GPR[k1]&CauseBD != 0; bd != tt.wantBD {
				t.Errorf("Cause.BD = %v, want %v", bd, tt.wantBD)
			}
			if s.CP0[CP0Status]&StatusKUc != 0 {
				t.Errorf("exception handler not running in kernel mode")
			}
		})
	}
}

func TestOverflowLeavesDestination(t *testing.T) {
	c, _ := newMIPS(t, binary.BigEndian, 0x80001000, []uint32{
		itype(opLui, t0, zero, 0x7fff),
		itype(opAddiu, t1, zero, 3),
		rtype(fnAdd, t1, t0, t0, 0),
	})
	run(t, c)
	if c.State.GPR[t1] != 3 {
		t.Errorf("t1 = %#x, want 3", c.State.GPR[t1])
	}
}

func TestByteOrder(t *testing.T) {
	prog := func(lwl, lwr int) []uint32 {
		return append([]uint32{
			itype(opLui, a0, zero, 0x8000),
			itype(opOri, a0, a0, 0x2000),
			itype(opLb, v0, a0, 0),
			itype(opLhu, v1, a0, 2),
			itype(opLwl, t0, a0, lwl),
			itype(opLwr, t0, a0, lwr),
		}, halt...)
	}
	tests := []struct {
		name     string
		order    binary.ByteOrder
		lwl, lwr int
		lb, lhu  uint32
		word     uint32
	}{
		{"big endian", binary.BigEndian, 1, 4, 0xffffff80, 0x2233, 0x80223344},
		{"little endian", binary.LittleEndian, 4, 1, 0xffffff80, 0x3322, 0x44332280},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mem := newMIPS(t, tt.order, 0x80001000, prog(tt.lwl, tt.lwr))
			if err := mem.Load(0x2000, []byte{0x80, 0x80, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}); err != nil {
				t.Fatal(err)
			}
			run(t, c)
			s := &c.State
			if s.GPR[v0] != tt.lb {
				t.Errorf("lb = %#x, want %#x", s.GPR[v0], tt.lb)
			}
			if s.GPR[v1] != tt.lhu {
				t.Errorf("lhu = %#x, want %#x", s.GPR[v1], tt.lhu)
			}
			if s.GPR[t0] != tt.word {
				t.Errorf("lwl/lwr = %#x, want %#x", s.GPR[t0], tt.word)
			}
		})
	}
}

func TestUnalignedStore(t *testing.T) {
	tests := []struct {
		name     string
		order    binary.ByteOrder
		swl, swr int
	}{
		{"big endian", binary.BigEndian, 1, 4},
		{"little endian", binary.LittleEndian, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mem := newMIPS(t, tt.order, 0x80001000, append([]uint32{
				itype(opLui, a0, zero, 0x8000),
				itype(opOri, a0, a0, 0x2000),
				itype(opLui, t0, zero, 0x1122),
				itype(opOri, t0, t0, 0x3344),
				itype(opSwl, t0, a0, tt.swl),
				itype(opSwr, t0, a0, tt.swr),
			}, halt...))
			run(t, c)
			got := make([]byte, 8)
			mem.Read(0x2000, got)

			// the word lands at offset 1 in memory order
			want := make([]byte, 4)
			tt.order.PutUint32(want, 0x11223344)
			if string(got[1:5]) != string(want) || got[0] != 0 || got[5] != 0 {
				t.Errorf("memory = % x, want 00 % x 00", got[:6], want)
			}
		})
	}
}

func TestSelfModifyingCode(t *testing.T) {
	patched := itype(opAddiu, v0, zero, 5)
	c, _ := newMIPS(t, binary.BigEndian, 0x80001000, append([]uint32{
		itype(opAddiu, s0, zero, 2),
		itype(opAddiu, v0, zero, 1), // patched on the first pass
		rtype(fnAddu, v1, v1, v0, 0),
		itype(opLui, t0, zero, int(patched>>16)),
		itype(opOri, t0, t0, int(patched&0xffff)),
		itype(opLui, t1, zero, 0x8000),
		itype(opOri, t1, t1, 0x1004),
		itype(opSw, t0, t1, 0),
		itype(opAddiu, s0, s0, -1),
		itype(opBne, zero, s0, -9),
		rtype(0, 0, 0, 0, 0),
	}, halt...))
	run(t, c)
	if c.State.GPR[v1] != 6 {
		t.Errorf("v1 = %d, want 6 (1 + 5)", c.State.GPR[v1])
	}
	if c.Domain.CodeWrites == 0 {
		t.Errorf("store to translated code not detected")
	}
}

func TestTLBInstructions(t *testing.T) {
	c, mem := newMIPS(t, binary.BigEndian, 0x80001000, append([]uint32{
		itype(opLui, t0, zero, 0x0040),
		mtc0w(t0, CP0EntryHi),
		itype(opLui, t1, zero, 0),
		itype(opOri, t1, t1, 0x5000|entryLoV|entryLoD),
		mtc0w(t1, CP0EntryLo),
		itype(opOri, t2, zero, 5<<8),
		mtc0w(t2, CP0Index),
		cop0w(coTlbwi),
		itype(opAddiu, t3, zero, 0x77),
		itype(opSw, t3, t0, 0x10),
		itype(opLw, v0, t0, 0x10),
		mtc0w(zero, CP0Index),
		cop0w(coTlbp),
		mfc0w(v1, CP0Index),
	}, halt...))
	run(t, c)

	b := make([]byte, 4)
	mem.Read(0x5010, b)
	if binary.BigEndian.Uint32(b) != 0x77 || c.State.GPR[v0] != 0x77 {
		t.Errorf("mapped store/load: memory %#x v0 %#x, want 0x77", binary.BigEndian.Uint32(b), c.State.GPR[v0])
	}
	if c.State.GPR[v1] != 5<<8 {
		t.Errorf("tlbp index = %#x, want %#x", c.State.GPR[v1], 5<<8)
	}
	if e := c.State.TLB[5]; e.Hi != 0x00400000 || e.Lo&entryLoPFN != 0x5000 {
		t.Errorf("TLB[5] = %+v", e)
	}
}

func TestMMU_Translate(t *testing.T) {
	c, _ := newMIPS(t, binary.BigEndian, 0x80001000, nil)
	s := &c.State
	s.TLB[0] = TLBEntry{Hi: 0x00400000 | 1<<6, Lo: 0x5000 | entryLoV | entryLoD}
	s.TLB[1] = TLBEntry{Hi: 0x00401000, Lo: 0x6000 | entryLoV}
	s.TLB[2] = TLBEntry{Hi: 0x00402000, Lo: 0x7000 | entryLoG}
	m := c.Translator

	tests := []struct {
		name    string
		asid    uint32
		user    bool
		vaddr   uint64
		flags   mmu.Flags
		want    uint64
		wantSt  mmu.Status
		wantErr bool
	}{
		{"kseg0", 1, false, 0x80001234, mmu.Read, 0x1234, mmu.Writable, false},
		{"kseg1", 1, false, 0xbfc00010, mmu.Write, 0x1fc00010, mmu.Writable, false},
		{"mapped", 1, false, 0x00400010, mmu.Write, 0x5010, mmu.Writable, false},
		{"other asid", 1, false, 0x00401000, mmu.Read, 0, mmu.Fault, true},
		{"same asid read only", 0, false, 0x00401008, mmu.Read, 0x6008, mmu.ReadOnly, false},
		{"write to clean page", 0, false, 0x00401008, mmu.Write, 0, mmu.Fault, true},
		{"invalid global entry", 0, false, 0x00402000, mmu.Read, 0, mmu.Fault, true},
		{"unmapped", 0, false, 0x00500000, mmu.Instruction, 0, mmu.Fault, true},
		{"user mapped", 1, true, 0x00400000, mmu.Read, 0x5000, mmu.Writable, false},
		{"user kseg0", 1, true, 0x80000000, mmu.Read, 0, mmu.Fault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.CP0[CP0EntryHi] = tt.asid << 6
			s.CP0[CP0Status] = 0
			if tt.user {
				s.CP0[CP0Status] = StatusKUc
			}
			pc := c.PC
			res, err := m.Translate(tt.vaddr, tt.flags|mmu.NoExceptions)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Translate(%#x) error = %v, wantErr %v", tt.vaddr, err, tt.wantErr)
			}
			if err != nil {
				if !faults.Is(err, faults.TranslationFault) || faults.Raised(err) || c.PC != pc {
					t.Errorf("probe changed guest state or returned %v", err)
				}
				return
			}
			if res.PAddr != tt.want || res.Status != tt.wantSt {
				t.Errorf("Translate(%#x) = %v, want %#x (%v)", tt.vaddr, res, tt.want, tt.wantSt)
			}
		})
	}
}

func TestMMU_Refill(t *testing.T) {
	tests := []struct {
		name       string
		vaddr      uint64
		flags      mmu.Flags
		wantVector uint64
		wantCode   uint32
	}{
		{"kuseg load", 0x00500abc, mmu.Read, VectorUTLBMiss, ExcTLBL},
		{"kuseg store", 0x00500abc, mmu.Write, VectorUTLBMiss, ExcTLBS},
		{"kseg2 fetch", 0xc0000000, mmu.Instruction, VectorGeneral, ExcTLBL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newMIPS(t, binary.BigEndian, 0x80001000, nil)
			s := &c.State
			s.CP0[CP0EntryHi] = 3 << 6
			_, err := c.Translator.Translate(tt.vaddr, tt.flags)
			if !faults.Raised(err) {
				t.Fatalf("Translate() error = %v, want a raised fault", err)
			}
			if c.PC != tt.wantVector {
				t.Errorf("pc = %#x, want %#x", c.PC, tt.wantVector)
			}
			if code := s.CP0[CP0Cause] & CauseExcCode >> 2; code != tt.wantCode {
				t.Errorf("ExcCode = %s, want %s", ExceptionName(code), ExceptionName(tt.wantCode))
			}
			if s.CP0[CP0BadVAddr] != uint32(tt.vaddr) {
				t.Errorf("BadVAddr = %#x, want %#x", s.CP0[CP0BadVAddr], tt.vaddr)
			}
			if want := uint32(tt.vaddr) >> 12 << 2 & 0x1ffffc; s.CP0[CP0Context] != want {
				t.Errorf("Context = %#x, want %#x", s.CP0[CP0Context], want)
			}
			if s.CP0[CP0EntryHi] != uint32(tt.vaddr)&entryHiVPN|3<<6 {
				t.Errorf("EntryHi = %#x", s.CP0[CP0EntryHi])
			}
		})
	}
}

func TestInterrupt(t *testing.T) {
	c, _ := newMIPS(t, binary.BigEndian, 0x80001000, []uint32{rtype(0, 0, 0, 0, 0)})
	c.State.CP0[CP0Status] = StatusIEc | 1<<hwIPShift
	c.SetIRQ(0, true)
	run(t, c)
	s := &c.State
	if s.GPR[k0] != 0x80001000 {
		t.Errorf("EPC = %#x, want 0x80001000", s.GPR[k0])
	}
	if s.GPR[k1]&CauseExcCode != ExcInt || s.GPR[k1]&(1<<hwIPShift) == 0 {
		t.Errorf("Cause = %#x, want Int with IP2", s.GPR[k1])
	}
	if s.CP0[CP0Status]&(StatusIEc|StatusIEp) != StatusIEp {
		t.Errorf("Status = %#x, want interrupts disabled and IEp set", s.CP0[CP0Status])
	}
}

func TestUnimplemented(t *testing.T) {
	c, _ := newMIPS(t, binary.BigEndian, 0x80001000, []uint32{opLwc1 << 26})
	_, err := c.Run(100)
	if !faults.Is(err, faults.Unimplemented) {
		t.Errorf("Run() error = %v, want unimplemented instruction", err)
	}
	if c.PC != 0x80001000 {
		t.Errorf("pc = %#x, want 0x80001000", c.PC)
	}
}

func TestDisassemble(t *testing.T) {
	tests := []struct {
		pc   uint32
		word uint32
		want string
	}{
		{0, 0, "nop"},
		{0, itype(opAddiu, v0, zero, -1), "addiu v0, zero, -1"},
		{0x80001000, itype(opBne, zero, t0, -2), "bne t0, zero, 0x80000ffc"},
		{0x80001000, jtype(opJal, 0x80002000), "jal 0x80002000"},
		{0, itype(opLw, t0, a0, 16), "lw t0, 16(a0)"},
		{0, cop0w(coRfe), "rfe"},
		{0, mfc0w(k0, CP0EPC), "mfc0 k0, $14"},
		{0, 0xfc000000, ".word 0xfc000000"},
	}
	for _, tt := range tests {
		if got := Disassemble(tt.pc, tt.word); got != tt.want {
			t.Errorf("Disassemble(%#x) = %q, want %q", tt.word, got, tt.want)
		}
	}
}
