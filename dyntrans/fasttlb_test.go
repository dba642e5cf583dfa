package dyntrans

import (
	"encoding/binary"
	"testing"

	"dtemu/memory"
)

func TestFastTLB_Lookup(t *testing.T) {
	tlb := NewFastTLB(8, 12)
	ram := make([]byte, 0x1000)
	rom := make([]byte, 0x1000)
	tlb.Insert(0x80001234, 0x1000, ram, true)
	tlb.Insert(0x80002000, 0x2000, rom, false)
	tlb.Insert(0x80003000, 0x3000, nil, false)

	tests := []struct {
		name  string
		vaddr uint64
		write bool
		want  bool
	}{
		{"read writable", 0x80001ffc, false, true},
		{"write writable", 0x80001000, true, true},
		{"read read only", 0x80002004, false, true},
		{"write read only", 0x80002004, true, false},
		{"no host page", 0x80003000, false, false},
		{"miss", 0x80004000, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tlb.Lookup(tt.vaddr, tt.write)
			if ok != tt.want {
				t.Errorf("FastTLB.Lookup(%#x, %v) = %v, want %v", tt.vaddr, tt.write, ok, tt.want)
			}
		})
	}
	if tlb.Hits != 3 || tlb.Misses != 3 {
		t.Errorf("hits %d misses %d, want 3 and 3", tlb.Hits, tlb.Misses)
	}
	if e := tlb.Find(0x80003abc); e == nil || e.PPage != 0x3000 {
		t.Errorf("FastTLB.Find() = %+v, want physical page 0x3000", e)
	}
}

func TestFastTLB_Replacement(t *testing.T) {
	tlb := NewFastTLB(4, 12)
	for i := uint64(0); i < 4; i++ {
		tlb.Insert(i<<12, i<<12, make([]byte, 0x1000), true)
	}

	// page 0 is next in line for replacement; using it moves it away
	if _, ok := tlb.Lookup(0, false); !ok {
		t.Fatal("page 0 missing")
	}
	tlb.Insert(4<<12, 4<<12, make([]byte, 0x1000), true)

	if _, ok := tlb.Lookup(0, false); !ok {
		t.Errorf("recently used page 0 was replaced")
	}
	if e := tlb.Find(1 << 12); e != nil {
		t.Errorf("page 1 still present, expected it to be replaced")
	}
	if tlb.Len() != 4 || tlb.Evictions != 1 {
		t.Errorf("len %d evictions %d, want 4 and 1", tlb.Len(), tlb.Evictions)
	}

	// every entry must still be reachable through the index
	for _, vp := range []uint64{0, 2 << 12, 3 << 12, 4 << 12} {
		if e := tlb.Find(vp); e == nil || e.VPage != vp {
			t.Errorf("FastTLB.Find(%#x) = %+v", vp, e)
		}
	}
}

func TestFastTLB_Invalidate(t *testing.T) {
	tests := []struct {
		name      string
		op        func(*FastTLB)
		wantRead  bool
		wantWrite bool
		wantOther bool
	}{
		{"virtual", func(t *FastTLB) { t.InvalidateVirtual(0x5008) }, false, false, true},
		{"physical", func(t *FastTLB) { t.InvalidatePhysical(0x9000) }, false, false, false},
		{"downgrade", func(t *FastTLB) { t.DowngradePhysical(0x9000) }, true, false, true},
		{"all", func(t *FastTLB) { t.InvalidateAll() }, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlb := NewFastTLB(8, 12)
			tlb.Insert(0x5000, 0x9000, make([]byte, 0x1000), true)
			// second virtual alias of the same physical page
			tlb.Insert(0x6000, 0x9000, make([]byte, 0x1000), true)

			tt.op(tlb)
			if _, ok := tlb.Lookup(0x5000, false); ok != tt.wantRead {
				t.Errorf("read after %s = %v, want %v", tt.name, ok, tt.wantRead)
			}
			if _, ok := tlb.Lookup(0x5000, true); ok != tt.wantWrite {
				t.Errorf("write after %s = %v, want %v", tt.name, ok, tt.wantWrite)
			}
			if _, ok := tlb.Lookup(0x6000, false); ok != tt.wantOther {
				t.Errorf("alias after %s = %v, want %v", tt.name, ok, tt.wantOther)
			}
		})
	}
}

func TestFastTLB_Stale(t *testing.T) {
	// a device region resized by the guest: host pages cached before the
	// resize must not be used afterwards
	mem := memory.NewStore(nil)
	if _, err := mem.AddRAM("ram", 0, 0x10000); err != nil {
		t.Fatal(err)
	}
	var vram *memory.Region
	dev := memory.DeviceFunc(func(req *memory.Request) bool {
		if req.Write {
			copy(vram.Data[req.Offset:], req.Data)
		} else {
			copy(req.Data, vram.Data[req.Offset:])
		}
		return true
	})
	vram, err := mem.AddDevice("vram", 0x100000, 0x2000, dev, memory.Cacheable|memory.WritableCache)
	if err != nil {
		t.Fatal(err)
	}
	vram.Data = make([]byte, 0x2000)

	c := NewCPU[toyState](Config{Geometry: Geometry{PageShift: 12, InstrShift: 2}, Order: binary.BigEndian}, toyArch{}, mem)
	d := NewDomain(12, nil)
	d.Join(c)
	d.Watch(mem)
	c.Domain = d

	if !c.Store(0x101000, 4, 0x11223344) {
		t.Fatal("store to vram failed")
	}
	if c.DTLB.Len() != 1 {
		t.Fatalf("fast TLB has %d entries, want 1", c.DTLB.Len())
	}

	newData := make([]byte, 0x4000)
	if err := mem.Remap(vram, 0x4000, newData); err != nil {
		t.Fatal(err)
	}
	if c.DTLB.Len() != 0 {
		t.Errorf("fast TLB has %d entries after remap, want 0", c.DTLB.Len())
	}

	if !c.Store(0x101000, 4, 0x55667788) {
		t.Fatal("store to vram after remap failed")
	}
	if got := binary.BigEndian.Uint32(newData[0x1000:]); got != 0x55667788 {
		t.Errorf("new backing store = %#x, want 0x55667788", got)
	}
}
