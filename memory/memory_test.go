package memory

import (
	"bytes"
	"encoding/binary"
	"testing"

	"dtemu/faults"
)

// register style test device: one 64 bit register at offset 0
type reg struct {
	value  uint64
	writes int
}

func (d *reg) Access(req *Request) bool {
	if req.Offset != 0 {
		return false
	}
	if req.Write {
		d.value = req.Value()
		d.writes++
	} else {
		req.SetValue(d.value)
	}
	return true
}

func newTestStore(t *testing.T) (*Store, *reg) {
	t.Helper()
	s := NewStore(nil)
	if _, err := s.AddRAM("ram", 0, 0x100000); err != nil {
		t.Fatal(err)
	}
	d := &reg{}
	if _, err := s.AddDevice("reg", 0x12000000, 0x20, d, 0); err != nil {
		t.Fatal(err)
	}
	return s, d
}

func TestStore_Add(t *testing.T) {
	s, _ := newTestStore(t)
	tests := []struct {
		name    string
		base    uint64
		length  uint64
		wantErr bool
	}{
		{"overlaps ram start", 0, 0x10, true},
		{"overlaps ram end", 0xffff0, 0x20, true},
		{"overlaps device", 0x11fffff0, 0x20, true},
		{"zero length", 0x20000000, 0, true},
		{"between", 0x100000, 0x1000, false},
		{"above device", 0x12000020, 0x10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddRAM(tt.name, tt.base, tt.length)
			if (err != nil) != tt.wantErr {
				t.Errorf("Store.AddRAM() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	// sorted
	prev := uint64(0)
	for _, r := range s.Regions() {
		if r.Base < prev {
			t.Errorf("regions not sorted: %s after %#x", r, prev)
		}
		prev = r.Base
	}
}

func TestStore_Lookup(t *testing.T) {
	s, _ := newTestStore(t)
	tests := []struct {
		name    string
		paddr   uint64
		region  string
		offset  uint64
		wantErr bool
	}{
		{"ram start", 0, "ram", 0, false},
		{"ram end", 0xfffff, "ram", 0xfffff, false},
		{"after ram", 0x100000, "", 0, true},
		{"device", 0x12000018, "reg", 0x18, false},
		{"after device", 0x12000020, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, off, err := s.Lookup(tt.paddr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Store.Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !faults.Is(err, faults.OutOfRange) {
					t.Errorf("Store.Lookup() error = %v, want OutOfRange", err)
				}
				return
			}
			if r.Name != tt.region || off != tt.offset {
				t.Errorf("Store.Lookup() = %s+%#x, want %s+%#x", r.Name, off, tt.region, tt.offset)
			}
		})
	}
}

func TestStore_AccessDevice(t *testing.T) {
	s, d := newTestStore(t)

	w := &Request{Addr: 0x12000000, Data: []byte{0x12, 0x34, 0x56, 0x78}, Write: true, Order: binary.BigEndian}
	if err := s.Access(w); err != nil {
		t.Fatal(err)
	}
	if d.value != 0x12345678 {
		t.Errorf("device value = %#x, want 0x12345678", d.value)
	}

	r := &Request{Addr: 0x12000000, Data: make([]byte, 4), Order: binary.LittleEndian}
	if err := s.Access(r); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r.Data, []byte{0x78, 0x56, 0x34, 0x12}) {
		t.Errorf("little endian read = % x", r.Data)
	}

	bad := &Request{Addr: 0x12000008, Data: make([]byte, 4)}
	if err := s.Access(bad); !faults.Is(err, faults.BusError) {
		t.Errorf("Store.Access() error = %v, want bus error", err)
	}
}

func TestStore_AccessRAM(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Write(0x1000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := s.Read(0x1000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Store.Read() = % x", got)
	}

	if err := s.Read(0xffffe, make([]byte, 4)); !faults.Is(err, faults.OutOfRange) {
		t.Errorf("access crossing region end: error = %v, want OutOfRange", err)
	}
}

func TestStore_HostPage(t *testing.T) {
	s, _ := newTestStore(t)
	vram := make([]byte, 0x2000)
	if _, err := s.AddDevice("vram", 0x200000, 0x2000, DeviceFunc(func(*Request) bool { return true }), Cacheable); err != nil {
		t.Fatal(err)
	}
	s.Regions()[1].Data = vram

	tests := []struct {
		name         string
		paddr        uint64
		wantOK       bool
		wantWritable bool
	}{
		{"ram", 0x3123, true, true},
		{"register device", 0x12000000, false, false},
		{"cacheable device", 0x201000, true, false},
		{"unmapped", 0x50000000, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, writable, ok := s.HostPage(tt.paddr, 0x1000)
			if ok != tt.wantOK || writable != tt.wantWritable {
				t.Fatalf("Store.HostPage() = (%v, %v), want (%v, %v)", ok, writable, tt.wantOK, tt.wantWritable)
			}
			if ok && len(host) != 0x1000 {
				t.Errorf("Store.HostPage() len = %#x, want 0x1000", len(host))
			}
		})
	}
}

func TestStore_RemapPublishes(t *testing.T) {
	s, _ := newTestStore(t)
	r, err := s.AddRAM("fb", 0x200000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	if err := s.Remap(r, 0x4000, make([]byte, 0x4000)); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != Resized || changes[0].OldLength != 0x1000 {
		t.Fatalf("changes = %+v, want one Resized from 0x1000", changes)
	}

	// growing into the device is refused
	if err := s.Remap(r, 0x12000000, make([]byte, 1)); err == nil {
		t.Errorf("Store.Remap() into device: want error")
	}
}

func TestStore_Load(t *testing.T) {
	s, _ := newTestStore(t)
	img := []byte("hello, guest")
	if err := s.Load(0x400, img); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(img))
	_ = s.Read(0x400, got)
	if !bytes.Equal(got, img) {
		t.Errorf("loaded %q, want %q", got, img)
	}
	if err := s.Load(0x12000000, img); err == nil {
		t.Errorf("Store.Load() into register device: want error")
	}
}

func TestRequest_Value(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		order binary.ByteOrder
		want  uint64
	}{
		{"byte", []byte{0xab}, binary.BigEndian, 0xab},
		{"half be", []byte{0x12, 0x34}, binary.BigEndian, 0x1234},
		{"half le", []byte{0x12, 0x34}, binary.LittleEndian, 0x3412},
		{"word be", []byte{1, 2, 3, 4}, binary.BigEndian, 0x01020304},
		{"dword le", []byte{1, 0, 0, 0, 0, 0, 0, 0x80}, binary.LittleEndian, 0x8000000000000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Request{Data: tt.data, Order: tt.order}
			if got := r.Value(); got != tt.want {
				t.Errorf("Request.Value() = %#x, want %#x", got, tt.want)
			}
			r2 := &Request{Data: make([]byte, len(tt.data)), Order: tt.order}
			r2.SetValue(tt.want)
			if !bytes.Equal(r2.Data, tt.data) {
				t.Errorf("Request.SetValue() = % x, want % x", r2.Data, tt.data)
			}
		})
	}
}
