package mmu

import "testing"

func TestIdentity_Translate(t *testing.T) {
	tests := []struct {
		name  string
		vaddr uint64
		flags Flags
	}{
		{"read", 0x1000, Read},
		{"write", 0xdeadbeec, Write},
		{"fetch", 0x80000000, Instruction},
		{"probe", 0, Write | NoExceptions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Identity.Translate(tt.vaddr, tt.flags)
			if err != nil {
				t.Fatalf("Identity.Translate() error = %v", err)
			}
			if got.PAddr != tt.vaddr || !got.Writable() {
				t.Errorf("Identity.Translate() = %v, want %#x (ok-writable)", got, tt.vaddr)
			}
		})
	}
}

func TestCounter(t *testing.T) {
	c := &Counter{T: Identity}
	for i := 0; i < 3; i++ {
		if _, err := c.Translate(uint64(i)<<12, Read); err != nil {
			t.Fatal(err)
		}
	}
	if c.Calls != 3 {
		t.Errorf("Counter.Calls = %d, want 3", c.Calls)
	}
}

func TestFlags_String(t *testing.T) {
	tests := []struct {
		f    Flags
		want string
	}{
		{Read, "read"},
		{Write, "write"},
		{Instruction, "fetch"},
		{Write | NoExceptions, "write,probe"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("Flags(%d).String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}
