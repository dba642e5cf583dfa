package faults

import (
	"fmt"
	"testing"
)

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", New(AlignmentFault, 0x1001, false, "word access"))
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"nil", nil, AlignmentFault, false},
		{"plain error", fmt.Errorf("boom"), AlignmentFault, false},
		{"direct match", New(OutOfRange, 0, true, ""), OutOfRange, true},
		{"direct mismatch", New(OutOfRange, 0, true, ""), TranslationFault, false},
		{"wrapped", wrapped, AlignmentFault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.kind); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"translation", New(TranslationFault, 0, false, ""), false},
		{"alignment", New(AlignmentFault, 0, false, ""), false},
		{"out of range", New(OutOfRange, 0, false, ""), true},
		{"unimplemented", New(Unimplemented, 0, false, ""), true},
		{"other error", fmt.Errorf("disk on fire"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFault_Error(t *testing.T) {
	f := New(TranslationFault, 0x400000, true, "tlb miss")
	f.PC = 0x80001000
	want := "translation fault: write 0x400000 (pc 0x80001000): tlb miss"
	if got := f.Error(); got != want {
		t.Errorf("Fault.Error() = %q, want %q", got, want)
	}
}
