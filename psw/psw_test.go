package psw

import (
	"testing"
)

func TestGet(t *testing.T) {
	var p PSW
	p = 0x13

	if p.Get() != 0x13 {
		t.Errorf("Expected PSW value of 0x13, got %v", p.Get())
	}
}

func TestPSW_C(t *testing.T) {
	tests := []struct {
		name string
		p    PSW
		want bool
	}{
		{"C set, all 0", 1 << 29, true},
		{"C set, other flags too", 0xf0000013, true},
		{"C clear, all 0", 0, false},
		{"C clear, other flags set", 0xd00000d3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			if p.C() != tt.want {
				t.Errorf("pws.C() (%v) failed. P: %v, wanted %v, got %v",
					tt.name, p, tt.want, p.C())
			}
		})
	}
}

func TestPSW_SetN(t *testing.T) {
	tests := []struct {
		name        string
		psw         PSW
		args        bool
		modifiedPsw PSW
	}{
		{"set N P=0", 0, true, 0x80000000},
		{"set N P=N", 0x80000000, true, 0x80000000},
		{"clear N P=0", 0, false, 0},
		{"clear N P=N", 0x80000000, false, 0},
		{"clear N P=N|svc", 0x80000013, false, 0x13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.psw.SetN(tt.args)
			if tt.psw.N() != tt.args {
				t.Errorf("psw.SetN() (%s) failed. P: %v, expected: %v, got %v \n",
					tt.name, tt.psw, tt.args, tt.psw.N())
			}

			if tt.psw != tt.modifiedPsw {
				t.Errorf("psw.SetN (%s) failed. P = %v, expected P = %v\n",
					tt.name, tt.psw, tt.modifiedPsw)
			}
		})
	}
}

func TestPSW_SetNZ(t *testing.T) {
	tests := []struct {
		name   string
		result uint32
		n, z   bool
	}{
		{"zero", 0, false, true},
		{"positive", 1, false, false},
		{"negative", 0x80000000, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p PSW = 0x60000000
			p.SetNZ(tt.result)
			if p.N() != tt.n || p.Z() != tt.z {
				t.Errorf("psw.SetNZ(%#x) = %s", tt.result, p.GetFlags())
			}
			if !p.C() {
				t.Errorf("psw.SetNZ() cleared C")
			}
		})
	}
}

func TestPSW_SwitchMode(t *testing.T) {
	var p PSW = 0xf00000d3
	p.SwitchMode(UserMode)
	if p.GetMode() != UserMode || !p.IsUserMode() {
		t.Errorf("psw.SwitchMode(usr) mode = %#x", p.GetMode())
	}
	if p.Get() != 0xf00000d0 {
		t.Errorf("psw.SwitchMode(usr) = %#x, want 0xf00000d0", p.Get())
	}
	if !ValidMode(IRQMode) || ValidMode(0x14) {
		t.Errorf("ValidMode() wrong")
	}
}

func TestPSW_Cond(t *testing.T) {
	const (
		n = 1 << 31
		z = 1 << 30
		c = 1 << 29
		v = 1 << 28
	)
	tests := []struct {
		name string
		cond uint32
		psw  PSW
		want bool
	}{
		{"eq with Z", 0x0, z, true},
		{"eq without Z", 0x0, 0, false},
		{"ne", 0x1, 0, true},
		{"cs", 0x2, c, true},
		{"cc", 0x3, c, false},
		{"mi", 0x4, n, true},
		{"pl", 0x5, n, false},
		{"vs", 0x6, v, true},
		{"vc", 0x7, 0, true},
		{"hi C !Z", 0x8, c, true},
		{"hi C Z", 0x8, c | z, false},
		{"ls", 0x9, z, true},
		{"ge N=V", 0xa, n | v, true},
		{"ge N!=V", 0xa, n, false},
		{"lt", 0xb, v, true},
		{"gt", 0xc, 0, true},
		{"gt with Z", 0xc, z, false},
		{"le", 0xd, z, true},
		{"al", 0xe, 0, true},
		{"nv", 0xf, n | z | c | v, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.psw.Cond(tt.cond); got != tt.want {
				t.Errorf("PSW(%#x).Cond(%s) = %v, want %v", uint32(tt.psw), CondNames[tt.cond], got, tt.want)
			}
		})
	}
}

func TestPSW_GetFlags(t *testing.T) {
	var p PSW = 0x600000d3
	if got := p.GetFlags(); got != "[svc  ZC IF]" {
		t.Errorf("psw.GetFlags() = %q", got)
	}
}
