// Package config holds the machine definition. A definition is a Lua chunk
// which returns a table, e.g.
//
//	return {
//	  arch  = "mips",
//	  ram   = 32 * MB,
//	  ncpus = 2,
//	  image = "hello.bin",
//	  load  = 0x10000,
//	}
//
// Fields left out keep their defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"dtemu/disk"

	lua "github.com/yuin/gopher-lua"
)

// architectures
const (
	MIPS = "mips"
	ARM  = "arm"
	PPC  = "ppc"
)

// device names
const (
	DevConsole     = "cons"
	DevMP          = "mp"
	DevFramebuffer = "fb"
	DevDisk        = "disk"
	DevEther       = "ether"
	DevRTC         = "rtc"
	DevIRQC        = "irqc"
)

// AllDevices is the device set of a default machine.
var AllDevices = []string{DevConsole, DevMP, DevFramebuffer, DevDisk, DevEther, DevRTC, DevIRQC}

// limits
const (
	MinRAM   = 1 << 20
	MaxRAM   = 0x10000000 // devices start here
	MaxCPUs  = 32
	pageSize = 4096

	evalTimeout = 5 * time.Second
)

// Machine definition.
type Machine struct {
	Arch      string
	BigEndian bool

	// RAM size in bytes, mapped at physical 0
	RAM uint64

	NCPUs int

	// Quantum is the number of instructions a CPU runs before the
	// scheduler moves to the next one
	Quantum int

	// FastTLB entries per CPU and access kind
	FastTLB int

	// Disks holds the image paths of disk units 0, 1 ...
	Disks []string

	// Trace is the size of the instruction trace queue, 0 disables tracing
	Trace int

	Devices []string

	// Image is a raw binary loaded to physical address Load. CPUs start at
	// Entry, or at the default entry for Load when Entry is 0
	Image string
	Load  uint64
	Entry uint64
}

// Default returns the default machine for arch.
func Default(arch string) *Machine {
	m := &Machine{
		Arch:    arch,
		RAM:     32 << 20,
		NCPUs:   1,
		Quantum: 1024,
		FastTLB: 64,
		Devices: slices.Clone(AllDevices),
		Load:    0x10000,
	}
	m.BigEndian = arch != ARM
	return m
}

// EntryPC is the virtual address CPUs start from.
func (m *Machine) EntryPC() uint64 {
	if m.Entry != 0 {
		return m.Entry
	}
	if m.Arch == MIPS {
		// through kseg0
		return 0x80000000 | m.Load
	}
	return m.Load
}

// StackPointer returns the initial stack pointer of cpu id: the top of RAM,
// 64 KiB per CPU.
func (m *Machine) StackPointer(id int) uint64 {
	sp := m.RAM - uint64(id)*0x10000 - 16
	if m.Arch == MIPS {
		sp |= 0x80000000
	}
	return sp
}

// HasDevice reports whether the device called name is attached.
func (m *Machine) HasDevice(name string) bool {
	return slices.Contains(m.Devices, name)
}

// Validate checks the definition.
func (m *Machine) Validate() error {
	var errs []error
	switch m.Arch {
	case MIPS:
	case ARM:
		if m.BigEndian {
			errs = append(errs, errors.New("arm is little endian only"))
		}
	case PPC:
		if !m.BigEndian {
			errs = append(errs, errors.New("ppc is big endian only"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown arch %q", m.Arch))
	}
	if m.RAM < MinRAM || m.RAM > MaxRAM || m.RAM%pageSize != 0 {
		errs = append(errs, fmt.Errorf("ram %#x: must be a multiple of %d between %#x and %#x", m.RAM, pageSize, MinRAM, MaxRAM))
	}
	if m.NCPUs < 1 || m.NCPUs > MaxCPUs {
		errs = append(errs, fmt.Errorf("ncpus %d: must be between 1 and %d", m.NCPUs, MaxCPUs))
	}
	if m.Quantum < 1 {
		errs = append(errs, fmt.Errorf("quantum %d: must be positive", m.Quantum))
	}
	if m.FastTLB < 1 {
		errs = append(errs, fmt.Errorf("fasttlb %d: must be positive", m.FastTLB))
	}
	if m.Trace < 0 {
		errs = append(errs, fmt.Errorf("trace %d: must not be negative", m.Trace))
	}
	if len(m.Disks) > disk.Units {
		errs = append(errs, fmt.Errorf("%d disks: at most %d units", len(m.Disks), disk.Units))
	}
	if len(m.Disks) > 0 && !m.HasDevice(DevDisk) {
		errs = append(errs, errors.New("disk images given without the disk device"))
	}
	for _, d := range m.Devices {
		if !slices.Contains(AllDevices, d) {
			errs = append(errs, fmt.Errorf("unknown device %q", d))
		}
	}
	if !m.HasDevice(DevConsole) {
		errs = append(errs, errors.New("the cons device is required"))
	}
	if m.NCPUs > 1 && !m.HasDevice(DevMP) {
		errs = append(errs, errors.New("more than one cpu needs the mp device"))
	}
	if m.Image != "" && m.Load >= m.RAM {
		errs = append(errs, fmt.Errorf("load address %#x outside ram", m.Load))
	}
	return errors.Join(errs...)
}

// Load reads the machine definition at path.
func Load(path string) (*Machine, error) {
	return eval(path, func(L *lua.LState) error { return L.DoFile(path) })
}

// LoadString evaluates a machine definition held in src. name is used in
// error messages.
func LoadString(name, src string) (*Machine, error) {
	return eval(name, func(L *lua.LState) error { return L.DoString(src) })
}

func eval(name string, run func(*lua.LState) error) (*Machine, error) {
	L := lua.NewState()
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	L.SetContext(ctx)

	L.SetGlobal("KB", lua.LNumber(1<<10))
	L.SetGlobal("MB", lua.LNumber(1<<20))

	if err := run(L); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}

	ret := L.Get(-1)
	if ret == lua.LNil {
		// no return value, look for a global table
		ret = L.GetGlobal("machine")
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("config %s: expected a table, got %s", name, ret.Type())
	}

	m, err := fromTable(tbl)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return m, nil
}

// fields understood in a definition table
var fields = []string{"arch", "endian", "ram", "ncpus", "quantum", "fasttlb", "disk", "trace", "devices", "entry", "image", "load"}

func fromTable(t *lua.LTable) (*Machine, error) {
	var errs []error
	t.ForEach(func(k, _ lua.LValue) {
		if key, ok := k.(lua.LString); !ok || !slices.Contains(fields, string(key)) {
			errs = append(errs, fmt.Errorf("unknown field %s", k.String()))
		}
	})

	arch := MIPS
	if v := t.RawGetString("arch"); v != lua.LNil {
		s, err := toString("arch", v)
		if err != nil {
			return nil, err
		}
		arch = strings.ToLower(s)
	}
	m := Default(arch)

	if v := t.RawGetString("endian"); v != lua.LNil {
		s, err := toString("endian", v)
		switch {
		case err != nil:
			errs = append(errs, err)
		case s == "big":
			m.BigEndian = true
		case s == "little":
			m.BigEndian = false
		default:
			errs = append(errs, fmt.Errorf("endian %q: must be big or little", s))
		}
	}

	for _, f := range []struct {
		name string
		dst  *uint64
	}{
		{"ram", &m.RAM},
		{"entry", &m.Entry},
		{"load", &m.Load},
	} {
		if v := t.RawGetString(f.name); v != lua.LNil {
			n, err := toUint(f.name, v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			*f.dst = n
		}
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"ncpus", &m.NCPUs},
		{"quantum", &m.Quantum},
		{"fasttlb", &m.FastTLB},
		{"trace", &m.Trace},
	} {
		if v := t.RawGetString(f.name); v != lua.LNil {
			n, err := toInt(f.name, v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			*f.dst = n
		}
	}

	if v := t.RawGetString("image"); v != lua.LNil {
		s, err := toString("image", v)
		if err != nil {
			errs = append(errs, err)
		}
		m.Image = s
	}

	// a single image or a list of them
	if v := t.RawGetString("disk"); v != lua.LNil {
		if s, ok := v.(lua.LString); ok {
			m.Disks = []string{string(s)}
		} else {
			list, err := toStrings("disk", v)
			if err != nil {
				errs = append(errs, err)
			}
			m.Disks = list
		}
	}

	if v := t.RawGetString("devices"); v != lua.LNil {
		list, err := toStrings("devices", v)
		if err != nil {
			errs = append(errs, err)
		}
		m.Devices = list
	}
	return m, errors.Join(errs...)
}

func toString(name string, v lua.LValue) (string, error) {
	s, ok := v.(lua.LString)
	if !ok {
		return "", fmt.Errorf("%s: expected a string, got %s", name, v.Type())
	}
	return string(s), nil
}

func toInt(name string, v lua.LValue) (int, error) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("%s: expected a number, got %s", name, v.Type())
	}
	if float64(n) != float64(int(n)) {
		return 0, fmt.Errorf("%s: %v is not an integer", name, n)
	}
	return int(n), nil
}

func toUint(name string, v lua.LValue) (uint64, error) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("%s: expected a number, got %s", name, v.Type())
	}
	if n < 0 || float64(n) != float64(uint64(n)) {
		return 0, fmt.Errorf("%s: %v is not an address", name, n)
	}
	return uint64(n), nil
}

func toStrings(name string, v lua.LValue) ([]string, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %s", name, v.Type())
	}
	var out []string
	for i := 1; i <= t.Len(); i++ {
		s, err := toString(fmt.Sprintf("%s[%d]", name, i), t.RawGetInt(i))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
