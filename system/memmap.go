package system

import (
	"fmt"
	"strings"

	"dtemu/memory"
)

// physical memory map. RAM starts at 0, devices live above 256 MiB:
//
//	0x10000000 cons     console, PUTGETCHAR and HALT
//	0x11000000 mp       multiprocessor control
//	0x12000000 fbctrl   framebuffer control ports
//	0x12100000 fb       video RAM, 3 bytes per pixel
//	0x13000000 disk     sector buffer controller
//	0x14000000 ether    packet buffer NIC
//	0x15000000 rtc      real time clock and timer
//	0x16000000 irqc     interrupt controller
const (
	ConsoleBase     = 0x10000000
	MPBase          = 0x11000000
	FramebufferCtrl = 0x12000000
	FramebufferBase = 0x12100000
	DiskBase        = 0x13000000
	EtherBase       = 0x14000000
	RTCBase         = 0x15000000
	IRQCBase        = 0x16000000
)

// ticker divisors, in scheduler rounds
const (
	consoleDivisor = 4
	rtcDivisor     = 1
)

type ticker struct {
	memory.Ticker
	divisor uint64
}

// MemoryMap formats the region table of the machine.
func (m *Machine) MemoryMap() string {
	var sb strings.Builder
	for _, r := range m.Mem.Regions() {
		fmt.Fprintf(&sb, "%#010x-%#010x %-7s", r.Base, r.End()-1, r.Name)
		switch {
		case r.IsRAM():
			sb.WriteString(" ram")
		case r.Flags&memory.Cacheable != 0:
			sb.WriteString(" device, cacheable")
		default:
			sb.WriteString(" device")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
