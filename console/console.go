// Package console is the emulator side of the front end: status messages,
// the register file and machine statistics. The guest console itself is the
// teletype device.
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"dtemu/system"
)

// Console receives emulator status messages.
type Console interface {
	WriteConsole(msg string) error
}

// registers per line in the register view
const regsPerLine = 6

// WriteRegisters formats the register file of every CPU.
func WriteRegisters(w io.Writer, s *system.Snapshot) {
	for _, c := range s.CPUs {
		fmt.Fprintf(w, "cpu%d %s %s", c.ID, c.Arch, c.Status)
		switch {
		case !c.Started:
			fmt.Fprint(w, " (not started)")
		case c.Paused:
			fmt.Fprint(w, " (paused)")
		}
		if c.Err != nil {
			fmt.Fprintf(w, ": %v", c.Err)
		}
		fmt.Fprintln(w)

		for i, r := range c.Registers {
			fmt.Fprintf(w, " %-8s %08x", r.Name, r.Value)
			if (i+1)%regsPerLine == 0 || i == len(c.Registers)-1 {
				fmt.Fprintln(w)
			}
		}
	}
}

// WriteStatus formats the machine statistics, followed by the trace.
func WriteStatus(w io.Writer, s *system.Snapshot) {
	fmt.Fprintf(w, "executed %d instructions in %v (%.2f MIPS), %d code writes\n",
		s.Executed, s.Elapsed.Round(time.Millisecond), s.MIPS(), s.CodeWrites)
	for _, c := range s.CPUs {
		fmt.Fprintf(w, "cpu%d pc %08x: %d executed, %d pages, %d translations, %d fused, %d invalidations, %d exceptions\n",
			c.ID, c.PC, c.Executed, c.Pages, c.Stats.Translations, c.Stats.Fused, c.Stats.Invalidations, c.Stats.Exceptions)
		fmt.Fprintf(w, "     itlb %d/%d hit/miss, dtlb %d/%d hit/miss, %d evictions\n",
			c.ITLB.Hits, c.ITLB.Misses, c.DTLB.Hits, c.DTLB.Misses, c.ITLB.Evictions+c.DTLB.Evictions)
	}

	d := &s.Devices
	fmt.Fprintf(w, "cons %d out | irqc %d asserts, pending %#x | mp %d ipis | disk %d/%d r/w | ether %d/%d tx/rx | rtc %d ticks | fb %dx%d, %d resizes\n",
		d.ConsoleOut, d.IRQAsserts, d.IRQPending, d.IPIs, d.DiskReads, d.DiskWrites,
		d.PacketsSent, d.PacketsRecv, d.RTCTicks, d.FBResolution[0], d.FBResolution[1], d.FBResizes)

	if len(s.Trace) > 0 {
		fmt.Fprintln(w, strings.Join(s.Trace, "\n"))
	}
}
