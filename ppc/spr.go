package ppc

import "fmt"

// special purpose register numbers
const (
	sprXER    = 1
	sprLR     = 8
	sprCTR    = 9
	sprDSISR  = 18
	sprDAR    = 19
	sprDEC    = 22
	sprSDR1   = 25
	sprSRR0   = 26
	sprSRR1   = 27
	sprTBL    = 268
	sprTBU    = 269
	sprSPRG0  = 272
	sprSPRG3  = 275
	sprPVR    = 287
	sprIBAT0U = 528
	sprDBAT3L = 543
)

var sprNames = map[uint32]string{
	sprXER: "xer", sprLR: "lr", sprCTR: "ctr", sprDSISR: "dsisr", sprDAR: "dar",
	sprDEC: "dec", sprSDR1: "sdr1", sprSRR0: "srr0", sprSRR1: "srr1",
	sprTBL: "tbl", sprTBU: "tbu", sprPVR: "pvr",
}

// SPRName returns the assembler name of an SPR.
func SPRName(spr uint32) string {
	switch {
	case spr >= sprSPRG0 && spr <= sprSPRG3:
		return fmt.Sprintf("sprg%d", spr-sprSPRG0)
	case spr >= sprIBAT0U && spr <= sprDBAT3L:
		n := spr - sprIBAT0U
		kind := "i"
		if n >= 8 {
			kind = "d"
		}
		half := "u"
		if n&1 != 0 {
			half = "l"
		}
		return fmt.Sprintf("%sbat%d%s", kind, n>>1&3, half)
	}
	if n, ok := sprNames[spr]; ok {
		return n
	}
	return fmt.Sprint(spr)
}

// sprNumber decodes the split SPR field of mfspr/mtspr.
func sprNumber(w uint32) uint32 {
	return w>>16&31 | (w>>11&31)<<5
}

// userSPR reports whether spr may be accessed in problem state.
func userSPR(spr uint32) bool {
	return spr == sprXER || spr == sprLR || spr == sprCTR
}

// privileged makes h raise a privileged instruction program exception in
// problem state.
func privileged(h Handler) Handler {
	return func(c *CPU, ic *Call) {
		if c.State.MSR&MSRPR != 0 {
			program(c, ProgramPrivileged)
			return
		}
		h(c, ic)
	}
}

// mfspr: Arg[0] = rt, Arg[1] = spr
func mfspr(c *CPU, ic *Call) {
	s := &c.State
	spr := uint32(ic.Arg[1])
	var v uint32
	switch {
	case spr == sprXER:
		v = s.XER
	case spr == sprLR:
		v = s.LR
	case spr == sprCTR:
		v = s.CTR
	case spr == sprDSISR:
		v = s.DSISR
	case spr == sprDAR:
		v = s.DAR
	case spr == sprDEC:
		v = s.DEC
	case spr == sprSDR1:
		v = s.SDR1
	case spr == sprSRR0:
		v = s.SRR0
	case spr == sprSRR1:
		v = s.SRR1
	case spr == sprPVR:
		v = PVR
	case spr >= sprSPRG0 && spr <= sprSPRG3:
		v = s.SPRG[spr-sprSPRG0]
	case spr >= sprIBAT0U && spr <= sprDBAT3L:
		b, upper := s.bat(spr)
		v = b.Lower
		if upper {
			v = b.Upper
		}
	default:
		program(c, ProgramIllegal)
		return
	}
	s.GPR[ic.Arg[0]] = v
}

// mtspr: Arg[0] = rs, Arg[1] = spr
func mtspr(c *CPU, ic *Call) {
	s := &c.State
	spr := uint32(ic.Arg[1])
	v := s.GPR[ic.Arg[0]]
	switch {
	case spr == sprXER:
		s.XER = v & (XERSO | XEROV | XERCA | 0x7f)
	case spr == sprLR:
		s.LR = v
	case spr == sprCTR:
		s.CTR = v
	case spr == sprDSISR:
		s.DSISR = v
	case spr == sprDAR:
		s.DAR = v
	case spr == sprDEC:
		s.DEC = v
	case spr == sprSDR1:
		s.SDR1 = v
	case spr == sprSRR0:
		s.SRR0 = v
	case spr == sprSRR1:
		s.SRR1 = v
	case spr >= sprSPRG0 && spr <= sprSPRG3:
		s.SPRG[spr-sprSPRG0] = v
	case spr >= sprIBAT0U && spr <= sprDBAT3L:
		b, upper := s.bat(spr)
		if upper {
			b.Upper = v
		} else {
			b.Lower = v
		}
		c.FlushTLB()
		c.Resync()
	case spr == sprPVR:
		// read only
	default:
		program(c, ProgramIllegal)
	}
}

// mftb: Arg[0] = rt, Arg[1] = tbr. The time base counts executed
// instructions.
func mftb(c *CPU, ic *Call) {
	tb := c.Executed
	switch ic.Arg[1] {
	case sprTBL:
		c.State.GPR[ic.Arg[0]] = uint32(tb)
	case sprTBU:
		c.State.GPR[ic.Arg[0]] = uint32(tb >> 32)
	default:
		program(c, ProgramIllegal)
	}
}

func mfmsr(c *CPU, ic *Call) {
	c.State.GPR[ic.Arg[0]] = c.State.MSR
}

func mtmsr(c *CPU, ic *Call) {
	setMSR(c, c.State.GPR[ic.Arg[0]])
	// relocation or MSR[EE] may have changed
	c.Resync()
}

// rfi returns from an exception: MSR from SRR1, PC from SRR0.
func rfi(c *CPU, _ *Call) {
	s := &c.State
	setMSR(c, s.SRR1&srr1Mask)
	c.SetPC(uint64(s.SRR0 &^ 3))
}

// mfsr/mtsr: Arg[0] = rt, Arg[1] = segment register. Segment registers are
// kept for software but do not take part in translation.
func mfsr(c *CPU, ic *Call) {
	c.State.GPR[ic.Arg[0]] = c.State.SR[ic.Arg[1]&15]
}

func mtsr(c *CPU, ic *Call) {
	c.State.SR[ic.Arg[1]&15] = c.State.GPR[ic.Arg[0]]
}

// tlbie: Arg[0] = rb
func tlbie(c *CPU, ic *Call) {
	c.InvalidateVirtual(uint64(c.State.GPR[ic.Arg[0]]))
}
