package mp

import (
	"math/rand"

	"dtemu/memory"

	"github.com/sirupsen/logrus"
)

// register offsets
const (
	RegWhoAmI         = 0x00
	RegNCPUs          = 0x10
	RegStartupCPU     = 0x20
	RegStartupAddr    = 0x30
	RegPauseAddr      = 0x40
	RegPauseCPU       = 0x50
	RegUnpauseCPU     = 0x60
	RegStartupStack   = 0x70
	RegHardwareRandom = 0x80
	RegMemory         = 0x90
	RegIPIOne         = 0xa0
	RegIPIMany        = 0xb0
	RegIPIRead        = 0xc0
	RegNCycles        = 0xd0

	// Length of the register window
	Length = 0x100
)

// MaxPendingIPIs per CPU. further IPIs are dropped
const MaxPendingIPIs = 64

// Machine is the part of the machine the mp device controls.
type Machine interface {
	NCPUs() int

	// StartCPU resets cpu id to run from pc with stack pointer sp
	StartCPU(id int, pc, sp uint64) error

	// PauseCPU stops or resumes cpu id
	PauseCPU(id int, paused bool)

	// Executed returns the instruction count of cpu id
	Executed(id int) uint64

	// SetIPI drives the inter processor interrupt input of cpu id
	SetIPI(id int, asserted bool)

	// RAMSize in bytes
	RAMSize() uint64
}

// MP is the multiprocessor control device. Every CPU sees its own id in
// WHOAMI. An IPI written to IPI_ONE is a CPU number in the low 16 bits and an
// IPI number in the upper bits; IPI_MANY sends to every CPU but the sender.
// A CPU drains its pending IPIs by reading IPI_READ.
type MP struct {
	m Machine

	startupAddr  uint64
	startupStack uint64
	pauseAddr    uint64

	ipis [][]uint64
	rnd  *rand.Rand

	log *logrus.Logger

	// IPIs counts interrupts sent
	IPIs uint64
}

// New returns the mp device for m.
func New(m Machine, seed int64, log *logrus.Logger) *MP {
	return &MP{
		m:    m,
		ipis: make([][]uint64, m.NCPUs()),
		rnd:  rand.New(rand.NewSource(seed)),
		log:  log,
	}
}

func (d *MP) validCPU(id uint64) bool {
	return id < uint64(d.m.NCPUs())
}

// sendIPI queues ipi for cpu id.
func (d *MP) sendIPI(id int, ipi uint64) {
	if len(d.ipis[id]) >= MaxPendingIPIs {
		d.log.WithFields(logrus.Fields{"cpu": id, "ipi": ipi}).Warn("mp: ipi queue full")
		return
	}
	d.ipis[id] = append(d.ipis[id], ipi)
	d.IPIs++
	d.m.SetIPI(id, true)
}

func (d *MP) readIPI(id int) uint64 {
	q := d.ipis[id]
	if len(q) == 0 {
		return 0
	}
	ipi := q[0]
	d.ipis[id] = q[1:]
	if len(d.ipis[id]) == 0 {
		d.m.SetIPI(id, false)
	}
	return ipi
}

// Pending returns the number of IPIs waiting for cpu id.
func (d *MP) Pending(id int) int {
	return len(d.ipis[id])
}

// Access implements memory.Device.
func (d *MP) Access(req *memory.Request) bool {
	self := req.CPU
	if self < 0 || self >= d.m.NCPUs() {
		// not a CPU access
		self = 0
	}

	if !req.Write {
		switch req.Offset {
		case RegWhoAmI:
			req.SetValue(uint64(self))
		case RegNCPUs:
			req.SetValue(uint64(d.m.NCPUs()))
		case RegStartupAddr:
			req.SetValue(d.startupAddr)
		case RegStartupStack:
			req.SetValue(d.startupStack)
		case RegPauseAddr:
			req.SetValue(d.pauseAddr)
		case RegHardwareRandom:
			req.SetValue(d.rnd.Uint64())
		case RegMemory:
			req.SetValue(d.m.RAMSize())
		case RegIPIRead:
			req.SetValue(d.readIPI(self))
		case RegNCycles:
			req.SetValue(d.m.Executed(self))
		default:
			return false
		}
		return true
	}

	v := req.Value()
	switch req.Offset {
	case RegStartupCPU:
		if !d.validCPU(v) {
			return false
		}
		if err := d.m.StartCPU(int(v), d.startupAddr, d.startupStack); err != nil {
			d.log.WithError(err).WithField("cpu", v).Warn("mp: cpu not started")
		}
	case RegStartupAddr:
		d.startupAddr = v
	case RegStartupStack:
		d.startupStack = v
	case RegPauseAddr:
		d.pauseAddr = v
	case RegPauseCPU:
		// pauses every cpu except the one written
		for i := 0; i < d.m.NCPUs(); i++ {
			if uint64(i) != v {
				d.m.PauseCPU(i, true)
			}
		}
	case RegUnpauseCPU:
		if !d.validCPU(v) {
			return false
		}
		d.m.PauseCPU(int(v), false)
	case RegIPIOne:
		id := v & 0xffff
		if !d.validCPU(id) {
			return false
		}
		d.sendIPI(int(id), v>>16)
	case RegIPIMany:
		for i := 0; i < d.m.NCPUs(); i++ {
			if i != self {
				d.sendIPI(i, v>>16)
			}
		}
	case RegIPIRead:
		// a write flushes the queue of the writer
		d.ipis[self] = nil
		d.m.SetIPI(self, false)
	default:
		return false
	}
	return true
}
