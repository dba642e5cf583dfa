package system

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"dtemu/arm"
	"dtemu/config"
	"dtemu/disk"
	"dtemu/dyntrans"
	"dtemu/ether"
	"dtemu/framebuffer"
	"dtemu/interrupts"
	"dtemu/logger"
	"dtemu/memory"
	"dtemu/mips"
	"dtemu/mp"
	"dtemu/ppc"
	"dtemu/rtc"
	"dtemu/teletype"

	"github.com/sirupsen/logrus"
)

// Processor is one CPU of the machine, of any guest architecture.
type Processor interface {
	Run(budget uint64) (uint64, error)
	Start(pc, sp uint64)
	Halt(err error)
	Status() dyntrans.Status
	SetIRQ(line int, asserted bool)
	RequestStop()
	SetTrace(q *dyntrans.TraceQueue)
	Info() dyntrans.Info
	Registers() []dyntrans.Register
	Disassemble(pc uint64, word uint32) string
}

// Machine definition: memory, devices and CPUs. One goroutine runs the
// machine; the front end reads snapshots.
type Machine struct {
	Config *config.Machine
	Mem    *memory.Store
	Domain *dyntrans.Domain
	CPUs   []Processor

	// devices, nil when not attached
	Console     *teletype.Teletype
	IRQC        *interrupts.Controller
	MP          *mp.MP
	Framebuffer *framebuffer.Framebuffer
	Disk        *disk.Controller
	NIC         *ether.NIC
	RTC         *rtc.RTC

	// Trace holds the last executed instructions when tracing is on
	Trace *dyntrans.TraceQueue

	tickers []ticker

	// started is false for secondary CPUs until the mp device starts them
	started []bool
	paused  []bool

	rounds   uint64
	executed uint64
	begin    time.Time

	// mu is held while the machine runs a round
	mu      sync.Mutex
	stopped atomic.Bool

	log *logrus.Logger
}

// New assembles a machine. Console output goes to out.
func New(cfg *config.Machine, out io.Writer, log *logrus.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	if log == nil {
		log = logger.Discard()
	}
	m := &Machine{
		Config:  cfg,
		Mem:     memory.NewStore(log),
		started: make([]bool, cfg.NCPUs),
		paused:  make([]bool, cfg.NCPUs),
		log:     log,
	}
	if _, err := m.Mem.AddRAM("ram", 0, cfg.RAM); err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}

	m.Domain = dyntrans.NewDomain(mips.Geometry.PageShift, log)
	m.Domain.Watch(m.Mem)

	if cfg.Trace > 0 {
		m.Trace = dyntrans.NewTraceQueue(cfg.Trace)
	}
	for id := 0; id < cfg.NCPUs; id++ {
		p, err := m.newProcessor(id)
		if err != nil {
			return nil, err
		}
		if m.Trace != nil {
			p.SetTrace(m.Trace)
		}
		m.CPUs = append(m.CPUs, p)
	}

	if err := m.attachDevices(out); err != nil {
		m.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"arch":  cfg.Arch,
		"cpus":  cfg.NCPUs,
		"ram":   cfg.RAM,
		"big":   cfg.BigEndian,
		"trace": cfg.Trace,
	}).Info("machine assembled")
	return m, nil
}

func (m *Machine) newProcessor(id int) (Processor, error) {
	cfg := m.Config
	dc := dyntrans.Config{
		ID:          id,
		Order:       m.order(),
		FastTLBSize: cfg.FastTLB,
		Log:         m.log,
	}

	switch cfg.Arch {
	case config.MIPS:
		c := mips.New(dc, m.Mem)
		c.Domain = m.Domain
		m.Domain.Join(c)
		return mips.Core{CPU: c}, nil
	case config.ARM:
		c := arm.New(dc, m.Mem)
		c.Domain = m.Domain
		m.Domain.Join(c)
		return arm.Core{CPU: c}, nil
	case config.PPC:
		c := ppc.New(dc, m.Mem)
		c.Domain = m.Domain
		m.Domain.Join(c)
		return ppc.Core{CPU: c}, nil
	}
	return nil, fmt.Errorf("system: unknown arch %q", cfg.Arch)
}

// order is the guest byte order.
func (m *Machine) order() binary.ByteOrder {
	if m.Config.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// irqFanout drives the same input on every CPU.
type irqFanout []Processor

func (f irqFanout) SetIRQ(line int, asserted bool) {
	for _, c := range f {
		c.SetIRQ(line, asserted)
	}
}

// attachDevices maps the configured devices.
func (m *Machine) attachDevices(out io.Writer) error {
	cfg := m.Config
	attach := func(name string, base, length uint64, dev memory.Device) error {
		if _, err := m.Mem.AddDevice(name, base, length, dev, 0); err != nil {
			return fmt.Errorf("system: attach %s: %w", name, err)
		}
		m.log.WithFields(logrus.Fields{"device": name, "paddr": fmt.Sprintf("%#x", base)}).Debug("device attached")
		return nil
	}

	// without the controller the lines are not connected
	line := func(int) interrupts.Line { return interrupts.Line{} }
	if cfg.HasDevice(config.DevIRQC) {
		m.IRQC = interrupts.NewController(irqFanout(m.CPUs), interrupts.InputIRQC)
		if err := attach(config.DevIRQC, IRQCBase, interrupts.Length, m.IRQC); err != nil {
			return err
		}
		line = m.IRQC.Line
	}

	m.Console = teletype.New(out, line(interrupts.Console), m.haltAll)
	if err := attach(config.DevConsole, ConsoleBase, teletype.Length, m.Console); err != nil {
		return err
	}
	m.tickers = append(m.tickers, ticker{m.Console, consoleDivisor})

	if cfg.HasDevice(config.DevMP) {
		m.MP = mp.New(m, time.Now().UnixNano(), m.log)
		if err := attach(config.DevMP, MPBase, mp.Length, m.MP); err != nil {
			return err
		}
	}

	if cfg.HasDevice(config.DevFramebuffer) {
		fb, err := framebuffer.New(m.Mem, FramebufferCtrl, FramebufferBase, m.log)
		if err != nil {
			return fmt.Errorf("system: attach fb: %w", err)
		}
		m.Framebuffer = fb
	}

	if cfg.HasDevice(config.DevDisk) {
		m.Disk = disk.New(m.log)
		for i, path := range cfg.Disks {
			if err := m.Disk.Attach(i, path, false); err != nil {
				return fmt.Errorf("system: %w", err)
			}
		}
		if err := attach(config.DevDisk, DiskBase, disk.Length, m.Disk); err != nil {
			return err
		}
	}

	if cfg.HasDevice(config.DevEther) {
		mac := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
		// nil network: transmitted packets loop back
		m.NIC = ether.New(mac, nil, line(interrupts.Ether), m.log)
		if err := attach(config.DevEther, EtherBase, ether.Length, m.NIC); err != nil {
			return err
		}
	}

	if cfg.HasDevice(config.DevRTC) {
		m.RTC = rtc.New(line(interrupts.RTC))
		if err := attach(config.DevRTC, RTCBase, rtc.Length, m.RTC); err != nil {
			return err
		}
		m.tickers = append(m.tickers, ticker{m.RTC, rtcDivisor})
	}
	return nil
}

// Close releases host resources held by devices.
func (m *Machine) Close() error {
	if m.Disk != nil {
		return m.Disk.Close()
	}
	return nil
}

// Boot loads image at the configured load address (the built in banner
// program when image is nil) and starts CPU 0 at the entry point.
func (m *Machine) Boot(image []byte) error {
	cfg := m.Config
	if image == nil {
		image = encode(bootcode(cfg.Arch), m.order())
	}
	if cfg.Load >= cfg.RAM || uint64(len(image)) > cfg.RAM-cfg.Load {
		return fmt.Errorf("system: image of %d bytes does not fit at %#x", len(image), cfg.Load)
	}
	if err := m.Mem.Load(cfg.Load, image); err != nil {
		return fmt.Errorf("system: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.CPUs[0].Start(cfg.EntryPC(), cfg.StackPointer(0))
	m.started[0] = true
	m.log.WithFields(logrus.Fields{
		"size":  len(image),
		"paddr": fmt.Sprintf("%#x", cfg.Load),
		"pc":    fmt.Sprintf("%#x", cfg.EntryPC()),
	}).Info("image loaded")
	return nil
}

// Run the machine until every CPU halted, limit instructions were executed
// (0 for no limit), Stop was called or ctx is done. A CPU halted by a fatal
// error ends the run with that error. Run consumes the stop request, so a
// stopped machine can be run again.
func (m *Machine) Run(ctx context.Context, limit uint64) error {
	m.begin = time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if m.stopped.Swap(false) {
			return nil
		}

		active, err := m.round()
		if err != nil {
			return err
		}
		if !active {
			m.log.WithField("executed", m.executed).Info("all cpus halted")
			return nil
		}
		if limit != 0 && m.executed >= limit {
			m.log.WithField("executed", m.executed).Info("instruction limit reached")
			return nil
		}
	}
}

// round runs every started CPU for one quantum and ticks the devices.
func (m *Machine) round() (active bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.CPUs {
		if !m.started[id] || m.paused[id] || c.Status() == dyntrans.Halted {
			continue
		}
		active = true
		n, err := c.Run(uint64(m.Config.Quantum))
		m.executed += n
		if err != nil {
			return false, fmt.Errorf("system: cpu%d: %w", id, err)
		}
	}

	m.rounds++
	for _, t := range m.tickers {
		if m.rounds%t.divisor == 0 {
			t.Tick()
		}
	}
	return active, nil
}

// Stop asks the machine to return from Run. A Stop before Run makes the next
// Run return at once. Safe to call from any goroutine.
func (m *Machine) Stop() {
	m.stopped.Store(true)
	for _, c := range m.CPUs {
		c.RequestStop()
	}
}

// haltAll is the console HALT register: the whole machine stops.
func (m *Machine) haltAll() {
	m.log.Info("halt requested by guest")
	for _, c := range m.CPUs {
		c.Halt(nil)
	}
}

// TotalExecuted returns the number of instructions executed by all CPUs.
func (m *Machine) TotalExecuted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed
}

/*
 * mp.Machine. These are called from device accesses, with mu held.
 */

// NCPUs implements mp.Machine.
func (m *Machine) NCPUs() int {
	return len(m.CPUs)
}

// StartCPU implements mp.Machine.
func (m *Machine) StartCPU(id int, pc, sp uint64) error {
	if id == 0 {
		return fmt.Errorf("cpu0 can not be restarted")
	}
	m.CPUs[id].Start(pc, sp)
	m.started[id] = true
	m.paused[id] = false
	m.log.WithFields(logrus.Fields{"cpu": id, "pc": fmt.Sprintf("%#x", pc)}).Info("cpu started")
	return nil
}

// PauseCPU implements mp.Machine.
func (m *Machine) PauseCPU(id int, paused bool) {
	m.paused[id] = paused
	if paused {
		m.CPUs[id].RequestStop()
	}
}

// Executed implements mp.Machine.
func (m *Machine) Executed(id int) uint64 {
	return m.CPUs[id].Info().Executed
}

// SetIPI implements mp.Machine.
func (m *Machine) SetIPI(id int, asserted bool) {
	m.CPUs[id].SetIRQ(interrupts.InputIPI, asserted)
}

// RAMSize implements mp.Machine.
func (m *Machine) RAMSize() uint64 {
	return m.Config.RAM
}
