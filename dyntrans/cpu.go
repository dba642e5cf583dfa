// Package dyntrans is the instruction dispatch engine shared by every guest
// architecture.
//
// Guest code is executed from pages of translated calls. A page covers one
// physical page of guest memory and holds one call per instruction word plus
// an end-of-page sentinel. Calls start out as placeholders which decode the
// instruction the first time they run and then replace themselves with the
// decoded handler. The dispatch loop simply walks the call array:
//
//	ic := &page.Calls[next]
//	next += ic.Span
//	ic.F(cpu, ic)
//
// so the guest PC is not updated on every instruction. It is derived from the
// virtual base of the current page and the cursor whenever somebody needs to
// see it (SyncPC, SyncNextPC).
package dyntrans

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"dtemu/faults"
	"dtemu/logger"
	"dtemu/memory"
	"dtemu/mmu"

	"github.com/sirupsen/logrus"
)

// Geometry of the translation pages of an architecture.
type Geometry struct {
	// PageShift is log2 of the translation page size
	PageShift uint

	// InstrShift is log2 of the instruction word size. only fixed size
	// instruction sets are supported
	InstrShift uint
}

// PageSize in bytes.
func (g Geometry) PageSize() uint64 {
	return 1 << g.PageShift
}

// OffsetMask selects the offset inside a page.
func (g Geometry) OffsetMask() uint64 {
	return g.PageSize() - 1
}

// InstrPerPage is the number of instruction slots in a page.
func (g Geometry) InstrPerPage() int {
	return 1 << (g.PageShift - g.InstrShift)
}

// InstrSize in bytes.
func (g Geometry) InstrSize() uint64 {
	return 1 << g.InstrShift
}

// Arch is implemented by each guest architecture.
type Arch[S any] interface {
	// Name of the architecture
	Name() string

	// Decode fills in ic for the instruction word ic.Word found at slot of
	// the current page. Decoding must be deterministic. An error of kind
	// faults.Unimplemented marks the instruction as not emulated.
	Decode(c *CPU[S], ic *Call[S], slot int) error

	// Combine may fuse the call at slot-1 with the call at slot by
	// replacing the call at slot-1 with one of Span 2. It is only called
	// when fusion is allowed.
	Combine(c *CPU[S], p *Page[S], slot int)

	// Fault delivers a data access fault (alignment, bus error) to the
	// guest as an exception.
	Fault(c *CPU[S], f *faults.Fault)

	// Interrupt is called at dispatch boundaries while an interrupt line is
	// asserted. It returns true if the CPU took the interrupt (in which case
	// Exception() has been called).
	Interrupt(c *CPU[S]) bool
}

// Status of a CPU as seen by the scheduler.
type Status int

const (
	Running Status = iota
	Stopped
	Halted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "halted"
}

// Phase of the dispatch state machine.
type Phase int

const (
	Executing Phase = iota
	PageBoundary
	Exception
	HaltedPhase
)

func (p Phase) String() string {
	switch p {
	case Executing:
		return "executing"
	case PageBoundary:
		return "page boundary"
	case Exception:
		return "exception"
	}
	return "halted"
}

// Stats collected by the engine.
type Stats struct {
	Translations  uint64
	Pages         uint64
	Fused         uint64
	Invalidations uint64
	Exceptions    uint64
	PageCrossings uint64
}

// Config for a new CPU.
type Config struct {
	ID       int
	Geometry Geometry
	Order    binary.ByteOrder

	// FastTLBSize is the number of entries in each of the instruction and
	// data fast TLBs
	FastTLBSize int

	// MaxPages limits the number of translated pages kept per CPU. the
	// translation cache is flushed when the limit is reached
	MaxPages int

	// AllowUnaligned data accesses
	AllowUnaligned bool

	Log *logrus.Logger
}

const (
	defaultFastTLBSize = 64
	defaultMaxPages    = 4096
)

// CPU is one emulated processor. S holds the architecture specific state
// (register file, control registers, TLB ...).
type CPU[S any] struct {
	ID    int
	State S

	// PC is only guaranteed to be up to date at observable boundaries. see
	// SyncPC() and SyncNextPC()
	PC uint64

	Order      binary.ByteOrder
	Arch       Arch[S]
	Translator mmu.Translator
	Mem        *memory.Store

	// fast TLBs for instruction fetch and for data access
	ITLB *FastTLB
	DTLB *FastTLB

	Domain *Domain
	Log    *logrus.Entry

	// AllowUnaligned data accesses. when false a misaligned access raises
	// an AlignmentFault through Arch.Fault()
	AllowUnaligned bool

	// Executed is the number of guest instructions executed
	Executed uint64

	Stats Stats

	geom     Geometry
	perPage  int
	maxPages int

	// translation cache arena keyed by physical page address
	pages map[uint64]*Page[S]

	// current page, its virtual base, the slot being executed and the slot
	// to execute next
	page  *Page[S]
	vbase uint64
	cur   int
	next  int

	// stub is the page dispatch is pointed at when the current page must be
	// resolved again from PC
	stub *Page[S]

	status Status
	phase  Phase
	err    error

	stopRequested atomic.Bool

	irq uint32

	exceptions  uint64
	inDelaySlot bool

	noFusion bool
	trace    *TraceQueue

	scratch [8]byte
}

// NewCPU creates a CPU. The caller is expected to set Translator before
// running the CPU.
func NewCPU[S any](cfg Config, arch Arch[S], mem *memory.Store) *CPU[S] {
	if cfg.FastTLBSize <= 0 {
		cfg.FastTLBSize = defaultFastTLBSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Order == nil {
		cfg.Order = binary.LittleEndian
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}

	c := &CPU[S]{
		ID:             cfg.ID,
		Order:          cfg.Order,
		Arch:           arch,
		Translator:     mmu.Identity,
		Mem:            mem,
		ITLB:           NewFastTLB(cfg.FastTLBSize, cfg.Geometry.PageShift),
		DTLB:           NewFastTLB(cfg.FastTLBSize, cfg.Geometry.PageShift),
		AllowUnaligned: cfg.AllowUnaligned,
		geom:           cfg.Geometry,
		perPage:        cfg.Geometry.InstrPerPage(),
		maxPages:       cfg.MaxPages,
		pages:          make(map[uint64]*Page[S]),
	}
	c.Log = cfg.Log.WithFields(logrus.Fields{"cpu": cfg.ID, "arch": arch.Name()})
	c.stub = &Page[S]{Calls: []Call[S]{{F: resync[S], Span: 0}}}
	c.page = c.stub
	return c
}

// Geometry of the CPU translation pages.
func (c *CPU[S]) Geometry() Geometry {
	return c.geom
}

// Status of the CPU.
func (c *CPU[S]) Status() Status {
	return c.status
}

// Phase of the dispatch state machine.
func (c *CPU[S]) Phase() Phase {
	return c.phase
}

// Err returns the error that halted the CPU, if any.
func (c *CPU[S]) Err() error {
	return c.err
}

// Reset puts the CPU back into a runnable state at pc. Translations are
// kept.
func (c *CPU[S]) Reset(pc uint64) {
	c.PC = pc
	c.status = Running
	c.phase = PageBoundary
	c.err = nil
	c.inDelaySlot = false
	c.page, c.next = c.stub, 0
}

// SetPC moves execution to pc. The page of pc is resolved again, with the
// interrupt check of a page boundary, so handlers use it for returns which
// change the privilege level.
func (c *CPU[S]) SetPC(pc uint64) {
	c.PC = pc
	c.page, c.next = c.stub, 0
}

// Run executes at most budget instructions (fused calls may overshoot by
// one). It returns the number of instructions executed and the error which
// halted the CPU, if any.
func (c *CPU[S]) Run(budget uint64) (uint64, error) {
	if c.status == Halted {
		return 0, c.err
	}
	c.status = Running
	if c.stopRequested.Swap(false) {
		c.status = Stopped
		return 0, nil
	}

	start := c.Executed
	limit := start + budget

	// interrupts are checked once per batch and at every page boundary
	if c.irq != 0 {
		// between batches FaultPC must report the next instruction
		c.SyncNextPC()
		phase := c.phase
		c.phase = PageBoundary
		if !c.Arch.Interrupt(c) {
			c.phase = phase
		}
	}

	if c.trace != nil {
		c.runTraced(limit)
	} else {
		for c.Executed < limit && c.status == Running {
			ic := &c.page.Calls[c.next]
			c.cur = c.next
			span := ic.Span
			c.next += span
			ic.F(c, ic)
			c.Executed += uint64(span)
		}
	}

	if c.status != Halted {
		c.SyncNextPC()
	}
	return c.Executed - start, c.err
}

func (c *CPU[S]) runTraced(limit uint64) {
	for c.Executed < limit && c.status == Running {
		ic := &c.page.Calls[c.next]
		c.cur = c.next
		span := ic.Span
		pc := c.vbase + uint64(c.cur)<<c.geom.InstrShift
		c.next += span
		// translate first: a store into the page resets ic
		if ic.Flags&flagPlaceholder != 0 && !c.translateSlot(c.page, c.cur) {
			break
		}
		word := ic.Word
		ic.F(c, ic)
		if span > 0 {
			c.trace.Enqueue(TraceEntry{CPU: c.ID, PC: pc, Word: word})
		}
		c.Executed += uint64(span)
	}
}

// Step executes a single instruction.
func (c *CPU[S]) Step() error {
	if !c.noFusion {
		c.SetSingleStep(true)
	}
	_, err := c.Run(1)
	return err
}

// RequestStop asks the CPU to stop at the next page boundary. Safe to call
// from another goroutine.
func (c *CPU[S]) RequestStop() {
	c.stopRequested.Store(true)
}

// Halt stops the CPU. A nil error is a guest requested halt.
func (c *CPU[S]) Halt(err error) {
	if c.status == Halted {
		return
	}
	if c.page != c.stub && c.phase != PageBoundary {
		if err != nil {
			c.SyncPC()
		} else {
			c.SyncNextPC()
		}
	}
	c.status = Halted
	c.phase = HaltedPhase
	c.err = err

	if err != nil {
		c.Log.WithFields(logrus.Fields{"pc": fmt.Sprintf("%#x", c.PC)}).WithError(err).Error("cpu halted")
	} else {
		c.Log.WithFields(logrus.Fields{"pc": fmt.Sprintf("%#x", c.PC)}).Info("cpu halted by guest")
	}
}

// SyncPC sets PC to the address of the instruction being executed.
func (c *CPU[S]) SyncPC() {
	if c.page != c.stub {
		c.PC = c.vbase + uint64(c.cur)<<c.geom.InstrShift
	}
}

// SyncNextPC sets PC to the address of the next instruction to dispatch.
func (c *CPU[S]) SyncNextPC() {
	if c.page != c.stub {
		c.PC = c.vbase + uint64(c.next)<<c.geom.InstrShift
	}
}

// InstrPC returns the address of the instruction being executed without
// touching PC.
func (c *CPU[S]) InstrPC() uint64 {
	return c.vbase + uint64(c.cur)<<c.geom.InstrShift
}

// FaultPC returns the address of the instruction responsible for a fault.
// While resolving a page it is the address being fetched, otherwise the
// instruction being executed.
func (c *CPU[S]) FaultPC() uint64 {
	if c.phase == PageBoundary || c.page == c.stub {
		return c.PC
	}
	return c.InstrPC()
}

// InDelaySlot returns true while the instruction in a branch delay slot is
// executing.
func (c *CPU[S]) InDelaySlot() bool {
	return c.inDelaySlot
}

// Exception transfers control to vector. The caller must have saved
// whatever return address the architecture needs (using FaultPC() or PC)
// before calling.
func (c *CPU[S]) Exception(vector uint64) {
	c.PC = vector
	c.exceptions++
	c.Stats.Exceptions++
	c.phase = Exception
	c.page, c.next = c.stub, 0
}

// Resync makes dispatch resolve the page of the next instruction again.
// Used after instructions that change address translation.
func (c *CPU[S]) Resync() {
	c.SyncNextPC()
	c.page, c.next = c.stub, 0
}

// Branch transfers control to target. A target inside the current page only
// moves the cursor; anything else goes through page resolution.
func (c *CPU[S]) Branch(target uint64) {
	if c.page != c.stub && target&^c.geom.OffsetMask() == c.vbase {
		c.next = int((target & c.geom.OffsetMask()) >> c.geom.InstrShift)
		return
	}
	c.PC = target
	c.enterPage(true)
}

// Goto moves the cursor to slot of the current page. Used by branch calls
// whose target was found to be on the same page at translation time.
func (c *CPU[S]) Goto(slot int) {
	if c.page == c.stub {
		// a delay slot dropped the page; resolve the target from PC
		c.PC = c.vbase + uint64(slot)<<c.geom.InstrShift
		return
	}
	c.next = slot
}

// InstrPerPage is the number of instruction slots per page.
func (c *CPU[S]) InstrPerPage() int {
	return c.perPage
}

// DelaySlot executes the instruction following the current one, crossing
// into the next page if needed. It returns false if the instruction raised
// an exception or halted the CPU, in which case the caller must not complete
// its control transfer.
func (c *CPU[S]) DelaySlot() bool {
	exc := c.exceptions
	c.inDelaySlot = true
	defer func() { c.inDelaySlot = false }()

	idx := c.cur + 1
	if idx >= c.perPage {
		c.PC = c.InstrPC() + c.geom.InstrSize()
		if !c.enterPage(false) {
			return false
		}
		idx = c.next
	}

	ic := &c.page.Calls[idx]
	if ic.Flags&FlagFused != 0 {
		// fused before the branch owning the slot was translated
		c.page.unfuse(idx)
	}
	c.cur = idx
	c.next = idx + 1
	ic.F(c, ic)
	c.Executed++

	return c.exceptions == exc && c.status == Running
}

// SetIRQ asserts or deasserts interrupt input line.
func (c *CPU[S]) SetIRQ(line int, asserted bool) {
	if asserted {
		c.irq |= 1 << uint(line)
	} else {
		c.irq &^= 1 << uint(line)
	}
}

// IRQ returns the asserted interrupt inputs as a bit mask.
func (c *CPU[S]) IRQ() uint32 {
	return c.irq
}

// enterPage resolves the page containing PC and points dispatch at it.
// Returns false if the CPU could not continue in the page (exception raised
// and allowed to unwind, stop requested or halt).
func (c *CPU[S]) enterPage(checkIRQ bool) bool {
	c.phase = PageBoundary
	c.Stats.PageCrossings++

	if checkIRQ {
		if c.stopRequested.Swap(false) {
			c.status = Stopped
			c.page, c.next = c.stub, 0
			return false
		}
		if c.irq != 0 {
			c.Arch.Interrupt(c)
		}
	}

	exc := c.exceptions
	for attempt := 0; attempt < 4; attempt++ {
		p, err := c.resolve(c.PC)
		if err == nil {
			c.page = p
			c.vbase = c.PC &^ c.geom.OffsetMask()
			c.next = int((c.PC & c.geom.OffsetMask()) >> c.geom.InstrShift)
			c.phase = Executing
			return checkIRQ || c.exceptions == exc
		}
		if !faults.Raised(err) {
			c.Halt(err)
			return false
		}
		if !checkIRQ {
			// fetching a delay slot failed. the exception has been raised;
			// let dispatch continue at the vector
			c.page, c.next = c.stub, 0
			return false
		}
	}
	c.Halt(fmt.Errorf("dyntrans: repeated exceptions resolving %#x", c.PC))
	return false
}

// resolve returns the translated page for the instruction at vaddr.
func (c *CPU[S]) resolve(vaddr uint64) (*Page[S], error) {
	if e := c.ITLB.Find(vaddr); e != nil {
		return c.pageFor(e.PPage), nil
	}

	res, err := c.Translator.Translate(vaddr, mmu.Instruction)
	if err != nil {
		return nil, err
	}
	ppage := res.PAddr &^ c.geom.OffsetMask()
	c.ITLB.Insert(vaddr, ppage, nil, false)
	return c.pageFor(ppage), nil
}

// pageFor is get-or-create for the translation page of physical page ppage.
func (c *CPU[S]) pageFor(ppage uint64) *Page[S] {
	if p, ok := c.pages[ppage]; ok {
		return p
	}
	if len(c.pages) >= c.maxPages {
		c.Log.WithField("pages", len(c.pages)).Debug("translation cache full, flushing")
		c.pages = make(map[uint64]*Page[S])
	}
	p := newPage[S](ppage, c.perPage)
	c.pages[ppage] = p
	c.Stats.Pages++
	return p
}

// Page returns the translated page for physical page ppage, if there is one.
func (c *CPU[S]) Page(ppage uint64) *Page[S] {
	return c.pages[ppage&^c.geom.OffsetMask()]
}

// SetTrace records executed instructions into q. Passing nil stops tracing.
// Tracing disables call fusion.
func (c *CPU[S]) SetTrace(q *TraceQueue) {
	c.trace = q
	c.SetSingleStep(q != nil)
}

// SetSingleStep disables (or re-enables) call fusion. Existing translations
// are flushed so that no fused calls remain.
func (c *CPU[S]) SetSingleStep(on bool) {
	if c.noFusion == on {
		return
	}
	c.noFusion = on
	c.flushTranslations()
}

// InvalidateCode drops the translations of physical page ppage. Fast TLB
// entries are kept.
func (c *CPU[S]) InvalidateCode(ppage uint64) {
	if p, ok := c.pages[ppage&^c.geom.OffsetMask()]; ok {
		p.reset()
		c.Stats.Invalidations++
	}
}

// InvalidatePhysical drops translations and every fast TLB entry referring
// to physical page ppage.
func (c *CPU[S]) InvalidatePhysical(ppage uint64) {
	ppage &^= c.geom.OffsetMask()
	c.InvalidateCode(ppage)
	c.ITLB.InvalidatePhysical(ppage)
	c.DTLB.InvalidatePhysical(ppage)
}

// DowngradePhysical removes write permission from fast TLB entries for
// physical page ppage.
func (c *CPU[S]) DowngradePhysical(ppage uint64) {
	c.DTLB.DowngradePhysical(ppage &^ c.geom.OffsetMask())
}

// InvalidateVirtual drops fast TLB entries for the page containing vaddr.
func (c *CPU[S]) InvalidateVirtual(vaddr uint64) {
	c.ITLB.InvalidateVirtual(vaddr)
	c.DTLB.InvalidateVirtual(vaddr)
}

// FlushTLB drops all fast TLB entries. Translations are kept, they are keyed
// by physical address.
func (c *CPU[S]) FlushTLB() {
	c.ITLB.InvalidateAll()
	c.DTLB.InvalidateAll()
}

// InvalidateAll drops every translation and fast TLB entry.
func (c *CPU[S]) InvalidateAll() {
	c.FlushTLB()
	c.flushTranslations()
	c.Stats.Invalidations++
}

func (c *CPU[S]) flushTranslations() {
	for _, p := range c.pages {
		p.reset()
	}
	c.pages = make(map[uint64]*Page[S])
	if c.page != c.stub {
		c.SyncNextPC()
		c.page, c.next = c.stub, 0
	}
}

// resync is the handler of the stub page.
func resync[S any](c *CPU[S], _ *Call[S]) {
	c.enterPage(true)
}

// Register is a named register value, used by front ends to show the
// architecture state.
type Register struct {
	Name  string
	Value uint64
}

// TLBStats are the counters of one fast TLB.
type TLBStats struct {
	Hits, Misses, Evictions uint64
	Entries                 int
}

// Info is a copy of the engine side of a CPU.
type Info struct {
	ID       int
	Arch     string
	PC       uint64
	Status   Status
	Err      error
	Executed uint64
	Stats    Stats
	Pages    int

	ITLB, DTLB TLBStats
}

// Info returns the current engine counters. It must be called from the
// goroutine running the CPU, or while the CPU is not running.
func (c *CPU[S]) Info() Info {
	tlb := func(t *FastTLB) TLBStats {
		return TLBStats{Hits: t.Hits, Misses: t.Misses, Evictions: t.Evictions, Entries: t.Len()}
	}
	return Info{
		ID:       c.ID,
		Arch:     c.Arch.Name(),
		PC:       c.PC,
		Status:   c.status,
		Err:      c.err,
		Executed: c.Executed,
		Stats:    c.Stats,
		Pages:    len(c.pages),
		ITLB:     tlb(c.ITLB),
		DTLB:     tlb(c.DTLB),
	}
}
