package dyntrans

import (
	"dtemu/faults"
	"dtemu/memory"

	"github.com/sirupsen/logrus"
)

// Handler executes one translated call.
//
// Handlers must copy whatever they need from ic.Arg before performing a
// store: a store into the current page resets its calls, ic included.
type Handler[S any] func(c *CPU[S], ic *Call[S])

// CallFlags describe a translated call.
type CallFlags uint8

const (
	// FlagBranch marks calls which transfer control (and own a delay slot on
	// architectures with delay slots)
	FlagBranch CallFlags = 1 << iota

	// FlagFused marks a call replacing two instructions
	FlagFused

	// FlagUnimplemented marks instructions which are not emulated
	FlagUnimplemented

	flagPlaceholder
)

// Call is one translated instruction.
type Call[S any] struct {
	F Handler[S]

	// Arg holds decoded operands: register numbers, immediates, precomputed
	// branch targets or slot indexes. never host pointers
	Arg [3]uint64

	// Span is the number of instruction slots covered. 1 for plain calls, 2
	// for fused calls, 0 for the end-of-page sentinel
	Span int

	Flags CallFlags

	// Word is the raw instruction word
	Word uint32
}

// Page holds the translated calls of one physical page.
type Page[S any] struct {
	PAddr uint64

	// one call per instruction slot plus the end-of-page sentinel
	Calls []Call[S]

	// Combined is true if the page holds at least one fused call
	Combined bool

	translated int
}

func newPage[S any](paddr uint64, perPage int) *Page[S] {
	p := &Page[S]{
		PAddr: paddr,
		Calls: make([]Call[S], perPage+1),
	}
	p.reset()
	return p
}

// reset turns every call back into a placeholder.
func (p *Page[S]) reset() {
	n := len(p.Calls) - 1
	for i := 0; i < n; i++ {
		p.Calls[i] = Placeholder[S]()
	}
	p.Calls[n] = Call[S]{F: endOfPage[S], Span: 0}
	p.Combined = false
	p.translated = 0
}

// Translated returns the number of slots holding a decoded call.
func (p *Page[S]) Translated() int {
	return p.translated
}

// IsPlaceholder returns true if slot has not been translated yet.
func (p *Page[S]) IsPlaceholder(slot int) bool {
	return p.Calls[slot].Flags&flagPlaceholder != 0
}

// Placeholder returns a fresh placeholder call. Architectures use it when
// undoing a fusion.
func Placeholder[S any]() Call[S] {
	return Call[S]{F: toBeTranslated[S], Span: 1, Flags: flagPlaceholder}
}

// InvalidateSlot turns slot of the current page back into a placeholder,
// together with a fused call in the previous slot covering it.
func (p *Page[S]) InvalidateSlot(slot int) {
	if p.Calls[slot].Span == 0 {
		return
	}
	if p.Calls[slot].Flags&flagPlaceholder == 0 {
		p.translated--
	}
	p.Calls[slot] = Placeholder[S]()
	if slot > 0 && p.Calls[slot-1].Flags&FlagFused != 0 {
		p.Calls[slot-1] = Placeholder[S]()
		p.translated--
	}
}

// unfuse turns the fused call at slot back into a placeholder. The call of
// the second instruction is still in place.
func (p *Page[S]) unfuse(slot int) {
	p.Calls[slot] = Placeholder[S]()
	p.translated--
}

// toBeTranslated is the placeholder handler. It decodes the instruction of
// the current slot, stores the decoded call in place and runs it.
func toBeTranslated[S any](c *CPU[S], ic *Call[S]) {
	if !c.translateSlot(c.page, c.cur) {
		return
	}
	ic.F(c, ic)
}

// endOfPage is the handler of the sentinel slot: execution fell off the end
// of the page.
func endOfPage[S any](c *CPU[S], _ *Call[S]) {
	c.PC = c.vbase + c.geom.PageSize()
	c.enterPage(true)
}

// unimplemented is installed for instructions the architecture does not
// emulate.
func unimplemented[S any](c *CPU[S], ic *Call[S]) {
	f := faults.New(faults.Unimplemented, c.InstrPC(), false, "instruction %#08x", ic.Word)
	f.PC = c.InstrPC()
	c.Halt(f)
}

// translateSlot decodes the instruction at slot of page p. It returns false
// if the word could not be fetched (the CPU is halted).
func (c *CPU[S]) translateSlot(p *Page[S], slot int) bool {
	paddr := p.PAddr + uint64(slot)<<c.geom.InstrShift
	buf := c.scratch[:c.geom.InstrSize()]
	req := memory.Request{CPU: c.ID, Addr: paddr, Data: buf, Order: c.Order}
	if err := c.Mem.Access(&req); err != nil {
		c.SyncPC()
		if f, ok := err.(*faults.Fault); ok {
			f.PC = c.PC
		}
		c.Halt(err)
		return false
	}

	ic := &p.Calls[slot]
	*ic = Call[S]{Word: uint32(req.Value()), Span: 1}
	if err := c.Arch.Decode(c, ic, slot); err != nil {
		if !faults.Is(err, faults.Unimplemented) {
			c.Halt(err)
			return false
		}
		c.Log.WithFields(logrus.Fields{"word": ic.Word, "slot": slot}).WithError(err).Debug("unimplemented instruction")
		*ic = Call[S]{F: unimplemented[S], Span: 1, Flags: FlagUnimplemented, Word: ic.Word}
	}

	if p.translated == 0 && c.Domain != nil {
		c.Domain.MarkCode(p.PAddr)
	}
	p.translated++
	c.Stats.Translations++

	if !c.noFusion && slot > 0 {
		c.tryCombine(p, slot)
	}
	return true
}

// tryCombine lets the architecture fuse slot-1 and slot. A call in a delay
// slot is never fused with the following instruction.
func (c *CPU[S]) tryCombine(p *Page[S], slot int) {
	prev := &p.Calls[slot-1]
	if prev.Span != 1 || prev.Flags&(FlagBranch|FlagUnimplemented|flagPlaceholder) != 0 {
		return
	}
	if slot > 1 && p.Calls[slot-2].Flags&FlagBranch != 0 {
		return
	}
	c.Arch.Combine(c, p, slot)
	if prev.Span == 2 {
		prev.Flags |= FlagFused
		p.Combined = true
		c.Stats.Fused++
	}
}
