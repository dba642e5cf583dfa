package dyntrans

import (
	"errors"

	"dtemu/faults"
	"dtemu/memory"
	"dtemu/mmu"
)

// Load reads size (1, 2, 4 or 8) bytes at virtual address vaddr in the guest
// byte order. ok is false if the access raised an exception or halted the
// CPU; the destination register must then be left untouched.
func (c *CPU[S]) Load(vaddr uint64, size int) (uint64, bool) {
	if !c.aligned(vaddr, size, false) {
		return 0, false
	}
	off := vaddr & c.geom.OffsetMask()
	if off+uint64(size) <= c.geom.PageSize() {
		if host, ok := c.DTLB.Lookup(vaddr, false); ok {
			return c.get(host[off:], size), true
		}
	}

	buf := c.scratch[:size]
	if !c.access(vaddr, buf, false) {
		return 0, false
	}
	return c.get(buf, size), true
}

// Store writes the low size bytes of v at virtual address vaddr in the guest
// byte order. ok is false if the access raised an exception or halted the
// CPU, in which case memory is unchanged.
func (c *CPU[S]) Store(vaddr uint64, size int, v uint64) bool {
	if !c.aligned(vaddr, size, true) {
		return false
	}
	off := vaddr & c.geom.OffsetMask()
	if off+uint64(size) <= c.geom.PageSize() {
		if host, ok := c.DTLB.Lookup(vaddr, true); ok {
			c.put(host[off:], size, v)
			return true
		}
	}

	buf := c.scratch[:size]
	c.put(buf, size, v)
	return c.access(vaddr, buf, true)
}

// SignExtend the low size bytes of v.
func SignExtend(v uint64, size int) uint64 {
	shift := 64 - uint(size)*8
	return uint64(int64(v<<shift) >> shift)
}

func (c *CPU[S]) aligned(vaddr uint64, size int, write bool) bool {
	if c.AllowUnaligned || vaddr&uint64(size-1) == 0 {
		return true
	}
	f := faults.New(faults.AlignmentFault, vaddr, write, "%d byte access", size)
	f.PC = c.InstrPC()
	c.Arch.Fault(c, f)
	return false
}

func (c *CPU[S]) get(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(c.Order.Uint16(b))
	case 4:
		return uint64(c.Order.Uint32(b))
	}
	return c.Order.Uint64(b)
}

func (c *CPU[S]) put(b []byte, size int, v uint64) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		c.Order.PutUint16(b, uint16(v))
	case 4:
		c.Order.PutUint32(b, uint32(v))
	default:
		c.Order.PutUint64(b, v)
	}
}

// access is the generic path: full translation, physical access through the
// memory store, fast TLB refill and self-modifying code detection.
func (c *CPU[S]) access(vaddr uint64, buf []byte, write bool) bool {
	pageSize := c.geom.PageSize()
	off := vaddr & c.geom.OffsetMask()
	if off+uint64(len(buf)) > pageSize {
		return c.accessSplit(vaddr, buf, write)
	}

	flags := mmu.Read
	if write {
		flags = mmu.Write
	}
	res, err := c.Translator.Translate(vaddr, flags)
	if err != nil {
		c.dataFault(err)
		return false
	}

	req := memory.Request{CPU: c.ID, Addr: res.PAddr, Data: buf, Write: write, Order: c.Order}
	if err := c.Mem.Access(&req); err != nil {
		c.dataFault(err)
		return false
	}

	ppage := res.PAddr &^ c.geom.OffsetMask()
	if host, writable, ok := c.Mem.HostPage(res.PAddr, pageSize); ok {
		writable = writable && res.Writable()
		if writable && c.Domain != nil && c.Domain.IsCode(ppage) {
			writable = false
		}
		c.DTLB.Insert(vaddr, ppage, host, writable)
	}

	if write && c.Domain != nil && c.Domain.IsCode(ppage) {
		c.Domain.CodeWritten(ppage)
	}
	return true
}

// accessSplit handles an unaligned access crossing a page boundary. Both
// pages are translated before any byte is written.
func (c *CPU[S]) accessSplit(vaddr uint64, buf []byte, write bool) bool {
	first := c.geom.PageSize() - vaddr&c.geom.OffsetMask()
	if write {
		flags := mmu.Write | mmu.NoExceptions
		if _, err := c.Translator.Translate(vaddr+first, flags); err != nil {
			// take the exception for the second page
			if _, err := c.Translator.Translate(vaddr+first, mmu.Write); err != nil {
				c.dataFault(err)
			}
			return false
		}
	}
	lo := make([]byte, first)
	hi := make([]byte, uint64(len(buf))-first)
	if write {
		copy(lo, buf)
		copy(hi, buf[first:])
	}
	if !c.access(vaddr, lo, write) || !c.access(vaddr+first, hi, write) {
		return false
	}
	if !write {
		copy(buf, lo)
		copy(buf[first:], hi)
	}
	return true
}

// dataFault routes an error from the generic access path. Exceptions raised
// by the translator have already been delivered; memory faults which the
// guest can handle go to Arch.Fault; everything else halts the CPU.
func (c *CPU[S]) dataFault(err error) {
	if faults.Raised(err) {
		return
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		f.PC = c.InstrPC()
		if !f.Kind.Fatal() {
			c.Arch.Fault(c, f)
			return
		}
	}
	c.Halt(err)
}
