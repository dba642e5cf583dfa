package dyntrans

import (
	"dtemu/memory"

	"github.com/sirupsen/logrus"
)

// Member of a coherency domain, normally a CPU.
type Member interface {
	// InvalidateCode drops translations of a physical page
	InvalidateCode(ppage uint64)

	// InvalidatePhysical drops translations and fast TLB entries of a
	// physical page
	InvalidatePhysical(ppage uint64)

	// DowngradePhysical removes write access to a physical page from the
	// fast TLB
	DowngradePhysical(ppage uint64)

	// InvalidateAll drops everything cached
	InvalidateAll()
}

// Domain keeps the translation caches of all CPUs of a machine coherent with
// physical memory. It knows which physical pages hold translated code; the
// fast TLBs never grant direct write access to those pages so that stores to
// them go through the generic path, which reports them here.
type Domain struct {
	members  []Member
	code     map[uint64]struct{}
	pageMask uint64

	// CodeWrites counts stores which hit a translated page
	CodeWrites uint64

	log *logrus.Logger
}

// NewDomain creates an empty domain for pages of 1<<pageShift bytes.
func NewDomain(pageShift uint, log *logrus.Logger) *Domain {
	return &Domain{
		code:     make(map[uint64]struct{}),
		pageMask: 1<<pageShift - 1,
		log:      log,
	}
}

// Join adds a member to the domain.
func (d *Domain) Join(m Member) {
	d.members = append(d.members, m)
}

// MarkCode records that ppage holds translated code and takes write access
// to it away from every fast TLB.
func (d *Domain) MarkCode(ppage uint64) {
	ppage &^= d.pageMask
	if _, ok := d.code[ppage]; ok {
		return
	}
	d.code[ppage] = struct{}{}
	for _, m := range d.members {
		m.DowngradePhysical(ppage)
	}
}

// IsCode returns true if ppage holds translated code.
func (d *Domain) IsCode(ppage uint64) bool {
	_, ok := d.code[ppage&^d.pageMask]
	return ok
}

// CodeWritten drops the translations of ppage on every member after a store
// into it.
func (d *Domain) CodeWritten(ppage uint64) {
	ppage &^= d.pageMask
	d.CodeWrites++
	delete(d.code, ppage)
	for _, m := range d.members {
		m.InvalidateCode(ppage)
	}
}

// InvalidatePhysical drops everything cached about ppage on every member.
func (d *Domain) InvalidatePhysical(ppage uint64) {
	ppage &^= d.pageMask
	delete(d.code, ppage)
	for _, m := range d.members {
		m.InvalidatePhysical(ppage)
	}
}

// InvalidateAll flushes every member.
func (d *Domain) InvalidateAll() {
	clear(d.code)
	for _, m := range d.members {
		m.InvalidateAll()
	}
}

// Watch subscribes to structural changes of store. Any resize or removal of
// a region invalidates everything, since host pointers into the old backing
// store may be cached anywhere.
func (d *Domain) Watch(store *memory.Store) {
	store.Subscribe(func(c memory.Change) {
		switch c.Kind {
		case memory.Resized, memory.Removed:
			if d.log != nil {
				d.log.WithField("region", c.Region.Name).Debug("memory layout changed, invalidating translations")
			}
			d.InvalidateAll()
		}
	})
}
