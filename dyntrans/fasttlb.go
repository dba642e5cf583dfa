package dyntrans

// Entry of the fast TLB.
type Entry struct {
	VPage uint64
	PPage uint64

	// Host is the host backing of the physical page. nil for entries which
	// only record the virtual to physical mapping
	Host     []byte
	Writable bool

	valid bool
}

// FastTLB is a small per CPU cache of recent virtual page translations. The
// entries form a ring; new entries replace the one at the cursor. A hit on an
// entry which is close to being replaced swaps it with the entry at the
// cursor, which approximates LRU without keeping timestamps.
type FastTLB struct {
	entries []Entry
	index   map[uint64]int
	cursor  int
	mask    uint64

	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// NewFastTLB creates a fast TLB with capacity entries for pages of
// 1<<pageShift bytes.
func NewFastTLB(capacity int, pageShift uint) *FastTLB {
	if capacity < 1 {
		capacity = 1
	}
	return &FastTLB{
		entries: make([]Entry, capacity),
		index:   make(map[uint64]int, capacity),
		mask:    1<<pageShift - 1,
	}
}

// Len returns the number of valid entries.
func (t *FastTLB) Len() int {
	return len(t.index)
}

// Capacity of the TLB.
func (t *FastTLB) Capacity() int {
	return len(t.entries)
}

// Lookup returns the host page for a data access at vaddr. ok is false on a
// miss, when the entry has no host page or when write is requested on a read
// only entry.
func (t *FastTLB) Lookup(vaddr uint64, write bool) (host []byte, ok bool) {
	i, found := t.index[vaddr&^t.mask]
	if !found {
		t.Misses++
		return nil, false
	}
	e := &t.entries[i]
	if e.Host == nil || (write && !e.Writable) {
		t.Misses++
		return nil, false
	}
	t.Hits++
	host = e.Host
	t.promote(i)
	return host, true
}

// Find returns the entry for vaddr or nil. Used for instruction fetch, where
// only the physical page is needed.
func (t *FastTLB) Find(vaddr uint64) *Entry {
	i, found := t.index[vaddr&^t.mask]
	if !found {
		t.Misses++
		return nil
	}
	t.Hits++
	return &t.entries[t.promote(i)]
}

// promote moves entry i away from the replacement cursor when it is in the
// quarter of the ring which is replaced next. returns the new index.
func (t *FastTLB) promote(i int) int {
	n := len(t.entries)
	if (i-t.cursor+n)%n >= n/4+1 {
		return i
	}
	c := t.cursor
	if i != c {
		t.entries[i], t.entries[c] = t.entries[c], t.entries[i]
		if t.entries[i].valid {
			t.index[t.entries[i].VPage] = i
		}
		t.index[t.entries[c].VPage] = c
	}
	t.cursor = (c + 1) % n
	return c
}

// Insert adds or replaces the translation of the page containing vaddr.
func (t *FastTLB) Insert(vaddr, ppage uint64, host []byte, writable bool) {
	vp := vaddr &^ t.mask
	e := Entry{VPage: vp, PPage: ppage &^ t.mask, Host: host, Writable: writable && host != nil, valid: true}
	if i, found := t.index[vp]; found {
		t.entries[i] = e
		return
	}

	old := &t.entries[t.cursor]
	if old.valid {
		delete(t.index, old.VPage)
		t.Evictions++
	}
	*old = e
	t.index[vp] = t.cursor
	t.cursor = (t.cursor + 1) % len(t.entries)
}

// InvalidateVirtual drops the entry for the page containing vaddr.
func (t *FastTLB) InvalidateVirtual(vaddr uint64) {
	vp := vaddr &^ t.mask
	if i, found := t.index[vp]; found {
		t.entries[i] = Entry{}
		delete(t.index, vp)
	}
}

// InvalidatePhysical drops every entry mapping to physical page ppage.
func (t *FastTLB) InvalidatePhysical(ppage uint64) {
	ppage &^= t.mask
	for i := range t.entries {
		e := &t.entries[i]
		if e.valid && e.PPage == ppage {
			delete(t.index, e.VPage)
			*e = Entry{}
		}
	}
}

// DowngradePhysical makes every entry mapping to physical page ppage read
// only.
func (t *FastTLB) DowngradePhysical(ppage uint64) {
	ppage &^= t.mask
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].PPage == ppage {
			t.entries[i].Writable = false
		}
	}
}

// InvalidateAll empties the TLB.
func (t *FastTLB) InvalidateAll() {
	clear(t.entries)
	clear(t.index)
	t.cursor = 0
}
