package memory

import (
	"fmt"
	"sort"

	"dtemu/faults"
	"dtemu/logger"

	"github.com/sirupsen/logrus"
)

// Flags for device regions.
type Flags uint8

const (
	// Cacheable -> host pointers into the region backing may be cached by
	// the fast TLB for reading
	Cacheable Flags = 1 << iota

	// WritableCache -> cached host pointers may also be used for writing.
	// only meaningful together with Cacheable
	WritableCache
)

// Region is either a block of RAM or a memory mapped device.
type Region struct {
	Name   string
	Base   uint64
	Length uint64

	// Data is the backing store. always set for RAM, optional for devices
	// (required for cacheable devices)
	Data []byte

	// Device is nil for RAM
	Device Device
	Flags  Flags
}

// IsRAM returns true if the region is plain memory.
func (r *Region) IsRAM() bool {
	return r.Device == nil
}

// End returns the first address after the region.
func (r *Region) End() uint64 {
	return r.Base + r.Length
}

func (r *Region) contains(paddr uint64) bool {
	return paddr >= r.Base && paddr < r.End()
}

func (r *Region) String() string {
	kind := "ram"
	if !r.IsRAM() {
		kind = "device"
	}
	return fmt.Sprintf("%s [%#x, %#x) %s", r.Name, r.Base, r.End(), kind)
}

// ChangeKind of a structural change to the store.
type ChangeKind int

const (
	Added ChangeKind = iota
	Resized
	Removed
)

// Change is published to subscribers every time the region table or the
// backing store of a region changes. Every host pointer into the region is
// stale after a Resized or Removed change.
type Change struct {
	Kind   ChangeKind
	Region *Region

	// previous extent of the region
	OldBase   uint64
	OldLength uint64
}

// Store is the physical memory of a machine: RAM blocks plus the table of
// memory mapped devices.
type Store struct {
	// sorted by base address, non-overlapping
	regions []*Region

	subscribers []func(Change)

	log *logrus.Logger
}

// NewStore returns an empty physical memory store.
func NewStore(log *logrus.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{log: log}
}

// Subscribe registers fn to be called on every structural change.
func (s *Store) Subscribe(fn func(Change)) {
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) publish(c Change) {
	for _, fn := range s.subscribers {
		fn(c)
	}
}

// Regions returns the region table in address order.
func (s *Store) Regions() []*Region {
	return s.regions
}

// AddRAM creates and adds a RAM block.
func (s *Store) AddRAM(name string, base, length uint64) (*Region, error) {
	r := &Region{
		Name:   name,
		Base:   base,
		Length: length,
		Data:   make([]byte, length),
	}
	return r, s.Add(r)
}

// AddDevice adds a memory mapped device.
func (s *Store) AddDevice(name string, base, length uint64, dev Device, flags Flags) (*Region, error) {
	r := &Region{
		Name:   name,
		Base:   base,
		Length: length,
		Device: dev,
		Flags:  flags,
	}
	return r, s.Add(r)
}

// Add inserts a region. Regions must not overlap.
func (s *Store) Add(r *Region) error {
	if r.Length == 0 {
		return fmt.Errorf("memory: region %s has zero length", r.Name)
	}
	if r.IsRAM() && uint64(len(r.Data)) < r.Length {
		return fmt.Errorf("memory: region %s backing store too small", r.Name)
	}
	if err := s.checkOverlap(r, r.Base, r.Length); err != nil {
		return err
	}

	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].Base > r.Base })
	s.regions = append(s.regions, nil)
	copy(s.regions[i+1:], s.regions[i:])
	s.regions[i] = r

	s.log.WithFields(logrus.Fields{"region": r.Name, "base": fmt.Sprintf("%#x", r.Base),
		"length": fmt.Sprintf("%#x", r.Length)}).Debug("memory region added")

	s.publish(Change{Kind: Added, Region: r, OldBase: r.Base})
	return nil
}

func (s *Store) checkOverlap(r *Region, base, length uint64) error {
	for _, o := range s.regions {
		if o == r {
			continue
		}
		if base < o.End() && o.Base < base+length {
			return fmt.Errorf("memory: region %s [%#x, %#x) overlaps %s", r.Name, base, base+length, o)
		}
	}
	return nil
}

// Remap changes the length and backing store of an existing region, for
// example when a framebuffer changes resolution. Subscribers are told so
// that cached host pointers into the old backing store are dropped.
func (s *Store) Remap(r *Region, length uint64, data []byte) error {
	if length == 0 {
		return fmt.Errorf("memory: remap of %s to zero length", r.Name)
	}
	if err := s.checkOverlap(r, r.Base, length); err != nil {
		return err
	}
	if r.IsRAM() && uint64(len(data)) < length {
		return fmt.Errorf("memory: region %s backing store too small", r.Name)
	}

	c := Change{Kind: Resized, Region: r, OldBase: r.Base, OldLength: r.Length}
	r.Length = length
	r.Data = data

	s.log.WithFields(logrus.Fields{"region": r.Name, "length": fmt.Sprintf("%#x", length)}).Info("memory region remapped")
	s.publish(c)
	return nil
}

// Remove takes a region out of the store.
func (s *Store) Remove(r *Region) {
	for i, o := range s.regions {
		if o == r {
			s.regions = append(s.regions[:i], s.regions[i+1:]...)
			s.publish(Change{Kind: Removed, Region: r, OldBase: r.Base, OldLength: r.Length})
			return
		}
	}
}

// Lookup returns the region containing paddr and the offset of paddr inside
// the region.
func (s *Store) Lookup(paddr uint64) (*Region, uint64, error) {
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].End() > paddr })
	if i < len(s.regions) && s.regions[i].contains(paddr) {
		return s.regions[i], paddr - s.regions[i].Base, nil
	}
	return nil, 0, faults.New(faults.OutOfRange, paddr, false, "no memory region")
}

// Access performs a physical read or write. The whole access must fall
// inside a single region.
func (s *Store) Access(req *Request) error {
	r, off, err := s.Lookup(req.Addr)
	if err != nil {
		err.(*faults.Fault).Write = req.Write
		return err
	}
	if off+uint64(len(req.Data)) > r.Length {
		return faults.New(faults.OutOfRange, req.Addr, req.Write, "access crosses end of %s", r.Name)
	}

	if r.IsRAM() {
		if req.Write {
			copy(r.Data[off:], req.Data)
		} else {
			copy(req.Data, r.Data[off:])
		}
		return nil
	}

	req.Offset = off
	if !r.Device.Access(req) {
		return faults.New(faults.BusError, req.Addr, req.Write, "device %s refused %d byte access", r.Name, len(req.Data))
	}
	return nil
}

// Read is a convenience wrapper around Access for reads not made by a CPU.
func (s *Store) Read(paddr uint64, data []byte) error {
	return s.Access(&Request{CPU: -1, Addr: paddr, Data: data})
}

// Write is a convenience wrapper around Access for writes not made by a CPU.
func (s *Store) Write(paddr uint64, data []byte) error {
	return s.Access(&Request{CPU: -1, Addr: paddr, Data: data, Write: true})
}

// HostPage returns the host backing of the physical page containing paddr.
// ok is false if the page can not be accessed directly (device without the
// Cacheable flag, page not entirely inside a region). writable is true if
// the slice may also be used for writes.
func (s *Store) HostPage(paddr, pageSize uint64) (host []byte, writable bool, ok bool) {
	base := paddr &^ (pageSize - 1)
	r, off, err := s.Lookup(base)
	if err != nil {
		return nil, false, false
	}
	if off+pageSize > r.Length || off+pageSize > uint64(len(r.Data)) {
		return nil, false, false
	}

	if r.IsRAM() {
		return r.Data[off : off+pageSize : off+pageSize], true, true
	}
	if r.Flags&Cacheable == 0 || r.Data == nil {
		return nil, false, false
	}
	return r.Data[off : off+pageSize : off+pageSize], r.Flags&WritableCache == WritableCache, true
}

// Load copies an image into physical memory starting at paddr. Only RAM
// regions (or cacheable device backing) can be loaded.
func (s *Store) Load(paddr uint64, image []byte) error {
	for len(image) > 0 {
		r, off, err := s.Lookup(paddr)
		if err != nil {
			return fmt.Errorf("memory: load at %#x: %w", paddr, err)
		}
		if r.Data == nil {
			return fmt.Errorf("memory: load at %#x: region %s has no backing store", paddr, r.Name)
		}
		n := copy(r.Data[off:r.Length], image)
		image = image[n:]
		paddr += uint64(n)
	}
	return nil
}
