package memory

import "encoding/binary"

// Request is a single access to a physical memory region.
type Request struct {
	// CPU issuing the access. -1 for accesses not made by a CPU (program
	// loading, DMA by devices)
	CPU int

	// Addr is the physical address. Offset is Addr relative to the base of
	// the region serving the request, filled in by the Store.
	Addr   uint64
	Offset uint64

	// Data is read into or written from. its length is the access size
	Data  []byte
	Write bool

	// Order is the byte order of the guest. register style devices use it
	// to interpret Data
	Order binary.ByteOrder
}

// Value returns Data as an unsigned value in the guest byte order.
func (r *Request) Value() uint64 {
	o := r.order()
	switch len(r.Data) {
	case 1:
		return uint64(r.Data[0])
	case 2:
		return uint64(o.Uint16(r.Data))
	case 4:
		return uint64(o.Uint32(r.Data))
	case 8:
		return o.Uint64(r.Data)
	}
	var v uint64
	for i := range r.Data {
		v = v<<8 | uint64(r.Data[i])
	}
	return v
}

// SetValue stores v in Data using the guest byte order. v is truncated to
// the access size.
func (r *Request) SetValue(v uint64) {
	o := r.order()
	switch len(r.Data) {
	case 1:
		r.Data[0] = byte(v)
	case 2:
		o.PutUint16(r.Data, uint16(v))
	case 4:
		o.PutUint32(r.Data, uint32(v))
	case 8:
		o.PutUint64(r.Data, v)
	default:
		for i := len(r.Data) - 1; i >= 0; i-- {
			r.Data[i] = byte(v)
			v >>= 8
		}
	}
}

func (r *Request) order() binary.ByteOrder {
	if r.Order == nil {
		return binary.LittleEndian
	}
	return r.Order
}

// Device is the contract for memory mapped devices. Access returns false if
// the device can not serve the request (unknown register, bad size ...).
type Device interface {
	Access(req *Request) bool
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(req *Request) bool

// Access implements the Device interface.
func (f DeviceFunc) Access(req *Request) bool {
	return f(req)
}

// Ticker is implemented by devices with periodic work (timers, input
// polling, interrupt generation).
type Ticker interface {
	Tick()
}
