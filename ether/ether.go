package ether

import (
	"fmt"

	"dtemu/interrupts"
	"dtemu/memory"

	"github.com/sirupsen/logrus"
)

// register offsets
const (
	RegBuffer       = 0x0000
	RegStatus       = 0x4000
	RegPacketLength = 0x4010
	RegCommand      = 0x4020
	RegMAC          = 0x4040

	// Length of the register window
	Length = 0x8000
)

// BufferSize is the size of the packet buffer
const BufferSize = 0x4000

// status bits
const (
	StatusPacketReceived       = 1
	StatusMorePacketsAvailable = 2
)

// commands
const (
	CmdRX = 0
	CmdTX = 1
)

// MaxQueued is the number of received packets kept before further packets
// are dropped
const MaxQueued = 64

// Network carries transmitted packets to their receivers.
type Network interface {
	Transmit(from *NIC, packet []byte)
}

// NIC is the ether device. TX sends the first PACKETLENGTH bytes of the
// buffer; RX moves the oldest received packet into the buffer. The interrupt
// line is asserted while received packets are waiting.
type NIC struct {
	buffer [BufferSize]byte
	mac    [8]byte

	status uint64
	length uint64

	rx  [][]byte
	net Network
	irq interrupts.Line

	log *logrus.Logger

	// Sent, Received and Dropped count packets
	Sent, Received, Dropped uint64
}

// New returns a NIC with hardware address mac attached to net. A nil net
// loops transmitted packets back to the NIC itself.
func New(mac [6]byte, net Network, irq interrupts.Line, log *logrus.Logger) *NIC {
	n := &NIC{net: net, irq: irq, log: log}
	copy(n.mac[:], mac[:])
	return n
}

// MAC returns the hardware address.
func (n *NIC) MAC() [6]byte {
	var m [6]byte
	copy(m[:], n.mac[:])
	return m
}

// MACString formats the hardware address.
func (n *NIC) MACString() string {
	m := n.mac
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Receive queues an incoming packet.
func (n *NIC) Receive(packet []byte) {
	if len(n.rx) >= MaxQueued || len(packet) > BufferSize {
		n.Dropped++
		return
	}
	n.rx = append(n.rx, append([]byte(nil), packet...))
	n.Received++
	n.irq.Assert()
}

func (n *NIC) transmit() {
	if n.length == 0 || n.length > BufferSize {
		n.log.WithField("length", n.length).Debug("ether: bad packet length, not sent")
		return
	}
	packet := append([]byte(nil), n.buffer[:n.length]...)
	n.Sent++
	if n.net == nil {
		n.Receive(packet)
		return
	}
	n.net.Transmit(n, packet)
}

func (n *NIC) receive() {
	n.status = 0
	if len(n.rx) == 0 {
		n.length = 0
		return
	}
	p := n.rx[0]
	n.rx = n.rx[1:]
	copy(n.buffer[:], p)
	n.length = uint64(len(p))
	n.status = StatusPacketReceived
	if len(n.rx) > 0 {
		n.status |= StatusMorePacketsAvailable
	} else {
		n.irq.Deassert()
	}
}

// Access implements memory.Device.
func (n *NIC) Access(req *memory.Request) bool {
	end := req.Offset + uint64(len(req.Data))
	switch {
	case end <= BufferSize:
		if req.Write {
			copy(n.buffer[req.Offset:], req.Data)
		} else {
			copy(req.Data, n.buffer[req.Offset:])
		}
		return true
	case req.Offset >= RegMAC && end <= RegMAC+uint64(len(n.mac)):
		if req.Write {
			copy(n.mac[req.Offset-RegMAC:], req.Data)
		} else {
			copy(req.Data, n.mac[req.Offset-RegMAC:])
		}
		return true
	}

	switch req.Offset {
	case RegStatus:
		if req.Write {
			return false
		}
		req.SetValue(n.status)
	case RegPacketLength:
		if req.Write {
			n.length = req.Value()
		} else {
			req.SetValue(n.length)
		}
	case RegCommand:
		if !req.Write {
			req.SetValue(0)
			return true
		}
		switch req.Value() {
		case CmdRX:
			n.receive()
		case CmdTX:
			n.transmit()
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// Hub connects several NICs: a packet sent by one is received by all the
// others.
type Hub struct {
	nics []*NIC
}

// Attach adds n to the hub and makes the hub its network.
func (h *Hub) Attach(n *NIC) {
	n.net = h
	h.nics = append(h.nics, n)
}

// Transmit implements Network.
func (h *Hub) Transmit(from *NIC, packet []byte) {
	for _, n := range h.nics {
		if n != from {
			n.Receive(packet)
		}
	}
}
