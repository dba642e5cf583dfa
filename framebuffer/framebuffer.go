package framebuffer

import (
	"fmt"

	"dtemu/memory"

	"github.com/sirupsen/logrus"
)

// fbctrl register offsets
const (
	RegPort = 0x00
	RegData = 0x10

	// CtrlLength of the control register window
	CtrlLength = 0x20
)

// ports selected through RegPort
const (
	PortCommand = iota
	PortX1
	PortY1
	PortX2
	PortY2
	PortColorR
	PortColorG
	PortColorB

	nports
)

// commands written to PortCommand
const (
	CmdNop = iota
	CmdSetResolution
	CmdGetResolution
	CmdFill
	CmdCopy
)

// default and maximal resolution. 2048x2048 still fits below the disk
// controller at the default addresses
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	MaxWidth      = 2048
	MaxHeight     = 2048
)

// BytesPerPixel - RGB, one byte each
const BytesPerPixel = 3

// Framebuffer is the fbctrl device together with the video RAM it controls.
// The video RAM is a cacheable region: CPUs write pixels through their fast
// TLBs without going through the device. Changing the resolution replaces the
// backing store, which invalidates every cached host pointer into it.
type Framebuffer struct {
	mem  *memory.Store
	vram *memory.Region

	width, height int

	port  uint64
	ports [nports]uint64

	log *logrus.Logger

	// Resizes counts resolution changes
	Resizes uint64
}

// New creates the framebuffer and maps its control registers at ctrlBase
// and the video RAM at vramBase.
func New(mem *memory.Store, ctrlBase, vramBase uint64, log *logrus.Logger) (*Framebuffer, error) {
	fb := &Framebuffer{
		mem:    mem,
		width:  DefaultWidth,
		height: DefaultHeight,
		log:    log,
	}
	size := uint64(DefaultWidth * DefaultHeight * BytesPerPixel)
	vram, err := mem.AddDevice("fb", vramBase, size, memory.DeviceFunc(fb.accessVRAM),
		memory.Cacheable|memory.WritableCache)
	if err != nil {
		return nil, err
	}
	vram.Data = make([]byte, size)
	fb.vram = vram

	if _, err := mem.AddDevice("fbctrl", ctrlBase, CtrlLength, fb, 0); err != nil {
		return nil, err
	}
	return fb, nil
}

// Resolution returns the current width and height in pixels.
func (fb *Framebuffer) Resolution() (int, int) {
	return fb.width, fb.height
}

// VRAM returns the video RAM region.
func (fb *Framebuffer) VRAM() *memory.Region {
	return fb.vram
}

// Pixel returns the colour of pixel (x, y).
func (fb *Framebuffer) Pixel(x, y int) (r, g, b byte) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return 0, 0, 0
	}
	o := (y*fb.width + x) * BytesPerPixel
	d := fb.vram.Data
	return d[o], d[o+1], d[o+2]
}

// accessVRAM serves accesses to the video RAM that do not go through a fast
// TLB (device accesses, unaligned accesses, first touch of a page).
func (fb *Framebuffer) accessVRAM(req *memory.Request) bool {
	if req.Offset+uint64(len(req.Data)) > uint64(len(fb.vram.Data)) {
		return false
	}
	if req.Write {
		copy(fb.vram.Data[req.Offset:], req.Data)
	} else {
		copy(req.Data, fb.vram.Data[req.Offset:])
	}
	return true
}

// Access implements memory.Device for the control registers.
func (fb *Framebuffer) Access(req *memory.Request) bool {
	switch req.Offset {
	case RegPort:
		if req.Write {
			fb.port = req.Value()
		} else {
			req.SetValue(fb.port)
		}
	case RegData:
		if fb.port >= nports {
			return false
		}
		if !req.Write {
			req.SetValue(fb.ports[fb.port])
			return true
		}
		fb.ports[fb.port] = req.Value()
		if fb.port == PortCommand {
			fb.command(req.Value())
		}
	default:
		return false
	}
	return true
}

func (fb *Framebuffer) command(cmd uint64) {
	switch cmd {
	case CmdNop:
	case CmdSetResolution:
		if err := fb.SetResolution(int(fb.ports[PortX1]), int(fb.ports[PortY1])); err != nil {
			fb.log.WithError(err).Warn("fbctrl: resolution not changed")
		}
	case CmdGetResolution:
		fb.ports[PortX1] = uint64(fb.width)
		fb.ports[PortY1] = uint64(fb.height)
	case CmdFill:
		fb.fill()
	case CmdCopy:
		fb.copyRect()
	default:
		fb.log.WithField("command", cmd).Debug("fbctrl: unknown command")
	}
}

// SetResolution replaces the video RAM with a cleared buffer of the new
// size.
func (fb *Framebuffer) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxWidth || height > MaxHeight {
		return fmt.Errorf("framebuffer: bad resolution %dx%d", width, height)
	}
	size := uint64(width * height * BytesPerPixel)
	if err := fb.mem.Remap(fb.vram, size, make([]byte, size)); err != nil {
		return err
	}
	fb.width, fb.height = width, height
	fb.Resizes++
	fb.log.WithFields(logrus.Fields{"x": width, "y": height}).Info("fbctrl: resolution changed")
	return nil
}

// clip orders and clamps the rectangle given by the X1/Y1/X2/Y2 ports.
func (fb *Framebuffer) clip() (x1, y1, x2, y2 int, ok bool) {
	x1, y1 = int(fb.ports[PortX1]), int(fb.ports[PortY1])
	x2, y2 = int(fb.ports[PortX2]), int(fb.ports[PortY2])
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	if x1 >= fb.width || y1 >= fb.height || x2 < 0 || y2 < 0 {
		return 0, 0, 0, 0, false
	}
	x1, y1 = max(x1, 0), max(y1, 0)
	x2, y2 = min(x2, fb.width-1), min(y2, fb.height-1)
	return x1, y1, x2, y2, true
}

// fill paints the rectangle (X1,Y1)-(X2,Y2), corners included, with the
// current colour.
func (fb *Framebuffer) fill() {
	x1, y1, x2, y2, ok := fb.clip()
	if !ok {
		return
	}
	rgb := [BytesPerPixel]byte{byte(fb.ports[PortColorR]), byte(fb.ports[PortColorG]), byte(fb.ports[PortColorB])}
	d := fb.vram.Data
	for y := y1; y <= y2; y++ {
		row := y * fb.width * BytesPerPixel
		for x := x1; x <= x2; x++ {
			copy(d[row+x*BytesPerPixel:], rgb[:])
		}
	}
}

// copyRect moves the block whose top left corner is (X1,Y1) so that its top
// left corner ends up at (X2,Y2). The block extends to the right and bottom
// edges of the screen, which makes scrolling a single command.
func (fb *Framebuffer) copyRect() {
	sx, sy := int(fb.ports[PortX1]), int(fb.ports[PortY1])
	dx, dy := int(fb.ports[PortX2]), int(fb.ports[PortY2])
	if min(sx, sy, dx, dy) < 0 || sx >= fb.width || dx >= fb.width || sy >= fb.height || dy >= fb.height {
		return
	}
	w := fb.width - max(sx, dx)
	h := fb.height - max(sy, dy)
	stride := fb.width * BytesPerPixel
	d := fb.vram.Data

	// rows are walked away from the destination so that overlapping
	// blocks are not overwritten before being read
	for i := 0; i < h; i++ {
		r := i
		if dy > sy {
			r = h - 1 - i
		}
		src := (sy+r)*stride + sx*BytesPerPixel
		dst := (dy+r)*stride + dx*BytesPerPixel
		copy(d[dst:dst+w*BytesPerPixel], d[src:src+w*BytesPerPixel])
	}
}
