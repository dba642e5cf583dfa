package disk

import (
	"fmt"
	"io"
	"os"

	"dtemu/memory"

	"github.com/sirupsen/logrus"
)

// register offsets
const (
	RegOffset         = 0x0000
	RegOffsetHigh32   = 0x0008
	RegID             = 0x0010
	RegStartOperation = 0x0020
	RegStatus         = 0x0030
	RegBuffer         = 0x4000

	// Length of the register window
	Length = 0x8000
)

// SectorSize of a single transfer
const SectorSize = 512

// operations written to START_OPERATION
const (
	OpRead  = 0
	OpWrite = 1
)

// Units is the number of drives on the controller
const Units = 8

// Image is the backing store of a drive.
type Image interface {
	io.ReaderAt
	io.WriterAt
}

// Unit is one attached drive.
type Unit struct {
	image    Image
	size     int64
	readOnly bool
	closer   io.Closer
	path     string
}

// Controller - the disk controller. The guest selects a drive with ID and
// a byte offset with OFFSET/OFFSET_HIGH32, then starts a one sector transfer
// between the drive and the sector buffer. STATUS reports success (1) or
// failure (0) of the last transfer.
type Controller struct {
	offset uint64
	id     uint64
	status uint64
	buffer [SectorSize]byte

	// disk units
	unit [Units]*Unit

	log *logrus.Logger

	// Reads and Writes count completed transfers
	Reads, Writes uint64
}

// New returns new disk controller
func New(log *logrus.Logger) *Controller {
	return &Controller{log: log}
}

// Attach opens a disk image file
func (c *Controller) Attach(drive int, path string, readOnly bool) error {
	if drive < 0 || drive >= Units {
		return fmt.Errorf("disk: no drive %d", drive)
	}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return fmt.Errorf("disk: attach drive %d: %w", drive, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	c.unit[drive] = &Unit{image: f, size: fi.Size(), readOnly: readOnly, closer: f, path: path}
	c.log.WithFields(logrus.Fields{"drive": drive, "path": path, "size": fi.Size()}).Info("disk attached")
	return nil
}

// AttachImage attaches an in-memory image.
func (c *Controller) AttachImage(drive int, image []byte, readOnly bool) error {
	if drive < 0 || drive >= Units {
		return fmt.Errorf("disk: no drive %d", drive)
	}
	c.unit[drive] = &Unit{image: &memImage{b: image}, size: int64(len(image)), readOnly: readOnly, path: "memory"}
	return nil
}

// Close detaches all drives.
func (c *Controller) Close() error {
	var first error
	for i, u := range c.unit {
		if u != nil && u.closer != nil {
			if err := u.closer.Close(); err != nil && first == nil {
				first = err
			}
		}
		c.unit[i] = nil
	}
	return first
}

// Access implements memory.Device.
func (c *Controller) Access(req *memory.Request) bool {
	if req.Offset >= RegBuffer {
		off := req.Offset - RegBuffer
		if off+uint64(len(req.Data)) > SectorSize {
			return false
		}
		if req.Write {
			copy(c.buffer[off:], req.Data)
		} else {
			copy(req.Data, c.buffer[off:])
		}
		return true
	}

	switch req.Offset {
	case RegOffset:
		if req.Write {
			c.offset = req.Value()
		} else {
			req.SetValue(c.offset)
		}
	case RegOffsetHigh32:
		if req.Write {
			c.offset = c.offset&0xffffffff | req.Value()<<32
		} else {
			req.SetValue(c.offset >> 32)
		}
	case RegID:
		if req.Write {
			c.id = req.Value()
		} else {
			req.SetValue(c.id)
		}
	case RegStartOperation:
		if !req.Write {
			return false
		}
		c.status = 0
		if c.transfer(req.Value()) {
			c.status = 1
		}
	case RegStatus:
		if req.Write {
			return false
		}
		req.SetValue(c.status)
	default:
		return false
	}
	return true
}

func (c *Controller) transfer(op uint64) bool {
	if c.id >= Units || c.unit[c.id] == nil {
		return false
	}
	u := c.unit[c.id]
	if int64(c.offset) < 0 || int64(c.offset)+SectorSize > u.size {
		return false
	}

	var err error
	switch op {
	case OpRead:
		_, err = u.image.ReadAt(c.buffer[:], int64(c.offset))
		c.Reads++
	case OpWrite:
		if u.readOnly {
			return false
		}
		_, err = u.image.WriteAt(c.buffer[:], int64(c.offset))
		c.Writes++
	default:
		return false
	}
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"drive": c.id, "offset": c.offset}).Warn("disk transfer failed")
		return false
	}
	return true
}

// memImage is an Image kept in memory.
type memImage struct {
	b []byte
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memImage) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(m.b)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.b[off:], p), nil
}
