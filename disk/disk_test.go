package disk

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"dtemu/logger"
	"dtemu/memory"
)

func reg(t *testing.T, c *Controller, off uint64, write bool, v uint64) uint64 {
	t.Helper()
	req := &memory.Request{Offset: off, Data: make([]byte, 4), Write: write, Order: binary.BigEndian}
	if write {
		req.SetValue(v)
	}
	if !c.Access(req) {
		t.Fatalf("access to register %#x refused", off)
	}
	return req.Value()
}

func TestController_Attach(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk0.img")
	if err := os.WriteFile(img, make([]byte, 4*SectorSize), 0644); err != nil {
		t.Fatal(err)
	}

	type args struct {
		drive int
		path  string
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{"non existing file", args{0, filepath.Join(dir, "foo.bar.img")}, true},
		{"exisiting file", args{0, img}, false},
		{"invalid drive number", args{8, img}, true},
	}
	c := New(logger.Discard())
	defer c.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Attach(tt.args.drive, tt.args.path, false); (err != nil) != tt.wantErr {
				t.Errorf("Controller.Attach() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestController_Transfer(t *testing.T) {
	image := make([]byte, 4*SectorSize)
	copy(image[SectorSize:], "sector one")

	c := New(logger.Discard())
	if err := c.AttachImage(0, image, false); err != nil {
		t.Fatal(err)
	}
	if err := c.AttachImage(1, make([]byte, SectorSize), true); err != nil {
		t.Fatal(err)
	}

	// read sector 1 into the buffer
	reg(t, c, RegID, true, 0)
	reg(t, c, RegOffset, true, SectorSize)
	reg(t, c, RegOffsetHigh32, true, 0)
	reg(t, c, RegStartOperation, true, OpRead)
	if st := reg(t, c, RegStatus, false, 0); st != 1 {
		t.Fatalf("status after read = %d, want 1", st)
	}
	buf := &memory.Request{Offset: RegBuffer, Data: make([]byte, 10)}
	c.Access(buf)
	if string(buf.Data) != "sector one" {
		t.Errorf("buffer = %q, want \"sector one\"", buf.Data)
	}

	// write it back to sector 3
	reg(t, c, RegOffset, true, 3*SectorSize)
	reg(t, c, RegStartOperation, true, OpWrite)
	if st := reg(t, c, RegStatus, false, 0); st != 1 {
		t.Fatalf("status after write = %d, want 1", st)
	}
	if !bytes.Equal(image[3*SectorSize:3*SectorSize+10], []byte("sector one")) {
		t.Errorf("image not written")
	}

	tests := []struct {
		name   string
		id     uint64
		offset uint64
		op     uint64
	}{
		{"past end of image", 0, 4 * SectorSize, OpRead},
		{"offset high bits", 0, 1 << 32, OpRead},
		{"read only drive", 1, 0, OpWrite},
		{"no drive", 5, 0, OpRead},
		{"bad operation", 0, 0, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg(t, c, RegID, true, tt.id)
			reg(t, c, RegOffset, true, tt.offset&0xffffffff)
			reg(t, c, RegOffsetHigh32, true, tt.offset>>32)
			reg(t, c, RegStartOperation, true, tt.op)
			if st := reg(t, c, RegStatus, false, 0); st != 0 {
				t.Errorf("status = %d, want 0", st)
			}
		})
	}
}

func TestController_BufferBounds(t *testing.T) {
	c := New(logger.Discard())
	if c.Access(&memory.Request{Offset: RegBuffer + SectorSize - 2, Data: make([]byte, 4)}) {
		t.Errorf("access past sector buffer accepted")
	}
	if c.Access(&memory.Request{Offset: 0x40, Data: make([]byte, 4)}) {
		t.Errorf("access to unknown register accepted")
	}
}
