package dyntrans

import (
	"encoding/binary"
	"testing"
)

type recorder struct {
	code, physical, downgraded []uint64
	all                        int
}

func (r *recorder) InvalidateCode(p uint64)     { r.code = append(r.code, p) }
func (r *recorder) InvalidatePhysical(p uint64) { r.physical = append(r.physical, p) }
func (r *recorder) DowngradePhysical(p uint64)  { r.downgraded = append(r.downgraded, p) }
func (r *recorder) InvalidateAll()              { r.all++ }

func TestDomain(t *testing.T) {
	d := NewDomain(12, nil)
	a, b := &recorder{}, &recorder{}
	d.Join(a)
	d.Join(b)

	d.MarkCode(0x3abc)
	d.MarkCode(0x3000)
	if !d.IsCode(0x3ffc) || d.IsCode(0x4000) {
		t.Errorf("IsCode() wrong after MarkCode(0x3abc)")
	}
	for _, r := range []*recorder{a, b} {
		if len(r.downgraded) != 1 || r.downgraded[0] != 0x3000 {
			t.Errorf("downgraded = %#x, want [0x3000]", r.downgraded)
		}
	}

	d.CodeWritten(0x3010)
	if d.IsCode(0x3000) {
		t.Errorf("page still marked as code after write")
	}
	for _, r := range []*recorder{a, b} {
		if len(r.code) != 1 || r.code[0] != 0x3000 {
			t.Errorf("invalidated = %#x, want [0x3000]", r.code)
		}
	}

	d.InvalidatePhysical(0x7000)
	d.InvalidateAll()
	if len(a.physical) != 1 || a.all != 1 || b.all != 1 {
		t.Errorf("a = %+v b = %+v", a, b)
	}
}

// a store on one CPU into code translated by another CPU
func TestDomain_CrossCPU(t *testing.T) {
	writer, mem := newToy(t, 0x1000, nil, false)
	reader, _ := newToy(t, 0x2000, nil, false)
	reader.Mem = mem
	d := writer.Domain
	d.Join(reader)
	reader.Domain = d

	load(t, mem, 0x2000, []uint32{enc(opAddi, 1, 0, 1), enc(opHalt, 0, 0, 0)})
	if _, err := reader.Run(10); err != nil {
		t.Fatal(err)
	}

	patch := enc(opAddi, 1, 0, 9)
	if !writer.Store(0x2000, 4, uint64(patch)) {
		t.Fatal("store failed")
	}
	var raw [4]byte
	_ = mem.Read(0x2000, raw[:])
	if binary.BigEndian.Uint32(raw[:]) != patch {
		t.Fatalf("memory not written")
	}

	reader.State.R[1] = 0
	reader.Reset(0x2000)
	if _, err := reader.Run(10); err != nil {
		t.Fatal(err)
	}
	if reader.State.R[1] != 9 {
		t.Errorf("reader r1 = %d, want 9", reader.State.R[1])
	}
}

func TestTraceQueue(t *testing.T) {
	q := NewTraceQueue(2)
	if !q.IsEmpty() {
		t.Fatal("new queue not empty")
	}
	for pc := uint64(0); pc < 3; pc++ {
		q.Enqueue(TraceEntry{PC: pc * 4})
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	e, err := q.Dequeue()
	if err != nil || e.PC != 4 {
		t.Errorf("Dequeue() = %v, %v, want pc 4", e, err)
	}
	_, _ = q.Dequeue()
	if _, err := q.Dequeue(); err == nil {
		t.Errorf("Dequeue() on empty queue: want error")
	}
}
