package ring

import (
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/trb"
)

// EntrySize is the size of a segment table entry in bytes.
const EntrySize = 16

// MaxSegmentBlocks is the largest segment a table entry describes; its byte
// length is 64 KiB.
const MaxSegmentBlocks = 1 << 16 / trb.Size

// ErrSegmentSize indicates a segment length of zero or one beyond
// [MaxSegmentBlocks].
var ErrSegmentSize = errors.New("invalid segment size")

// Segment is one segment table entry.
type Segment struct {
	// Base is the bus address of the first block.
	Base dma.Addr
	// Blocks is the segment length in blocks.
	Blocks int
}

// Bytes returns the segment length in bytes.
func (s Segment) Bytes() int { return s.Blocks * trb.Size }

// Contains reports whether a falls inside the segment.
func (s Segment) Contains(a dma.Addr) bool {
	return a >= s.Base && a < s.Base+dma.Addr(s.Bytes())
}

// SegmentTable is the array of segments that makes up one event ring. Each
// entry occupies 16 bytes: the 64-bit base address in words 0 and 1 and the
// segment size, in blocks, in the low 16 bits of word 2.
//
// Once the table address and entry count are handed to the controller the
// table must not change.
type SegmentTable struct {
	mem   *dma.Region
	count int
}

// Build writes one entry per address into mem, each describing a segment of
// ringLength blocks. Entries appear in the order the segments are consumed.
func Build(mem *dma.Region, addrs []dma.Addr, ringLength int) (*SegmentTable, error) {
	segs := make([]Segment, len(addrs))
	for i, a := range addrs {
		segs[i] = Segment{Base: a, Blocks: ringLength}
	}
	return build(mem, segs)
}

// BuildSegmentTable writes one entry per region into mem.
func BuildSegmentTable(mem *dma.Region, segments []*dma.Region) (*SegmentTable, error) {
	segs := make([]Segment, len(segments))
	for i, s := range segments {
		segs[i] = Segment{Base: s.Base(), Blocks: s.Size() / trb.Size}
	}
	return build(mem, segs)
}

// ReadSegmentTable interprets count entries already present in mem, as a
// controller does when the table registers are written.
func ReadSegmentTable(mem *dma.Region, count int) (*SegmentTable, error) {
	t, err := newTable(mem, count)
	if err != nil {
		return nil, err
	}
	for i := range count {
		if err := checkSegment(t.Entry(i)); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return t, nil
}

func build(mem *dma.Region, segs []Segment) (*SegmentTable, error) {
	t, err := newTable(mem, len(segs))
	if err != nil {
		return nil, err
	}
	for i, s := range segs {
		if err := checkSegment(s); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	mem.Zero()
	for i, s := range segs {
		off := i * EntrySize
		mem.Store64(off, uint64(s.Base))
		mem.Store32(off+8, uint32(s.Blocks))
	}
	return t, nil
}

func newTable(mem *dma.Region, count int) (*SegmentTable, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: nil table region", ErrSegmentSize)
	}
	if !mem.Base().Aligned(trb.SegmentAlignment) {
		return nil, fmt.Errorf("%w: table %v", ErrMisaligned, mem.Base())
	}
	if count < 1 || count*EntrySize > mem.Size() {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrSegmentSize, count, mem.Size())
	}
	return &SegmentTable{mem: mem, count: count}, nil
}

func checkSegment(s Segment) error {
	if !s.Base.Aligned(trb.SegmentAlignment) {
		return fmt.Errorf("%w: segment %v", ErrMisaligned, s.Base)
	}
	if s.Blocks < 1 || s.Blocks > MaxSegmentBlocks {
		return fmt.Errorf("%w: %d blocks", ErrSegmentSize, s.Blocks)
	}
	return nil
}

// Address returns the bus address of the table.
func (t *SegmentTable) Address() dma.Addr { return t.mem.Base() }

// EntryCount returns the number of segments.
func (t *SegmentTable) EntryCount() int { return t.count }

// Entry returns segment i as stored in memory.
func (t *SegmentTable) Entry(i int) Segment {
	if i < 0 || i >= t.count {
		panic(fmt.Sprintf("ring: segment table entry %d out of range [0,%d)", i, t.count))
	}
	off := i * EntrySize
	return Segment{
		Base:   dma.Addr(t.mem.Load64(off)),
		Blocks: int(t.mem.Load32(off+8) & 0xffff),
	}
}
