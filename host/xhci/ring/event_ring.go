package ring

import (
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// EventRing is the software consumer of a controller-produced ring spanning
// the segments of a [SegmentTable].
type EventRing struct {
	mu    sync.Mutex
	table *SegmentTable
	segs  []*dma.Region
	seg   int
	deq   cursor
}

// NewEventRing returns a consumer positioned at the first slot of segment 0
// with cycle state 1. segments must match the table entries in order; their
// contents are cleared.
func NewEventRing(table *SegmentTable, segments []*dma.Region) (*EventRing, error) {
	if len(segments) != table.EntryCount() {
		return nil, fmt.Errorf("%w: %d regions for %d entries",
			ErrSegmentSize, len(segments), table.EntryCount())
	}
	for i, s := range segments {
		e := table.Entry(i)
		if s.Base() != e.Base || s.Size() < e.Bytes() {
			return nil, fmt.Errorf("%w: region %v (%d bytes) does not back entry %d at %v",
				ErrSegmentSize, s.Base(), s.Size(), i, e.Base)
		}
	}
	for _, s := range segments {
		s.Zero()
	}
	return &EventRing{
		table: table,
		segs:  segments,
		deq:   cursor{cycle: true},
	}, nil
}

// Table returns the segment table backing the ring.
func (r *EventRing) Table() *SegmentTable { return r.table }

// TryDequeue returns the next event block. It reports false when the slot at
// the dequeue pointer still belongs to the controller.
func (r *EventRing) TryDequeue() (trb.Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := loadBlock(r.segs[r.seg], r.deq.index*trb.Size)
	if b.Cycle() != r.deq.cycle {
		return trb.Block{}, false
	}
	r.deq.index++
	if r.deq.index == r.table.Entry(r.seg).Blocks {
		r.deq.index = 0
		r.seg++
		if r.seg == len(r.segs) {
			r.seg = 0
			r.deq.cycle = !r.deq.cycle
			pkg.LogDebug(pkg.ComponentEvent, "event ring wrapped", "cycle", r.deq.cycle)
		}
	}
	return b, true
}

// DequeuePointer returns the address of the next slot to be consumed. This
// is the value published to the controller after each drain pass.
func (r *EventRing) DequeuePointer() dma.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segs[r.seg].Base() + dma.Addr(r.deq.index*trb.Size)
}

// Segment returns the index of the segment holding the dequeue pointer.
func (r *EventRing) Segment() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seg
}

// Cycle returns the consumer cycle state.
func (r *EventRing) Cycle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deq.cycle
}
