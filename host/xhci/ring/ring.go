package ring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// MinSlots is the smallest ring: one usable slot plus the Link slot.
const MinSlots = 2

// Errors.
var (
	// ErrRingFull is returned by Enqueue when every usable slot holds a block
	// the consumer has not yet retired.
	ErrRingFull = errors.New("ring full")

	// ErrRingSize indicates the backing region cannot hold a ring.
	ErrRingSize = errors.New("invalid ring size")

	// ErrMisaligned indicates a ring or segment base that violates
	// [trb.SegmentAlignment].
	ErrMisaligned = errors.New("misaligned ring base")

	// ErrNotPending is returned by Retire for an address that does not hold
	// an outstanding block.
	ErrNotPending = errors.New("address is not pending on ring")
)

// cursor is a slot index paired with the cycle state expected there.
type cursor struct {
	index int
	cycle bool
}

// Ring is a single-segment block ring. Slot Len()-1 is reserved for the Link
// block that returns traversal to slot 0.
//
// The producer cursor is moved by Enqueue. The consumer cursor is moved by
// TryDequeue when software consumes the ring, or by Retire when the
// controller does.
type Ring struct {
	mu  sync.Mutex
	mem *dma.Region
	n   int
	enq cursor
	deq cursor
}

// New formats mem as an empty ring with producer cycle state 1. Any previous
// contents are cleared.
func New(mem *dma.Region) (*Ring, error) {
	r, err := newRing(mem)
	if err != nil {
		return nil, err
	}
	mem.Zero()
	r.enq = cursor{cycle: true}
	r.deq = r.enq
	return r, nil
}

// Open attaches a consumer to a ring that already lives in mem, starting at
// the dequeue address deq with cycle state cycle. The memory is left as is.
func Open(mem *dma.Region, deq dma.Addr, cycle bool) (*Ring, error) {
	r, err := newRing(mem)
	if err != nil {
		return nil, err
	}
	off, ok := mem.Offset(deq)
	if !ok || off%trb.Size != 0 {
		return nil, fmt.Errorf("%w: dequeue pointer %v", ErrNotPending, deq)
	}
	r.deq = cursor{index: off / trb.Size, cycle: cycle}
	r.enq = r.deq
	return r, nil
}

func newRing(mem *dma.Region) (*Ring, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: nil region", ErrRingSize)
	}
	if !mem.Base().Aligned(trb.SegmentAlignment) {
		return nil, fmt.Errorf("%w: %v", ErrMisaligned, mem.Base())
	}
	n := mem.Size() / trb.Size
	if n < MinSlots {
		return nil, fmt.Errorf("%w: %d bytes holds %d slots", ErrRingSize, mem.Size(), n)
	}
	return &Ring{mem: mem, n: n}, nil
}

// Address returns the bus address of slot 0.
func (r *Ring) Address() dma.Addr { return r.mem.Base() }

// Len returns the number of slots, including the Link slot.
func (r *Ring) Len() int { return r.n }

// Capacity returns the number of blocks the ring holds when full.
func (r *Ring) Capacity() int { return r.n - 1 }

// Contains reports whether a is the address of a usable slot.
func (r *Ring) Contains(a dma.Addr) bool {
	off, ok := r.mem.Offset(a)
	return ok && off%trb.Size == 0 && off/trb.Size < r.n-1
}

// Cycle returns the producer cycle state.
func (r *Ring) Cycle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enq.cycle
}

// Next returns the address the next Enqueue writes to.
func (r *Ring) Next() dma.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot(r.enq.index)
}

// DequeuePointer returns the address of the oldest block not yet consumed
// and the cycle state expected there.
func (r *Ring) DequeuePointer() (dma.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.wrap(r.deq)
	return r.slot(d.index), d.cycle
}

// Free returns the number of blocks Enqueue accepts before ErrRingFull.
func (r *Ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n - 1 - r.used()
}

// Pending returns the number of blocks enqueued and not yet consumed.
func (r *Ring) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used()
}

// Enqueue publishes b at the producer cursor and returns its address.
func (r *Ring) Enqueue(b trb.Block) (dma.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used() == r.n-1 {
		return 0, ErrRingFull
	}
	return r.push(b), nil
}

// EnqueueAll publishes bs in order. Either every block is published or none
// is.
func (r *Ring) EnqueueAll(bs []trb.Block) ([]dma.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if free := r.n - 1 - r.used(); len(bs) > free {
		return nil, fmt.Errorf("%w: %d blocks, %d free", ErrRingFull, len(bs), free)
	}
	addrs := make([]dma.Addr, len(bs))
	for i, b := range bs {
		addrs[i] = r.push(b)
	}
	return addrs, nil
}

// push writes b at the producer cursor and advances it, emitting the Link
// block after the last usable slot. r.mu must be held.
func (r *Ring) push(b trb.Block) dma.Addr {
	addr := r.slot(r.enq.index)
	r.store(r.enq.index, b.WithCycle(r.enq.cycle))
	r.enq.index++
	if r.enq.index == r.n-1 {
		// The Link block belongs to the generation that just ended.
		link := trb.Link{Segment: r.mem.Base(), ToggleCycle: true}
		r.store(r.n-1, link.Encode().WithCycle(r.enq.cycle))
		r.enq = cursor{cycle: !r.enq.cycle}
		pkg.LogDebug(pkg.ComponentRing, "ring wrapped",
			"base", r.mem.Base(), "cycle", r.enq.cycle)
	}
	return addr
}

// TryDequeue returns the block at the consumer cursor and its address. It
// reports false without advancing when the slot still belongs to the
// producer. Link blocks are followed and never returned.
func (r *Ring) TryDequeue() (trb.Block, dma.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, addr, ok := r.peek()
	if ok {
		r.deq.index++
	}
	return b, addr, ok
}

// Peek is TryDequeue without consuming the block. Link blocks in the way are
// still followed.
func (r *Ring) Peek() (trb.Block, dma.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peek()
}

func (r *Ring) peek() (trb.Block, dma.Addr, bool) {
	for range r.n {
		if r.deq.index >= r.n {
			r.deq = cursor{cycle: !r.deq.cycle}
		}
		b := r.load(r.deq.index)
		if b.Cycle() != r.deq.cycle {
			return trb.Block{}, 0, false
		}
		if b.Type() != trb.TypeLink {
			return b, r.slot(r.deq.index), true
		}
		if !r.follow(b) {
			return trb.Block{}, 0, false
		}
	}
	pkg.LogError(pkg.ComponentRing, "link loop", "base", r.mem.Base())
	return trb.Block{}, 0, false
}

// follow moves the consumer cursor to the target of a Link block.
func (r *Ring) follow(b trb.Block) bool {
	v, err := trb.Decode(b, trb.RoleCommand|trb.RoleTransfer)
	if err != nil {
		pkg.LogWarn(pkg.ComponentRing, "invalid link block",
			"base", r.mem.Base(), "index", r.deq.index, "error", err)
		return false
	}
	link := v.(trb.Link)
	off, ok := r.mem.Offset(link.Segment)
	if !ok {
		pkg.LogWarn(pkg.ComponentRing, "link leaves segment",
			"base", r.mem.Base(), "target", link.Segment)
		return false
	}
	r.deq.index = off / trb.Size
	if link.ToggleCycle {
		r.deq.cycle = !r.deq.cycle
	}
	return true
}

// Retire records that the consumer has processed every block up to and
// including the one at addr.
func (r *Ring) Retire(addr dma.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Contains(addr) {
		return fmt.Errorf("%w: %v", ErrNotPending, addr)
	}
	target := int(addr-r.mem.Base()) / trb.Size
	d := r.wrap(r.deq)
	for n := r.used(); n > 0; n-- {
		i := d.index
		d = r.advance(d)
		if i == target {
			r.deq = d
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrNotPending, addr)
}

// Discard abandons every block not yet consumed and returns their addresses
// in ring order. The consumer cursor moves to the producer cursor, which is
// where a consumer must be repositioned to resume.
func (r *Ring) Discard() []dma.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	var addrs []dma.Addr
	d := r.wrap(r.deq)
	for n := r.used(); n > 0; n-- {
		addrs = append(addrs, r.slot(d.index))
		d = r.advance(d)
	}
	r.deq = r.enq
	return addrs
}

// used returns the number of published, unconsumed blocks. r.mu must be
// held.
func (r *Ring) used() int {
	e, d := r.enq, r.wrap(r.deq)
	if e.cycle == d.cycle {
		return e.index - d.index
	}
	return r.n - 1 - d.index + e.index
}

// wrap maps a cursor parked on the Link slot to the slot the Link leads to.
func (r *Ring) wrap(c cursor) cursor {
	if c.index >= r.n-1 {
		return cursor{cycle: !c.cycle}
	}
	return c
}

func (r *Ring) advance(c cursor) cursor {
	c.index++
	return r.wrap(c)
}

func (r *Ring) slot(i int) dma.Addr {
	return r.mem.Base() + dma.Addr(i*trb.Size)
}

// store writes b into slot i, word 3 last.
func (r *Ring) store(i int, b trb.Block) {
	off := i * trb.Size
	r.mem.Store32(off, b[0])
	r.mem.Store32(off+4, b[1])
	r.mem.Store32(off+8, b[2])
	r.mem.Store32(off+12, b[3])
}

// load reads slot i, word 3 first.
func (r *Ring) load(i int) trb.Block {
	return loadBlock(r.mem, i*trb.Size)
}

func loadBlock(mem *dma.Region, off int) trb.Block {
	var b trb.Block
	b[3] = mem.Load32(off + 12)
	b[0] = mem.Load32(off)
	b[1] = mem.Load32(off + 4)
	b[2] = mem.Load32(off + 8)
	return b
}
