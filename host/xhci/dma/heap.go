package dma

import (
	"sync"

	"github.com/ardnew/softxhci/pkg"
)

// DefaultHeapBase is the first bus address handed out by a [HeapAllocator]
// created with a zero base.
const DefaultHeapBase Addr = 0x1000_0000

// HeapAllocator allocates regions from the Go heap and assigns them
// non-overlapping synthetic bus addresses. Regions are never reused, so a
// stale address always resolves to the region it was handed out for or to
// nothing.
type HeapAllocator struct {
	regionTable

	mu   sync.Mutex
	next Addr
}

// NewHeapAllocator creates an allocator whose first region starts at base.
func NewHeapAllocator(base Addr) *HeapAllocator {
	if base == 0 {
		base = DefaultHeapBase
	}
	return &HeapAllocator{next: base}
}

// Alloc implements [Allocator].
func (h *HeapAllocator) Alloc(size, align int) (*Region, error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}

	h.mu.Lock()
	base := Addr(alignUp(uint64(h.next), uint64(align)))
	nwords := (size + 3) / 4
	h.next = base + Addr(nwords*4)
	h.mu.Unlock()

	var r *Region
	r = NewRegion(base, make([]uint32, nwords), func() error {
		h.remove(r)
		return nil
	})
	h.add(r)

	pkg.LogDebug(pkg.ComponentDMA, "heap region allocated",
		"base", base, "size", size, "align", align)
	return r, nil
}
