package dma

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Addr is a bus address as seen by the host controller.
type Addr uint64

// Aligned reports whether a is a multiple of n. n must be a power of two.
func (a Addr) Aligned(n uint64) bool {
	return uint64(a)&(n-1) == 0
}

// Lo returns the low 32 bits of a.
func (a Addr) Lo() uint32 { return uint32(a) }

// Hi returns the high 32 bits of a.
func (a Addr) Hi() uint32 { return uint32(a >> 32) }

// String formats a as a hexadecimal bus address.
func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Join assembles an address from its low and high words.
func Join(lo, hi uint32) Addr {
	return Addr(uint64(hi)<<32 | uint64(lo))
}

// Errors.
var (
	ErrInvalidSize      = errors.New("invalid region size")
	ErrInvalidAlignment = errors.New("invalid region alignment")
	ErrUnmapped         = errors.New("address is not mapped")
)

// Allocator hands out DMA regions.
type Allocator interface {
	// Alloc returns a zeroed region of at least size bytes whose bus
	// address is a multiple of align.
	Alloc(size, align int) (*Region, error)
}

// Resolver maps bus addresses back to the regions that contain them.
type Resolver interface {
	// Resolve returns the region containing a and the byte offset of a
	// within it.
	Resolve(a Addr) (*Region, int, error)
}

// Region is a contiguous block of DMA memory.
type Region struct {
	base    Addr
	words   []uint32
	release func() error
	once    sync.Once
}

// NewRegion wraps words as a region located at bus address base.
func NewRegion(base Addr, words []uint32, release func() error) *Region {
	return &Region{base: base, words: words, release: release}
}

// Slice returns a view of the first size bytes of r, rounded up to a whole
// word. The view shares memory with r and closing it releases nothing;
// allocators that round requests up to a page use it to hand callers
// exactly what they asked for.
func (r *Region) Slice(size int) (*Region, error) {
	if size <= 0 || size > r.Size() {
		return nil, fmt.Errorf("%w: %d bytes of %d", ErrInvalidSize, size, r.Size())
	}
	return NewRegion(r.base, r.words[:(size+3)/4:(size+3)/4], nil), nil
}

// Base returns the bus address of the first byte.
func (r *Region) Base() Addr { return r.base }

// Size returns the region size in bytes.
func (r *Region) Size() int { return len(r.words) * 4 }

// End returns the bus address one past the last byte.
func (r *Region) End() Addr { return r.base + Addr(r.Size()) }

// Contains reports whether a falls inside the region.
func (r *Region) Contains(a Addr) bool {
	return a >= r.base && a < r.End()
}

// Offset returns the byte offset of a within the region.
func (r *Region) Offset(a Addr) (int, bool) {
	if !r.Contains(a) {
		return 0, false
	}
	return int(a - r.base), true
}

// Load32 atomically loads the 32-bit word at byte offset off.
func (r *Region) Load32(off int) uint32 {
	return atomic.LoadUint32(&r.words[wordIndex(off)])
}

// Store32 atomically stores v at byte offset off.
func (r *Region) Store32(off int, v uint32) {
	atomic.StoreUint32(&r.words[wordIndex(off)], v)
}

// Load64 loads a 64-bit little-endian value split across two words.
func (r *Region) Load64(off int) uint64 {
	return uint64(r.Load32(off)) | uint64(r.Load32(off+4))<<32
}

// Store64 stores v as two words, low word first.
func (r *Region) Store64(off int, v uint64) {
	r.Store32(off, uint32(v))
	r.Store32(off+4, uint32(v>>32))
}

// ReadAt copies bytes starting at byte offset off into p. It implements
// [io.ReaderAt].
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(r.Size()) {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidSize, off)
	}
	n := min(len(p), r.Size()-int(off))
	for i := range n {
		o := int(off) + i
		p[i] = byte(r.Load32(o&^3) >> (8 * (o & 3)))
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies p into the region starting at byte offset off. It
// implements [io.WriterAt]. Words are updated in place, so concurrent
// writers of the same word must be serialized by the caller.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(r.Size()) {
		return 0, fmt.Errorf("%w: %d bytes at offset %d", ErrInvalidSize, len(p), off)
	}
	for i, c := range p {
		o := int(off) + i
		w := o &^ 3
		shift := 8 * (o & 3)
		r.Store32(w, r.Load32(w)&^(0xff<<shift)|uint32(c)<<shift)
	}
	return len(p), nil
}

// Zero clears the whole region.
func (r *Region) Zero() {
	for i := range r.words {
		atomic.StoreUint32(&r.words[i], 0)
	}
}

// Close releases the memory backing the region. Further access panics.
func (r *Region) Close() error {
	var err error
	r.once.Do(func() {
		if r.release != nil {
			err = r.release()
		}
		r.words = nil
	})
	return err
}

func wordIndex(off int) int {
	if off&3 != 0 {
		panic(fmt.Sprintf("dma: unaligned word offset %d", off))
	}
	return off >> 2
}

// regionTable tracks live regions sorted by base address.
type regionTable struct {
	mu      sync.RWMutex
	regions []*Region
}

func (t *regionTable) add(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].base > r.base
	})
	t.regions = append(t.regions, nil)
	copy(t.regions[i+1:], t.regions[i:])
	t.regions[i] = r
}

func (t *regionTable) remove(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, x := range t.regions {
		if x == r {
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			return
		}
	}
}

// Resolve implements [Resolver].
func (t *regionTable) Resolve(a Addr) (*Region, int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].End() > a
	})
	if i < len(t.regions) {
		if off, ok := t.regions[i].Offset(a); ok {
			return t.regions[i], off, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %v", ErrUnmapped, a)
}

func checkRequest(size, align int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrInvalidAlignment, align)
	}
	return nil
}

func alignUp(v, n uint64) uint64 {
	return (v + n - 1) &^ (n - 1)
}
