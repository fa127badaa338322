//go:build linux

package dma

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softxhci/pkg"
)

// MmapAllocator allocates page-aligned anonymous mappings. No IOMMU
// translation is in play, so the user address of a mapping is also its bus
// address.
type MmapAllocator struct {
	regionTable
}

// NewMmapAllocator creates an allocator backed by anonymous mappings.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{}
}

// Alloc implements [Allocator]. Alignments larger than the system page size
// are rejected.
func (m *MmapAllocator) Alloc(size, align int) (*Region, error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}
	page := os.Getpagesize()
	if align > page {
		return nil, fmt.Errorf("%w: %d exceeds page size %d", ErrInvalidAlignment, align, page)
	}

	length := int(alignUp(uint64(size), uint64(page)))
	buf, err := unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("map dma region: %w", err)
	}

	base := Addr(uintptr(unsafe.Pointer(&buf[0])))
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), length/4)

	var r *Region
	r = NewRegion(base, words, func() error {
		m.remove(r)
		if err := unix.Munmap(buf); err != nil {
			return fmt.Errorf("unmap dma region: %w", err)
		}
		return nil
	})
	m.add(r)

	pkg.LogDebug(pkg.ComponentDMA, "mapped region allocated",
		"base", base, "size", length)
	return r, nil
}
