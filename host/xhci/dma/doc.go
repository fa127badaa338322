// Package dma describes memory shared between the driver and the host
// controller.
//
// A [Region] is a physically contiguous, aligned block of memory together
// with the bus address the controller uses to reach it. All word access goes
// through bounds-checked, atomic 32-bit loads and stores so that a store to
// the last word of a block is observed after the stores that precede it.
//
// Address translation lives here and nowhere else: ring and channel code only
// ever sees [Addr] values and asks a [Resolver] to map them back to a region
// and offset.
//
// Two allocators are provided:
//   - [HeapAllocator] backs regions with Go memory and hands out synthetic
//     bus addresses. It is used by tests and by the simulated controller in
//     [github.com/ardnew/softxhci/host/xhci/xhcitest].
//   - MmapAllocator (linux only) backs regions with anonymous page-aligned
//     mappings whose user address doubles as the bus address, as with vhost.
package dma
