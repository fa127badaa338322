package xhci

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Endpoint addressing limits.
const (
	MaxDCI = 31 // device context index of OUT/IN endpoint 15
)

// TransferRing publishes transfer blocks for one endpoint of one device
// slot.
type TransferRing struct {
	mu       sync.Mutex
	slot     uint8
	dci      uint8
	ring     *ring.Ring
	mem      *dma.Region
	registry *Registry
	regs     Registers
	metrics  *Metrics
	halted   bool
	closed   bool
}

// Slot returns the device slot ID.
func (t *TransferRing) Slot() uint8 { return t.slot }

// DCI returns the device context index of the endpoint.
func (t *TransferRing) DCI() uint8 { return t.dci }

// Address returns the bus address of the ring, to be placed in the endpoint
// context as the TR dequeue pointer.
func (t *TransferRing) Address() dma.Addr { return t.ring.Address() }

// Cycle returns the producer cycle state, to be placed in the endpoint
// context as the dequeue cycle state.
func (t *TransferRing) Cycle() bool { return t.ring.Cycle() }

// Free returns the number of blocks that can be submitted.
func (t *TransferRing) Free() int { return t.ring.Free() }

// Halted reports whether a transfer on the endpoint completed with an error
// that stops the endpoint.
func (t *TransferRing) Halted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted
}

// Submit publishes blocks as one unit and rings the endpoint doorbell. Only
// blocks with interrupt-on-completion are registered; the result holds
// their addresses at the matching positions and zero elsewhere.
func (t *TransferRing) Submit(blocks []trb.Transfer) ([]dma.Addr, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: empty transfer", pkg.ErrInvalidParameter)
	}
	raw := make([]trb.Block, len(blocks))
	for i, b := range blocks {
		if b.Type() == trb.TypeLink {
			return nil, fmt.Errorf("%w: link blocks are managed by the ring", pkg.ErrInvalidParameter)
		}
		raw[i] = b.Encode()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		return nil, pkg.ErrClosed
	case t.halted:
		return nil, fmt.Errorf("%w: endpoint %d.%d halted", pkg.ErrInvalidState, t.slot, t.dci)
	}

	if free := t.ring.Free(); len(raw) > free {
		return nil, fmt.Errorf("endpoint %d.%d: %w: %d blocks, %d free",
			t.slot, t.dci, ring.ErrRingFull, len(raw), free)
	}

	// Slots are predictable while t.mu is held, so completions are
	// registered before any block becomes visible to the controller.
	addrs := make([]dma.Addr, len(blocks))
	next := t.ring.Next()
	for i, b := range blocks {
		if b.InterruptOnCompletion() {
			addrs[i] = next
		}
		next = t.following(next)
	}
	var registered []dma.Addr
	for _, a := range addrs {
		if a == 0 {
			continue
		}
		if err := t.registry.Register(a, nil); err != nil {
			t.registry.Forget(registered...)
			return nil, err
		}
		registered = append(registered, a)
	}

	written, err := t.ring.EnqueueAll(raw)
	if err != nil {
		t.registry.Forget(registered...)
		return nil, fmt.Errorf("endpoint %d.%d: %w", t.slot, t.dci, err)
	}
	for i := range addrs {
		if addrs[i] != 0 && addrs[i] != written[i] {
			panic(fmt.Sprintf("xhci: block %d published at %v, registered at %v", i, written[i], addrs[i]))
		}
	}
	t.regs.RingDoorbell(t.slot, t.dci, 0)

	t.metrics.TransfersSubmitted.Inc(1)
	t.metrics.PendingRequests.Update(int64(t.registry.Pending()))
	pkg.LogDebug(pkg.ComponentTransfer, "transfer submitted",
		"slot", t.slot, "dci", t.dci, "blocks", len(blocks), "addr", written[0])
	return addrs, nil
}

// Resume rings the endpoint doorbell, restarting an endpoint that was
// stopped with transfers still pending. Their completions arrive as usual.
func (t *TransferRing) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		return pkg.ErrClosed
	case t.halted:
		return fmt.Errorf("%w: endpoint %d.%d halted", pkg.ErrInvalidState, t.slot, t.dci)
	}
	t.regs.RingDoorbell(t.slot, t.dci, 0)
	pkg.LogDebug(pkg.ComponentTransfer, "endpoint resumed",
		"slot", t.slot, "dci", t.dci, "pending", t.ring.Pending())
	return nil
}

// following returns the slot address after a, skipping the Link slot.
func (t *TransferRing) following(a dma.Addr) dma.Addr {
	a += trb.Size
	if !t.ring.Contains(a) {
		return t.ring.Address()
	}
	return a
}

// Control performs a control transfer on the endpoint: a Setup stage, a
// Data stage when setup.Length is nonzero, and a Status stage. buf is the
// data stage buffer. It returns the number of data bytes transferred.
func (t *TransferRing) Control(ctx context.Context, setup hal.SetupPacket, buf dma.Addr) (int, error) {
	in := setup.RequestType&0x80 != 0
	stage := trb.SetupStage{Setup: setup, IOC: true}
	var data []trb.Transfer
	if setup.Length > 0 {
		stage.DataStage = trb.OutDataStage
		if in {
			stage.DataStage = trb.InDataStage
		}
		data = append(data, trb.DataStage{
			Buffer: buf,
			Length: uint32(setup.Length),
			IOC:    true,
			In:     in,
		})
	}
	blocks := append([]trb.Transfer{stage}, data...)
	// The status stage runs opposite to the data stage, IN when there is none.
	blocks = append(blocks, trb.StatusStage{IOC: true, In: len(data) == 0 || !in})

	evts, err := t.run(ctx, blocks)
	return t.transferred(blocks, evts), err
}

// Bulk transfers length bytes at buf through a single Normal block. It
// returns the number of bytes transferred; a short packet is not an error.
func (t *TransferRing) Bulk(ctx context.Context, buf dma.Addr, length uint32) (int, error) {
	if length > trb.MaxTransferLength {
		return 0, fmt.Errorf("%w: bulk length %d exceeds %d",
			pkg.ErrInvalidParameter, length, trb.MaxTransferLength)
	}
	blocks := []trb.Transfer{trb.Normal{
		Buffer:        buf,
		Length:        length,
		ShortPacketOK: true,
		IOC:           true,
	}}
	evts, err := t.run(ctx, blocks)
	return t.transferred(blocks, evts), err
}

// run submits blocks and awaits each registered completion in order. If a
// completion reports an error that stops the endpoint the remaining
// requests are abandoned.
func (t *TransferRing) run(ctx context.Context, blocks []trb.Transfer) ([]trb.TransferEvent, error) {
	addrs, err := t.Submit(blocks)
	if err != nil {
		return nil, err
	}
	evts := make([]trb.TransferEvent, len(blocks))
	for i, a := range addrs {
		if a == 0 {
			continue
		}
		evt, err := t.registry.Await(ctx, a)
		if err != nil {
			t.registry.Drop(addrs[i+1:]...)
			return evts, err
		}
		te, ok := evt.(trb.TransferEvent)
		if !ok {
			return evts, fmt.Errorf("%w: %v for transfer at %v", ErrUnexpectedEvent, evt.Type(), a)
		}
		evts[i] = te
		switch te.Code {
		case trb.CodeSuccess, trb.CodeShortPacket:
		default:
			t.halt(addrs[i+1:])
			return evts, fmt.Errorf("endpoint %d.%d %v: %w", t.slot, t.dci, blocks[i].Type(), te.Code.Err())
		}
	}
	return evts, nil
}

// halt marks the endpoint stopped and abandons requests that will never
// complete.
func (t *TransferRing) halt(rest []dma.Addr) {
	t.mu.Lock()
	t.halted = true
	t.mu.Unlock()
	if n := t.registry.Forget(rest...); n > 0 {
		pkg.LogWarn(pkg.ComponentTransfer, "abandoned requests on halted endpoint",
			"slot", t.slot, "dci", t.dci, "count", n)
	}
}

// transferred sums the bytes moved by the data-carrying blocks.
func (t *TransferRing) transferred(blocks []trb.Transfer, evts []trb.TransferEvent) int {
	n := 0
	for i, b := range blocks {
		// A zero event was never awaited.
		if i >= len(evts) || evts[i].Code == trb.CodeInvalid {
			continue
		}
		var length uint32
		switch v := b.(type) {
		case trb.Normal:
			length = v.Length
		case trb.DataStage:
			length = v.Length
		default:
			continue
		}
		n += int(length - min(evts[i].Length, length))
	}
	return n
}

// reset discards every outstanding block and clears the halted state. It
// returns the dequeue pointer and cycle state the controller must resume
// from.
func (t *TransferRing) reset() (dma.Addr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	abandoned := t.ring.Discard()
	t.registry.Forget(abandoned...)
	t.halted = false
	return t.ring.DequeuePointer()
}

// retire records that the controller consumed the block at addr.
func (t *TransferRing) retire(addr dma.Addr) error {
	return t.ring.Retire(addr)
}

func (t *TransferRing) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.registry.Forget(t.ring.Discard()...)
	return t.mem.Close()
}
