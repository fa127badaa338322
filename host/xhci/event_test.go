package xhci

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/host/xhci/xhcitest"
)

func portChange(port uint8) trb.Block {
	return trb.PortStatusChange{Port: port, Code: trb.CodeSuccess}.Encode()
}

func TestDrain_Empty(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())

	n, err := f.c.Events().Drain()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, xhcitest.Dequeue{Pointer: f.mem.Base(), ClearBusy: true}, f.regs.lastDequeue(),
		"dequeue pointer is published every pass")
	assert.Equal(t, int64(1), f.c.Stats().DrainPasses.Count())
}

func TestDrain_SkipsMalformed(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())

	bad := portChange(1)
	bad[0] |= 1 // reserved
	f.post(
		bad,
		trb.Block{0, 0, 0, uint32(trb.TypeNormal) << 10}, // not an event
		trb.HostControllerEvent{Code: trb.CodeEventRingFull}.Encode(),
		trb.TransferEvent{Pointer: 0xdead_beef, EventData: true, Code: trb.CodeSuccess, SlotID: 1, EndpointID: 1}.Encode(),
		portChange(2),
	)

	n, err := f.c.Events().Drain()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	stats := f.c.Stats()
	assert.Equal(t, int64(2), stats.DecodeErrors.Count())
	assert.Equal(t, int64(2), stats.UnknownEvents.Count())
	assert.Equal(t, int64(5), stats.EventsDrained.Count())

	pc := <-f.c.PortChanges()
	assert.Equal(t, PortChange{Port: 2, Code: trb.CodeSuccess}, pc)
	assert.Equal(t, f.mem.Base()+5*trb.Size, f.regs.lastDequeue().Pointer)
}

func TestDrain_UnexpectedCompletion(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())

	f.post(
		trb.CommandCompletion{Command: 0x4000, Code: trb.CodeSuccess}.Encode(),
		portChange(1),
	)
	n, err := f.c.Events().Drain()
	assert.ErrorIs(t, err, ErrUnexpectedCompletion)
	assert.Equal(t, 1, n, "the pass stops at the violation")
	assert.Equal(t, f.mem.Base()+trb.Size, f.regs.lastDequeue().Pointer)

	n, err = f.c.Events().Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.c.PortChanges(), 1)
}

func TestDrain_UnexpectedTransfer(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())

	f.post(trb.TransferEvent{Pointer: 0x4000, Code: trb.CodeSuccess, SlotID: 1, EndpointID: 2}.Encode())
	_, err := f.c.Events().Drain()
	assert.ErrorIs(t, err, ErrUnexpectedCompletion)
}

func TestDrain_StopCodes(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	tr, err := f.c.OpenEndpoint(1, 2)
	require.NoError(t, err)

	// A stop on a block nobody waits for is informational.
	f.post(trb.TransferEvent{Pointer: tr.Address(), Code: trb.CodeStopped, SlotID: 1, EndpointID: 2}.Encode())
	_, err = f.c.Events().Drain()
	require.NoError(t, err)

	addrs, err := tr.Submit([]trb.Transfer{trb.Normal{Buffer: 0x8000, Length: 8, IOC: true}})
	require.NoError(t, err)
	f.post(trb.TransferEvent{Pointer: addrs[0], Length: 8, Code: trb.CodeStoppedLengthInvalid, SlotID: 1, EndpointID: 2}.Encode())
	_, err = f.c.Events().Drain()
	require.NoError(t, err)

	_, err = f.c.Registry().Take(addrs[0])
	assert.ErrorIs(t, err, ErrNotFulfilled, "a stop does not complete the request")
	assert.Equal(t, 1, tr.ring.Pending(), "a stopped block is not consumed")
	assert.Equal(t, int64(2), f.c.Stats().EndpointStops.Count())

	// Once restarted the block completes normally.
	f.post(trb.TransferEvent{Pointer: addrs[0], Code: trb.CodeSuccess, SlotID: 1, EndpointID: 2}.Encode())
	_, err = f.c.Events().Drain()
	require.NoError(t, err)
	evt, err := f.c.Registry().Take(addrs[0])
	require.NoError(t, err)
	assert.Equal(t, trb.CodeSuccess, evt.(trb.TransferEvent).Code)
	assert.Zero(t, tr.ring.Pending())
}

func TestDrain_PortChangeOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PortChangeBuffer = 2
	f := newFakeHost(t, cfg)

	f.post(portChange(1), portChange(2), portChange(3), portChange(4))
	n, err := f.c.Events().Drain()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, int64(4), f.c.Stats().PortChanges.Count())
	assert.Equal(t, int64(2), f.c.Stats().PortChangesDropped.Count())
	assert.Equal(t, uint8(1), (<-f.c.PortChanges()).Port)
	assert.Equal(t, uint8(2), (<-f.c.PortChanges()).Port)
	assert.Empty(t, f.c.PortChanges())
}

func TestDrain_Wraps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventSegmentSlots = MinEventSegmentSlots
	cfg.PortChangeBuffer = 0
	f := newFakeHost(t, cfg)

	total := 0
	for range 5 {
		for i := range 7 {
			f.post(portChange(uint8(i + 1)))
		}
		n, err := f.c.Events().Drain()
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		total += n
	}
	want := f.mem.Base() + dma.Addr(total%MinEventSegmentSlots*trb.Size)
	assert.Equal(t, want, f.regs.lastDequeue().Pointer)
}

func TestRun_Interrupts(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	irq := make(chan struct{})

	g := new(errgroup.Group)
	g.Go(func() error { return f.c.Run(context.Background(), irq) })

	f.post(portChange(7))
	irq <- struct{}{}
	select {
	case pc := <-f.c.PortChanges():
		assert.Equal(t, uint8(7), pc.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("event not drained")
	}

	close(irq)
	assert.NoError(t, g.Wait(), "a closed interrupt channel ends the loop")
}

func TestRun_Polling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	f := newFakeHost(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.c.Run(ctx, nil) })

	f.post(portChange(3))
	select {
	case pc := <-f.c.PortChanges():
		assert.Equal(t, uint8(3), pc.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("event not drained")
	}

	cancel()
	assert.NoError(t, g.Wait())
}

func TestRun_ProtocolViolation(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	f.post(trb.CommandCompletion{Command: 0x4000, Code: trb.CodeSuccess}.Encode())

	err := f.c.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnexpectedCompletion)
}
