package xhci

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/host/xhci/xhcitest"
	"github.com/ardnew/softxhci/pkg"
)

// fakeRegisters records register writes. The event ring is filled by hand.
type fakeRegisters struct {
	mu           sync.Mutex
	commandRing  dma.Addr
	commandCycle bool
	tableSize    int
	tableBase    dma.Addr
	dequeues     []xhcitest.Dequeue
	doorbells    []xhcitest.Doorbell
	onDoorbell   func()
}

func (f *fakeRegisters) SetCommandRing(base dma.Addr, cycle bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandRing, f.commandCycle = base, cycle
}

func (f *fakeRegisters) SetEventRingSegmentTable(_ int, size int, base dma.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tableSize, f.tableBase = size, base
}

func (f *fakeRegisters) SetEventRingDequeue(interrupter int, ptr dma.Addr, segment int, clearBusy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dequeues = append(f.dequeues, xhcitest.Dequeue{
		Interrupter: interrupter,
		Pointer:     ptr,
		Segment:     segment,
		ClearBusy:   clearBusy,
	})
}

func (f *fakeRegisters) RingDoorbell(slot, target uint8, stream uint16) {
	f.mu.Lock()
	f.doorbells = append(f.doorbells, xhcitest.Doorbell{Slot: slot, Target: target, Stream: stream})
	hook := f.onDoorbell
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeRegisters) lastDequeue() xhcitest.Dequeue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dequeues[len(f.dequeues)-1]
}

// fakeHost is a controller wired to fakeRegisters, with a hand-driven event
// producer on the first segment.
type fakeHost struct {
	t     *testing.T
	alloc *dma.HeapAllocator
	regs  *fakeRegisters
	c     *Controller
	mem   *dma.Region
	slot  int
	cycle bool
}

func newFakeHost(t *testing.T, cfg Config) *fakeHost {
	t.Helper()
	a := dma.NewHeapAllocator(0)
	regs := &fakeRegisters{}
	c, err := New(regs, a, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	mem, _, err := a.Resolve(c.Events().Table().Entry(0).Base)
	require.NoError(t, err)
	return &fakeHost{t: t, alloc: a, regs: regs, c: c, mem: mem, cycle: true}
}

// post writes events the way a controller does: words 0 to 2, then the
// word holding the cycle bit.
func (f *fakeHost) post(blocks ...trb.Block) {
	f.t.Helper()
	for _, b := range blocks {
		b = b.WithCycle(f.cycle)
		off := f.slot * trb.Size
		f.mem.Store32(off, b[0])
		f.mem.Store32(off+4, b[1])
		f.mem.Store32(off+8, b[2])
		f.mem.Store32(off+12, b[3])
		f.slot++
		if f.slot == f.c.Config().EventSegmentSlots {
			f.slot, f.cycle = 0, !f.cycle
		}
	}
}

func TestNew_ProgramsRegisters(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	c := f.c

	assert.Equal(t, c.Commands().Address(), f.regs.commandRing)
	assert.True(t, f.regs.commandCycle)
	assert.Equal(t, 1, f.regs.tableSize)
	assert.Equal(t, c.Events().Table().Address(), f.regs.tableBase)
	assert.Equal(t, []xhcitest.Dequeue{{Pointer: f.mem.Base()}}, f.regs.dequeues)

	assert.True(t, c.Commands().Address().Aligned(trb.SegmentAlignment))
	assert.Equal(t, DefaultConfig().CommandRingSlots-1, c.Commands().Free())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventSegments = 0
	_, err := New(&fakeRegisters{}, dma.NewHeapAllocator(0), cfg)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestController_EnableSlotCompletion(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	c := f.c

	f.regs.onDoorbell = func() {
		assert.Equal(t, 1, c.Registry().Pending(), "registered before the doorbell")
	}
	addr, err := c.Commands().Submit(trb.EnableSlot{})
	require.NoError(t, err)
	assert.Equal(t, c.Commands().Address(), addr)
	assert.Equal(t, []xhcitest.Doorbell{{Slot: DoorbellHost, Target: TargetCommand}}, f.regs.doorbells)

	f.post(trb.CommandCompletion{Command: addr, Code: trb.CodeSuccess, SlotID: 1}.Encode())

	n, err := c.Events().Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	evt, err := c.Registry().Await(context.Background(), addr)
	require.NoError(t, err)
	cc, ok := evt.(trb.CommandCompletion)
	require.True(t, ok)
	assert.Equal(t, trb.CodeSuccess, cc.Code)
	assert.NotZero(t, cc.SlotID)

	assert.Equal(t, xhcitest.Dequeue{Pointer: f.mem.Base() + trb.Size, ClearBusy: true}, f.regs.lastDequeue())
	assert.Equal(t, DefaultConfig().CommandRingSlots-1, c.Commands().Free(), "completion frees the slot")
	assert.Zero(t, c.Registry().Pending())
}

func TestController_CommandFromDoorbell(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	c := f.c

	// Answer every command from inside the doorbell write.
	f.regs.onDoorbell = func() {
		f.post(trb.CommandCompletion{Command: c.Commands().Address(), Code: trb.CodeNoSlotsAvailable}.Encode())
		_, err := c.Events().Drain()
		assert.NoError(t, err)
	}

	_, err := c.EnableSlot(context.Background())
	assert.ErrorIs(t, err, pkg.ErrNoResources)
}

func TestController_EnableSlotZero(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	c := f.c
	f.regs.onDoorbell = func() {
		f.post(trb.CommandCompletion{Command: c.Commands().Address(), Code: trb.CodeSuccess}.Encode())
		_, _ = c.Events().Drain()
	}

	_, err := c.EnableSlot(context.Background())
	assert.ErrorIs(t, err, pkg.ErrProtocol)
}

func TestCommandRing_Full(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommandRingSlots = 4
	f := newFakeHost(t, cfg)

	for range 3 {
		_, err := f.c.Commands().Submit(trb.NoOpCommand{})
		require.NoError(t, err)
	}
	_, err := f.c.Commands().Submit(trb.NoOpCommand{})
	assert.ErrorIs(t, err, ring.ErrRingFull)
	assert.Equal(t, 3, f.c.Registry().Pending())
}

func TestCommandRing_RejectsLink(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	_, err := f.c.Commands().Submit(trb.Link{Segment: f.c.Commands().Address()})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.Empty(t, f.regs.doorbells)
}

func TestCommandRing_Cancelled(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	cmds := f.c.Commands()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cmds.Exec(ctx, trb.NoOpCommand{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.c.Registry().Pending(), "the command is still outstanding")

	// A late completion is absorbed and releases the address.
	f.post(trb.CommandCompletion{Command: cmds.Address(), Code: trb.CodeSuccess}.Encode())
	_, err = f.c.Events().Drain()
	assert.NoError(t, err)
	assert.Zero(t, f.c.Registry().Pending())

	// The ring wraps back over the cancelled slot.
	for i := range f.c.Config().CommandRingSlots {
		addr, err := cmds.Submit(trb.NoOpCommand{})
		require.NoError(t, err, "command %d", i)
		f.post(trb.CommandCompletion{Command: addr, Code: trb.CodeSuccess}.Encode())
		_, err = f.c.Events().Drain()
		require.NoError(t, err)
		_, err = f.c.Registry().Take(addr)
		require.NoError(t, err, "command %d", i)
	}
	assert.Zero(t, f.c.Registry().Pending())
}

func TestCommandRing_CancelledAfterCompletion(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	cmds := f.c.Commands()

	addr, err := cmds.Submit(trb.NoOpCommand{})
	require.NoError(t, err)
	f.post(trb.CommandCompletion{Command: addr, Code: trb.CodeSuccess}.Encode())
	_, err = f.c.Events().Drain()
	require.NoError(t, err)

	// Nobody will take the result.
	f.c.Registry().Drop(addr)
	assert.Zero(t, f.c.Registry().Pending())
}

func TestCommandRing_SubmitWake(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())

	woken := make(chan struct{}, 1)
	addr, err := f.c.Commands().SubmitWake(trb.EnableSlot{}, WakerFunc(func() { woken <- struct{}{} }))
	require.NoError(t, err)

	_, err = f.c.Registry().Take(addr)
	assert.ErrorIs(t, err, ErrNotFulfilled)
	assert.Empty(t, woken)

	f.post(trb.CommandCompletion{Command: addr, Code: trb.CodeSuccess, SlotID: 3}.Encode())
	_, err = f.c.Events().Drain()
	require.NoError(t, err)

	select {
	case <-woken:
	default:
		t.Fatal("waker not notified by the drain")
	}
	evt, err := f.c.Registry().Take(addr)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), evt.(trb.CommandCompletion).SlotID)
}

func TestController_RunTwice(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.c.Run(ctx, nil) })

	require.Eventually(t, func() bool { return f.c.running.Load() }, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, f.c.Run(ctx, nil), pkg.ErrAlreadyRunning)

	cancel()
	assert.NoError(t, g.Wait())
}

func TestController_OpenEndpoint(t *testing.T) {
	f := newFakeHost(t, DefaultConfig())
	c := f.c

	for _, ep := range [][2]uint8{{0, 1}, {1, 0}, {1, MaxDCI + 1}} {
		_, err := c.OpenEndpoint(ep[0], ep[1])
		assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint, "%d.%d", ep[0], ep[1])
	}

	tr, err := c.OpenEndpoint(1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), tr.Slot())
	assert.Equal(t, uint8(1), tr.DCI())
	assert.True(t, tr.Cycle())
	assert.True(t, tr.Address().Aligned(trb.SegmentAlignment))
	assert.Equal(t, DefaultConfig().TransferRingSlots-1, tr.Free())

	_, err = c.OpenEndpoint(1, 1)
	assert.ErrorIs(t, err, pkg.ErrBusy)

	got, ok := c.Endpoint(1, 1)
	assert.True(t, ok)
	assert.Same(t, tr, got)
	assert.Equal(t, int64(1), c.Stats().OpenEndpoints.Value())

	require.NoError(t, c.CloseEndpoint(1, 1))
	_, ok = c.Endpoint(1, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, c.CloseEndpoint(1, 1), pkg.ErrInvalidEndpoint)

	_, err = tr.Submit([]trb.Transfer{trb.NoOp{IOC: true}})
	assert.ErrorIs(t, err, pkg.ErrClosed)
}

// pageAllocator rounds every request up to a page.
type pageAllocator struct {
	*dma.HeapAllocator
}

func (p pageAllocator) Alloc(size, align int) (*dma.Region, error) {
	return p.HeapAllocator.Alloc((size+4095)&^4095, max(align, 4096))
}

func TestNew_RoundedAllocations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommandRingSlots = 16
	cfg.EventSegmentSlots = 16
	cfg.TransferRingSlots = 8

	c, err := New(&fakeRegisters{}, pageAllocator{dma.NewHeapAllocator(0)}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	assert.Equal(t, cfg.CommandRingSlots-1, c.Commands().Free())
	for i := range c.Events().Table().EntryCount() {
		assert.Equal(t, cfg.EventSegmentSlots, c.Events().Table().Entry(i).Blocks)
	}

	tr, err := c.OpenEndpoint(1, 1)
	require.NoError(t, err)
	assert.Equal(t, cfg.TransferRingSlots-1, tr.Free())
}

func TestController_Close(t *testing.T) {
	a := dma.NewHeapAllocator(0)
	c, err := New(&fakeRegisters{}, a, DefaultConfig())
	require.NoError(t, err)
	_, err = c.OpenEndpoint(1, 1)
	require.NoError(t, err)
	base := c.Commands().Address()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, _, err = a.Resolve(base)
	assert.ErrorIs(t, err, dma.ErrUnmapped, "regions are released")
	_, err = c.OpenEndpoint(1, 2)
	assert.ErrorIs(t, err, pkg.ErrClosed)
}
