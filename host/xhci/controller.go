package xhci

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

type endpointKey struct {
	slot uint8
	dci  uint8
}

// Controller owns the rings, registry and register programming of one host
// controller.
type Controller struct {
	cfg      Config
	regs     Registers
	alloc    dma.Allocator
	registry *Registry
	commands *CommandRing
	events   *EventRing
	ports    chan PortChange
	stats    metrics.Registry
	metrics  *Metrics

	// regions owned by the controller itself: the command ring, the event
	// segments and the segment table.
	regions []*dma.Region

	mu        sync.RWMutex
	endpoints map[endpointKey]*TransferRing
	closed    bool

	running atomic.Bool
}

// New allocates the command and event rings and programs their addresses
// into regs.
func New(regs Registers, alloc dma.Allocator, cfg Config) (_ *Controller, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:       cfg,
		regs:      regs,
		alloc:     alloc,
		registry:  NewRegistry(),
		ports:     make(chan PortChange, cfg.PortChangeBuffer),
		stats:     metrics.NewRegistry(),
		endpoints: make(map[endpointKey]*TransferRing),
	}
	c.metrics = newMetrics(c.stats)
	defer func() {
		if err != nil {
			err = errors.Join(err, c.release())
		}
	}()

	cmdMem, err := c.allocate(cfg.CommandRingSlots * trb.Size)
	if err != nil {
		return nil, fmt.Errorf("command ring: %w", err)
	}
	cmdRing, err := ring.New(cmdMem)
	if err != nil {
		return nil, fmt.Errorf("command ring: %w", err)
	}
	c.commands = newCommandRing(cmdRing, c.registry, regs, c.metrics)

	segs := make([]*dma.Region, cfg.EventSegments)
	for i := range segs {
		if segs[i], err = c.allocate(cfg.EventSegmentSlots * trb.Size); err != nil {
			return nil, fmt.Errorf("event segment %d: %w", i, err)
		}
	}
	tableMem, err := c.allocate(cfg.EventSegments * ring.EntrySize)
	if err != nil {
		return nil, fmt.Errorf("event segment table: %w", err)
	}
	table, err := ring.BuildSegmentTable(tableMem, segs)
	if err != nil {
		return nil, fmt.Errorf("event segment table: %w", err)
	}
	evRing, err := ring.NewEventRing(table, segs)
	if err != nil {
		return nil, fmt.Errorf("event ring: %w", err)
	}
	c.events = &EventRing{
		ring:        evRing,
		interrupter: cfg.Interrupter,
		regs:        regs,
		registry:    c.registry,
		commands:    c.commands,
		endpoints:   c.Endpoint,
		ports:       c.ports,
		metrics:     c.metrics,
	}

	regs.SetCommandRing(cmdRing.Address(), cmdRing.Cycle())
	regs.SetEventRingSegmentTable(cfg.Interrupter, table.EntryCount(), table.Address())
	regs.SetEventRingDequeue(cfg.Interrupter, evRing.DequeuePointer(), 0, false)

	pkg.LogInfo(pkg.ComponentController, "controller initialized",
		"command_ring", cmdRing.Address(),
		"event_table", table.Address(),
		"event_segments", table.EntryCount())
	return c, nil
}

// allocate returns a region of exactly size bytes. The backing allocation,
// which may be rounded up, is released by Close.
func (c *Controller) allocate(size int) (*dma.Region, error) {
	mem, err := c.alloc.Alloc(size, trb.SegmentAlignment)
	if err != nil {
		return nil, err
	}
	c.regions = append(c.regions, mem)
	return mem.Slice(size)
}

func (c *Controller) release() error {
	var errs []error
	for _, r := range c.regions {
		errs = append(errs, r.Close())
	}
	c.regions = nil
	return errors.Join(errs...)
}

// Config returns the parameters the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// Registry returns the correlation registry.
func (c *Controller) Registry() *Registry { return c.registry }

// Commands returns the command ring.
func (c *Controller) Commands() *CommandRing { return c.commands }

// Events returns the event ring.
func (c *Controller) Events() *EventRing { return c.events }

// Metrics returns the registry holding the controller counters.
func (c *Controller) Metrics() metrics.Registry { return c.stats }

// Stats returns the controller counters.
func (c *Controller) Stats() *Metrics { return c.metrics }

// PortChanges returns the channel that receives root hub port changes.
func (c *Controller) PortChanges() <-chan PortChange { return c.ports }

// Run services the event ring until ctx ends or a protocol violation stops
// it. irq delivers interrupter notifications; it may be nil when polling is
// configured.
func (c *Controller) Run(ctx context.Context, irq <-chan struct{}) error {
	if !c.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer c.running.Store(false)

	pkg.LogInfo(pkg.ComponentController, "controller running")
	return c.events.Run(ctx, irq, c.cfg.PollInterval)
}

// =============================================================================
// Commands
// =============================================================================

// Command executes cmd and converts a non-success completion code into an
// error wrapping the matching pkg sentinel.
func (c *Controller) Command(ctx context.Context, cmd trb.Command) (trb.CommandCompletion, error) {
	cc, err := c.commands.Exec(ctx, cmd)
	if err != nil {
		return cc, err
	}
	if err := cc.Code.Err(); err != nil {
		return cc, fmt.Errorf("%v: %w", cmd.Type(), err)
	}
	return cc, nil
}

// EnableSlot obtains a device slot and returns its ID.
func (c *Controller) EnableSlot(ctx context.Context) (uint8, error) {
	cc, err := c.Command(ctx, trb.EnableSlot{})
	if err != nil {
		return 0, err
	}
	if cc.SlotID == 0 {
		return 0, fmt.Errorf("%w: enable slot returned slot 0", pkg.ErrProtocol)
	}
	pkg.LogDebug(pkg.ComponentController, "slot enabled", "slot", cc.SlotID)
	return cc.SlotID, nil
}

// DisableSlot releases a device slot and closes its endpoints.
func (c *Controller) DisableSlot(ctx context.Context, slot uint8) error {
	if _, err := c.Command(ctx, trb.DisableSlot{SlotID: slot}); err != nil {
		return err
	}
	return c.closeSlot(slot)
}

// AddressDevice issues an Address Device command with the input context at
// input.
func (c *Controller) AddressDevice(ctx context.Context, slot uint8, input dma.Addr, blockSetAddress bool) error {
	_, err := c.Command(ctx, trb.AddressDevice{
		InputContext:    input,
		BlockSetAddress: blockSetAddress,
		SlotID:          slot,
	})
	return err
}

// ConfigureEndpoint issues a Configure Endpoint command with the input
// context at input.
func (c *Controller) ConfigureEndpoint(ctx context.Context, slot uint8, input dma.Addr) error {
	_, err := c.Command(ctx, trb.ConfigureEndpoint{InputContext: input, SlotID: slot})
	return err
}

// EvaluateContext issues an Evaluate Context command with the input context
// at input.
func (c *Controller) EvaluateContext(ctx context.Context, slot uint8, input dma.Addr) error {
	_, err := c.Command(ctx, trb.EvaluateContext{InputContext: input, SlotID: slot})
	return err
}

// StopEndpoint stops the transfer ring of an endpoint.
func (c *Controller) StopEndpoint(ctx context.Context, slot, dci uint8) error {
	_, err := c.Command(ctx, trb.StopEndpoint{SlotID: slot, EndpointID: dci})
	return err
}

// ResetEndpoint recovers a halted endpoint: it resets the endpoint, drops
// every block still on its ring and moves the controller's dequeue pointer
// past them.
func (c *Controller) ResetEndpoint(ctx context.Context, slot, dci uint8) error {
	t, ok := c.Endpoint(slot, dci)
	if !ok {
		return fmt.Errorf("%w: %d.%d", pkg.ErrInvalidEndpoint, slot, dci)
	}
	if _, err := c.Command(ctx, trb.ResetEndpoint{SlotID: slot, EndpointID: dci}); err != nil {
		return err
	}
	deq, cycle := t.reset()
	_, err := c.Command(ctx, trb.SetTRDequeuePointer{
		Dequeue:      deq,
		DequeueCycle: cycle,
		EndpointID:   dci,
		SlotID:       slot,
	})
	return err
}

// NoOp round-trips a No Op command through the controller.
func (c *Controller) NoOp(ctx context.Context) error {
	_, err := c.Command(ctx, trb.NoOpCommand{})
	return err
}

// =============================================================================
// Endpoints
// =============================================================================

// OpenEndpoint allocates a transfer ring for an endpoint. The ring address
// and cycle state must be written to the endpoint context before the
// endpoint is configured.
func (c *Controller) OpenEndpoint(slot, dci uint8) (*TransferRing, error) {
	if slot == 0 || dci == 0 || dci > MaxDCI {
		return nil, fmt.Errorf("%w: %d.%d", pkg.ErrInvalidEndpoint, slot, dci)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, pkg.ErrClosed
	}
	key := endpointKey{slot, dci}
	if _, ok := c.endpoints[key]; ok {
		return nil, fmt.Errorf("%w: endpoint %d.%d already open", pkg.ErrBusy, slot, dci)
	}

	size := c.cfg.TransferRingSlots * trb.Size
	mem, err := c.alloc.Alloc(size, trb.SegmentAlignment)
	if err != nil {
		return nil, fmt.Errorf("endpoint %d.%d: %w", slot, dci, err)
	}
	view, err := mem.Slice(size)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("endpoint %d.%d: %w", slot, dci, err), mem.Close())
	}
	r, err := ring.New(view)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("endpoint %d.%d: %w", slot, dci, err), mem.Close())
	}
	t := &TransferRing{
		slot:     slot,
		dci:      dci,
		ring:     r,
		mem:      mem,
		registry: c.registry,
		regs:     c.regs,
		metrics:  c.metrics,
	}
	c.endpoints[key] = t
	c.metrics.OpenEndpoints.Update(int64(len(c.endpoints)))

	pkg.LogDebug(pkg.ComponentController, "endpoint opened",
		"slot", slot, "dci", dci, "ring", r.Address())
	return t, nil
}

// Endpoint returns the open transfer ring of an endpoint.
func (c *Controller) Endpoint(slot, dci uint8) (*TransferRing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.endpoints[endpointKey{slot, dci}]
	return t, ok
}

// CloseEndpoint frees the transfer ring of an endpoint. Requests still
// outstanding on it are abandoned.
func (c *Controller) CloseEndpoint(slot, dci uint8) error {
	c.mu.Lock()
	key := endpointKey{slot, dci}
	t, ok := c.endpoints[key]
	delete(c.endpoints, key)
	c.metrics.OpenEndpoints.Update(int64(len(c.endpoints)))
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d.%d", pkg.ErrInvalidEndpoint, slot, dci)
	}
	return t.close()
}

func (c *Controller) closeSlot(slot uint8) error {
	c.mu.Lock()
	var rings []*TransferRing
	for k, t := range c.endpoints {
		if k.slot == slot {
			rings = append(rings, t)
			delete(c.endpoints, k)
		}
	}
	c.metrics.OpenEndpoints.Update(int64(len(c.endpoints)))
	c.mu.Unlock()

	var errs []error
	for _, t := range rings {
		errs = append(errs, t.close())
	}
	return errors.Join(errs...)
}

// Close frees every ring. The controller must be halted first.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rings := make([]*TransferRing, 0, len(c.endpoints))
	for k, t := range c.endpoints {
		rings = append(rings, t)
		delete(c.endpoints, k)
	}
	c.mu.Unlock()

	var errs []error
	for _, t := range rings {
		errs = append(errs, t.close())
	}
	errs = append(errs, c.release())

	pkg.LogInfo(pkg.ComponentController, "controller closed")
	return errors.Join(errs...)
}
