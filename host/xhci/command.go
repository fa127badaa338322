package xhci

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// CommandRing publishes command blocks to the controller.
type CommandRing struct {
	// mu orders registration, publication and the doorbell write so that a
	// completion can never observe an unregistered address.
	mu       sync.Mutex
	ring     *ring.Ring
	registry *Registry
	regs     Registers
	metrics  *Metrics
}

func newCommandRing(r *ring.Ring, registry *Registry, regs Registers, m *Metrics) *CommandRing {
	return &CommandRing{ring: r, registry: registry, regs: regs, metrics: m}
}

// Address returns the bus address of the ring.
func (c *CommandRing) Address() dma.Addr { return c.ring.Address() }

// Cycle returns the producer cycle state.
func (c *CommandRing) Cycle() bool { return c.ring.Cycle() }

// Free returns the number of commands that can be submitted before the ring
// is full.
func (c *CommandRing) Free() int { return c.ring.Free() }

// Submit publishes cmd and rings the host doorbell. It returns the address
// of the published block; the completion is obtained by awaiting that
// address in the registry.
func (c *CommandRing) Submit(cmd trb.Command) (dma.Addr, error) {
	return c.submit(cmd, nil)
}

// SubmitWake is Submit with a waker notified on completion.
func (c *CommandRing) SubmitWake(cmd trb.Command, w Waker) (dma.Addr, error) {
	return c.submit(cmd, w)
}

func (c *CommandRing) submit(cmd trb.Command, w Waker) (dma.Addr, error) {
	if cmd.Type() == trb.TypeLink {
		return 0, fmt.Errorf("%w: link blocks are managed by the ring", pkg.ErrInvalidParameter)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring.Free() == 0 {
		return 0, fmt.Errorf("command %v: %w", cmd.Type(), ring.ErrRingFull)
	}
	addr := c.ring.Next()
	if err := c.registry.Register(addr, w); err != nil {
		return 0, err
	}
	if _, err := c.ring.Enqueue(cmd.Encode()); err != nil {
		c.registry.Forget(addr)
		return 0, fmt.Errorf("command %v: %w", cmd.Type(), err)
	}
	c.regs.RingDoorbell(DoorbellHost, TargetCommand, 0)

	c.metrics.CommandsSubmitted.Inc(1)
	c.metrics.PendingRequests.Update(int64(c.registry.Pending()))
	pkg.LogDebug(pkg.ComponentCommand, "command submitted", "type", cmd.Type(), "addr", addr)
	return addr, nil
}

// Exec submits cmd and waits for its completion event. Non-success codes
// are returned in the event, not as an error.
func (c *CommandRing) Exec(ctx context.Context, cmd trb.Command) (trb.CommandCompletion, error) {
	addr, err := c.Submit(cmd)
	if err != nil {
		return trb.CommandCompletion{}, err
	}
	evt, err := c.registry.Await(ctx, addr)
	if err != nil {
		return trb.CommandCompletion{}, err
	}
	cc, ok := evt.(trb.CommandCompletion)
	if !ok {
		return trb.CommandCompletion{}, fmt.Errorf("%w: %v for command at %v", ErrUnexpectedEvent, evt.Type(), addr)
	}
	return cc, nil
}

// retire records that the controller consumed the command at addr.
func (c *CommandRing) retire(addr dma.Addr) error {
	return c.ring.Retire(addr)
}
