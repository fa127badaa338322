package xhci

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// PortChange notifies that a root hub port changed status. It is delivered
// on [Controller.PortChanges] and never awaited.
type PortChange struct {
	Port uint8
	Code trb.CompletionCode
}

// endpointLookup returns the open transfer ring of an endpoint.
type endpointLookup func(slot, dci uint8) (*TransferRing, bool)

// EventRing consumes the controller's event ring for one interrupter and
// dispatches each event.
type EventRing struct {
	// mu makes each drain pass exclusive so events are dispatched in ring
	// order.
	mu          sync.Mutex
	ring        *ring.EventRing
	interrupter int
	regs        Registers
	registry    *Registry
	commands    *CommandRing
	endpoints   endpointLookup
	ports       chan PortChange
	metrics     *Metrics
}

// DequeuePointer returns the address of the next event to consume.
func (e *EventRing) DequeuePointer() dma.Addr { return e.ring.DequeuePointer() }

// Table returns the segment table describing the ring.
func (e *EventRing) Table() *ring.SegmentTable { return e.ring.Table() }

// Drain consumes events until the ring is empty, then publishes the new
// dequeue pointer. It returns the number of events consumed. Malformed and
// unknown events are logged and skipped; a completion that matches no
// outstanding request stops the pass and is returned.
func (e *EventRing) Drain() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	var err error
	for {
		raw, ok := e.ring.TryDequeue()
		if !ok {
			break
		}
		n++
		if err = e.dispatch(raw); err != nil {
			break
		}
	}

	e.regs.SetEventRingDequeue(e.interrupter, e.ring.DequeuePointer(), e.ring.Segment(), true)
	e.metrics.DrainPasses.Inc(1)
	e.metrics.EventsDrained.Inc(int64(n))
	e.metrics.PendingRequests.Update(int64(e.registry.Pending()))
	return n, err
}

func (e *EventRing) dispatch(raw trb.Block) error {
	evt, err := trb.DecodeEvent(raw)
	if err != nil {
		e.metrics.DecodeErrors.Inc(1)
		pkg.LogWarn(pkg.ComponentEvent, "discarding event", "error", err)
		return nil
	}

	switch v := evt.(type) {
	case trb.CommandCompletion:
		// Retire first so a resumed caller sees the freed slot.
		if err := e.commands.retire(v.Command); err != nil {
			pkg.LogWarn(pkg.ComponentEvent, "command not pending on ring",
				"addr", v.Command, "error", err)
		}
		if err := e.registry.Fulfill(v.Command, v); err != nil {
			return fmt.Errorf("command completion %v: %w", v.Code, err)
		}
		return nil

	case trb.TransferEvent:
		return e.transfer(v)

	case trb.PortStatusChange:
		e.metrics.PortChanges.Inc(1)
		select {
		case e.ports <- PortChange{Port: v.Port, Code: v.Code}:
		default:
			e.metrics.PortChangesDropped.Inc(1)
			pkg.LogWarn(pkg.ComponentEvent, "port change dropped", "port", v.Port)
		}
		return nil

	default:
		e.metrics.UnknownEvents.Inc(1)
		pkg.LogInfo(pkg.ComponentEvent, "ignoring event", "type", evt.Type(), "block", raw)
		return nil
	}
}

func (e *EventRing) transfer(v trb.TransferEvent) error {
	if v.EventData {
		e.metrics.UnknownEvents.Inc(1)
		pkg.LogInfo(pkg.ComponentEvent, "ignoring event data", "payload", v.Pointer)
		return nil
	}

	if isStopCode(v.Code) {
		// The block a stopped endpoint reports has not been consumed. It
		// completes again once the endpoint restarts, so its request stays
		// registered.
		e.metrics.EndpointStops.Inc(1)
		pkg.LogDebug(pkg.ComponentEvent, "endpoint stopped",
			"slot", v.SlotID, "dci", v.EndpointID, "addr", v.Pointer, "code", v.Code)
		return nil
	}

	if t, ok := e.endpoints(v.SlotID, v.EndpointID); ok {
		if err := t.retire(v.Pointer); err != nil {
			pkg.LogWarn(pkg.ComponentEvent, "transfer not pending on ring",
				"slot", v.SlotID, "dci", v.EndpointID, "addr", v.Pointer, "error", err)
		}
	}
	if err := e.registry.Fulfill(v.Pointer, v); err != nil {
		return fmt.Errorf("transfer event %d.%d %v: %w", v.SlotID, v.EndpointID, v.Code, err)
	}
	return nil
}

func isStopCode(c trb.CompletionCode) bool {
	switch c {
	case trb.CodeStopped, trb.CodeStoppedLengthInvalid, trb.CodeStoppedShortPacket:
		return true
	}
	return false
}

// Run drains the ring each time irq fires and, when poll is positive, on
// every poll tick. It returns nil when ctx ends or irq is closed, and the
// first fatal drain error otherwise.
func (e *EventRing) Run(ctx context.Context, irq <-chan struct{}, poll time.Duration) error {
	var tick <-chan time.Time
	if poll > 0 {
		t := time.NewTicker(poll)
		defer t.Stop()
		tick = t.C
	}

	pkg.LogDebug(pkg.ComponentEvent, "event loop started", "interrupter", e.interrupter)
	defer pkg.LogDebug(pkg.ComponentEvent, "event loop stopped", "interrupter", e.interrupter)

	if _, err := e.Drain(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-irq:
			if !ok {
				return nil
			}
		case <-tick:
		}
		if _, err := e.Drain(); err != nil {
			pkg.LogError(pkg.ComponentEvent, "event loop failed", "error", err)
			return err
		}
	}
}
