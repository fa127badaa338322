package xhcitest

import (
	"fmt"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Request is one data phase handed to a simulated endpoint.
type Request struct {
	Slot uint8
	DCI  uint8
	// Setup is the SETUP packet of a control transfer, nil otherwise.
	Setup *hal.SetupPacket
	// In is set for device-to-host transfers.
	In bool
	// Data holds the bytes sent by the host on OUT transfers. On IN
	// transfers it is sized to the requested length for the endpoint to
	// fill.
	Data []byte
}

// Endpoint is a simulated device endpoint.
type Endpoint interface {
	// Transfer handles one request and returns the number of bytes moved
	// and the completion code. Returning a short count on an IN transfer
	// produces a short packet.
	Transfer(req *Request) (int, trb.CompletionCode)
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(req *Request) (int, trb.CompletionCode)

// Transfer implements Endpoint.
func (f EndpointFunc) Transfer(req *Request) (int, trb.CompletionCode) { return f(req) }

// AttachEndpoint connects a transfer ring to a simulated endpoint, standing
// in for the endpoint context written before Configure Endpoint. deq and
// cycle are the ring's initial dequeue pointer and cycle state. The slot
// must be enabled.
func (c *Controller) AttachEndpoint(slot, dci uint8, deq dma.Addr, cycle bool, h Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.slots[slot]; !ok {
		return fmt.Errorf("%w: slot %d not enabled", pkg.ErrInvalidState, slot)
	}
	mem, _, err := c.mem.Resolve(deq)
	if err != nil {
		return err
	}
	r, err := ring.Open(mem, deq, cycle)
	if err != nil {
		return err
	}
	c.endpoints[endpointKey{slot, dci}] = &endpoint{mem: mem, ring: r, handler: h}
	return nil
}

// Halted reports whether an endpoint is halted.
func (c *Controller) Halted(slot, dci uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.endpoints[endpointKey{slot, dci}]
	return ok && ep.halted
}

// control tracks a control transfer between its stages.
type control struct {
	setup   hal.SetupPacket
	handled bool
	code    trb.CompletionCode
}

// processTransfers consumes the transfer ring of an endpoint until it is
// empty or the endpoint halts. c.mu must be held.
func (c *Controller) processTransfers(slot, dci uint8) {
	ep, ok := c.endpoints[endpointKey{slot, dci}]
	if !ok {
		pkg.LogWarn(pkg.ComponentSim, "doorbell for unknown endpoint", "slot", slot, "dci", dci)
		return
	}
	if ep.halted {
		return
	}
	ep.stopped = false

	var ctl *control
	for !ep.halted {
		raw, addr, ok := ep.ring.TryDequeue()
		if !ok {
			return
		}
		evt := trb.TransferEvent{Pointer: addr, Code: trb.CodeSuccess, EndpointID: dci, SlotID: slot}
		v, err := trb.DecodeTransfer(raw)
		if err != nil {
			pkg.LogWarn(pkg.ComponentSim, "invalid transfer block", "addr", addr, "error", err)
			evt.Code = trb.CodeTRBError
			c.finish(ep, evt, true)
			continue
		}

		switch b := v.(type) {
		case trb.SetupStage:
			ctl = &control{setup: b.Setup}
			c.finish(ep, evt, b.IOC)

		case trb.DataStage:
			if ctl == nil {
				evt.Code = trb.CodeTRBError
				c.finish(ep, evt, true)
				continue
			}
			ctl.handled = true
			req := &Request{Slot: slot, DCI: dci, Setup: &ctl.setup, In: b.In}
			evt.Code, evt.Length = c.move(ep, req, b.Buffer, b.Length)
			ctl.code = evt.Code
			c.finish(ep, evt, b.IOC || (b.ShortPacketOK && evt.Code == trb.CodeShortPacket))

		case trb.StatusStage:
			if ctl == nil {
				evt.Code = trb.CodeTRBError
				c.finish(ep, evt, true)
				continue
			}
			if !ctl.handled {
				req := &Request{Slot: slot, DCI: dci, Setup: &ctl.setup, In: false}
				_, evt.Code = ep.handler.Transfer(req)
			}
			if evt.Code == trb.CodeShortPacket {
				evt.Code = trb.CodeSuccess
			}
			ctl = nil
			c.finish(ep, evt, b.IOC)

		case trb.Normal:
			req := &Request{Slot: slot, DCI: dci, In: hal.IsInDCI(dci)}
			evt.Code, evt.Length = c.move(ep, req, b.Buffer, b.Length)
			c.finish(ep, evt, b.IOC || (b.ShortPacketOK && evt.Code == trb.CodeShortPacket))

		case trb.NoOp:
			c.finish(ep, evt, b.IOC)
		}
	}
}

// move runs one data phase against buffer memory and returns the completion
// code and residual length.
func (c *Controller) move(ep *endpoint, req *Request, buf dma.Addr, length uint32) (trb.CompletionCode, uint32) {
	req.Data = make([]byte, length)
	var mem *dma.Region
	var off int
	if length > 0 {
		var err error
		mem, off, err = c.mem.Resolve(buf)
		if err != nil || off+int(length) > mem.Size() {
			return trb.CodeDataBufferError, length
		}
		if !req.In {
			if _, err := mem.ReadAt(req.Data, int64(off)); err != nil {
				return trb.CodeDataBufferError, length
			}
		}
	}

	n, code := ep.handler.Transfer(req)
	n = min(max(n, 0), int(length))
	if req.In && n > 0 {
		if _, err := mem.WriteAt(req.Data[:n], int64(off)); err != nil {
			return trb.CodeDataBufferError, length
		}
	}
	if code == trb.CodeSuccess && n < int(length) {
		code = trb.CodeShortPacket
	}
	return code, length - uint32(n)
}

// finish posts evt when notify is set or the block failed, and halts the
// endpoint on failure.
func (c *Controller) finish(ep *endpoint, evt trb.TransferEvent, notify bool) {
	failed := evt.Code != trb.CodeSuccess && evt.Code != trb.CodeShortPacket
	if failed {
		ep.halted = true
		pkg.LogDebug(pkg.ComponentSim, "endpoint halted",
			"slot", evt.SlotID, "dci", evt.EndpointID, "code", evt.Code)
	}
	if notify || failed {
		c.post(evt)
	}
}
