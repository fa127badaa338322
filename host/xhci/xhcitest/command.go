package xhcitest

import (
	"slices"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// maxAddress is the highest USB device address.
const maxAddress = 127

// processCommands executes every command published on the command ring.
// c.mu must be held.
func (c *Controller) processCommands() {
	if c.cmd == nil {
		c.fail(ErrNotProgrammed)
		return
	}
	for {
		raw, addr, ok := c.cmd.TryDequeue()
		if !ok {
			return
		}
		cc := trb.CommandCompletion{Command: addr, Code: trb.CodeSuccess}
		cmd, err := trb.DecodeCommand(raw)
		if err != nil {
			pkg.LogWarn(pkg.ComponentSim, "invalid command", "addr", addr, "error", err)
			cc.Code = trb.CodeTRBError
		} else {
			c.execute(cmd, &cc)
		}
		pkg.LogDebug(pkg.ComponentSim, "command completed",
			"addr", addr, "code", cc.Code, "slot", cc.SlotID)
		c.post(cc)
	}
}

// execute runs one command and fills in its completion.
func (c *Controller) execute(cmd trb.Command, cc *trb.CommandCompletion) {
	switch v := cmd.(type) {
	case trb.NoOpCommand:

	case trb.EnableSlot:
		id, ok := c.freeSlot()
		if !ok {
			cc.Code = trb.CodeNoSlotsAvailable
			return
		}
		c.slots[id] = &slot{}
		cc.SlotID = id

	case trb.DisableSlot:
		cc.SlotID = v.SlotID
		if !c.enabled(v.SlotID, cc) {
			return
		}
		c.dropEndpoints(v.SlotID)
		delete(c.slots, v.SlotID)

	case trb.ResetDevice:
		cc.SlotID = v.SlotID
		if !c.enabled(v.SlotID, cc) {
			return
		}
		c.dropEndpoints(v.SlotID)
		c.slots[v.SlotID].address = 0

	case trb.AddressDevice:
		cc.SlotID = v.SlotID
		if !c.enabled(v.SlotID, cc) || !c.context(v.InputContext, cc) {
			return
		}
		s := c.slots[v.SlotID]
		if s.address != 0 {
			cc.Code = trb.CodeContextStateError
			return
		}
		if v.BlockSetAddress {
			return
		}
		if c.nextAddr > maxAddress {
			cc.Code = trb.CodeResourceError
			return
		}
		s.address = c.nextAddr
		c.nextAddr++

	case trb.ConfigureEndpoint:
		cc.SlotID = v.SlotID
		if !c.enabled(v.SlotID, cc) {
			return
		}
		if v.Deconfigure {
			c.dropEndpoints(v.SlotID, 1)
			return
		}
		c.context(v.InputContext, cc)

	case trb.EvaluateContext:
		cc.SlotID = v.SlotID
		if c.enabled(v.SlotID, cc) {
			c.context(v.InputContext, cc)
		}

	case trb.StopEndpoint:
		cc.SlotID = v.SlotID
		if ep := c.endpoint(v.SlotID, v.EndpointID, cc); ep != nil {
			if ep.halted {
				cc.Code = trb.CodeContextStateError
				return
			}
			ep.stopped = true
			// The endpoint stops on the next block it would have run, which
			// moved no data.
			if _, addr, ok := ep.ring.Peek(); ok {
				c.post(trb.TransferEvent{
					Pointer:    addr,
					Code:       trb.CodeStoppedLengthInvalid,
					EndpointID: v.EndpointID,
					SlotID:     v.SlotID,
				})
			}
		}

	case trb.ResetEndpoint:
		cc.SlotID = v.SlotID
		if ep := c.endpoint(v.SlotID, v.EndpointID, cc); ep != nil {
			if !ep.halted {
				cc.Code = trb.CodeContextStateError
				return
			}
			ep.halted, ep.stopped = false, true
		}

	case trb.SetTRDequeuePointer:
		cc.SlotID = v.SlotID
		ep := c.endpoint(v.SlotID, v.EndpointID, cc)
		if ep == nil {
			return
		}
		if !ep.stopped || ep.halted {
			cc.Code = trb.CodeContextStateError
			return
		}
		r, err := ring.Open(ep.mem, v.Dequeue, v.DequeueCycle)
		if err != nil {
			pkg.LogWarn(pkg.ComponentSim, "bad dequeue pointer", "addr", v.Dequeue, "error", err)
			cc.Code = trb.CodeParameterError
			return
		}
		ep.ring = r

	default:
		cc.Code = trb.CodeTRBError
	}
}

func (c *Controller) freeSlot() (uint8, bool) {
	for id := 1; id <= c.maxSlots && id <= 255; id++ {
		if _, used := c.slots[uint8(id)]; !used {
			return uint8(id), true
		}
	}
	return 0, false
}

func (c *Controller) enabled(id uint8, cc *trb.CommandCompletion) bool {
	if _, ok := c.slots[id]; !ok {
		cc.Code = trb.CodeSlotNotEnabled
		return false
	}
	return true
}

// context checks that an input context pointer refers to mapped memory.
func (c *Controller) context(a dma.Addr, cc *trb.CommandCompletion) bool {
	if _, _, err := c.mem.Resolve(a); err != nil {
		cc.Code = trb.CodeParameterError
		return false
	}
	return true
}

func (c *Controller) endpoint(id, dci uint8, cc *trb.CommandCompletion) *endpoint {
	if !c.enabled(id, cc) {
		return nil
	}
	ep, ok := c.endpoints[endpointKey{id, dci}]
	if !ok {
		cc.Code = trb.CodeEndpointNotEnabled
		return nil
	}
	return ep
}

// dropEndpoints removes the endpoints of a slot, except the listed device
// context indexes.
func (c *Controller) dropEndpoints(id uint8, keep ...uint8) {
	for k := range c.endpoints {
		if k.slot != id || slices.Contains(keep, k.dci) {
			continue
		}
		delete(c.endpoints, k)
	}
}
