package xhci

import "github.com/ardnew/softxhci/host/xhci/dma"

// Registers is the register layer the engine programs. Implementations map
// each call onto the controller's operational, runtime and doorbell
// registers; none of them block.
type Registers interface {
	// SetCommandRing writes the command ring control register with the ring
	// base and the producer cycle state (CRCR).
	SetCommandRing(base dma.Addr, cycle bool)

	// SetEventRingSegmentTable writes the segment table size and base address
	// of an interrupter (ERSTSZ, ERSTBA).
	SetEventRingSegmentTable(interrupter int, size int, base dma.Addr)

	// SetEventRingDequeue publishes the event ring dequeue pointer of an
	// interrupter together with the segment index that holds it (ERDP). When
	// clearBusy is set the event handler busy flag is cleared.
	SetEventRingDequeue(interrupter int, ptr dma.Addr, segment int, clearBusy bool)

	// RingDoorbell writes doorbell slot with the given target and stream ID.
	// Slot 0 target 0 is the command ring. Device slots take an endpoint DCI
	// as target.
	RingDoorbell(slot, target uint8, stream uint16)
}

// Doorbell targets.
const (
	DoorbellHost    = 0 // doorbell array index of the host controller
	TargetCommand   = 0 // host doorbell target for the command ring
	TargetControlEP = 1 // device doorbell target for the default control endpoint
)
