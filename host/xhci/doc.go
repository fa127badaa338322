// Package xhci drives an xHCI-style USB host controller through shared
// memory rings and doorbell writes.
//
// A [Controller] owns every piece of shared state: the [CommandRing], the
// [EventRing], one [TransferRing] per open endpoint and the [Registry] that
// correlates completion events with the requests that caused them. It is
// constructed once and passed explicitly to whatever needs it.
//
// # Request flow
//
// A caller submits a command or transfer. The channel registers the address
// of the block it is about to publish, writes the block into its ring with
// the cycle bit last, and rings the doorbell. The controller processes the
// block and posts a completion on the event ring. [EventRing.Drain] decodes
// the completion, retires the consumed blocks from the originating ring and
// fulfils the registry entry keyed by the embedded block address, which
// resumes the waiting caller:
//
//	addr, err := c.Commands().Submit(trb.EnableSlot{})
//	...
//	evt, err := c.Registry().Await(ctx, addr)
//
// [Controller.Run] drains the event ring whenever the interrupt channel
// fires. Callers block only their own goroutine while they wait.
//
// # Hardware access
//
// Register programming goes through the [Registers] interface. Memory comes
// from a [dma.Allocator]. Package
// [github.com/ardnew/softxhci/host/xhci/xhcitest] provides a simulated
// controller implementing both sides for tests.
//
// # Errors
//
// Malformed or unknown event blocks are logged and discarded. Completions
// that match no outstanding request, and duplicate registrations, wrap
// [pkg.ErrProtocol] and stop the drain loop. Non-success completion codes
// are delivered to the waiting caller unchanged.
package xhci
