// Package xhcitest simulates the hardware side of an xHCI controller for
// tests and examples.
//
// A [Controller] implements the register interface expected by
// [github.com/ardnew/softxhci/host/xhci] and works purely on shared memory:
// it reads the command ring and transfer rings through the same
// [dma.Resolver] the driver allocated them from, and writes completion
// events into the event ring segments named by the segment table. Doorbell
// writes are processed synchronously unless the controller is put in manual
// mode, where [Controller.Step] processes them.
//
// Simulated devices plug into endpoints through the [Endpoint] interface.
// [Device] is a ready-made function that answers standard control requests
// from a descriptor table and loops bulk OUT data back on its bulk IN
// endpoint.
package xhcitest
