// Package hal defines the USB vocabulary shared between the host controller
// engine and the code that drives it: connection speeds, port status, SETUP
// packets, endpoint descriptors and standard requests.
//
// The types here carry no controller state. [SetupPacket] values are
// embedded in Setup Stage blocks by
// [github.com/ardnew/softxhci/host/xhci/trb], and [EndpointDescriptor.DCI]
// maps an endpoint to the device context index used as its doorbell target.
//
// Fixed-size parsers and marshalers write into caller-provided values and
// buffers. [ParseEndpoints] and [ParseStringDescriptor] allocate their
// results.
package hal
