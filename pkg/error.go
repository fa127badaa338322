package pkg

import "errors"

// USB and controller protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrCancelled indicates a stopped or aborted request.
	ErrCancelled = errors.New("request cancelled")

	// ErrOverrun indicates a data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrUnderrun indicates a data underrun condition.
	ErrUnderrun = errors.New("data underrun")

	// ErrTransaction indicates a USB transaction error (CRC, timeout, bad PID).
	ErrTransaction = errors.New("USB transaction error")

	// ErrDataBuffer indicates the controller could not keep up with the data
	// buffer of a transfer.
	ErrDataBuffer = errors.New("data buffer error")

	// ErrShortPacket indicates a transfer completed with less data than requested.
	ErrShortPacket = errors.New("short packet")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid slot or endpoint state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrBandwidth indicates insufficient bus bandwidth.
	ErrBandwidth = errors.New("insufficient bandwidth")

	// ErrFrameOverrun indicates a missed service interval for isochronous transfer.
	ErrFrameOverrun = errors.New("frame overrun")

	// ErrNoResources indicates insufficient controller resources (e.g., device slots).
	ErrNoResources = errors.New("no resources available")

	// ErrAlreadyRunning indicates the controller is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrClosed indicates the controller has been closed.
	ErrClosed = errors.New("closed")
)
