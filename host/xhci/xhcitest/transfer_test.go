package xhcitest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
)

var testDescriptor = hal.DeviceDescriptor{
	Length:            hal.DeviceDescriptorSize,
	DescriptorType:    hal.DescriptorTypeDevice,
	USBVersion:        0x0200,
	MaxPacketSize0:    64,
	VendorID:          0x1209,
	ProductID:         0x0001,
	DeviceVersion:     0x0100,
	NumConfigurations: 1,
}

// testConfiguration is a configuration descriptor with no interfaces.
var testConfiguration = []byte{9, hal.DescriptorTypeConfiguration, 9, 0, 0, 1, 0, 0x80, 50}

func submit(t *testing.T, r *ring.Ring, blocks ...trb.Transfer) []dma.Addr {
	t.Helper()
	raw := make([]trb.Block, len(blocks))
	for i, b := range blocks {
		raw[i] = b.Encode()
	}
	addrs, err := r.EnqueueAll(raw)
	require.NoError(t, err)
	return addrs
}

// attach enables a slot and connects a new ring on each dci to dev.
func attach(h *host, dev Endpoint, dcis ...uint8) (uint8, []*ring.Ring) {
	h.t.Helper()
	slot := h.enableSlot()
	rings := make([]*ring.Ring, len(dcis))
	for i, dci := range dcis {
		rings[i] = h.newRing(16)
		require.NoError(h.t, h.sim.AttachEndpoint(slot, dci, rings[i].Address(), rings[i].Cycle(), dev))
	}
	return slot, rings
}

func TestController_ControlIn(t *testing.T) {
	h := newHost(t, 32)
	dev := NewDevice(testDescriptor)
	slot, rings := attach(h, dev, 1)
	buf := h.region(64)

	addrs := submit(t, rings[0],
		trb.SetupStage{
			Setup:     hal.GetDescriptor(hal.DescriptorTypeDevice, 0, 64),
			DataStage: trb.InDataStage,
			IOC:       true,
		},
		trb.DataStage{Buffer: buf.Base(), Length: 64, In: true, IOC: true},
		trb.StatusStage{IOC: true},
	)
	h.sim.RingDoorbell(slot, 1, 0)

	evt := h.transfer()
	assert.Equal(t, addrs[0], evt.Pointer)
	assert.Equal(t, trb.CodeSuccess, evt.Code)
	assert.Equal(t, slot, evt.SlotID)
	assert.Equal(t, uint8(1), evt.EndpointID)

	evt = h.transfer()
	assert.Equal(t, addrs[1], evt.Pointer)
	assert.Equal(t, trb.CodeShortPacket, evt.Code)
	assert.Equal(t, uint32(64-hal.DeviceDescriptorSize), evt.Length)

	evt = h.transfer()
	assert.Equal(t, addrs[2], evt.Pointer)
	assert.Equal(t, trb.CodeSuccess, evt.Code)
	h.empty()

	raw := make([]byte, hal.DeviceDescriptorSize)
	_, err := buf.ReadAt(raw, 0)
	require.NoError(t, err)
	var got hal.DeviceDescriptor
	require.True(t, hal.ParseDeviceDescriptor(raw, &got))
	assert.Equal(t, testDescriptor, got)
}

func TestController_StallAndRecovery(t *testing.T) {
	h := newHost(t, 32)
	dev := NewDevice(testDescriptor)
	dev.AddConfiguration(testConfiguration)
	slot, rings := attach(h, dev, 1)
	tr := rings[0]
	buf := h.region(64)

	assert.Equal(t, trb.CodeContextStateError,
		h.command(trb.ResetEndpoint{SlotID: slot, EndpointID: 1}).Code,
		"endpoint is not halted")

	submit(t, tr,
		trb.SetupStage{
			Setup:     hal.GetDescriptor(hal.DescriptorTypeString, 9, 32),
			DataStage: trb.InDataStage,
			IOC:       true,
		},
		trb.DataStage{Buffer: buf.Base(), Length: 32, In: true, IOC: true},
		trb.StatusStage{IOC: true},
	)
	h.sim.RingDoorbell(slot, 1, 0)

	assert.Equal(t, trb.CodeSuccess, h.transfer().Code)
	evt := h.transfer()
	assert.Equal(t, trb.CodeStallError, evt.Code)
	assert.Equal(t, uint32(32), evt.Length)
	h.empty()
	assert.True(t, h.sim.Halted(slot, 1))

	h.sim.RingDoorbell(slot, 1, 0)
	h.empty()

	require.Equal(t, trb.CodeSuccess, h.command(trb.ResetEndpoint{SlotID: slot, EndpointID: 1}).Code)
	assert.False(t, h.sim.Halted(slot, 1))

	assert.Len(t, tr.Discard(), 3)
	deq, cycle := tr.DequeuePointer()
	cc := h.command(trb.SetTRDequeuePointer{Dequeue: deq, DequeueCycle: cycle, EndpointID: 1, SlotID: slot})
	require.Equal(t, trb.CodeSuccess, cc.Code)

	submit(t, tr,
		trb.SetupStage{Setup: hal.SetConfiguration(1), IOC: true},
		trb.StatusStage{IOC: true, In: true},
	)
	h.sim.RingDoorbell(slot, 1, 0)
	assert.Equal(t, trb.CodeSuccess, h.transfer().Code)
	assert.Equal(t, trb.CodeSuccess, h.transfer().Code)
	assert.Equal(t, uint8(1), dev.Configuration())

	cc = h.command(trb.SetTRDequeuePointer{Dequeue: deq, DequeueCycle: cycle, EndpointID: 1, SlotID: slot})
	assert.Equal(t, trb.CodeContextStateError, cc.Code, "endpoint is running")

	assert.Equal(t, trb.CodeSuccess, h.command(trb.StopEndpoint{SlotID: slot, EndpointID: 1}).Code)
	assert.Equal(t, trb.CodeEndpointNotEnabled, h.command(trb.StopEndpoint{SlotID: slot, EndpointID: 5}).Code)
}

func TestController_BulkLoopback(t *testing.T) {
	h := newHost(t, 32)
	dev := NewDevice(testDescriptor)
	slot, rings := attach(h, dev, 2, 3)
	out, in := rings[0], rings[1]

	payload := []byte("hello, xhci")
	outBuf, inBuf := h.region(64), h.region(64)
	_, err := outBuf.WriteAt(payload, 0)
	require.NoError(t, err)

	addrs := submit(t, out, trb.Normal{Buffer: outBuf.Base(), Length: uint32(len(payload)), IOC: true})
	h.sim.RingDoorbell(slot, 2, 0)
	evt := h.transfer()
	assert.Equal(t, addrs[0], evt.Pointer)
	assert.Equal(t, trb.CodeSuccess, evt.Code)
	assert.Zero(t, evt.Length)
	assert.Equal(t, uint8(2), evt.EndpointID)

	submit(t, in, trb.Normal{Buffer: inBuf.Base(), Length: 64, ShortPacketOK: true, IOC: true})
	h.sim.RingDoorbell(slot, 3, 0)
	evt = h.transfer()
	assert.Equal(t, trb.CodeShortPacket, evt.Code)
	assert.Equal(t, uint32(64-len(payload)), evt.Length)

	got := make([]byte, len(payload))
	_, err = inBuf.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Nothing left to loop back.
	submit(t, in, trb.Normal{Buffer: inBuf.Base(), Length: 64, ShortPacketOK: true, IOC: true})
	h.sim.RingDoorbell(slot, 3, 0)
	evt = h.transfer()
	assert.Equal(t, trb.CodeShortPacket, evt.Code)
	assert.Equal(t, uint32(64), evt.Length)
}

func TestController_InterruptOnCompletionOnly(t *testing.T) {
	h := newHost(t, 32)
	slot, rings := attach(h, NewDevice(testDescriptor), 2)
	buf := h.region(64)

	addrs := submit(t, rings[0],
		trb.Normal{Buffer: buf.Base(), Length: 8},
		trb.NoOp{},
		trb.Normal{Buffer: buf.Base(), Length: 8, IOC: true},
	)
	h.sim.RingDoorbell(slot, 2, 0)

	assert.Equal(t, addrs[2], h.transfer().Pointer)
	h.empty()
}

func TestController_DataBufferError(t *testing.T) {
	h := newHost(t, 32)
	slot, rings := attach(h, NewDevice(testDescriptor), 2)

	addrs := submit(t, rings[0],
		trb.Normal{Buffer: 0x40, Length: 8},
		trb.Normal{Buffer: 0x40, Length: 8, IOC: true},
	)
	h.sim.RingDoorbell(slot, 2, 0)

	evt := h.transfer()
	assert.Equal(t, addrs[0], evt.Pointer, "errors are reported without IOC")
	assert.Equal(t, trb.CodeDataBufferError, evt.Code)
	h.empty()
	assert.True(t, h.sim.Halted(slot, 2))
}

func TestController_UnknownEndpoint(t *testing.T) {
	h := newHost(t, 32)
	h.sim.RingDoorbell(1, 1, 0)
	h.empty()
	assert.NoError(t, h.sim.Err())

	err := h.sim.AttachEndpoint(4, 1, 0x40, true, NewDevice(testDescriptor))
	assert.Error(t, err, "slot not enabled")
}

func TestController_DisableSlotDropsEndpoints(t *testing.T) {
	h := newHost(t, 32)
	slot, rings := attach(h, NewDevice(testDescriptor), 1, 2)
	buf := h.region(8)

	require.Equal(t, trb.CodeSuccess, h.command(trb.DisableSlot{SlotID: slot}).Code)

	submit(t, rings[1], trb.Normal{Buffer: buf.Base(), Length: 8, IOC: true})
	h.sim.RingDoorbell(slot, 2, 0)
	h.empty()
}

func TestController_StopPendingTransfer(t *testing.T) {
	h := newHost(t, 32)
	slot, rings := attach(h, NewDevice(testDescriptor), 2)
	buf := h.region(64)
	h.sim.SetManual(true)

	addrs := submit(t, rings[0], trb.Normal{Buffer: buf.Base(), Length: 8, IOC: true})
	h.sim.RingDoorbell(slot, 2, 0)

	cmd, err := h.cmd.Enqueue(trb.StopEndpoint{SlotID: slot, EndpointID: 2}.Encode())
	require.NoError(t, err)
	h.sim.RingDoorbell(0, 0, 0)
	assert.Equal(t, 1, h.sim.StepCommands())

	evt := h.transfer()
	assert.Equal(t, addrs[0], evt.Pointer)
	assert.Equal(t, trb.CodeStoppedLengthInvalid, evt.Code)
	cc, ok := h.next().(trb.CommandCompletion)
	require.True(t, ok)
	assert.Equal(t, cmd, cc.Command)
	assert.Equal(t, trb.CodeSuccess, cc.Code)
	h.empty()

	// The queued doorbell restarts the endpoint on the same block.
	assert.Equal(t, 1, h.sim.Step())
	evt = h.transfer()
	assert.Equal(t, addrs[0], evt.Pointer)
	assert.Equal(t, trb.CodeSuccess, evt.Code)
	h.empty()

	// Stopping an idle endpoint reports nothing but the completion.
	h.sim.SetManual(false)
	assert.Equal(t, trb.CodeSuccess, h.command(trb.StopEndpoint{SlotID: slot, EndpointID: 2}).Code)
	h.empty()
}
