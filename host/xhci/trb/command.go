package trb

import "github.com/ardnew/softxhci/host/xhci/dma"

// Command block field positions.
const (
	slotIDLo     = 24
	slotIDBits   = 8
	endpointLo   = 16
	endpointBits = 5
)

// =============================================================================
// Enable Slot / Disable Slot / Reset Device
// =============================================================================

// EnableSlot asks the controller for a free device slot. The slot ID is
// returned in the command completion.
type EnableSlot struct {
	SlotType uint8
}

// Type implements TRB.
func (EnableSlot) Type() Type { return TypeEnableSlot }

func (EnableSlot) command() {}

// Encode implements TRB.
func (c EnableSlot) Encode() Block {
	return Block{0, 0, 0,
		header(TypeEnableSlot) | field(uint32(c.SlotType), 16, 5, "slot type")}
}

var enableSlotLayout = layout{
	typ:  TypeEnableSlot,
	role: RoleCommand,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0xffe003fe},
	decode: func(b Block) TRB {
		return EnableSlot{SlotType: uint8(bits(b[3], 16, 5))}
	},
}

// DisableSlot releases a device slot.
type DisableSlot struct {
	SlotID uint8
}

// Type implements TRB.
func (DisableSlot) Type() Type { return TypeDisableSlot }

func (DisableSlot) command() {}

// Encode implements TRB.
func (c DisableSlot) Encode() Block {
	return Block{0, 0, 0, header(TypeDisableSlot) | uint32(c.SlotID)<<slotIDLo}
}

var disableSlotLayout = layout{
	typ:  TypeDisableSlot,
	role: RoleCommand,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0x00ff03fe},
	decode: func(b Block) TRB {
		return DisableSlot{SlotID: uint8(b[3] >> slotIDLo)}
	},
}

// ResetDevice resets the device attached to a slot.
type ResetDevice struct {
	SlotID uint8
}

// Type implements TRB.
func (ResetDevice) Type() Type { return TypeResetDevice }

func (ResetDevice) command() {}

// Encode implements TRB.
func (c ResetDevice) Encode() Block {
	return Block{0, 0, 0, header(TypeResetDevice) | uint32(c.SlotID)<<slotIDLo}
}

var resetDeviceLayout = layout{
	typ:  TypeResetDevice,
	role: RoleCommand,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0x00ff03fe},
	decode: func(b Block) TRB {
		return ResetDevice{SlotID: uint8(b[3] >> slotIDLo)}
	},
}

// =============================================================================
// Context commands
// =============================================================================

// AddressDevice assigns a USB address to the device in a slot using the
// given input context.
type AddressDevice struct {
	InputContext dma.Addr
	// BlockSetAddress skips the SET_ADDRESS request (BSR).
	BlockSetAddress bool
	SlotID          uint8
}

// Type implements TRB.
func (AddressDevice) Type() Type { return TypeAddressDevice }

func (AddressDevice) command() {}

// Encode implements TRB.
func (c AddressDevice) Encode() Block {
	lo, hi := pointer(c.InputContext, PointerAlignment, "input context pointer")
	return Block{lo, hi, 0,
		header(TypeAddressDevice) | bit(c.BlockSetAddress, 9) | uint32(c.SlotID)<<slotIDLo}
}

var addressDeviceLayout = layout{
	typ:  TypeAddressDevice,
	role: RoleCommand,
	rsvd: [4]uint32{0x0000000f, 0, 0xffffffff, 0x00ff01fe},
	decode: func(b Block) TRB {
		return AddressDevice{
			InputContext:    b.Pointer(),
			BlockSetAddress: flag(b[3], 9),
			SlotID:          uint8(b[3] >> slotIDLo),
		}
	},
}

// ConfigureEndpoint adds, drops or (with Deconfigure) removes the endpoints
// described by an input context.
type ConfigureEndpoint struct {
	InputContext dma.Addr
	Deconfigure  bool
	SlotID       uint8
}

// Type implements TRB.
func (ConfigureEndpoint) Type() Type { return TypeConfigureEndpoint }

func (ConfigureEndpoint) command() {}

// Encode implements TRB.
func (c ConfigureEndpoint) Encode() Block {
	lo, hi := pointer(c.InputContext, PointerAlignment, "input context pointer")
	return Block{lo, hi, 0,
		header(TypeConfigureEndpoint) | bit(c.Deconfigure, 9) | uint32(c.SlotID)<<slotIDLo}
}

var configureEndpointLayout = layout{
	typ:  TypeConfigureEndpoint,
	role: RoleCommand,
	rsvd: [4]uint32{0x0000000f, 0, 0xffffffff, 0x00ff01fe},
	decode: func(b Block) TRB {
		return ConfigureEndpoint{
			InputContext: b.Pointer(),
			Deconfigure:  flag(b[3], 9),
			SlotID:       uint8(b[3] >> slotIDLo),
		}
	},
}

// EvaluateContext updates slot or endpoint 0 parameters from an input context.
type EvaluateContext struct {
	InputContext dma.Addr
	SlotID       uint8
}

// Type implements TRB.
func (EvaluateContext) Type() Type { return TypeEvaluateContext }

func (EvaluateContext) command() {}

// Encode implements TRB.
func (c EvaluateContext) Encode() Block {
	lo, hi := pointer(c.InputContext, PointerAlignment, "input context pointer")
	return Block{lo, hi, 0, header(TypeEvaluateContext) | uint32(c.SlotID)<<slotIDLo}
}

var evaluateContextLayout = layout{
	typ:  TypeEvaluateContext,
	role: RoleCommand,
	rsvd: [4]uint32{0x0000000f, 0, 0xffffffff, 0x00ff03fe},
	decode: func(b Block) TRB {
		return EvaluateContext{
			InputContext: b.Pointer(),
			SlotID:       uint8(b[3] >> slotIDLo),
		}
	},
}

// =============================================================================
// Endpoint commands
// =============================================================================

// ResetEndpoint recovers a halted endpoint.
type ResetEndpoint struct {
	// TransferStatePreserve keeps the transfer ring state (TSP).
	TransferStatePreserve bool
	EndpointID            uint8
	SlotID                uint8
}

// Type implements TRB.
func (ResetEndpoint) Type() Type { return TypeResetEndpoint }

func (ResetEndpoint) command() {}

// Encode implements TRB.
func (c ResetEndpoint) Encode() Block {
	return Block{0, 0, 0,
		header(TypeResetEndpoint) | bit(c.TransferStatePreserve, 9) |
			field(uint32(c.EndpointID), endpointLo, endpointBits, "endpoint ID") |
			uint32(c.SlotID)<<slotIDLo}
}

var resetEndpointLayout = layout{
	typ:  TypeResetEndpoint,
	role: RoleCommand,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0x00e001fe},
	decode: func(b Block) TRB {
		return ResetEndpoint{
			TransferStatePreserve: flag(b[3], 9),
			EndpointID:            uint8(bits(b[3], endpointLo, endpointBits)),
			SlotID:                uint8(b[3] >> slotIDLo),
		}
	},
}

// StopEndpoint stops the transfer ring of an endpoint.
type StopEndpoint struct {
	EndpointID uint8
	Suspend    bool
	SlotID     uint8
}

// Type implements TRB.
func (StopEndpoint) Type() Type { return TypeStopEndpoint }

func (StopEndpoint) command() {}

// Encode implements TRB.
func (c StopEndpoint) Encode() Block {
	return Block{0, 0, 0,
		header(TypeStopEndpoint) |
			field(uint32(c.EndpointID), endpointLo, endpointBits, "endpoint ID") |
			bit(c.Suspend, 23) | uint32(c.SlotID)<<slotIDLo}
}

var stopEndpointLayout = layout{
	typ:  TypeStopEndpoint,
	role: RoleCommand,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0x006003fe},
	decode: func(b Block) TRB {
		return StopEndpoint{
			EndpointID: uint8(bits(b[3], endpointLo, endpointBits)),
			Suspend:    flag(b[3], 23),
			SlotID:     uint8(b[3] >> slotIDLo),
		}
	},
}

// SetTRDequeuePointer moves the dequeue pointer of a stopped endpoint.
type SetTRDequeuePointer struct {
	Dequeue           dma.Addr
	DequeueCycle      bool
	StreamContextType uint8
	StreamID          uint16
	EndpointID        uint8
	SlotID            uint8
}

// Type implements TRB.
func (SetTRDequeuePointer) Type() Type { return TypeSetTRDequeuePointer }

func (SetTRDequeuePointer) command() {}

// Encode implements TRB.
func (c SetTRDequeuePointer) Encode() Block {
	lo, hi := pointer(c.Dequeue, PointerAlignment, "dequeue pointer")
	return Block{
		lo | bit(c.DequeueCycle, 0) | field(uint32(c.StreamContextType), 1, 3, "stream context type"),
		hi,
		uint32(c.StreamID) << 16,
		header(TypeSetTRDequeuePointer) |
			field(uint32(c.EndpointID), endpointLo, endpointBits, "endpoint ID") |
			uint32(c.SlotID)<<slotIDLo,
	}
}

var setTRDequeuePointerLayout = layout{
	typ:  TypeSetTRDequeuePointer,
	role: RoleCommand,
	rsvd: [4]uint32{0, 0, 0x0000ffff, 0x00e003fe},
	decode: func(b Block) TRB {
		return SetTRDequeuePointer{
			Dequeue:           dma.Join(b[0]&^0xf, b[1]),
			DequeueCycle:      flag(b[0], 0),
			StreamContextType: uint8(bits(b[0], 1, 3)),
			StreamID:          uint16(b[2] >> 16),
			EndpointID:        uint8(bits(b[3], endpointLo, endpointBits)),
			SlotID:            uint8(b[3] >> slotIDLo),
		}
	},
}

// =============================================================================
// No Op Command
// =============================================================================

// NoOpCommand exercises the command ring without side effects.
type NoOpCommand struct{}

// Type implements TRB.
func (NoOpCommand) Type() Type { return TypeNoOpCommand }

func (NoOpCommand) command() {}

// Encode implements TRB.
func (NoOpCommand) Encode() Block {
	return Block{0, 0, 0, header(TypeNoOpCommand)}
}

var noOpCommandLayout = layout{
	typ:  TypeNoOpCommand,
	role: RoleCommand,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0xffff03fe},
	decode: func(Block) TRB {
		return NoOpCommand{}
	},
}
