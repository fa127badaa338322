package trb

import "github.com/ardnew/softxhci/host/xhci/dma"

// Event block field positions.
const (
	codeLo       = 24
	eventLenBits = 24
)

// =============================================================================
// Transfer Event
// =============================================================================

// TransferEvent reports the completion of a transfer block.
type TransferEvent struct {
	// Pointer is the address of the transfer block that generated the event,
	// or the Event Data payload when EventData is set.
	Pointer dma.Addr
	// Length is the residual number of bytes not transferred.
	Length     uint32
	Code       CompletionCode
	EventData  bool
	EndpointID uint8
	SlotID     uint8
}

// Type implements TRB.
func (TransferEvent) Type() Type { return TypeTransferEvent }

func (TransferEvent) event() {}

// Encode implements TRB.
func (e TransferEvent) Encode() Block {
	lo, hi := e.Pointer.Lo(), e.Pointer.Hi()
	if !e.EventData {
		lo, hi = pointer(e.Pointer, PointerAlignment, "transfer block pointer")
	}
	return Block{
		lo,
		hi,
		field(e.Length, 0, eventLenBits, "transfer length") | uint32(e.Code)<<codeLo,
		header(TypeTransferEvent) | bit(e.EventData, 2) |
			field(uint32(e.EndpointID), endpointLo, endpointBits, "endpoint ID") |
			uint32(e.SlotID)<<slotIDLo,
	}
}

var transferEventLayout = layout{
	typ:  TypeTransferEvent,
	role: RoleEvent,
	rsvd: [4]uint32{0, 0, 0, 0x00e003fa},
	check: func(b Block) bool {
		// Without Event Data the pointer references a block.
		return flag(b[3], 2) || b[0]&(PointerAlignment-1) == 0
	},
	decode: func(b Block) TRB {
		return TransferEvent{
			Pointer:    b.Pointer(),
			Length:     bits(b[2], 0, eventLenBits),
			Code:       CompletionCode(b[2] >> codeLo),
			EventData:  flag(b[3], 2),
			EndpointID: uint8(bits(b[3], endpointLo, endpointBits)),
			SlotID:     uint8(b[3] >> slotIDLo),
		}
	},
}

// =============================================================================
// Command Completion
// =============================================================================

// CommandCompletion reports the completion of a command block.
type CommandCompletion struct {
	// Command is the address of the command block that completed.
	Command   dma.Addr
	Parameter uint32
	Code      CompletionCode
	VFID      uint8
	SlotID    uint8
}

// Type implements TRB.
func (CommandCompletion) Type() Type { return TypeCommandCompletion }

func (CommandCompletion) event() {}

// Encode implements TRB.
func (e CommandCompletion) Encode() Block {
	lo, hi := pointer(e.Command, PointerAlignment, "command block pointer")
	return Block{
		lo,
		hi,
		field(e.Parameter, 0, 24, "completion parameter") | uint32(e.Code)<<codeLo,
		header(TypeCommandCompletion) | uint32(e.VFID)<<16 | uint32(e.SlotID)<<slotIDLo,
	}
}

var commandCompletionLayout = layout{
	typ:  TypeCommandCompletion,
	role: RoleEvent,
	rsvd: [4]uint32{0x0000000f, 0, 0, 0x000003fe},
	decode: func(b Block) TRB {
		return CommandCompletion{
			Command:   b.Pointer(),
			Parameter: bits(b[2], 0, 24),
			Code:      CompletionCode(b[2] >> codeLo),
			VFID:      uint8(b[3] >> 16),
			SlotID:    uint8(b[3] >> slotIDLo),
		}
	},
}

// =============================================================================
// Port Status Change
// =============================================================================

// PortStatusChange reports a change in a root hub port's status register.
type PortStatusChange struct {
	Port uint8
	Code CompletionCode
}

// Type implements TRB.
func (PortStatusChange) Type() Type { return TypePortStatusChange }

func (PortStatusChange) event() {}

// Encode implements TRB.
func (e PortStatusChange) Encode() Block {
	return Block{
		uint32(e.Port) << 24,
		0,
		uint32(e.Code) << codeLo,
		header(TypePortStatusChange),
	}
}

var portStatusChangeLayout = layout{
	typ:  TypePortStatusChange,
	role: RoleEvent,
	rsvd: [4]uint32{0x00ffffff, 0xffffffff, 0x00ffffff, 0xffff03fe},
	decode: func(b Block) TRB {
		return PortStatusChange{
			Port: uint8(b[0] >> 24),
			Code: CompletionCode(b[2] >> codeLo),
		}
	},
}

// =============================================================================
// Host Controller Event
// =============================================================================

// HostControllerEvent reports a controller-wide condition such as an event
// ring full error.
type HostControllerEvent struct {
	Code CompletionCode
}

// Type implements TRB.
func (HostControllerEvent) Type() Type { return TypeHostControllerEvent }

func (HostControllerEvent) event() {}

// Encode implements TRB.
func (e HostControllerEvent) Encode() Block {
	return Block{0, 0, uint32(e.Code) << codeLo, header(TypeHostControllerEvent)}
}

var hostControllerEventLayout = layout{
	typ:  TypeHostControllerEvent,
	role: RoleEvent,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0x00ffffff, 0xffff03fe},
	decode: func(b Block) TRB {
		return HostControllerEvent{Code: CompletionCode(b[2] >> codeLo)}
	},
}
