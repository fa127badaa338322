package trb

import (
	"encoding/binary"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/dma"
)

// Field widths shared by transfer blocks.
const (
	lengthBits      = 17
	tdSizeBits      = 5
	interrupterBits = 10
	interrupterLo   = 22
)

// MaxTransferLength is the largest data length a single transfer block
// can describe.
const MaxTransferLength = 1<<lengthBits - 1

// =============================================================================
// Normal
// =============================================================================

// Normal describes a bulk or interrupt data buffer.
type Normal struct {
	// Buffer is the data buffer address, or the immediate data itself when
	// ImmediateData is set.
	Buffer        dma.Addr
	Length        uint32
	TDSize        uint8
	Interrupter   uint16
	EvaluateNext  bool
	ShortPacketOK bool // ISP: post an event on a short packet
	NoSnoop       bool
	Chain         bool
	IOC           bool
	ImmediateData bool
	BlockEvent    bool
}

// Type implements TRB.
func (Normal) Type() Type { return TypeNormal }

func (Normal) transfer() {}

// InterruptOnCompletion implements Transfer.
func (t Normal) InterruptOnCompletion() bool { return t.IOC }

// Encode implements TRB.
func (t Normal) Encode() Block {
	return Block{
		t.Buffer.Lo(),
		t.Buffer.Hi(),
		field(t.Length, 0, lengthBits, "transfer length") |
			field(uint32(t.TDSize), 17, tdSizeBits, "TD size") |
			field(uint32(t.Interrupter), interrupterLo, interrupterBits, "interrupter target"),
		header(TypeNormal) |
			bit(t.EvaluateNext, 1) | bit(t.ShortPacketOK, 2) | bit(t.NoSnoop, 3) |
			bit(t.Chain, 4) | bit(t.IOC, 5) | bit(t.ImmediateData, 6) | bit(t.BlockEvent, 9),
	}
}

var normalLayout = layout{
	typ:  TypeNormal,
	role: RoleTransfer,
	rsvd: [4]uint32{0, 0, 0, 0xffff0180},
	decode: func(b Block) TRB {
		return Normal{
			Buffer:        b.Pointer(),
			Length:        bits(b[2], 0, lengthBits),
			TDSize:        uint8(bits(b[2], 17, tdSizeBits)),
			Interrupter:   uint16(bits(b[2], interrupterLo, interrupterBits)),
			EvaluateNext:  flag(b[3], 1),
			ShortPacketOK: flag(b[3], 2),
			NoSnoop:       flag(b[3], 3),
			Chain:         flag(b[3], 4),
			IOC:           flag(b[3], 5),
			ImmediateData: flag(b[3], 6),
			BlockEvent:    flag(b[3], 9),
		}
	},
}

// =============================================================================
// Setup Stage
// =============================================================================

// DataStageKind is the Transfer Type (TRT) field of a Setup Stage block.
type DataStageKind uint8

// Setup Stage transfer types.
const (
	NoDataStage  DataStageKind = 0
	OutDataStage DataStageKind = 2
	InDataStage  DataStageKind = 3
)

// Setup Stage blocks always carry the 8-byte SETUP packet as immediate data.
const (
	setupIDTBit = 6
	setupLength = hal.SetupPacketSize
)

// SetupStage carries the SETUP packet of a control transfer.
type SetupStage struct {
	Setup       hal.SetupPacket
	DataStage   DataStageKind
	Interrupter uint16
	IOC         bool
}

// Type implements TRB.
func (SetupStage) Type() Type { return TypeSetupStage }

func (SetupStage) transfer() {}

// InterruptOnCompletion implements Transfer.
func (t SetupStage) InterruptOnCompletion() bool { return t.IOC }

// Encode implements TRB.
func (t SetupStage) Encode() Block {
	if t.DataStage == 1 || t.DataStage > InDataStage {
		panic("trb: reserved setup stage transfer type")
	}
	var raw [hal.SetupPacketSize]byte
	t.Setup.MarshalTo(raw[:])
	return Block{
		binary.LittleEndian.Uint32(raw[0:]),
		binary.LittleEndian.Uint32(raw[4:]),
		setupLength |
			field(uint32(t.Interrupter), interrupterLo, interrupterBits, "interrupter target"),
		header(TypeSetupStage) | bit(t.IOC, 5) | 1<<setupIDTBit |
			uint32(t.DataStage)<<16,
	}
}

var setupStageLayout = layout{
	typ:  TypeSetupStage,
	role: RoleTransfer,
	rsvd: [4]uint32{0, 0, 0x003e0000, 0xfffc039e},
	check: func(b Block) bool {
		return bits(b[2], 0, lengthBits) == setupLength &&
			flag(b[3], setupIDTBit) &&
			bits(b[3], 16, 2) != 1
	},
	decode: func(b Block) TRB {
		var raw [hal.SetupPacketSize]byte
		binary.LittleEndian.PutUint32(raw[0:], b[0])
		binary.LittleEndian.PutUint32(raw[4:], b[1])
		var setup hal.SetupPacket
		hal.ParseSetupPacket(raw[:], &setup)
		return SetupStage{
			Setup:       setup,
			DataStage:   DataStageKind(bits(b[3], 16, 2)),
			Interrupter: uint16(bits(b[2], interrupterLo, interrupterBits)),
			IOC:         flag(b[3], 5),
		}
	},
}

// =============================================================================
// Data Stage
// =============================================================================

// DataStage describes the data buffer of a control transfer.
type DataStage struct {
	Buffer        dma.Addr
	Length        uint32
	TDSize        uint8
	Interrupter   uint16
	EvaluateNext  bool
	ShortPacketOK bool
	NoSnoop       bool
	Chain         bool
	IOC           bool
	ImmediateData bool
	In            bool // DIR: device to host
}

// Type implements TRB.
func (DataStage) Type() Type { return TypeDataStage }

func (DataStage) transfer() {}

// InterruptOnCompletion implements Transfer.
func (t DataStage) InterruptOnCompletion() bool { return t.IOC }

// Encode implements TRB.
func (t DataStage) Encode() Block {
	return Block{
		t.Buffer.Lo(),
		t.Buffer.Hi(),
		field(t.Length, 0, lengthBits, "transfer length") |
			field(uint32(t.TDSize), 17, tdSizeBits, "TD size") |
			field(uint32(t.Interrupter), interrupterLo, interrupterBits, "interrupter target"),
		header(TypeDataStage) |
			bit(t.EvaluateNext, 1) | bit(t.ShortPacketOK, 2) | bit(t.NoSnoop, 3) |
			bit(t.Chain, 4) | bit(t.IOC, 5) | bit(t.ImmediateData, 6) | bit(t.In, 16),
	}
}

var dataStageLayout = layout{
	typ:  TypeDataStage,
	role: RoleTransfer,
	rsvd: [4]uint32{0, 0, 0, 0xfffe0380},
	decode: func(b Block) TRB {
		return DataStage{
			Buffer:        b.Pointer(),
			Length:        bits(b[2], 0, lengthBits),
			TDSize:        uint8(bits(b[2], 17, tdSizeBits)),
			Interrupter:   uint16(bits(b[2], interrupterLo, interrupterBits)),
			EvaluateNext:  flag(b[3], 1),
			ShortPacketOK: flag(b[3], 2),
			NoSnoop:       flag(b[3], 3),
			Chain:         flag(b[3], 4),
			IOC:           flag(b[3], 5),
			ImmediateData: flag(b[3], 6),
			In:            flag(b[3], 16),
		}
	},
}

// =============================================================================
// Status Stage
// =============================================================================

// StatusStage completes a control transfer.
type StatusStage struct {
	Interrupter  uint16
	EvaluateNext bool
	Chain        bool
	IOC          bool
	In           bool
}

// Type implements TRB.
func (StatusStage) Type() Type { return TypeStatusStage }

func (StatusStage) transfer() {}

// InterruptOnCompletion implements Transfer.
func (t StatusStage) InterruptOnCompletion() bool { return t.IOC }

// Encode implements TRB.
func (t StatusStage) Encode() Block {
	return Block{
		0,
		0,
		field(uint32(t.Interrupter), interrupterLo, interrupterBits, "interrupter target"),
		header(TypeStatusStage) |
			bit(t.EvaluateNext, 1) | bit(t.Chain, 4) | bit(t.IOC, 5) | bit(t.In, 16),
	}
}

var statusStageLayout = layout{
	typ:  TypeStatusStage,
	role: RoleTransfer,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0x003fffff, 0xfffe03cc},
	decode: func(b Block) TRB {
		return StatusStage{
			Interrupter:  uint16(bits(b[2], interrupterLo, interrupterBits)),
			EvaluateNext: flag(b[3], 1),
			Chain:        flag(b[3], 4),
			IOC:          flag(b[3], 5),
			In:           flag(b[3], 16),
		}
	},
}

// =============================================================================
// Link
// =============================================================================

// Link redirects ring traversal to another segment. A ring places one at its
// last slot, pointing back at its own base, with ToggleCycle set.
type Link struct {
	Segment     dma.Addr
	Interrupter uint16
	ToggleCycle bool
	Chain       bool
	IOC         bool
}

// Type implements TRB.
func (Link) Type() Type { return TypeLink }

func (Link) transfer() {}
func (Link) command() {}

// InterruptOnCompletion implements Transfer.
func (t Link) InterruptOnCompletion() bool { return t.IOC }

// Encode implements TRB.
func (t Link) Encode() Block {
	lo, hi := pointer(t.Segment, PointerAlignment, "link segment pointer")
	return Block{
		lo,
		hi,
		field(uint32(t.Interrupter), interrupterLo, interrupterBits, "interrupter target"),
		header(TypeLink) | bit(t.ToggleCycle, 1) | bit(t.Chain, 4) | bit(t.IOC, 5),
	}
}

var linkLayout = layout{
	typ:  TypeLink,
	role: RoleTransfer | RoleCommand,
	rsvd: [4]uint32{0x0000000f, 0, 0x003fffff, 0xffff03cc},
	decode: func(b Block) TRB {
		return Link{
			Segment:     b.Pointer(),
			Interrupter: uint16(bits(b[2], interrupterLo, interrupterBits)),
			ToggleCycle: flag(b[3], 1),
			Chain:       flag(b[3], 4),
			IOC:         flag(b[3], 5),
		}
	},
}

// =============================================================================
// No Op
// =============================================================================

// NoOp is a transfer ring block that moves no data.
type NoOp struct {
	Interrupter  uint16
	EvaluateNext bool
	Chain        bool
	IOC          bool
}

// Type implements TRB.
func (NoOp) Type() Type { return TypeNoOp }

func (NoOp) transfer() {}

// InterruptOnCompletion implements Transfer.
func (t NoOp) InterruptOnCompletion() bool { return t.IOC }

// Encode implements TRB.
func (t NoOp) Encode() Block {
	return Block{
		0,
		0,
		field(uint32(t.Interrupter), interrupterLo, interrupterBits, "interrupter target"),
		header(TypeNoOp) | bit(t.EvaluateNext, 1) | bit(t.Chain, 4) | bit(t.IOC, 5),
	}
}

var noOpLayout = layout{
	typ:  TypeNoOp,
	role: RoleTransfer,
	rsvd: [4]uint32{0xffffffff, 0xffffffff, 0x003fffff, 0xffff03cc},
	decode: func(b Block) TRB {
		return NoOp{
			Interrupter:  uint16(bits(b[2], interrupterLo, interrupterBits)),
			EvaluateNext: flag(b[3], 1),
			Chain:        flag(b[3], 4),
			IOC:          flag(b[3], 5),
		}
	},
}
