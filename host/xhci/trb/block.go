package trb

import (
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/dma"
)

// Size is the size of a block in bytes.
const Size = 16

// Alignment requirements for pointers embedded in blocks.
const (
	// PointerAlignment applies to pointers that reference blocks or contexts.
	PointerAlignment = 16

	// SegmentAlignment applies to ring segment base addresses.
	SegmentAlignment = 64
)

// Word 3 common fields.
const (
	cycleBit  = 1 << 0
	typeShift = 10
	typeMask  = 0x3f << typeShift
)

// Block is a raw 16-byte descriptor as four little-endian 32-bit words.
type Block [4]uint32

// Type returns the type discriminant stored in word 3.
func (b Block) Type() Type {
	return Type((b[3] & typeMask) >> typeShift)
}

// Cycle returns the ownership bit.
func (b Block) Cycle() bool {
	return b[3]&cycleBit != 0
}

// WithCycle returns a copy of b with the ownership bit set to c.
func (b Block) WithCycle(c bool) Block {
	b[3] = b[3]&^cycleBit | bit(c, 0)
	return b
}

// Pointer returns the 64-bit value held in words 0 and 1.
func (b Block) Pointer() dma.Addr {
	return dma.Join(b[0], b[1])
}

// String formats the raw words.
func (b Block) String() string {
	return fmt.Sprintf("[%08x %08x %08x %08x]", b[0], b[1], b[2], b[3])
}

// TRB is implemented by every typed block.
type TRB interface {
	// Type returns the discriminant of the variant.
	Type() Type
	// Encode returns the raw layout with the cycle bit clear.
	Encode() Block
}

// Command is a block valid on the command ring.
type Command interface {
	TRB
	command()
}

// Transfer is a block valid on a transfer ring.
type Transfer interface {
	TRB
	transfer()
	// InterruptOnCompletion reports whether the controller posts a transfer
	// event when it completes this block.
	InterruptOnCompletion() bool
}

// Event is a block posted by the controller on the event ring.
type Event interface {
	TRB
	event()
}

// Role selects the ring a block is decoded for.
type Role uint8

// Roles.
const (
	RoleTransfer Role = 1 << iota
	RoleCommand
	RoleEvent
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleTransfer:
		return "transfer"
	case RoleCommand:
		return "command"
	case RoleEvent:
		return "event"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Decoding errors.
var (
	// ErrUnknownType indicates the discriminant is not a known variant for
	// the requested role.
	ErrUnknownType = errors.New("unknown block type")

	// ErrReservedBits indicates a reserved bit is set or a fixed field holds
	// a value the variant does not allow.
	ErrReservedBits = errors.New("reserved bits set")
)

// ValidationError reports a block that could not be decoded. Raw holds the
// offending words unchanged.
type ValidationError struct {
	Raw  Block
	Role Role
	Err  error
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("decode %v block %v (type %v): %v", e.Role, e.Raw, e.Raw.Type(), e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// layout describes how one variant is validated and decoded.
type layout struct {
	typ  Type
	role Role
	// rsvd holds the reserved-bit mask for each word. The cycle bit and type
	// field are never reserved.
	rsvd [4]uint32
	// check validates fixed fields beyond the reserved mask.
	check  func(Block) bool
	decode func(Block) TRB
}

func (l *layout) valid(b Block) bool {
	for i, m := range l.rsvd {
		if b[i]&m != 0 {
			return false
		}
	}
	return l.check == nil || l.check(b)
}

// layouts is searched in order; the first entry whose type and role match
// and whose validation passes decodes the block.
var layouts = []layout{
	normalLayout,
	setupStageLayout,
	dataStageLayout,
	statusStageLayout,
	linkLayout,
	noOpLayout,
	enableSlotLayout,
	disableSlotLayout,
	addressDeviceLayout,
	configureEndpointLayout,
	evaluateContextLayout,
	resetEndpointLayout,
	stopEndpointLayout,
	setTRDequeuePointerLayout,
	resetDeviceLayout,
	noOpCommandLayout,
	transferEventLayout,
	commandCompletionLayout,
	portStatusChangeLayout,
	hostControllerEventLayout,
}

// Decode decodes raw as a variant valid for any of the given roles.
func Decode(raw Block, role Role) (TRB, error) {
	t := raw.Type()
	matched := false
	for i := range layouts {
		l := &layouts[i]
		if l.typ != t || l.role&role == 0 {
			continue
		}
		matched = true
		if l.valid(raw) {
			return l.decode(raw), nil
		}
	}
	if !matched {
		return nil, &ValidationError{Raw: raw, Role: role, Err: ErrUnknownType}
	}
	return nil, &ValidationError{Raw: raw, Role: role, Err: ErrReservedBits}
}

// DecodeCommand decodes raw as a command ring block.
func DecodeCommand(raw Block) (Command, error) {
	v, err := Decode(raw, RoleCommand)
	if err != nil {
		return nil, err
	}
	return v.(Command), nil
}

// DecodeTransfer decodes raw as a transfer ring block.
func DecodeTransfer(raw Block) (Transfer, error) {
	v, err := Decode(raw, RoleTransfer)
	if err != nil {
		return nil, err
	}
	return v.(Transfer), nil
}

// DecodeEvent decodes raw as an event ring block.
func DecodeEvent(raw Block) (Event, error) {
	v, err := Decode(raw, RoleEvent)
	if err != nil {
		return nil, err
	}
	return v.(Event), nil
}

// =============================================================================
// Bit helpers
// =============================================================================

func header(t Type) uint32 {
	return uint32(t) << typeShift
}

func bit(b bool, n uint) uint32 {
	if b {
		return 1 << n
	}
	return 0
}

func flag(w uint32, n uint) bool {
	return w&(1<<n) != 0
}

func bits(w uint32, lo, width uint) uint32 {
	return (w >> lo) & (1<<width - 1)
}

// field places v at bit lo, panicking if v does not fit in width bits.
func field(v uint32, lo, width uint, name string) uint32 {
	if v >= 1<<width {
		panic(fmt.Sprintf("trb: %s value %d exceeds %d-bit field", name, v, width))
	}
	return v << lo
}

// pointer splits a into low and high words, panicking if a is not aligned to
// n bytes.
func pointer(a dma.Addr, n uint64, name string) (lo, hi uint32) {
	if !a.Aligned(n) {
		panic(fmt.Sprintf("trb: %s %v is not %d-byte aligned", name, a, n))
	}
	return a.Lo(), a.Hi()
}
