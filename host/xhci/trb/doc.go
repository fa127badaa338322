// Package trb encodes and decodes Transfer Request Blocks, the 16-byte
// descriptors exchanged with an xHCI host controller through shared rings.
//
// A raw [Block] is four 32-bit words. Word 3 carries the cycle bit (bit 0) and
// the type discriminant (bits 10-15). Every typed variant (for example
// [EnableSlot] or [CommandCompletion]) knows which bits of the four words are
// reserved; decoding fails unless the discriminant matches and all reserved
// bits are zero.
//
// Variants are grouped by the ring they travel on:
//
//   - [Command] blocks go on the command ring
//   - [Transfer] blocks go on per-endpoint transfer rings
//   - [Event] blocks are posted by the controller on the event ring
//
// [Link] is valid on both command and transfer rings.
//
// # Encoding
//
// Encoding is total for valid values and never sets the cycle bit; the ring
// that stores a block owns that bit. Pointers are split into a low and a high
// word. A pointer that violates its alignment, or a field value wider than its
// bit field, is a programming error and makes Encode panic.
//
// # Decoding
//
//	b, err := trb.DecodeEvent(raw)
//	if err != nil {
//	    var verr *trb.ValidationError
//	    errors.As(err, &verr) // verr.Raw holds the unchanged words
//	}
//	switch e := b.(type) {
//	case trb.CommandCompletion:
//	    ...
//	}
package trb
