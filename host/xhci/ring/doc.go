// Package ring implements the circular block buffers shared with the host
// controller.
//
// A [Ring] is one contiguous segment of blocks whose last slot holds a Link
// block pointing back at the first. Ownership of each slot is decided by its
// cycle bit alone: a slot belongs to the consumer when its cycle bit equals
// the consumer's cycle state. Producers therefore write words 0 through 2 of
// a slot before word 3, which carries the cycle bit.
//
// Command and transfer rings are produced by software and consumed by the
// controller. The producer learns which slots the controller has consumed
// from completion events and reports them with [Ring.Retire], which keeps
// [Ring.Free] accurate without reading controller state.
//
// The event ring is produced by the controller. It may span several segments
// described by a [SegmentTable]; [EventRing] walks the segments in table
// order and flips its cycle state after the last one. Event ring segments
// carry no Link blocks.
package ring
