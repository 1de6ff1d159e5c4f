// Package seq implements the 16-bit wrapping sequence arithmetic shared by
// the send and receive windows of the Quantum multipath engine.
package seq

import "strconv"

// Seq is a 16-bit wrapping sequence number. Ordering and distance are always
// defined relative to a caller-supplied anchor; Seq has no absolute order of
// its own.
type Seq uint16

// New returns the sequence number for the given raw value.
func New(v uint16) Seq {
	return Seq(v)
}

// Value returns the raw 16-bit value.
func (s Seq) Value() uint16 {
	return uint16(s)
}

// Add returns s advanced by k, wrapping around 2^16.
func (s Seq) Add(k uint16) Seq {
	return Seq(uint16(s) + k)
}

// Dist returns the unsigned forward distance (b-a) mod 2^16 from a to b.
func Dist(a, b Seq) uint16 {
	return uint16(b) - uint16(a)
}

// Within reports whether s lies in the half-open window
// [anchor, anchor+capacity) in wrap-relative terms.
func Within(anchor, s Seq, capacity uint16) bool {
	return Dist(anchor, s) < capacity
}

// Less reports whether a precedes b in wrap-relative order around the given
// anchor, i.e. whether a is closer to anchor (in forward distance) than b.
func Less(anchor, a, b Seq) bool {
	return Dist(anchor, a) < Dist(anchor, b)
}

// String implements fmt.Stringer for readable test failures and logs.
func (s Seq) String() string {
	return strconv.FormatUint(uint64(s), 10)
}
