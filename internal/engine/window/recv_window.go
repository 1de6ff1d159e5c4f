package window

import (
	"github.com/aetherflow/qmux/pkg/seq"
)

// ReceiveResult is the outcome of admitting a sequence number to a Recv
// window.
type ReceiveResult int

const (
	// Reject means the sequence fell outside the window and was dropped.
	Reject ReceiveResult = iota
	// Accept means the sequence was admitted (duplicates admit idempotently).
	Accept
)

// Recv is an ordered set of admitted sequences plus the shadow_first anchor:
// the lowest sequence not yet delivered to the application.
type Recv struct {
	admitted    map[seq.Seq]struct{}
	shadowFirst seq.Seq
	capacity    int
}

// NewRecv creates a receive window with the given capacity.
func NewRecv(capacity int) *Recv {
	return &Recv{
		admitted: make(map[seq.Seq]struct{}),
		capacity: capacity,
	}
}

// Receive admits s if it falls within [shadowFirst, shadowFirst+capacity).
// Admitting an already-admitted sequence is idempotent and still reports
// Accept.
func (w *Recv) Receive(s seq.Seq) ReceiveResult {
	if !seq.Within(w.shadowFirst, s, uint16(w.capacity)) {
		return Reject
	}
	w.admitted[s] = struct{}{}
	return Accept
}

// Pop removes and returns shadowFirst if it has been admitted, advancing
// shadowFirst by one. Otherwise it returns false: out-of-order payloads wait.
func (w *Recv) Pop() (seq.Seq, bool) {
	if _, ok := w.admitted[w.shadowFirst]; !ok {
		return 0, false
	}
	first := w.shadowFirst
	delete(w.admitted, first)
	w.shadowFirst = first.Add(1)
	return first, true
}

// SetCapacity shrinks or grows the admitted window prospectively; already
// admitted sequences are unaffected.
func (w *Recv) SetCapacity(capacity int) {
	w.capacity = capacity
}

// ShadowFirst returns the current left edge of the window.
func (w *Recv) ShadowFirst() seq.Seq {
	return w.shadowFirst
}

// Len returns the number of currently admitted (not yet popped) sequences.
func (w *Recv) Len() int {
	return len(w.admitted)
}
