// Package window implements the sliding send and receive windows over the
// 16-bit wrapping sequence space (spec.md §3, §4.1, §4.2).
package window

import (
	"sort"

	"github.com/aetherflow/qmux/pkg/seq"
)

// Send is an ordered set of outstanding sequence numbers plus the anchor of
// the next sequence to issue. It guarantees strictly increasing wrap-order
// issuance and never holds more than capacity outstanding entries.
type Send struct {
	outstanding map[seq.Seq]struct{}
	next        seq.Seq
	capacity    int
}

// NewSend creates a send window with the given capacity.
func NewSend(capacity int) *Send {
	return &Send{
		outstanding: make(map[seq.Seq]struct{}),
		capacity:    capacity,
	}
}

// Send issues the next sequence number, or reports failure if the window is
// full.
func (w *Send) Send() (seq.Seq, bool) {
	if len(w.outstanding) >= w.capacity {
		return 0, false
	}
	s := w.next
	w.outstanding[s] = struct{}{}
	w.next = s.Add(1)
	return s, true
}

// Ack removes s from the outstanding set. A missing or already-acked s is a
// no-op.
func (w *Send) Ack(s seq.Seq) {
	delete(w.outstanding, s)
}

// SetCapacity updates capacity. Outstanding entries above the new capacity
// are not evicted; they remain valid until acked.
func (w *Send) SetCapacity(capacity int) {
	w.capacity = capacity
}

// Len returns the number of outstanding sequences.
func (w *Send) Len() int {
	return len(w.outstanding)
}

// Outstanding returns the outstanding sequence numbers in wrap-order
// relative to the current next anchor. Intended for tests and debug
// inspection only.
func (w *Send) Outstanding() []seq.Seq {
	out := make([]seq.Seq, 0, len(w.outstanding))
	for s := range w.outstanding {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return seq.Less(w.next, out[i], out[j])
	})
	return out
}
