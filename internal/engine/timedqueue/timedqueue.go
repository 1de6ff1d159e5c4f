// Package timedqueue implements the timed send tracker of spec.md §4.3: a
// send window paired with per-sequence, owner-tagged timers used to detect
// RTOs and to attribute RTT samples to the channel that legitimately earned
// them.
package timedqueue

import (
	"time"

	"github.com/aetherflow/qmux/internal/engine/window"
	"github.com/aetherflow/qmux/pkg/seq"
)

// timer is the per-sequence record described in spec.md §3: start time,
// timeout, owner tag, and a flag that suppresses the RTT sample on ack
// (set when the entry was last touched by Retransmit rather than Send).
type timer struct {
	start      time.Time
	timeout    time.Duration
	owner      any
	invalidate bool
}

func (t *timer) timedOut(now time.Time) bool {
	return now.Sub(t.start) >= t.timeout
}

// RetransmitResult is the outcome of Retransmit.
type RetransmitResult int

const (
	// Wait means the timer has not yet elapsed; the caller should not
	// retransmit yet.
	Wait RetransmitResult = iota
	// Retransmit means the timer elapsed and the timer was re-armed.
	Retransmit
)

// NotFoundError is returned when an operation names a sequence the tracker
// never issued or has already retired.
type NotFoundError struct{}

func (NotFoundError) Error() string { return "sequence number not found" }

// Queue is a timed send tracker: a send window plus owner-tagged timers.
type Queue struct {
	send   *window.Send
	timers map[seq.Seq]*timer
}

// New creates a timed send tracker with the given window capacity.
func New(capacity int) *Queue {
	return &Queue{
		send:   window.NewSend(capacity),
		timers: make(map[seq.Seq]*timer),
	}
}

// Send issues a sequence through the underlying send window and, on
// success, arms a timer tagged with owner.
func (q *Queue) Send(now time.Time, timeout time.Duration, owner any) (seq.Seq, bool) {
	s, ok := q.send.Send()
	if !ok {
		return 0, false
	}
	q.timers[s] = &timer{start: now, timeout: timeout, owner: owner}
	return s, true
}

// Retransmit re-arms the timer for seq if it has timed out, tagging the new
// entry so that a subsequent Ack on it yields no RTT sample: the
// retransmitted copy is indistinguishable from the original on the wire, so
// any sample collected against it would be ambiguous.
func (q *Queue) Retransmit(seq seq.Seq, now time.Time, timeout time.Duration, owner any) (RetransmitResult, error) {
	t, ok := q.timers[seq]
	if !ok {
		return Wait, NotFoundError{}
	}
	if !t.timedOut(now) {
		return Wait, nil
	}
	q.timers[seq] = &timer{start: now, timeout: timeout, owner: owner, invalidate: true}
	return Retransmit, nil
}

// CancelTimer removes the timer for seq without touching the send window,
// i.e. the sequence stays outstanding but stops being watched for timeout.
func (q *Queue) CancelTimer(seq seq.Seq) {
	delete(q.timers, seq)
}

// CollectTimedOut returns every sequence whose timer has elapsed as of now.
func (q *Queue) CollectTimedOut(now time.Time) []seq.Seq {
	var out []seq.Seq
	for s, t := range q.timers {
		if t.timedOut(now) {
			out = append(out, s)
		}
	}
	return out
}

// Timeout returns the configured timeout for seq's live timer, if any.
func (q *Queue) Timeout(seq seq.Seq) (time.Duration, bool) {
	t, ok := q.timers[seq]
	if !ok {
		return 0, false
	}
	return t.timeout, true
}

// Ack removes the window entry and timer for seq. It returns an RTT sample
// (now - start) only if owner matches the stored tag and the entry was not
// invalidated by a Retransmit; otherwise it returns no sample, but the
// binding is cleared regardless.
func (q *Queue) Ack(seq seq.Seq, now time.Time, owner any) (time.Duration, bool) {
	q.send.Ack(seq)
	t, ok := q.timers[seq]
	if !ok {
		return 0, false
	}
	delete(q.timers, seq)
	if t.invalidate || t.owner != owner {
		return 0, false
	}
	return now.Sub(t.start), true
}

// InFlight returns the number of sequences currently outstanding.
func (q *Queue) InFlight() int {
	return q.send.Len()
}
