// Package sockets implements the channel registry of spec.md §4.5: the
// bidirectional payload<->channel assignment table, per-channel ping
// tracking and RTT/credit bookkeeping, and round-robin reassignment of
// payloads orphaned by channel removal or RTO.
package sockets

import (
	"fmt"
	"sort"
	"time"

	"github.com/aetherflow/qmux/internal/engine/timedqueue"
	"github.com/aetherflow/qmux/pkg/seq"
)

// Credit tracks whether a channel is currently trusted to receive
// reassigned RTO payloads. A channel turns Bad when one of its payloads
// times out and turns Good again the next time it earns a fresh RTT
// sample.
type Credit int

const (
	Bad Credit = iota
	Good
)

func (c Credit) String() string {
	if c == Good {
		return "good"
	}
	return "bad"
}

// AckSpace distinguishes a payload ack (RTT already resolved by the send
// orchestrator's own timed queue) from a ping ack (RTT resolved here,
// against the channel's internal one-shot ping queue).
type AckSpace struct {
	ping bool
	rtt  *time.Duration
	now  time.Time
}

// PayloadAck builds the AckSpace for a payload acknowledgment. rtt is nil
// when the acked copy was a retransmission, per spec.md §4.3.
func PayloadAck(rtt *time.Duration) AckSpace {
	return AckSpace{rtt: rtt}
}

// PingAck builds the AckSpace for a ping acknowledgment, resolved against
// the receiving channel's ping queue at now.
func PingAck(now time.Time) AckSpace {
	return AckSpace{ping: true, now: now}
}

// NoSocketsLeftError is returned when payloads need reassignment but no
// eligible channel remains to take them.
type NoSocketsLeftError struct {
	Payloads []seq.Seq
}

func (e *NoSocketsLeftError) Error() string {
	return fmt.Sprintf("no sockets left to reassign %d payload(s) to", len(e.Payloads))
}

// Reassignment records that a payload was (re)assigned to a channel.
type Reassignment[FD comparable] struct {
	FD  FD
	Seq seq.Seq
}

// Socket is the per-channel state: a one-shot ping tracker, the last
// observed RTT, the set of payloads currently assigned to it, and its
// credit.
type Socket[FD comparable] struct {
	pingQueue *timedqueue.Queue
	rtt       *time.Duration
	payloads  map[seq.Seq]struct{}
	credit    Credit
}

func newSocket[FD comparable]() *Socket[FD] {
	return &Socket[FD]{
		pingQueue: timedqueue.New(1),
		payloads:  make(map[seq.Seq]struct{}),
		credit:    Bad,
	}
}

// RTT returns the last RTT sample observed on this channel, if any.
func (s *Socket[FD]) RTT() (time.Duration, bool) {
	if s.rtt == nil {
		return 0, false
	}
	return *s.rtt, true
}

// Credit returns the channel's current credit state.
func (s *Socket[FD]) Credit() Credit {
	return s.credit
}

// Payloads returns the sequences currently assigned to this channel, in
// wrap-insensitive ascending numeric order (for deterministic tests and
// logs only; no ordering is implied for correctness).
func (s *Socket[FD]) Payloads() []seq.Seq {
	out := make([]seq.Seq, 0, len(s.payloads))
	for sq := range s.payloads {
		out = append(out, sq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value() < out[j].Value() })
	return out
}

// Registry is the channel registry: the payload->channel and
// channel->payloads maps described in spec.md §4.5, kept consistent with
// each other on every mutation.
type Registry[FD comparable] struct {
	payloadOwner map[seq.Seq]FD
	sockets      map[FD]*Socket[FD]
	order        []FD // insertion order, for deterministic round-robin
}

// NewRegistry creates an empty channel registry.
func NewRegistry[FD comparable]() *Registry[FD] {
	return &Registry[FD]{
		payloadOwner: make(map[seq.Seq]FD),
		sockets:      make(map[FD]*Socket[FD]),
	}
}

// AddFD registers a new channel. Re-adding an already-registered fd
// replaces its state, matching the teacher's treatment of fd reuse after a
// remove/re-add cycle. Payloads assigned to the replaced state lose their
// channel binding.
func (r *Registry[FD]) AddFD(fd FD) {
	if old, exists := r.sockets[fd]; exists {
		for s := range old.payloads {
			delete(r.payloadOwner, s)
		}
	} else {
		r.order = append(r.order, fd)
	}
	r.sockets[fd] = newSocket[FD]()
}

// Socket returns the channel state for fd, if registered.
func (r *Registry[FD]) Socket(fd FD) (*Socket[FD], bool) {
	s, ok := r.sockets[fd]
	return s, ok
}

// Len returns the number of registered channels.
func (r *Registry[FD]) Len() int {
	return len(r.sockets)
}

// RemoveFD deregisters fd and reports how its assigned payloads were
// reassigned to the remaining channels. Removing an fd that is not
// registered is a no-op. If fd had no assigned payloads, it returns no
// reassignments. If fd had payloads but no channel remains to take them,
// it returns a NoSocketsLeftError carrying the orphaned payloads.
func (r *Registry[FD]) RemoveFD(fd FD) ([]Reassignment[FD], error) {
	socket, ok := r.sockets[fd]
	if !ok {
		return nil, nil
	}
	delete(r.sockets, fd)
	r.removeFromOrder(fd)

	payloads := socket.Payloads()
	for _, s := range payloads {
		delete(r.payloadOwner, s)
	}
	if len(payloads) == 0 {
		return nil, nil
	}

	if len(r.sockets) == 0 {
		return nil, &NoSocketsLeftError{Payloads: payloads}
	}

	applicable := make([]FD, len(r.order))
	copy(applicable, r.order)
	return r.roundRobinReassign(payloads, applicable)
}

func (r *Registry[FD]) removeFromOrder(fd FD) {
	for i, f := range r.order {
		if f == fd {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// SendPing arms a ping on fd's channel and returns the sequence to send on
// the wire. It returns false if fd is not registered or a ping is already
// outstanding on it (the ping queue has capacity one).
func (r *Registry[FD]) SendPing(fd FD, now time.Time) (seq.Seq, bool) {
	socket, ok := r.sockets[fd]
	if !ok {
		return 0, false
	}
	return socket.pingQueue.Send(now, 0, fd)
}

// SendPayload records that seq was sent on fd's channel.
func (r *Registry[FD]) SendPayload(fd FD, s seq.Seq) {
	r.reassignPayloadSeq(fd, s)
}

// Ack resolves an acknowledgment received on receivingFD for seq. For a
// payload ack, the RTT sample (if any) is credited to whichever channel
// the payload is currently assigned to, which may differ from
// receivingFD if the payload was reassigned after an RTO. For a ping ack,
// the RTT is resolved against receivingFD's own ping queue.
func (r *Registry[FD]) Ack(receivingFD FD, s seq.Seq, space AckSpace) {
	var (
		socket *Socket[FD]
		rtt    *time.Duration
	)

	if space.ping {
		sock, ok := r.sockets[receivingFD]
		if !ok {
			return
		}
		if sample, sampled := sock.pingQueue.Ack(s, space.now, receivingFD); sampled {
			rtt = &sample
		}
		socket = sock
	} else {
		assignedFD, ok := r.removePayloadSeq(s)
		if !ok {
			return
		}
		sock, ok := r.sockets[assignedFD]
		if !ok {
			return
		}
		socket = sock
		rtt = space.rtt
	}

	if rtt != nil {
		socket.rtt = rtt
		socket.credit = Good
	}
}

// discredit marks the channel currently holding seq as Bad, preventing it
// from receiving further RTO reassignments until it earns a fresh sample.
func (r *Registry[FD]) discredit(s seq.Seq) {
	if socket, ok := r.socketForSeq(s); ok {
		socket.credit = Bad
	}
}

// ReassignRTOPayloads discredits the channels that own rtoPayloads and
// round-robin reassigns those payloads across the remaining Good
// channels. It returns a NoSocketsLeftError if no Good channel remains.
func (r *Registry[FD]) ReassignRTOPayloads(rtoPayloads []seq.Seq) ([]Reassignment[FD], error) {
	for _, s := range rtoPayloads {
		r.discredit(s)
	}

	var applicable []FD
	for _, fd := range r.order {
		socket, ok := r.sockets[fd]
		if ok && socket.credit == Good {
			applicable = append(applicable, fd)
		}
	}

	return r.roundRobinReassign(rtoPayloads, applicable)
}

func (r *Registry[FD]) roundRobinReassign(payloads []seq.Seq, applicable []FD) ([]Reassignment[FD], error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if len(applicable) == 0 {
		return nil, &NoSocketsLeftError{Payloads: append([]seq.Seq(nil), payloads...)}
	}

	assigned := make([]Reassignment[FD], 0, len(payloads))
	for i, s := range payloads {
		assignee := applicable[i%len(applicable)]
		assigned = append(assigned, Reassignment[FD]{FD: assignee, Seq: s})
		r.reassignPayloadSeq(assignee, s)
	}
	return assigned, nil
}

func (r *Registry[FD]) reassignPayloadSeq(assignee FD, s seq.Seq) {
	r.removePayloadSeq(s)
	r.payloadOwner[s] = assignee
	if socket, ok := r.sockets[assignee]; ok {
		socket.payloads[s] = struct{}{}
	}
}

func (r *Registry[FD]) removePayloadSeq(s seq.Seq) (FD, bool) {
	if socket, ok := r.socketForSeq(s); ok {
		delete(socket.payloads, s)
	}
	fd, ok := r.payloadOwner[s]
	delete(r.payloadOwner, s)
	return fd, ok
}

// socketForSeq returns the channel currently assigned seq. It returns
// (nil, false) if seq was already acked or its owning channel was already
// removed; in the latter case, the stale payload->channel mapping is
// cleaned up.
func (r *Registry[FD]) socketForSeq(s seq.Seq) (*Socket[FD], bool) {
	fd, ok := r.payloadOwner[s]
	if !ok {
		return nil, false
	}
	socket, ok := r.sockets[fd]
	if !ok {
		delete(r.payloadOwner, s)
		return nil, false
	}
	return socket, true
}

// CheckInvariants is a debug-mode consistency check: it walks both
// directions of the payload<->channel mapping and reports every
// inconsistency found, as the payload and channel maps are expected to
// always agree. It allocates and is intended for tests and diagnostics,
// not the steady-state hot path.
func (r *Registry[FD]) CheckInvariants() []string {
	var errs []string

	for s, fd := range r.payloadOwner {
		socket, ok := r.sockets[fd]
		if !ok {
			errs = append(errs, fmt.Sprintf("payload %s is assigned to channel %v, but channel %v does not exist", s, fd, fd))
			continue
		}
		if _, ok := socket.payloads[s]; !ok {
			errs = append(errs, fmt.Sprintf("payload %s is assigned to channel %v, but channel %v does not have it", s, fd, fd))
		}
	}

	for fd, socket := range r.sockets {
		for s := range socket.payloads {
			owner, ok := r.payloadOwner[s]
			if !ok {
				errs = append(errs, fmt.Sprintf("channel %v has payload %s, but payload %s is not assigned to any channel", fd, s, s))
				continue
			}
			if owner != fd {
				errs = append(errs, fmt.Sprintf("channel %v has payload %s, but payload %s is assigned to channel %v", fd, s, s, owner))
			}
		}
	}

	return errs
}
