// Package orchestrator implements the send and receive orchestrators of
// spec.md §4.6/§4.7: the components that compose the window, timed
// tracker, scheduler, and sockets registry into the engine's two halves.
package orchestrator

import (
	"math"
	"time"

	"github.com/aetherflow/qmux/internal/engine/scheduler"
	"github.com/aetherflow/qmux/internal/engine/sockets"
	"github.com/aetherflow/qmux/internal/engine/timedqueue"
	"github.com/aetherflow/qmux/pkg/seq"
)

// Config holds the send orchestrator's tunables.
type Config struct {
	PayloadWindowCapacity int
	DefaultRTO            time.Duration
	SchedulerLearningRate float64
}

// SendDescriptor is a frame the host should put on the wire: either a
// Payload on a channel that won budget this tick, or a Ping on a channel
// that won none and has no ping already outstanding.
type SendDescriptor[FD comparable] interface {
	isSendDescriptor()
}

// PayloadDescriptor instructs the host to send a Payload frame of Size
// bytes, sequenced as Seq, on channel Handle.
type PayloadDescriptor[FD comparable] struct {
	Handle FD
	Seq    seq.Seq
	Size   int
}

func (PayloadDescriptor[FD]) isSendDescriptor() {}

// PingDescriptor instructs the host to send a Ping frame, sequenced as
// Seq, on channel Handle.
type PingDescriptor[FD comparable] struct {
	Handle FD
	Seq    seq.Seq
}

func (PingDescriptor[FD]) isSendDescriptor() {}

// Send is the send orchestrator: it owns the payload timed tracker, the
// sockets registry, and the scheduler, and composes them into the
// send/ack/retransmit operations of spec.md §4.6.
type Send[FD comparable] struct {
	payloadTracker *timedqueue.Queue
	sockets        *sockets.Registry[FD]
	scheduler      *scheduler.Scheduler[FD]
	channels       []FD
	config         Config
}

// NewSend creates a send orchestrator with no channels.
func NewSend[FD comparable](config Config) *Send[FD] {
	return &Send[FD]{
		payloadTracker: timedqueue.New(config.PayloadWindowCapacity),
		sockets:        sockets.NewRegistry[FD](),
		scheduler:      scheduler.NewEmpty[FD](config.SchedulerLearningRate),
		config:         config,
	}
}

// AddFD registers a new channel and recomputes scheduler weights.
func (s *Send[FD]) AddFD(fd FD) {
	s.sockets.AddFD(fd)
	s.addChannel(fd)
	s.updateScheduler()
}

// RemoveFD deregisters a channel, reassigning its outstanding payloads to
// the remaining channels, and recomputes scheduler weights.
func (s *Send[FD]) RemoveFD(fd FD) ([]sockets.Reassignment[FD], error) {
	reassignments, err := s.sockets.RemoveFD(fd)
	s.removeChannel(fd)
	s.updateScheduler()
	return reassignments, err
}

func (s *Send[FD]) addChannel(fd FD) {
	for _, c := range s.channels {
		if c == fd {
			return
		}
	}
	s.channels = append(s.channels, fd)
}

func (s *Send[FD]) removeChannel(fd FD) {
	for i, c := range s.channels {
		if c == fd {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			return
		}
	}
}

// Send allocates budgetBytes across the known channels by scheduler
// weight and emits a frame descriptor per channel: a Payload for each
// nonzero share that successfully issues a sequence, a Ping for each
// zero-share channel with no ping already outstanding.
func (s *Send[FD]) Send(now time.Time, budgetBytes int) []SendDescriptor[FD] {
	n := len(s.channels)
	if n == 0 {
		return nil
	}

	bootstrap := 1.0 / float64(n)
	remaining := budgetBytes
	shares := make(map[FD]int, n)
	for _, c := range s.channels {
		w, ok := s.scheduler.Weight(c)
		if !ok {
			w = bootstrap
		}
		share := int(math.Ceil(float64(budgetBytes) * w))
		if share > remaining {
			share = remaining
		}
		remaining -= share
		shares[c] = share
	}

	var descriptors []SendDescriptor[FD]
	for _, c := range s.channels {
		share := shares[c]
		if share == 0 {
			if sq, ok := s.sockets.SendPing(c, now); ok {
				descriptors = append(descriptors, PingDescriptor[FD]{Handle: c, Seq: sq})
			}
			continue
		}

		timeout := s.config.DefaultRTO
		if socket, ok := s.sockets.Socket(c); ok {
			if rtt, ok := socket.RTT(); ok {
				timeout = 2 * rtt
			}
		}

		sq, ok := s.payloadTracker.Send(now, timeout, c)
		if !ok {
			continue
		}
		s.sockets.SendPayload(c, sq)
		descriptors = append(descriptors, PayloadDescriptor[FD]{Handle: c, Seq: sq, Size: share})
	}

	return descriptors
}

// Ack resolves an acknowledgment received on c for seq. isPayload
// distinguishes a PayloadAck (RTT resolved against the payload tracker)
// from a PingAck (RTT resolved against the channel's own ping tracker).
func (s *Send[FD]) Ack(now time.Time, c FD, sq seq.Seq, isPayload bool) {
	if isPayload {
		var rtt *time.Duration
		if sample, sampled := s.payloadTracker.Ack(sq, now, c); sampled {
			rtt = &sample
		}
		s.sockets.Ack(c, sq, sockets.PayloadAck(rtt))
		return
	}
	s.sockets.Ack(c, sq, sockets.PingAck(now))
}

// RetransmitRTOPayloads collects timed-out payload sequences, reassigns
// them to credible channels, re-arms their timers under the new owner
// (suppressing the stale RTT sample, per spec.md §4.3), and recomputes
// scheduler weights.
func (s *Send[FD]) RetransmitRTOPayloads(now time.Time) ([]sockets.Reassignment[FD], error) {
	timedOut := s.payloadTracker.CollectTimedOut(now)
	reassignments, err := s.sockets.ReassignRTOPayloads(timedOut)

	for _, r := range reassignments {
		timeout := s.config.DefaultRTO
		if socket, ok := s.sockets.Socket(r.FD); ok {
			if rtt, ok := socket.RTT(); ok {
				timeout = 2 * rtt
			}
		}
		s.payloadTracker.Retransmit(r.Seq, now, timeout, r.FD)
	}

	s.updateScheduler()
	return reassignments, err
}

// updateScheduler feeds the scheduler an RTT vector (in seconds) over
// every channel whose credit is Good and whose last RTT is known.
func (s *Send[FD]) updateScheduler() {
	rttVector := make(map[FD]float64)
	for _, c := range s.channels {
		socket, ok := s.sockets.Socket(c)
		if !ok || socket.Credit() != sockets.Good {
			continue
		}
		rtt, ok := socket.RTT()
		if !ok {
			continue
		}
		rttVector[c] = rtt.Seconds()
	}
	s.scheduler.Update(rttVector)
}

// Weight exposes the current scheduler weight for a channel, for hosts
// that want to surface it (e.g. as a metric) without reaching past the
// orchestrator.
func (s *Send[FD]) Weight(c FD) (float64, bool) {
	return s.scheduler.Weight(c)
}
