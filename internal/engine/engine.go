// Package engine implements the top-level Engine API of spec.md §6: the
// synchronous, single-threaded multipath decision engine composing the
// send and receive orchestrators.
package engine

import (
	"fmt"
	"time"

	guuid "github.com/Lzww0608/GUUID"

	"github.com/aetherflow/qmux/internal/engine/orchestrator"
	"github.com/aetherflow/qmux/internal/engine/sockets"
	"github.com/aetherflow/qmux/pkg/frame"
	"github.com/aetherflow/qmux/pkg/seq"
)

// Config holds the tunables for a single Engine instance.
type Config struct {
	PayloadWindowCapacity int
	ReceiveWindowCapacity int
	DefaultRTO            time.Duration
	SchedulerLearningRate float64
}

// DefaultConfig returns reasonable defaults matching the teacher's own
// reliability package sizing (recv/send buffer default capacities).
func DefaultConfig() Config {
	return Config{
		PayloadWindowCapacity: 256,
		ReceiveWindowCapacity: 256,
		DefaultRTO:            200 * time.Millisecond,
		SchedulerLearningRate: 0.1,
	}
}

// AckSpace distinguishes the two ack spaces of §6's on_ack: Payload or
// Ping.
type AckSpace int

const (
	AckSpacePayload AckSpace = iota
	AckSpacePing
)

// Engine is the language-neutral decision engine of spec.md §6. It is
// synchronous and single-threaded per §5: every method runs to
// completion and mutates only this Engine's in-memory state; the host
// owns concurrency and serializes all access to a given instance.
type Engine[FD comparable] struct {
	id   guuid.UUID
	send *orchestrator.Send[FD]
	recv *orchestrator.Receive[FD]
}

// New creates an Engine with no channels.
func New[FD comparable](config Config) (*Engine[FD], error) {
	id, err := guuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate engine instance id: %w", err)
	}

	return &Engine[FD]{
		id: id,
		send: orchestrator.NewSend[FD](orchestrator.Config{
			PayloadWindowCapacity: config.PayloadWindowCapacity,
			DefaultRTO:            config.DefaultRTO,
			SchedulerLearningRate: config.SchedulerLearningRate,
		}),
		recv: orchestrator.NewReceive[FD](config.ReceiveWindowCapacity),
	}, nil
}

// ID returns this engine instance's identifier, for host-side log
// correlation across its channel driver loops.
func (e *Engine[FD]) ID() guuid.UUID {
	return e.id
}

// AddChannel registers a new channel handle.
func (e *Engine[FD]) AddChannel(handle FD) {
	e.send.AddFD(handle)
}

// RemoveChannel deregisters a channel handle, reassigning its outstanding
// payloads to the remaining channels. It returns *sockets.NoSocketsLeftError
// if no channel remains to receive them.
func (e *Engine[FD]) RemoveChannel(handle FD) ([]sockets.Reassignment[FD], error) {
	return e.send.RemoveFD(handle)
}

// Send allocates budgetBytes of outbound capacity across known channels
// and returns the frame descriptors the host should put on the wire.
func (e *Engine[FD]) Send(now time.Time, budgetBytes int) []orchestrator.SendDescriptor[FD] {
	return e.send.Send(now, budgetBytes)
}

// OnInbound admits an inbound frame received on handle and returns the
// ack descriptors it produces. Delivered payloads surface separately via
// PopDelivered.
func (e *Engine[FD]) OnInbound(handle FD, f frame.Frame) []orchestrator.AckDescriptor[FD] {
	return e.recv.OnInbound(handle, f)
}

// OnAck resolves an acknowledgment received on handle for s in the given
// ack space.
func (e *Engine[FD]) OnAck(now time.Time, handle FD, s seq.Seq, space AckSpace) {
	e.send.Ack(now, handle, s, space == AckSpacePayload)
}

// Tick drives RTO detection and reassignment: it queries the payload
// tracker for timed-out sequences, reassigns them to credible channels,
// and updates the scheduler. It returns *sockets.NoSocketsLeftError if no
// channel remains to absorb a reassignment.
func (e *Engine[FD]) Tick(now time.Time) ([]sockets.Reassignment[FD], error) {
	return e.send.RetransmitRTOPayloads(now)
}

// PopDelivered returns the next in-order payload ready for the
// application, if any.
func (e *Engine[FD]) PopDelivered() (orchestrator.Delivered, bool) {
	return e.recv.PopDelivered()
}

// Weight exposes the current scheduler weight of a channel, for host
// metrics that want to surface scheduling decisions.
func (e *Engine[FD]) Weight(handle FD) (float64, bool) {
	return e.send.Weight(handle)
}
