package orchestrator

import (
	"github.com/aetherflow/qmux/internal/engine/window"
	"github.com/aetherflow/qmux/pkg/frame"
	"github.com/aetherflow/qmux/pkg/seq"
)

// AckKind distinguishes which ack frame an AckDescriptor asks the host to
// send back.
type AckKind int

const (
	AckPayload AckKind = iota
	AckPing
)

// AckDescriptor instructs the host to send an ack frame on Handle.
type AckDescriptor[FD comparable] struct {
	Handle FD
	Kind   AckKind
	Seq    seq.Seq
}

// Delivered is one in-order payload surfaced to the application.
type Delivered struct {
	Seq  seq.Seq
	Data []byte
}

// Receive is the receive orchestrator: it admits inbound Payload/Ping
// frames to the receive window and buffers admitted payload bytes until
// they can be delivered in order, per spec.md §4.7.
type Receive[FD comparable] struct {
	window *window.Recv
	buffer map[seq.Seq][]byte
}

// NewReceive creates a receive orchestrator with the given window
// capacity.
func NewReceive[FD comparable](capacity int) *Receive[FD] {
	return &Receive[FD]{
		window: window.NewRecv(capacity),
		buffer: make(map[seq.Seq][]byte),
	}
}

// OnInbound admits f, received on handle, and returns the ack descriptors
// it produces. A Payload frame touches the receive window and buffers its
// data on Accept; a Ping frame always produces a PingAck descriptor
// without touching the window. Any other frame kind is not part of this
// orchestrator's contract and is ignored.
func (r *Receive[FD]) OnInbound(handle FD, f frame.Frame) []AckDescriptor[FD] {
	switch v := f.(type) {
	case frame.Payload:
		if r.window.Receive(v.Seq) != window.Accept {
			return nil
		}
		if _, buffered := r.buffer[v.Seq]; !buffered {
			r.buffer[v.Seq] = v.Data
		}
		return []AckDescriptor[FD]{{Handle: handle, Kind: AckPayload, Seq: v.Seq}}

	case frame.Ping:
		return []AckDescriptor[FD]{{Handle: handle, Kind: AckPing, Seq: v.Seq}}

	default:
		return nil
	}
}

// PopDelivered returns the next in-order payload, if the current shadow
// anchor has been admitted, removing it from the buffer.
func (r *Receive[FD]) PopDelivered() (Delivered, bool) {
	s, ok := r.window.Pop()
	if !ok {
		return Delivered{}, false
	}
	data := r.buffer[s]
	delete(r.buffer, s)
	return Delivered{Seq: s, Data: data}, true
}

// SetCapacity resizes the receive window prospectively.
func (r *Receive[FD]) SetCapacity(capacity int) {
	r.window.SetCapacity(capacity)
}
