package window

import (
	"testing"

	"github.com/aetherflow/qmux/pkg/seq"
)

func TestSendFillAndDrain(t *testing.T) {
	w := NewSend(2)

	s0, ok := w.Send()
	if !ok || s0 != seq.New(0) {
		t.Fatalf("first send = %v, %v", s0, ok)
	}
	s1, ok := w.Send()
	if !ok || s1 != seq.New(1) {
		t.Fatalf("second send = %v, %v", s1, ok)
	}
	if _, ok := w.Send(); ok {
		t.Fatal("window should be full")
	}

	w.Ack(seq.New(0))
	s2, ok := w.Send()
	if !ok || s2 != seq.New(2) {
		t.Fatalf("send after ack(0) = %v, %v", s2, ok)
	}

	w.Ack(seq.New(2))
	s3, ok := w.Send()
	if !ok || s3 != seq.New(3) {
		t.Fatalf("send after ack(2) = %v, %v", s3, ok)
	}

	w.Ack(seq.New(1))
	s4, ok := w.Send()
	if !ok || s4 != seq.New(4) {
		t.Fatalf("send after ack(1) = %v, %v", s4, ok)
	}
}

func TestSendAckIsIdempotent(t *testing.T) {
	w := NewSend(2)
	w.Ack(seq.New(0)) // no-op, nothing outstanding
	if _, ok := w.Send(); !ok {
		t.Fatal("window should accept sends after a no-op ack")
	}
}

func TestSendSetCapacityDoesNotEvict(t *testing.T) {
	w := NewSend(2)
	w.Send()
	w.Send()
	w.SetCapacity(1)
	if _, ok := w.Send(); ok {
		t.Fatal("shrunk window should reject new sends while over capacity")
	}
	if w.Len() != 2 {
		t.Fatalf("outstanding entries should not be evicted, got %d", w.Len())
	}
}
