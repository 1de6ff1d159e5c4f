package window

import (
	"testing"

	"github.com/aetherflow/qmux/pkg/seq"
)

func TestInOrderReceive(t *testing.T) {
	w := NewRecv(2)

	if got := w.Receive(seq.New(1)); got != Accept {
		t.Fatalf("receive(1) = %v, want Accept", got)
	}
	if got := w.Receive(seq.New(2)); got != Reject {
		t.Fatalf("receive(2) = %v, want Reject (outside window)", got)
	}
	if _, ok := w.Pop(); ok {
		t.Fatal("pop should yield nothing before shadowFirst is admitted")
	}
	if got := w.Receive(seq.New(0)); got != Accept {
		t.Fatalf("receive(0) = %v, want Accept", got)
	}
	if s, ok := w.Pop(); !ok || s != seq.New(0) {
		t.Fatalf("pop = %v, %v, want 0, true", s, ok)
	}
	if s, ok := w.Pop(); !ok || s != seq.New(1) {
		t.Fatalf("pop = %v, %v, want 1, true", s, ok)
	}
	if _, ok := w.Pop(); ok {
		t.Fatal("pop should yield nothing once drained")
	}
}

func TestReceiveDuplicateIsIdempotent(t *testing.T) {
	w := NewRecv(2)
	w.Receive(seq.New(0))
	if got := w.Receive(seq.New(0)); got != Accept {
		t.Fatalf("duplicate receive = %v, want Accept", got)
	}
	if w.Len() != 1 {
		t.Fatalf("duplicate should not grow admitted set, got %d", w.Len())
	}
}

func TestRecvSetCapacityShrinksProspectively(t *testing.T) {
	w := NewRecv(2)
	w.Receive(seq.New(0))
	w.Receive(seq.New(1))
	w.SetCapacity(1)

	if got := w.Receive(seq.New(1)); got != Reject {
		t.Fatalf("shrunk window should reject new admissions beyond capacity, got %v", got)
	}
	// Already-admitted sequences are unaffected and still pop in order.
	if s, ok := w.Pop(); !ok || s != seq.New(0) {
		t.Fatalf("pop = %v, %v, want 0, true", s, ok)
	}
	if s, ok := w.Pop(); !ok || s != seq.New(1) {
		t.Fatalf("pop = %v, %v, want 1, true", s, ok)
	}
	if _, ok := w.Pop(); ok {
		t.Fatal("pop should yield nothing once drained")
	}
}
