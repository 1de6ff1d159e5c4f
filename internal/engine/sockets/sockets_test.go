package sockets

import (
	"testing"
	"time"

	"github.com/aetherflow/qmux/pkg/seq"
)

func TestRegistryBasics(t *testing.T) {
	r := NewRegistry[int]()
	fd1, fd2, fd3 := 1, 2, 3

	r.AddFD(fd1)
	if _, err := r.RemoveFD(fd1); err != nil {
		t.Fatalf("remove of empty channel should not error: %v", err)
	}

	r.AddFD(fd1)
	r.AddFD(fd2)
	r.AddFD(fd3)

	seq1 := seq.New(0)
	seq2 := seq.New(1)

	now := time.Now()
	r.SendPayload(fd1, seq1)
	r.SendPayload(fd2, seq2)
	seq3, ok := r.SendPing(fd3, now)
	if !ok || seq3 != seq.New(0) {
		t.Fatalf("send ping = %v, %v, want 0, true", seq3, ok)
	}
	if _, ok := r.SendPing(fd3, now); ok {
		t.Fatal("a second concurrent ping on the same channel should fail")
	}

	duration := 100 * time.Millisecond
	later := now.Add(duration)

	r.discredit(seq1)
	r.discredit(seq2)
	r.discredit(seq3)

	r.Ack(fd1, seq1, PayloadAck(nil))
	r.Ack(fd2, seq2, PayloadAck(&duration))
	r.Ack(fd3, seq3, PingAck(later))

	s1, _ := r.Socket(fd1)
	s2, _ := r.Socket(fd2)
	s3, _ := r.Socket(fd3)

	if _, ok := s1.RTT(); ok {
		t.Error("fd1 should have no RTT sample (ack carried nil rtt)")
	}
	if got, ok := s2.RTT(); !ok || got != duration {
		t.Errorf("fd2 rtt = %v, %v, want %v, true", got, ok, duration)
	}
	if got, ok := s3.RTT(); !ok || got != duration {
		t.Errorf("fd3 rtt = %v, %v, want %v, true", got, ok, duration)
	}

	if s1.Credit() != Bad {
		t.Error("fd1 should remain Bad: no RTT sample was credited")
	}
	if s2.Credit() != Good {
		t.Error("fd2 should be Good after a credited RTT sample")
	}
	if s3.Credit() != Good {
		t.Error("fd3 should be Good after a credited RTT sample")
	}

	if errs := r.CheckInvariants(); len(errs) != 0 {
		t.Errorf("registry should be internally consistent, got %v", errs)
	}
}

func TestReassignOnRemoveFD(t *testing.T) {
	r := NewRegistry[int]()
	fd1, fd2, fd3 := 1, 2, 3
	r.AddFD(fd1)
	r.AddFD(fd2)
	r.AddFD(fd3)

	r.SendPayload(fd1, seq.New(2))
	r.SendPayload(fd1, seq.New(3))
	r.SendPayload(fd1, seq.New(4))

	retx, err := r.RemoveFD(fd1)
	if err != nil {
		t.Fatalf("reassignment should succeed with two channels remaining: %v", err)
	}

	fd2Count, fd3Count := 0, 0
	seen := map[seq.Seq]bool{}
	for _, a := range retx {
		switch a.FD {
		case fd2:
			fd2Count++
		case fd3:
			fd3Count++
		default:
			t.Fatalf("unexpected assignee %v", a.FD)
		}
		if seen[a.Seq] {
			t.Fatalf("payload %v reassigned twice", a.Seq)
		}
		seen[a.Seq] = true
		if a.Seq != seq.New(2) && a.Seq != seq.New(3) && a.Seq != seq.New(4) {
			t.Fatalf("unexpected payload %v", a.Seq)
		}
	}
	if fd2Count == 0 || fd3Count == 0 {
		t.Fatalf("both remaining channels should receive at least one payload, got fd2=%d fd3=%d", fd2Count, fd3Count)
	}
	if len(seen) != 3 {
		t.Fatalf("all three payloads should be reassigned exactly once, got %d", len(seen))
	}

	if errs := r.CheckInvariants(); len(errs) != 0 {
		t.Errorf("registry should be internally consistent after reassignment, got %v", errs)
	}
}

func TestRemoveFDWithNoSocketsLeft(t *testing.T) {
	r := NewRegistry[int]()
	r.AddFD(1)
	r.SendPayload(1, seq.New(0))

	_, err := r.RemoveFD(1)
	if err == nil {
		t.Fatal("removing the last channel with outstanding payloads should error")
	}
	nsl, ok := err.(*NoSocketsLeftError)
	if !ok {
		t.Fatalf("error should be *NoSocketsLeftError, got %T", err)
	}
	if len(nsl.Payloads) != 1 || nsl.Payloads[0] != seq.New(0) {
		t.Fatalf("orphaned payloads = %v, want [0]", nsl.Payloads)
	}
}

func TestReassignOnRTO(t *testing.T) {
	r := NewRegistry[int]()
	fd1, fd2, fd3 := 1, 2, 3
	r.AddFD(fd1)
	r.AddFD(fd2)
	r.AddFD(fd3)

	seq11 := seq.New(0)
	seq12 := seq.New(1)
	seq21 := seq.New(2)

	r.SendPayload(fd1, seq11)
	r.SendPayload(fd1, seq12)
	r.SendPayload(fd2, seq21)

	duration := 100 * time.Millisecond
	r.Ack(fd2, seq21, PayloadAck(&duration))

	if retx, err := r.ReassignRTOPayloads(nil); err != nil || len(retx) != 0 {
		t.Fatalf("reassigning no payloads should be a no-op, got %v, %v", retx, err)
	}

	retxSeqs := []seq.Seq{seq11, seq12}
	retx, err := r.ReassignRTOPayloads(retxSeqs)
	if err != nil {
		t.Fatalf("fd2 is Good and should absorb the orphaned payloads: %v", err)
	}
	for _, a := range retx {
		if a.FD != fd2 {
			t.Fatalf("only fd2 is Good, got assignee %v", a.FD)
		}
		if a.Seq != seq11 && a.Seq != seq12 {
			t.Fatalf("unexpected payload %v", a.Seq)
		}
	}

	s1, _ := r.Socket(fd1)
	if s1.Credit() != Bad {
		t.Error("fd1 should be discredited after its payloads RTO'd")
	}

	if errs := r.CheckInvariants(); len(errs) != 0 {
		t.Errorf("registry should be internally consistent, got %v", errs)
	}
}

func TestReassignRTOWithNoGoodChannel(t *testing.T) {
	r := NewRegistry[int]()
	r.AddFD(1)
	r.SendPayload(1, seq.New(0))

	_, err := r.ReassignRTOPayloads([]seq.Seq{seq.New(0)})
	if err == nil {
		t.Fatal("with no Good channel remaining, reassignment should error")
	}
}
