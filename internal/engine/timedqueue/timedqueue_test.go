package timedqueue

import (
	"testing"
	"time"

	"github.com/aetherflow/qmux/pkg/seq"
)

func TestRetransmitLifecycle(t *testing.T) {
	q := New(10)
	now := time.Now()
	timeout := 100 * time.Millisecond

	if _, err := q.Retransmit(seq.New(0), now, timeout, "owner"); err == nil {
		t.Fatal("retransmit of unknown sequence should fail")
	}

	s, ok := q.Send(now, timeout, "owner")
	if !ok || s != seq.New(0) {
		t.Fatalf("send = %v, %v", s, ok)
	}

	result, err := q.Retransmit(s, now, timeout, "owner")
	if err != nil || result != Wait {
		t.Fatalf("retransmit before timeout = %v, %v, want Wait, nil", result, err)
	}

	later := now.Add(timeout)
	result, err = q.Retransmit(s, later, timeout, "owner")
	if err != nil || result != Retransmit {
		t.Fatalf("retransmit after timeout = %v, %v, want Retransmit, nil", result, err)
	}

	// The retransmitted copy suppresses the RTT sample.
	if _, ok := q.Ack(s, later, "owner"); ok {
		t.Fatal("ack of a retransmitted sequence should yield no RTT sample")
	}

	if _, err := q.Retransmit(s, later, timeout, "owner"); err == nil {
		t.Fatal("sequence should be retired after ack")
	}
}

func TestAckYieldsRTTSample(t *testing.T) {
	q := New(10)
	now := time.Now()
	timeout := 100 * time.Millisecond

	s, _ := q.Send(now, timeout, "owner")
	rtt := 50 * time.Millisecond
	later := now.Add(rtt)

	got, ok := q.Ack(s, later, "owner")
	if !ok || got != rtt {
		t.Fatalf("ack = %v, %v, want %v, true", got, ok, rtt)
	}
}

func TestAckFromWrongOwnerSuppressesSample(t *testing.T) {
	q := New(10)
	now := time.Now()
	timeout := 100 * time.Millisecond

	s, _ := q.Send(now, timeout, "owner-a")
	if _, ok := q.Ack(s, now.Add(10*time.Millisecond), "owner-b"); ok {
		t.Fatal("ack from a non-owning tag should yield no sample")
	}
	// The binding is still cleared: a second ack finds nothing.
	if _, ok := q.Ack(s, now, "owner-a"); ok {
		t.Fatal("sequence should already be retired after the first ack")
	}
}

func TestCollectTimedOut(t *testing.T) {
	q := New(10)
	now := time.Now()
	timeout := 100 * time.Millisecond

	s0, _ := q.Send(now, timeout, "a")
	s1, _ := q.Send(now, timeout, "b")

	if got := q.CollectTimedOut(now); len(got) != 0 {
		t.Fatalf("nothing should be timed out yet, got %v", got)
	}

	later := now.Add(timeout)
	got := q.CollectTimedOut(later)
	if len(got) != 2 {
		t.Fatalf("both entries should be timed out, got %v", got)
	}
	seen := map[seq.Seq]bool{}
	for _, s := range got {
		seen[s] = true
	}
	if !seen[s0] || !seen[s1] {
		t.Fatalf("expected both %v and %v timed out, got %v", s0, s1, got)
	}
}
