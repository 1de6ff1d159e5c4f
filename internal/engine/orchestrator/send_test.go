package orchestrator

import (
	"testing"
	"time"

	"github.com/aetherflow/qmux/internal/engine/sockets"
	"github.com/aetherflow/qmux/pkg/seq"
)

func testConfig() Config {
	return Config{
		PayloadWindowCapacity: 16,
		DefaultRTO:            100 * time.Millisecond,
		SchedulerLearningRate: 0.1,
	}
}

func TestRTOWithNoCredibleChannel(t *testing.T) {
	s := NewSend[int](testConfig())
	s.AddFD(1)
	s.AddFD(2)
	s.AddFD(3)

	now := time.Now()
	descriptors := s.Send(now, 3)
	payloadCount := 0
	for _, d := range descriptors {
		if _, ok := d.(PayloadDescriptor[int]); ok {
			payloadCount++
		}
	}
	if payloadCount != 3 {
		t.Fatalf("expected 3 payload descriptors for 3 equally-weighted channels, got %d (from %v)", payloadCount, descriptors)
	}

	later := now.Add(testConfig().DefaultRTO)
	_, err := s.RetransmitRTOPayloads(later)
	if err == nil {
		t.Fatal("no channel has earned credit yet, reassignment should fail with NoSocketsLeft")
	}
	if _, ok := err.(*sockets.NoSocketsLeftError); !ok {
		t.Fatalf("error = %T, want *sockets.NoSocketsLeftError", err)
	}
}

func TestRTOAfterPartialAck(t *testing.T) {
	s := NewSend[int](testConfig())
	s.AddFD(1)
	s.AddFD(2)
	s.AddFD(3)

	now := time.Now()
	descriptors := s.Send(now, 3)

	var seqByHandle = make(map[int]int) // handle -> seq value
	for _, d := range descriptors {
		p, ok := d.(PayloadDescriptor[int])
		if !ok {
			t.Fatalf("expected only payload descriptors, got %T", d)
		}
		seqByHandle[p.Handle] = int(p.Seq.Value())
	}

	rtoAt := now.Add(testConfig().DefaultRTO)
	s.Ack(rtoAt, 1, seq.New(uint16(seqByHandle[1])), true)

	reassignments, err := s.RetransmitRTOPayloads(rtoAt)
	if err != nil {
		t.Fatalf("handle 1 earned credit and should absorb the orphaned payloads: %v", err)
	}
	if len(reassignments) != 2 {
		t.Fatalf("expected 2 reassigned payloads, got %d (%v)", len(reassignments), reassignments)
	}
	for _, r := range reassignments {
		if r.FD != 1 {
			t.Fatalf("only handle 1 has credit, got reassignment to %v", r.FD)
		}
	}

	w, ok := s.Weight(1)
	if !ok || w != 1.0 {
		t.Fatalf("scheduler weight of handle 1 = %v, %v, want 1.0, true", w, ok)
	}
}

func TestSendBudgetIsFullyAllocated(t *testing.T) {
	s := NewSend[int](testConfig())
	s.AddFD(1)
	s.AddFD(2)
	s.AddFD(3)

	descriptors := s.Send(time.Now(), 10)
	total := 0
	for _, d := range descriptors {
		if p, ok := d.(PayloadDescriptor[int]); ok {
			total += p.Size
		}
	}
	if total != 10 {
		t.Fatalf("total allocated bytes = %d, want 10", total)
	}
}

func TestNoChannelsYieldsNoDescriptors(t *testing.T) {
	s := NewSend[int](testConfig())
	if got := s.Send(time.Now(), 100); got != nil {
		t.Fatalf("send with no channels should yield nothing, got %v", got)
	}
}
