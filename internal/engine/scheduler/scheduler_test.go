package scheduler

import (
	"maps"
	"testing"
)

func withinEpsilon(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}

func TestNewUniformWeights(t *testing.T) {
	s := New([]int{0, 1, 2}, 0.1)
	for _, k := range []int{0, 1, 2} {
		w, ok := s.Weight(k)
		if !ok || !withinEpsilon(w, 1.0/3.0, 1e-12) {
			t.Fatalf("weight(%d) = %v, %v, want 1/3", k, w, ok)
		}
	}
}

func TestUpdateMovesTowardArgmin(t *testing.T) {
	s := New([]int{0, 1, 2}, 0.1)
	prev := snapshot(s, []int{0, 1, 2})

	s.Update(map[int]float64{0: 100, 1: 200, 2: 300})
	cur := snapshot(s, []int{0, 1, 2})

	if !(cur[0] > prev[0]) {
		t.Errorf("winning channel weight should increase: %v -> %v", prev[0], cur[0])
	}
	if !(cur[1] < prev[1]) {
		t.Errorf("losing channel weight should decrease: %v -> %v", prev[1], cur[1])
	}
	if !(cur[2] < prev[2]) {
		t.Errorf("losing channel weight should decrease: %v -> %v", prev[2], cur[2])
	}

	sum := cur[0] + cur[1] + cur[2]
	if !withinEpsilon(sum, 1.0, 1e-9) {
		t.Errorf("weights should sum to 1, got %v", sum)
	}
}

func TestConvergence(t *testing.T) {
	s := New([]int{0, 1, 2}, 0.1)
	rtt := map[int]float64{0: 100, 1: 200, 2: 300}
	for i := 0; i < 102; i++ {
		s.Update(rtt)
	}

	w0, _ := s.Weight(0)
	w1, _ := s.Weight(1)
	w2, _ := s.Weight(2)
	if !(w0 > 0.999) {
		t.Errorf("w0 = %v, want > 0.999", w0)
	}
	if !(w1 < 0.001) {
		t.Errorf("w1 = %v, want < 0.001", w1)
	}
	if !(w2 < 0.001) {
		t.Errorf("w2 = %v, want < 0.001", w2)
	}

	prev0 := w0
	prev2 := w2
	s.Update(map[int]float64{0: 300, 1: 200, 2: 100})
	w0, _ = s.Weight(0)
	w2, _ = s.Weight(2)
	if !(w0 < prev0) {
		t.Errorf("w0 should strictly decrease after ranking swap: %v -> %v", prev0, w0)
	}
	if !(w2 > prev2) {
		t.Errorf("w2 should strictly increase after ranking swap: %v -> %v", prev2, w2)
	}
}

func TestHandleRemovalPrunesDeadKeys(t *testing.T) {
	s := New([]int{0, 1, 2}, 0.1)
	s.Update(map[int]float64{0: 100, 1: 200})

	if w0, _ := s.Weight(0); !(w0 > 0.5) {
		t.Errorf("w0 = %v, want > 0.5", w0)
	}
	if w1, _ := s.Weight(1); !(w1 < 0.5) {
		t.Errorf("w1 = %v, want < 0.5", w1)
	}
	if w2, ok := s.Weight(2); ok && w2 != 0 {
		t.Errorf("dead handle 2 should be pruned or weigh 0, got %v, %v", w2, ok)
	}
}

func TestHandleAdditionEntersAtZero(t *testing.T) {
	s := New([]int{0, 1}, 0.1)
	s.Update(map[int]float64{0: 100, 1: 300, 2: 200})

	w0, _ := s.Weight(0)
	w1, _ := s.Weight(1)
	w2, _ := s.Weight(2)
	if !(w0 > 1.0/3.0) {
		t.Errorf("w0 = %v, want > 1/3", w0)
	}
	if !(w1 > w2) {
		t.Errorf("w1 (%v) should exceed new handle's weight (%v)", w1, w2)
	}
	if w2 != 0 {
		t.Errorf("new handle should enter at weight 0, got %v", w2)
	}
}

func TestFromEmpty(t *testing.T) {
	s := NewEmpty[int](0.1)
	if _, ok := s.Weight(0); ok {
		t.Fatal("empty scheduler should report no weight")
	}

	s.Update(map[int]float64{0: 100, 1: 200, 2: 300})
	w0, _ := s.Weight(0)
	w1, _ := s.Weight(1)
	w2, _ := s.Weight(2)
	if !(w0 > 1.0/3.0 && w1 < 1.0/3.0 && w2 < 1.0/3.0) {
		t.Errorf("bootstrap update should favor the lowest RTT: %v %v %v", w0, w1, w2)
	}
}

func TestEmptyRTTVectorIsNoOp(t *testing.T) {
	s := New([]int{0, 1}, 0.1)
	before := snapshot(s, []int{0, 1})
	s.Update(map[int]float64{})
	after := snapshot(s, []int{0, 1})
	if !maps.Equal(before, after) {
		t.Errorf("update with empty rtt vector should be a no-op: %v -> %v", before, after)
	}
}

func snapshot(s *Scheduler[int], keys []int) map[int]float64 {
	out := make(map[int]float64, len(keys))
	for _, k := range keys {
		w, _ := s.Weight(k)
		out[k] = w
	}
	return out
}
