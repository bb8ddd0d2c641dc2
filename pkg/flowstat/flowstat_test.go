package flowstat

import (
	"errors"
	"testing"

	"flowqos/pkg/flowid"
)

func TestEmptyWindow(t *testing.T) {
	s := New(10)
	if got := s.AvgBytes(PrefixNone); got != 0 {
		t.Errorf("AvgBytes() on empty window = %v, want 0", got)
	}
	if got := s.AvgSpeedBytesPerSec(PrefixNone); got != 0 {
		t.Errorf("AvgSpeedBytesPerSec() on empty window = %v, want 0", got)
	}
}

func TestSingleSampleWarmup(t *testing.T) {
	s := New(10)
	if err := s.Put(42, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.AvgBytes(PrefixNone); got != 42 {
		t.Errorf("AvgBytes() with one sample = %v, want 42", got)
	}
	if got := s.AvgSpeedBytesPerSec(PrefixNone); got != 0 {
		t.Errorf("AvgSpeedBytesPerSec() with one sample = %v, want 0", got)
	}
}

func TestArithmeticMeanOfDeltas(t *testing.T) {
	s := New(10)
	values := []uint64{1, 3, 5, 7}
	timestamps := []float64{0, 5, 10, 15}
	for i, v := range values {
		if err := s.Put(v, timestamps[i]); err != nil {
			t.Fatalf("Put(%d) unexpected error: %v", v, err)
		}
	}

	if got := s.AvgSpeedBytesPerSec(PrefixNone); got != 0.4 {
		t.Errorf("AvgSpeedBytesPerSec() = %v, want 0.4", got)
	}
	if got := s.AvgSpeedBitsPerSec(PrefixNone); got != 3.2 {
		t.Errorf("AvgSpeedBitsPerSec() = %v, want 3.2", got)
	}
}

func TestPrefixScaling(t *testing.T) {
	s := New(10)
	values := []uint64{1, 3, 5, 7}
	timestamps := []float64{0, 5, 10, 15}
	for i, v := range values {
		_ = s.Put(v, timestamps[i])
	}
	want := 2.0 / 1_000_000
	if got := s.AvgBytes(PrefixMega); got != want {
		t.Errorf("AvgBytes(Mega) = %v, want %v", got, want)
	}
}

func TestZeroTimeDelta(t *testing.T) {
	s := New(10)
	_ = s.Put(10, 5)
	_ = s.Put(20, 5)
	if got := s.AvgSpeedBytesPerSec(PrefixNone); got != 0 {
		t.Errorf("AvgSpeedBytesPerSec() with zero dt = %v, want 0", got)
	}
}

func TestNonMonotonicRejected(t *testing.T) {
	s := New(10)
	if err := s.Put(5, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Put(4, 1)
	if !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("Put(4) after Put(5) err = %v, want ErrNonMonotonic", err)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("window length after rejected put = %d, want 1", got)
	}
	if got := s.AvgBytes(PrefixNone); got != 5 {
		t.Errorf("window value after rejected put = %v, want 5", got)
	}
}

func TestNegativeRejectedByType(t *testing.T) {
	// Value is uint64, so a negative sample cannot be constructed; instead
	// verify the window still enforces monotonicity across wraps that a
	// caller might attempt via a smaller subsequent value.
	s := New(10)
	_ = s.Put(100, 0)
	if err := s.Put(0, 1); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("Put(0) after Put(100) err = %v, want ErrNonMonotonic", err)
	}
}

func TestWindowEviction(t *testing.T) {
	s := New(3)
	for i := uint64(1); i <= 5; i++ {
		if err := s.Put(i, float64(i)); err != nil {
			t.Fatalf("Put(%d) unexpected error: %v", i, err)
		}
	}
	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	// Oldest two (1, 2) should have been evicted; window is [3, 4, 5].
	if got := s.AvgBytes(PrefixNone); got != 1 {
		// (5-3)/(3-1) = 1
		t.Errorf("AvgBytes() after eviction = %v, want 1", got)
	}
}

func TestManagerPutAndExport(t *testing.T) {
	m := NewManager(10)
	a := flowid.FlowId{IPv4Dst: "10.0.0.1", UDPDst: 1}
	b := flowid.FlowId{IPv4Dst: "10.0.0.2", UDPDst: 2}

	for i := uint64(0); i < 4; i++ {
		if err := m.Put(a, i*2, float64(i)); err != nil {
			t.Fatalf("Put(a) unexpected error: %v", err)
		}
	}
	if err := m.Put(b, 100, 0); err != nil {
		t.Fatalf("Put(b) unexpected error: %v", err)
	}

	snapshot := m.ExportAvgSpeedsBitsPerSec(PrefixNone)
	if len(snapshot) != 2 {
		t.Fatalf("ExportAvgSpeedsBitsPerSec() returned %d flows, want 2", len(snapshot))
	}
	if _, ok := snapshot[a]; !ok {
		t.Errorf("expected flow a in snapshot")
	}
}

func TestManagerGetUntracked(t *testing.T) {
	m := NewManager(10)
	unknown := flowid.FlowId{IPv4Dst: "203.0.113.1", UDPDst: 9}
	_, err := m.Get(unknown)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(unknown) err = %v, want ErrNotFound", err)
	}
}
