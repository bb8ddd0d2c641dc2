package flowid

import "testing"

func TestFromRecord(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		f, err := FromRecord(map[string]any{"ipv4_dst": "10.0.0.1", "udp_dst": 5001})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := FlowId{IPv4Dst: "10.0.0.1", UDPDst: 5001}
		if f != want {
			t.Errorf("FromRecord() = %+v, want %+v", f, want)
		}
	})

	t.Run("missing ipv4_dst", func(t *testing.T) {
		_, err := FromRecord(map[string]any{"udp_dst": 5001})
		if err == nil {
			t.Fatal("expected error for missing ipv4_dst")
		}
	})

	t.Run("missing udp_dst", func(t *testing.T) {
		_, err := FromRecord(map[string]any{"ipv4_dst": "10.0.0.1"})
		if err == nil {
			t.Fatal("expected error for missing udp_dst")
		}
	})

	t.Run("both missing", func(t *testing.T) {
		_, err := FromRecord(map[string]any{})
		if err == nil {
			t.Fatal("expected error naming both missing fields")
		}
	})
}

func TestRoundTrip(t *testing.T) {
	orig := FlowId{IPv4Dst: "192.0.2.5", UDPDst: 9999}
	rec := orig.Record()
	back, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != orig {
		t.Errorf("round-trip mismatch: got %+v, want %+v", back, orig)
	}
}

func TestFlowIdAsMapKey(t *testing.T) {
	m := map[FlowId]int{}
	a := FlowId{IPv4Dst: "10.0.0.1", UDPDst: 1}
	b := FlowId{IPv4Dst: "10.0.0.1", UDPDst: 1}
	m[a] = 1
	m[b] = 2
	if len(m) != 1 {
		t.Fatalf("expected equal FlowIds to collapse to one map entry, got %d", len(m))
	}
}
