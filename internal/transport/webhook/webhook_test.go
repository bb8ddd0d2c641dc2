package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	s := New("127.0.0.1:0", nil)
	// Start on a fixed loopback port chosen by the OS is awkward to
	// assert against from net/http.Post, so exercise the handlers
	// directly instead of over the wire.
	stop := func() {}
	return s, stop
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, "http://unused/", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	rec := &responseRecorder{headers: http.Header{}}
	handler(rec, req)
	return &http.Response{StatusCode: rec.status}
}

// responseRecorder is a minimal http.ResponseWriter good enough to
// observe a status code without pulling in net/http/httptest for what
// is otherwise a pure function call.
type responseRecorder struct {
	headers http.Header
	status  int
	body    bytes.Buffer
}

func (r *responseRecorder) Header() http.Header { return r.headers }
func (r *responseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }
func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func TestHandleSwitchUpPublishesEvent(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	resp := postJSON(t, s.handleSwitchUp, switchEventBody{Dpid: 1, Ports: []string{"eth0", "eth1"}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	select {
	case ev := <-s.SwitchUp():
		if ev.Dpid != 1 || len(ev.Ports) != 2 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for switch-up event")
	}
}

func TestHandleSwitchDownPublishesEvent(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	postJSON(t, s.handleSwitchDown, switchEventBody{Dpid: 42})

	select {
	case ev := <-s.SwitchDown():
		if ev.Dpid != 42 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for switch-down event")
	}
}

func TestHandleFlowStatsReplyFiltersByPriorityAndTable(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	body := map[string]any{
		"dpid": 1,
		"entries": []map[string]any{
			{"ipv4_dst": "10.0.0.1", "udp_dst": "5001", "byte_count": 100, "priority": 1, "table_id": 0},
			{"ipv4_dst": "10.0.0.2", "udp_dst": "5002", "byte_count": 200, "priority": 0, "table_id": 0},
			{"ipv4_dst": "10.0.0.3", "udp_dst": "5003", "byte_count": 300, "priority": 1, "table_id": 1},
		},
	}
	postJSON(t, s.handleFlowStatsReply, body)

	select {
	case ev := <-s.FlowStatsReplies():
		if len(ev.Entries) != 1 {
			t.Fatalf("got %d entries, want 1 (priority/table filter should drop the other two): %+v", len(ev.Entries), ev.Entries)
		}
		if ev.Entries[0].Flow.IPv4Dst != "10.0.0.1" || ev.Entries[0].Flow.UDPDst != 5001 {
			t.Fatalf("unexpected surviving entry %+v", ev.Entries[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flow-stats-reply event")
	}
}

func TestHandleFlowStatsReplySkipsInvalidUDPDst(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	body := map[string]any{
		"dpid": 1,
		"entries": []map[string]any{
			{"ipv4_dst": "10.0.0.1", "udp_dst": "not-a-number", "byte_count": 100, "priority": 1, "table_id": 0},
		},
	}
	postJSON(t, s.handleFlowStatsReply, body)

	select {
	case ev := <-s.FlowStatsReplies():
		if len(ev.Entries) != 0 {
			t.Fatalf("expected the malformed entry to be dropped, got %+v", ev.Entries)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flow-stats-reply event")
	}
}

func TestHandleSwitchUpRejectsInvalidBody(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	req, _ := http.NewRequest(http.MethodPost, "http://unused/", bytes.NewReader([]byte("not json")))
	rec := &responseRecorder{headers: http.Header{}}
	s.handleSwitchUp(rec, req)
	if rec.status != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.status, http.StatusBadRequest)
	}
}

func TestRequestFlowStatsIsNoop(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()
	if err := s.RequestFlowStats(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartShutsDownOnContextCancel(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Start to return")
	}
}
