package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FlowCurrentLimitBps.WithLabelValues("10.0.0.1", "5001").Set(5_000_000)
	m.AdaptCyclesTotal.Inc()
	m.AdaptModifiedTotal.Inc()
	m.QosAPIErrorsTotal.WithLabelValues("set_queues").Inc()

	if got := testutil.ToFloat64(m.AdaptCyclesTotal); got != 1 {
		t.Errorf("AdaptCyclesTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FlowCurrentLimitBps.WithLabelValues("10.0.0.1", "5001")); got != 5_000_000 {
		t.Errorf("FlowCurrentLimitBps = %v, want 5000000", got)
	}
}

func TestServeMetricsShutsDownOnCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SwitchesConnected.Set(2)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ServeMetrics(ctx, "127.0.0.1:0", reg) }()

	// ServeMetrics binds to an ephemeral port here only to exercise the
	// server lifecycle; real callers pass a fixed configured address.
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ServeMetrics returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeMetrics did not shut down in time")
	}
}
