package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, -1)

	rm := collect(t, reader)
	md := findMetric(rm, "audiobridge.active_connections")
	if md == nil {
		t.Fatal("metric audiobridge.active_connections not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value: got %d, want 1", got)
	}
}

func TestRecordCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "join_session", "ok")
	m.RecordCommand(ctx, "join_session", "ok")
	m.RecordCommand(ctx, "leave_session", "error")

	rm := collect(t, reader)
	md := findMetric(rm, "audiobridge.commands")
	if md == nil {
		t.Fatal("metric audiobridge.commands not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("command count: got %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("attribute sets: got %d, want 2", len(sum.DataPoints))
	}
}

func TestRecordPlayback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, "ok", 2.5)
	m.RecordPlayback(ctx, "cancelled", 0)

	rm := collect(t, reader)

	outcomes := findMetric(rm, "audiobridge.playback.outcomes")
	if outcomes == nil {
		t.Fatal("metric audiobridge.playback.outcomes not found")
	}
	sum := outcomes.Data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("outcome count: got %d, want 2", total)
	}

	dur := findMetric(rm, "audiobridge.playback.duration")
	if dur == nil {
		t.Fatal("metric audiobridge.playback.duration not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	// Only the successful playback records a duration.
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("histogram count: got %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
