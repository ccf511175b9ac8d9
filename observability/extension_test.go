package observability_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/hook"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/observability"
	"github.com/quickgig/rush/penalty"
)

func newExtension(t *testing.T) (*observability.MetricsExtension, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ext, err := observability.NewWithMeter(provider.Meter("rush_test"))
	if err != nil {
		t.Fatalf("NewWithMeter: %v", err)
	}
	return ext, reader
}

// counterSum collects and totals every data point of a named counter.
func counterSum(t *testing.T, reader *metric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtensionCounters(t *testing.T) {
	t.Parallel()
	ext, reader := newExtension(t)
	ctx := context.Background()
	j := &job.Job{Entity: rush.NewEntity(), ID: id.NewJobID()}

	if err := ext.OnDispatchStarted(ctx, j); err != nil {
		t.Fatalf("OnDispatchStarted: %v", err)
	}
	notified := []id.CandidateID{id.NewCandidateID(), id.NewCandidateID(), id.NewCandidateID()}
	if err := ext.OnWaveSent(ctx, j, 1, notified); err != nil {
		t.Fatalf("OnWaveSent: %v", err)
	}
	if err := ext.OnWaveSent(ctx, j, 2, notified[:1]); err != nil {
		t.Fatalf("OnWaveSent: %v", err)
	}
	if err := ext.OnJobLocked(ctx, j, notified[0]); err != nil {
		t.Fatalf("OnJobLocked: %v", err)
	}
	if err := ext.OnJobUnlocked(ctx, j); err != nil {
		t.Fatalf("OnJobUnlocked: %v", err)
	}
	if err := ext.OnJobFailed(ctx, j, "no acceptance after final wave"); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	tests := []struct {
		name string
		want int64
	}{
		{"rush.dispatch.started", 1},
		{"rush.dispatch.waves", 2},
		{"rush.dispatch.offers", 4},
		{"rush.lock.granted", 1},
		{"rush.lock.released", 1},
		{"rush.job.failed", 1},
		{"rush.job.confirmed", 0},
	}
	for _, tt := range tests {
		if got := counterSum(t, reader, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestMetricsExtensionSettlement(t *testing.T) {
	t.Parallel()
	ext, reader := newExtension(t)
	ctx := context.Background()

	err := ext.OnEscrowSettled(ctx, &escrow.Escrow{
		Entity: rush.NewEntity(),
		ID:     id.NewEscrowID(),
		Status: escrow.StatusReleased,
	})
	if err != nil {
		t.Fatalf("OnEscrowSettled: %v", err)
	}
	err = ext.OnPenaltyApplied(ctx, &penalty.Record{
		ID:   id.NewPenaltyID(),
		Type: penalty.TypeStudentNoShow,
	})
	if err != nil {
		t.Fatalf("OnPenaltyApplied: %v", err)
	}

	if got := counterSum(t, reader, "rush.escrow.settled"); got != 1 {
		t.Errorf("rush.escrow.settled = %d, want 1", got)
	}
	if got := counterSum(t, reader, "rush.penalty.issued"); got != 1 {
		t.Errorf("rush.penalty.issued = %d, want 1", got)
	}
}

func TestMetricsExtensionThroughRegistry(t *testing.T) {
	t.Parallel()
	ext, reader := newExtension(t)
	reg := hook.NewRegistry(nil)
	reg.Register(ext)

	ctx := context.Background()
	j := &job.Job{Entity: rush.NewEntity(), ID: id.NewJobID()}
	reg.EmitDispatchStarted(ctx, j)
	reg.EmitJobExpired(ctx, j)

	if got := counterSum(t, reader, "rush.dispatch.started"); got != 1 {
		t.Errorf("rush.dispatch.started = %d, want 1", got)
	}
	if got := counterSum(t, reader, "rush.job.expired"); got != 1 {
		t.Errorf("rush.job.expired = %d, want 1", got)
	}
}
