package mesosweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mesosweep/internal/model"
	"mesosweep/internal/station"
	"mesosweep/internal/stats"
	"mesosweep/internal/sweep"
)

type pauseLog struct {
	mu    sync.Mutex
	total time.Duration
}

func (p *pauseLog) Sleep(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += d
}

func (p *pauseLog) Total() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func newTestClient(t *testing.T) (*Client, *pauseLog) {
	t.Helper()
	pauses := &pauseLog{}
	client, err := New(Options{
		StoreKind:  "memory",
		ExportsDir: filepath.Join(t.TempDir(), "exports"),
		Sleeper:    pauses,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return client, pauses
}

func TestClientSweep1DDatasetsAndExport(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Sweep1D(ctx, Sweep1DRequest{
		Name:    "gate_scan",
		Axis:    "vtg",
		Range:   Range{Start: 0, Stop: 1, Points: 5},
		Measure: []string{"lockin_x", "leakage"},
	})
	if err != nil {
		t.Fatalf("sweep1d: %v", err)
	}
	if summary.Outcome != model.OutcomeCompleted || summary.Main.Rows != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Main.Name != "gate_scan" || summary.RunID == "" {
		t.Fatalf("unexpected handle: %+v", summary)
	}
	if !summary.Retrace.Empty() {
		t.Fatalf("expected no retrace dataset, got %+v", summary.Retrace)
	}

	datasets, err := client.Datasets(ctx, DatasetsRequest{})
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if len(datasets) != 1 || datasets[0].ID != summary.Main.ID || datasets[0].Outcome != model.OutcomeCompleted {
		t.Fatalf("unexpected datasets: %+v", datasets)
	}

	info, records, err := client.Records(ctx, summary.Main.ID)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(info.Axes) != 1 || info.Axes[0].Name != "top_gate" {
		t.Fatalf("unexpected axes: %+v", info.Axes)
	}
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i, record := range records {
		if record.Setpoints[0] != want[i] {
			t.Fatalf("record %d setpoint = %v, want %v", i, record.Setpoints[0], want[i])
		}
		if len(record.Values) != 2 {
			t.Fatalf("record %d has %d values", i, len(record.Values))
		}
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.ID != summary.Main.ID || exported.Rows != 5 {
		t.Fatalf("unexpected export: %+v", exported)
	}
	for _, file := range []string{"data.csv", "meta.json"} {
		if _, err := os.Stat(filepath.Join(exported.Directory, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
	index, err := stats.ListDatasetIndex(filepath.Dir(exported.Directory))
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 1 || index[0].ID != summary.Main.ID {
		t.Fatalf("unexpected index: %+v", index)
	}
}

func TestClientSweep2DWithRetrace(t *testing.T) {
	client, _ := newTestClient(t)

	summary, err := client.Sweep2D(context.Background(), Sweep2DRequest{
		Name:           "dual_gate",
		X:              "top_gate",
		XRange:         Range{Start: -0.5, Stop: 0.5, Points: 3},
		Y:              "back_gate",
		YRange:         Range{Values: []float64{0, 0.1, 0.2, 0.3}},
		Measure:        []string{"lockin_x"},
		MeasureRetrace: true,
	})
	if err != nil {
		t.Fatalf("sweep2d: %v", err)
	}
	if summary.Main.Rows != 6 || summary.Retrace.Rows != 6 {
		t.Fatalf("unexpected rows: main=%d retrace=%d", summary.Main.Rows, summary.Retrace.Rows)
	}
	if summary.Retrace.Name != "dual_gate_retrace" {
		t.Fatalf("unexpected retrace name: %s", summary.Retrace.Name)
	}

	runs := client.Runs()
	if len(runs) != 1 || runs[0].Status != model.OutcomeCompleted || len(runs[0].Datasets) != 2 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestClientRepeatWithoutRetrace(t *testing.T) {
	client, _ := newTestClient(t)

	summary, err := client.Repeat(context.Background(), RepeatRequest{
		Name:    "repeat",
		Axis:    "bias",
		Range:   Range{Start: 0, Stop: 1e-3, Step: 5e-4},
		Repeats: 3,
		Measure: []string{"lockin_x"},
	})
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	// lines 0 and 2 are measured, line 1 returns the axis
	if summary.Main.Rows != 6 {
		t.Fatalf("unexpected rows: %d", summary.Main.Rows)
	}
	if !summary.Retrace.Empty() {
		t.Fatalf("expected no retrace dataset, got %+v", summary.Retrace)
	}
}

func TestClientCancelledSweepKeepsDataset(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := client.Sweep1D(ctx, Sweep1DRequest{
		Axis:    "top_gate",
		Range:   Range{Start: 0, Stop: 1, Points: 11},
		Measure: []string{"lockin_x"},
	})
	if err != nil {
		t.Fatalf("cancelled sweep returned error: %v", err)
	}
	if summary.Outcome != model.OutcomeCancelled || summary.Main.Outcome != model.OutcomeCancelled {
		t.Fatalf("unexpected outcome: %+v", summary)
	}
	if summary.Main.Rows != 0 {
		t.Fatalf("expected no rows, got %d", summary.Main.Rows)
	}

	datasets, err := client.Datasets(context.Background(), DatasetsRequest{})
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if len(datasets) != 1 || datasets[0].Outcome != model.OutcomeCancelled {
		t.Fatalf("unexpected datasets: %+v", datasets)
	}
}

func TestClientRejectsBadRequests(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.Sweep1D(ctx, Sweep1DRequest{Axis: "nope", Range: Range{Stop: 1, Points: 2}, Measure: []string{"lockin_x"}})
	if !errors.Is(err, station.ErrParameterNotFound) {
		t.Fatalf("expected missing parameter, got %v", err)
	}
	_, err = client.Sweep1D(ctx, Sweep1DRequest{Axis: "lockin_x", Range: Range{Stop: 1, Points: 2}, Measure: []string{"leakage"}})
	if !errors.Is(err, station.ErrNotSettable) {
		t.Fatalf("expected read-only axis error, got %v", err)
	}
	_, err = client.Sweep1D(ctx, Sweep1DRequest{Axis: "top_gate", Range: Range{Stop: 1}, Measure: []string{"lockin_x"}})
	if !errors.Is(err, sweep.ErrConfiguration) {
		t.Fatalf("expected setpoint configuration error, got %v", err)
	}

	summary, err := client.Sweep1D(ctx, Sweep1DRequest{Axis: "top_gate", Range: Range{Stop: 1, Points: 2}})
	if !errors.Is(err, sweep.ErrConfiguration) {
		t.Fatalf("expected empty measurement error, got %v", err)
	}
	if summary.Outcome != model.OutcomeFailed {
		t.Fatalf("expected failed run, got %+v", summary)
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected export id error")
	}
	if _, err := client.Export(ctx, ExportRequest{ID: "missing"}); err == nil {
		t.Fatal("expected export lookup error")
	}
}

func TestClientEstimatesMatchPauses(t *testing.T) {
	client, pauses := newTestClient(t)
	ctx := context.Background()

	req1D := Sweep1DRequest{
		Axis:    "top_gate",
		Range:   Range{Start: -0.2, Stop: 0.2, Points: 5},
		Delay:   20 * time.Millisecond,
		Measure: []string{"lockin_x"},
	}
	want, err := client.Estimate1D(ctx, req1D)
	if err != nil {
		t.Fatalf("estimate1d: %v", err)
	}
	if _, err := client.Sweep1D(ctx, req1D); err != nil {
		t.Fatalf("sweep1d: %v", err)
	}
	if got := pauses.Total(); got != want {
		t.Fatalf("1d pauses = %s, estimate %s", got, want)
	}

	req2D := Sweep2DRequest{
		X:          "top_gate",
		XRange:     Range{Start: 0, Stop: 0.1, Points: 3},
		InnerDelay: 5 * time.Millisecond,
		Y:          "field",
		YRange:     Range{Start: 0, Stop: 0.02, Points: 3},
		OuterDelay: 50 * time.Millisecond,
		Measure:    []string{"lockin_x"},
	}
	want2D, err := client.Estimate2D(ctx, req2D)
	if err != nil {
		t.Fatalf("estimate2d: %v", err)
	}
	before := pauses.Total()
	if _, err := client.Sweep2D(ctx, req2D); err != nil {
		t.Fatalf("sweep2d: %v", err)
	}
	if got := pauses.Total() - before; got != want2D {
		t.Fatalf("2d pauses = %s, estimate %s", got, want2D)
	}
}

func TestClientRampStopsOnLeakage(t *testing.T) {
	client, _ := newTestClient(t)

	reached, err := client.Ramp(context.Background(), RampRequest{
		Axis:      "back_gate",
		Target:    12,
		Step:      0.5,
		Threshold: "leakage",
		Limit:     1e-9,
	})
	if err != nil {
		t.Fatalf("ramp: %v", err)
	}
	// leakage passes 1e-9 once the gate is more than ln(1000)/5 V above onset
	if reached <= 8 || reached >= 12 {
		t.Fatalf("expected ramp to stop between onset and target, got %v", reached)
	}
}

func TestClientTimedSweep(t *testing.T) {
	client, err := New(Options{StoreKind: "memory", ExportsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	summary, err := client.Timed(context.Background(), TimedRequest{
		Name:    "drift",
		Delay:   20 * time.Millisecond,
		Timeout: 100 * time.Millisecond,
		Measure: []string{"temperature"},
	})
	if err != nil {
		t.Fatalf("timed: %v", err)
	}
	if summary.Outcome != model.OutcomeCompleted || summary.Main.Rows < 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !strings.HasPrefix(summary.Main.Name, "drift") {
		t.Fatalf("unexpected dataset name: %s", summary.Main.Name)
	}
}

func TestClientReset(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Sweep1D(ctx, Sweep1DRequest{
		Axis:    "bias",
		Range:   Range{Values: []float64{1e-4}},
		Measure: []string{"lockin_x"},
	}); err != nil {
		t.Fatalf("sweep1d: %v", err)
	}
	if err := client.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	datasets, err := client.Datasets(ctx, DatasetsRequest{})
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if len(datasets) != 0 {
		t.Fatalf("expected empty store after reset, got %d datasets", len(datasets))
	}
}

func TestRangeSetpointsLogsReducedCount(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	xs, err := Range{Start: 0, Stop: 3e-10, Points: 10}.setpoints(zap.New(core))
	if err != nil {
		t.Fatalf("setpoints: %v", err)
	}
	if len(xs) != 4 {
		t.Fatalf("expected the count reduced to 4 points, got %d", len(xs))
	}
	if logs.FilterMessageSnippet("so many points").Len() != 1 {
		t.Fatalf("expected a reduced-count warning, got %v", logs.All())
	}

	if _, err := (Range{Start: 0, Stop: 1, Step: 0.1, Points: 3}).setpoints(zap.New(core)); !errors.Is(err, sweep.ErrConfiguration) {
		t.Fatalf("expected configuration error for step and points, got %v", err)
	}
}

func TestClientRepeatRunsActions(t *testing.T) {
	client, _ := newTestClient(t)
	var outer, lines, points int

	summary, err := client.Repeat(context.Background(), RepeatRequest{
		Name:           "repeat_actions",
		Axis:           "bias",
		Range:          Range{Start: 0, Stop: 1e-3, Points: 3},
		Repeats:        2,
		Measure:        []string{"lockin_x"},
		MeasureRetrace: true,
		OuterEnter:     []sweep.Action{func(context.Context) error { outer++; return nil }},
		InnerEnter:     []sweep.Action{func(context.Context) error { lines++; return nil }},
		InnerExit:      []sweep.Action{func(context.Context) error { points++; return nil }},
	})
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if outer != 1 || lines != 2 || points != 6 {
		t.Fatalf("unexpected action calls: outer=%d lines=%d points=%d", outer, lines, points)
	}
	if summary.Main.Rows != 3 || summary.Retrace.Rows != 3 {
		t.Fatalf("unexpected rows: main=%d retrace=%d", summary.Main.Rows, summary.Retrace.Rows)
	}
}
