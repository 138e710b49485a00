package storage

import (
	"context"
	"errors"
	"testing"

	"mesosweep/internal/model"
)

func testDataset(id string) model.DatasetInfo {
	return model.DatasetInfo{
		ID:           id,
		Name:         "gate-sweep-" + id,
		Axes:         []model.ParamSpec{{Name: "gate", Unit: "V"}},
		Measured:     []model.ParamSpec{{Name: "lockin_x", Unit: "V"}, {Name: "lockin_y", Unit: "V"}},
		Shape:        model.Shape{"lockin_x": {3}, "lockin_y": {3}},
		Outcome:      model.OutcomeRunning,
		CreatedAtUTC: "2024-01-01T00:00:00Z",
	}
}

// exerciseStore runs the dataset lifecycle every backend must support.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.CreateDataset(ctx, testDataset("d1")); err != nil {
		t.Fatalf("create d1: %v", err)
	}
	if err := store.CreateDataset(ctx, testDataset("d2")); err != nil {
		t.Fatalf("create d2: %v", err)
	}
	if err := store.CreateDataset(ctx, testDataset("d1")); !errors.Is(err, ErrDatasetExists) {
		t.Fatalf("expected ErrDatasetExists, got %v", err)
	}

	first := []model.Record{
		{Setpoints: []float64{0}, Values: []float64{1, 2}},
		{Setpoints: []float64{0.5}, Values: []float64{3, 4}},
	}
	if err := store.AppendRecords(ctx, "d1", first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendRecords(ctx, "d1", []model.Record{{Setpoints: []float64{1}, Values: []float64{5, 6}}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendRecords(ctx, "d1", []model.Record{{Setpoints: []float64{1}, Values: []float64{5}}}); err == nil {
		t.Fatal("expected width mismatch error")
	}
	if err := store.AppendRecords(ctx, "missing", first); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}

	info, ok, err := store.GetDataset(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("get d1: ok=%v err=%v", ok, err)
	}
	if info.Rows != 3 || info.Outcome != model.OutcomeRunning {
		t.Fatalf("unexpected live dataset: %+v", info)
	}
	if info.SchemaVersion != CurrentSchemaVersion || info.CodecVersion != CurrentCodecVersion {
		t.Fatalf("expected versioned dataset, got %+v", info.VersionedRecord)
	}

	final, err := store.FinalizeDataset(ctx, "d1", model.OutcomeCancelled, "2024-01-01T00:01:00Z")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Rows != 3 || final.Outcome != model.OutcomeCancelled || final.FinalizedAtUTC == "" {
		t.Fatalf("unexpected finalized dataset: %+v", final)
	}
	if _, err := store.FinalizeDataset(ctx, "d1", model.OutcomeCompleted, ""); !errors.Is(err, ErrDatasetFinalized) {
		t.Fatalf("expected ErrDatasetFinalized on second finalize, got %v", err)
	}
	if err := store.AppendRecords(ctx, "d1", first); !errors.Is(err, ErrDatasetFinalized) {
		t.Fatalf("expected ErrDatasetFinalized on append, got %v", err)
	}

	records, ok, err := store.GetRecords(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("get records: ok=%v err=%v", ok, err)
	}
	if len(records) != 3 || records[2].Setpoints[0] != 1 || records[1].Values[1] != 4 {
		t.Fatalf("unexpected records: %+v", records)
	}

	empty, ok, err := store.GetRecords(ctx, "d2")
	if err != nil || !ok || len(empty) != 0 {
		t.Fatalf("expected empty existing dataset, got %+v ok=%v err=%v", empty, ok, err)
	}
	if _, ok, _ := store.GetRecords(ctx, "missing"); ok {
		t.Fatal("expected missing dataset")
	}

	list, err := store.ListDatasets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "d1" || list[1].ID != "d2" {
		t.Fatalf("unexpected dataset list: %+v", list)
	}
	if list[0].Shape["lockin_y"][0] != 3 {
		t.Fatalf("expected shape to round trip, got %+v", list[0].Shape)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	list, err = store.ListDatasets(ctx)
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no datasets after reset, got %d", len(list))
	}
}
