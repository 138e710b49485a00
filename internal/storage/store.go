package storage

import (
	"context"
	"errors"

	"mesosweep/internal/model"
)

var (
	ErrDatasetExists    = errors.New("dataset already exists")
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrDatasetFinalized = errors.New("dataset already finalized")
	ErrNotInitialized   = errors.New("store is not initialized")
)

// Store persists datasets: their metadata plus an ordered, append-only list
// of records. Appends to a finalized dataset are rejected.
type Store interface {
	Init(ctx context.Context) error
	CreateDataset(ctx context.Context, info model.DatasetInfo) error
	AppendRecords(ctx context.Context, id string, records []model.Record) error
	FinalizeDataset(ctx context.Context, id string, outcome model.Outcome, finalizedAtUTC string) (model.DatasetInfo, error)
	GetDataset(ctx context.Context, id string) (model.DatasetInfo, bool, error)
	ListDatasets(ctx context.Context) ([]model.DatasetInfo, error)
	GetRecords(ctx context.Context, id string) ([]model.Record, bool, error)
	Reset(ctx context.Context) error
}
