package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"mesosweep/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	order       []string
	datasets    map[string]model.DatasetInfo
	records     map[string][]model.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.order = nil
	s.datasets = make(map[string]model.DatasetInfo)
	s.records = make(map[string][]model.Record)
	return nil
}

func (s *MemoryStore) CreateDataset(_ context.Context, info model.DatasetInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if info.ID == "" {
		return fmt.Errorf("dataset id is required")
	}
	if _, ok := s.datasets[info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDatasetExists, info.ID)
	}
	info = Versioned(info)
	info.Rows = 0
	s.datasets[info.ID] = cloneInfo(info)
	s.records[info.ID] = nil
	s.order = append(s.order, info.ID)
	return nil
}

func (s *MemoryStore) AppendRecords(_ context.Context, id string, records []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.lookup(id)
	if err != nil {
		return err
	}
	if info.Outcome.Terminal() {
		return fmt.Errorf("%w: %s", ErrDatasetFinalized, id)
	}
	for _, record := range records {
		if err := checkRecordWidth(info, record); err != nil {
			return err
		}
	}
	for _, record := range records {
		s.records[id] = append(s.records[id], cloneRecord(record))
	}
	info.Rows = len(s.records[id])
	s.datasets[id] = info
	return nil
}

func (s *MemoryStore) FinalizeDataset(_ context.Context, id string, outcome model.Outcome, finalizedAtUTC string) (model.DatasetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.lookup(id)
	if err != nil {
		return model.DatasetInfo{}, err
	}
	if info.Outcome.Terminal() {
		return model.DatasetInfo{}, fmt.Errorf("%w: %s", ErrDatasetFinalized, id)
	}
	info.Outcome = outcome
	info.FinalizedAtUTC = finalizedAtUTC
	info.Rows = len(s.records[id])
	s.datasets[id] = info
	return cloneInfo(info), nil
}

func (s *MemoryStore) GetDataset(_ context.Context, id string) (model.DatasetInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.datasets[id]
	if !ok {
		return model.DatasetInfo{}, false, nil
	}
	return cloneInfo(info), true, nil
}

func (s *MemoryStore) ListDatasets(_ context.Context) ([]model.DatasetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DatasetInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneInfo(s.datasets[id]))
	}
	return out, nil
}

func (s *MemoryStore) GetRecords(_ context.Context, id string) ([]model.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.Record, len(records))
	for i, record := range records {
		out[i] = cloneRecord(record)
	}
	return out, true, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.order = nil
	s.datasets = make(map[string]model.DatasetInfo)
	s.records = make(map[string][]model.Record)
	return nil
}

func (s *MemoryStore) lookup(id string) (model.DatasetInfo, error) {
	if !s.initialized {
		return model.DatasetInfo{}, ErrNotInitialized
	}
	info, ok := s.datasets[id]
	if !ok {
		return model.DatasetInfo{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	}
	return info, nil
}

func cloneInfo(info model.DatasetInfo) model.DatasetInfo {
	info.Axes = slices.Clone(info.Axes)
	info.Measured = slices.Clone(info.Measured)
	if info.Shape != nil {
		shape := make(model.Shape, len(info.Shape))
		for name, dims := range info.Shape {
			shape[name] = slices.Clone(dims)
		}
		info.Shape = shape
	}
	return info
}

func cloneRecord(record model.Record) model.Record {
	return model.Record{
		Setpoints: slices.Clone(record.Setpoints),
		Values:    slices.Clone(record.Values),
	}
}
