// Package recorder persists sweep output into a storage.Store. A Recorder
// is one dataset: it buffers rows and flushes them in order, and it can be
// finalized exactly once.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
	"go.uber.org/zap"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
	"mesosweep/internal/storage"
)

const (
	DefaultBatchSize    = 64
	DefaultNameTemplate = "%Y-%m-%d_%H-%M-%S"
)

var (
	ErrNotRegistered = errors.New("recorder: measured parameters not registered")
	ErrFinalized     = errors.New("recorder: dataset already finalized")
	ErrRegistered    = errors.New("recorder: dataset already registered")
)

type Options struct {
	Store storage.Store
	// Name may contain strftime directives; empty uses DefaultNameTemplate.
	Name       string
	Experiment string
	BatchSize  int
	Logger     *zap.Logger
	Now        func() time.Time
}

func normalizeOptions(opts Options) Options {
	if opts.Name == "" {
		opts.Name = DefaultNameTemplate
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

type Recorder struct {
	store     storage.Store
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	id         string
	name       string
	experiment string
	axes       []model.ParamSpec
	created    bool
	pending    []model.Record
	rows       int
	finalized  bool
	handle     model.DatasetHandle
}

func New(opts Options) (*Recorder, error) {
	if opts.Store == nil {
		return nil, errors.New("recorder: store is required")
	}
	opts = normalizeOptions(opts)
	id := uuid.NewString()
	name := strftime.Format(opts.Name, opts.Now())
	return &Recorder{
		store:      opts.Store,
		batchSize:  opts.BatchSize,
		logger:     opts.Logger.With(zap.String("dataset_id", id), zap.String("dataset", name)),
		now:        opts.Now,
		id:         id,
		name:       name,
		experiment: opts.Experiment,
	}, nil
}

func (r *Recorder) ID() string   { return r.id }
func (r *Recorder) Name() string { return r.name }

func (r *Recorder) RegisterAxes(_ context.Context, axes []param.Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}
	if r.created {
		return ErrRegistered
	}
	r.axes = specs(axes)
	return nil
}

// RegisterMeasured creates the dataset in the store. A nil shape is stored
// as unknown.
func (r *Recorder) RegisterMeasured(ctx context.Context, measured []param.Parameter, shape model.Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}
	if r.created {
		return ErrRegistered
	}
	info := model.DatasetInfo{
		ID:           r.id,
		Name:         r.name,
		Experiment:   r.experiment,
		Axes:         r.axes,
		Measured:     specs(measured),
		Shape:        shape,
		Outcome:      model.OutcomeRunning,
		CreatedAtUTC: r.timestamp(),
	}
	if err := r.store.CreateDataset(ctx, info); err != nil {
		return fmt.Errorf("create dataset %s: %w", r.name, err)
	}
	r.created = true
	r.logger.Debug("dataset registered",
		zap.Strings("axes", names(info.Axes)),
		zap.Strings("measured", names(info.Measured)),
	)
	return nil
}

func (r *Recorder) AddResult(ctx context.Context, record model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}
	if !r.created {
		return ErrNotRegistered
	}
	r.pending = append(r.pending, record)
	if len(r.pending) >= r.batchSize {
		return r.flush(ctx)
	}
	return nil
}

// Flush writes buffered rows to the store.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush(ctx)
}

func (r *Recorder) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.store.AppendRecords(ctx, r.id, r.pending); err != nil {
		return fmt.Errorf("append %d records to %s: %w", len(r.pending), r.name, err)
	}
	r.rows += len(r.pending)
	r.logger.Debug("records flushed", zap.Int("batch", len(r.pending)), zap.Int("rows", r.rows))
	r.pending = r.pending[:0]
	return nil
}

// Finalize flushes what is buffered and closes the dataset with outcome.
// Later calls return the first handle without touching the store.
func (r *Recorder) Finalize(ctx context.Context, outcome model.Outcome) (model.DatasetHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return r.handle, nil
	}
	r.finalized = true
	r.handle = model.DatasetHandle{ID: r.id, Name: r.name, Outcome: outcome}
	if !r.created {
		// nothing was registered, so there is no dataset to close
		r.handle.ID = ""
		return r.handle, nil
	}

	flushErr := r.flush(ctx)
	if flushErr != nil {
		outcome = model.OutcomeFailed
		r.handle.Outcome = outcome
	}
	info, err := r.store.FinalizeDataset(ctx, r.id, outcome, r.timestamp())
	if err != nil {
		r.handle.Rows = r.rows
		return r.handle, errors.Join(flushErr, fmt.Errorf("finalize dataset %s: %w", r.name, err))
	}
	r.handle.Rows = info.Rows
	r.logger.Info("dataset finalized",
		zap.String("outcome", string(outcome)),
		zap.Int("rows", info.Rows),
	)
	return r.handle, flushErr
}

func (r *Recorder) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func specs(params []param.Parameter) []model.ParamSpec {
	out := make([]model.ParamSpec, len(params))
	for i, p := range params {
		out[i] = model.ParamSpec{Name: p.Name(), Unit: p.Unit()}
	}
	return out
}

func names(specs []model.ParamSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}
