package sweep_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uber-go/tally/v4"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
	"mesosweep/internal/sweep"
)

// fakeSleeper records pauses instead of blocking.
type fakeSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *fakeSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()
}

func (s *fakeSleeper) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.pauses {
		sum += d
	}
	return sum
}

func newTestEngine(opts ...func(*sweep.Config)) (*sweep.Engine, *fakeSleeper) {
	sleeper := &fakeSleeper{}
	cfg := sweep.Config{Sleeper: sleeper}
	for _, opt := range opts {
		opt(&cfg)
	}
	return sweep.NewEngine(cfg), sleeper
}

// memRecorder keeps everything a sweep hands it.
type memRecorder struct {
	mu        sync.Mutex
	name      string
	axes      []string
	measured  []string
	shape     model.Shape
	records   []model.Record
	finalized int
	outcome   model.Outcome

	failAddAt int
}

func newMemRecorder(name string) *memRecorder {
	return &memRecorder{name: name, failAddAt: -1}
}

func (r *memRecorder) RegisterAxes(_ context.Context, axes []param.Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.axes = param.Names(axes)
	return nil
}

func (r *memRecorder) RegisterMeasured(_ context.Context, measured []param.Parameter, shape model.Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measured = param.Names(measured)
	r.shape = shape
	return nil
}

func (r *memRecorder) AddResult(_ context.Context, rec model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAddAt == len(r.records) {
		return errors.New("disk full")
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) Finalize(_ context.Context, outcome model.Outcome) (model.DatasetHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized++
	r.outcome = outcome
	return model.DatasetHandle{ID: r.name, Name: r.name, Rows: len(r.records), Outcome: outcome}, nil
}

func (r *memRecorder) setpoint(col int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Setpoints[col]
	}
	return out
}

// constant returns a read-only parameter that always reads v.
func constant(name string, v float64) param.Parameter {
	return &param.Func{
		ParamName: name,
		GetFn:     func(context.Context) (float64, error) { return v, nil },
	}
}

// echo reads back the current value of axis.
func echo(name string, axis param.Axis) param.Parameter {
	return &param.Func{
		ParamName: name,
		GetFn:     axis.Get,
	}
}

func counterValue(scope tally.TestScope, name string, tags map[string]string) int64 {
	var total int64
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() != name {
			continue
		}
		match := true
		for k, v := range tags {
			if c.Tags()[k] != v {
				match = false
				break
			}
		}
		if match {
			total += c.Value()
		}
	}
	return total
}
