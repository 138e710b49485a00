// Package platform runs sweeps in the background and tracks their status.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mesosweep/internal/model"
)

// RunFunc executes one sweep. It must return once ctx is cancelled, with an
// outcome describing how far it got.
type RunFunc func(ctx context.Context) (RunResult, error)

type RunResult struct {
	Outcome  model.Outcome
	Datasets []model.DatasetHandle
}

type RunStatus struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Status        model.Outcome         `json:"status"`
	Datasets      []model.DatasetHandle `json:"datasets,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	StartedAtUTC  string                `json:"started_at_utc"`
	FinishedAtUTC string                `json:"finished_at_utc,omitempty"`
}

type RunnerOptions struct {
	Logger *zap.Logger
	Now    func() time.Time
	// OnFinish is called once per run after its final status is recorded.
	OnFinish func(RunStatus)
}

func normalizeRunnerOptions(opts RunnerOptions) RunnerOptions {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

type Runner struct {
	opts RunnerOptions

	mu    sync.Mutex
	runs  map[string]*run
	order []string
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	status RunStatus
}

func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		opts: normalizeRunnerOptions(opts),
		runs: make(map[string]*run),
	}
}

// Start launches fn under name and returns the run ID. A name can be reused
// once its previous run has finished.
func (r *Runner) Start(name string, fn RunFunc) (string, error) {
	if name == "" {
		return "", errors.New("run name is required")
	}
	if fn == nil {
		return "", errors.New("run function is required")
	}

	r.mu.Lock()
	if existing, ok := r.runs[name]; ok && !existing.status.Status.Terminal() {
		r.mu.Unlock()
		return "", fmt.Errorf("run already active: %s", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	current := &run{
		cancel: cancel,
		done:   make(chan struct{}),
		status: RunStatus{
			ID:           uuid.NewString(),
			Name:         name,
			Status:       model.OutcomeRunning,
			StartedAtUTC: r.timestamp(),
		},
	}
	if _, ok := r.runs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.runs[name] = current
	r.mu.Unlock()

	r.opts.Logger.Info("run started", zap.String("run", name), zap.String("run_id", current.status.ID))
	go r.execute(ctx, current, fn)
	return current.status.ID, nil
}

func (r *Runner) execute(ctx context.Context, current *run, fn RunFunc) {
	defer close(current.done)
	defer current.cancel()

	result, err := fn(ctx)
	outcome := result.Outcome
	switch {
	case err != nil:
		outcome = model.OutcomeFailed
	case outcome == "" || !outcome.Terminal():
		outcome = model.OutcomeCompleted
	}

	r.mu.Lock()
	current.status.Status = outcome
	current.status.Datasets = append([]model.DatasetHandle(nil), result.Datasets...)
	current.status.LastError = errString(err)
	current.status.FinishedAtUTC = r.timestamp()
	final := current.status
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("run", final.Name),
		zap.String("run_id", final.ID),
		zap.String("status", string(final.Status)),
	}
	if err != nil {
		r.opts.Logger.Error("run finished", append(fields, zap.Error(err))...)
	} else {
		r.opts.Logger.Info("run finished", fields...)
	}
	if r.opts.OnFinish != nil {
		r.opts.OnFinish(final)
	}
}

// Stop cancels the named run and waits for it to finish. Unknown or
// finished runs are ignored.
func (r *Runner) Stop(name string) {
	r.mu.Lock()
	current, ok := r.runs[name]
	r.mu.Unlock()
	if !ok {
		return
	}
	current.cancel()
	<-current.done
}

func (r *Runner) StopAll() {
	r.mu.Lock()
	active := make([]*run, 0, len(r.runs))
	for _, current := range r.runs {
		active = append(active, current)
	}
	r.mu.Unlock()

	for _, current := range active {
		current.cancel()
	}
	for _, current := range active {
		<-current.done
	}
}

// Wait blocks until the named run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, name string) (RunStatus, error) {
	r.mu.Lock()
	current, ok := r.runs[name]
	r.mu.Unlock()
	if !ok {
		return RunStatus{}, fmt.Errorf("run not found: %s", name)
	}
	select {
	case <-current.done:
	case <-ctx.Done():
		return RunStatus{}, ctx.Err()
	}
	status, _ := r.Status(name)
	return status, nil
}

func (r *Runner) Status(name string) (RunStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.runs[name]
	if !ok {
		return RunStatus{Name: name, Status: model.OutcomeIdle}, false
	}
	return cloneStatus(current.status), true
}

// Runs lists the latest run of every name in first-start order.
func (r *Runner) Runs() []RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunStatus, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, cloneStatus(r.runs[name].status))
	}
	return out
}

func (r *Runner) timestamp() string {
	return r.opts.Now().UTC().Format(time.RFC3339Nano)
}

func cloneStatus(status RunStatus) RunStatus {
	status.Datasets = append([]model.DatasetHandle(nil), status.Datasets...)
	return status
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
