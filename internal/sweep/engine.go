package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
)

// Recorder is the dataset sink a sweep writes into. The engine calls
// RegisterAxes, RegisterMeasured, then AddResult once per point in traversal
// order, and Finalize exactly once, also when the sweep is cancelled or fails.
type Recorder interface {
	RegisterAxes(ctx context.Context, axes []param.Parameter) error
	RegisterMeasured(ctx context.Context, measured []param.Parameter, shape model.Shape) error
	AddResult(ctx context.Context, record model.Record) error
	Finalize(ctx context.Context, outcome model.Outcome) (model.DatasetHandle, error)
}

// Discard is a Recorder that drops everything and finalizes to an empty
// handle.
var Discard Recorder = discard{}

type discard struct{}

func (discard) RegisterAxes(context.Context, []param.Parameter) error { return nil }

func (discard) RegisterMeasured(context.Context, []param.Parameter, model.Shape) error {
	return nil
}

func (discard) AddResult(context.Context, model.Record) error { return nil }

func (discard) Finalize(_ context.Context, outcome model.Outcome) (model.DatasetHandle, error) {
	return model.DatasetHandle{Outcome: outcome}, nil
}

type ProgressFunc func(model.ProgressEvent)

// Action prepares or restores instruments around a sweep or a line, for
// example switching a lock-in to DC readout. Actions run on a context that
// the sweep's cancellation does not reach.
type Action func(ctx context.Context) error

func runActions(ctx context.Context, stage string, actions []Action) error {
	for i, act := range actions {
		if err := act(ctx); err != nil {
			return fmt.Errorf("sweep: %s action %d: %w", stage, i, err)
		}
	}
	return nil
}

// exitActions runs once the sweep body is done, whatever its outcome. A
// failing exit action fails the sweep.
func exitActions(ctx context.Context, outcome model.Outcome, runErr error, actions []Action) (model.Outcome, error) {
	if err := runActions(ctx, "exit", actions); err != nil {
		return model.OutcomeFailed, errors.Join(runErr, err)
	}
	return outcome, runErr
}

func validateActions(groups ...[]Action) error {
	for _, group := range groups {
		for i, act := range group {
			if act == nil {
				return configError("action %d is nil", i)
			}
		}
	}
	return nil
}

type Config struct {
	Logger      *zap.Logger
	Scope       tally.Scope
	Sleeper     Sleeper
	Progress    ProgressFunc
	StepPause   time.Duration
	SettlePause time.Duration
	Workers     int
}

func defaultConfig() Config {
	return Config{
		Logger:      zap.NewNop(),
		Scope:       tally.NoopScope,
		Sleeper:     realSleeper,
		StepPause:   DefaultStepPause,
		SettlePause: DefaultSettlePause,
	}
}

func normalizeConfig(cfg Config) Config {
	def := defaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Scope == nil {
		cfg.Scope = def.Scope
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = def.Sleeper
	}
	// shorter pauses would let rate/100 sub-steps exceed the declared rate
	if cfg.StepPause < def.StepPause {
		cfg.StepPause = def.StepPause
	}
	if cfg.SettlePause < 0 {
		cfg.SettlePause = def.SettlePause
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	return cfg
}

type Engine struct {
	cfg    Config
	logger *zap.Logger
	scope  tally.Scope
	mover  *Mover
}

func NewEngine(cfg Config) *Engine {
	cfg = normalizeConfig(cfg)
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
		scope:  cfg.Scope,
		mover: &Mover{
			StepPause:   cfg.StepPause,
			SettlePause: cfg.SettlePause,
			Sleeper:     cfg.Sleeper,
			Logger:      cfg.Logger,
			Scope:       cfg.Scope,
		},
	}
}

// Mover exposes the engine's rate limiter.
func (e *Engine) Mover() *Mover {
	return e.mover
}

func (e *Engine) sleep(d time.Duration) {
	if d > 0 {
		e.cfg.Sleeper.Sleep(d)
	}
}

func (e *Engine) sampler(useThreads bool) Sampler {
	return Sampler{UseThreads: useThreads, Workers: e.cfg.Workers, Scope: e.scope}
}

func (e *Engine) progress(ev model.ProgressEvent) {
	if e.cfg.Progress != nil {
		e.cfg.Progress(ev)
	}
}

func (e *Engine) warnMonotonic(axis string, xs []float64) {
	if !IsMonotonic(xs) {
		e.logger.Warn("the array over which the sweep is made is not monotonic",
			zap.String("axis", axis),
			zap.Int("points", len(xs)),
		)
	}
}

func (e *Engine) shape(loop []int, measured []param.Parameter) model.Shape {
	shape, err := EstimateShape(loop, measured)
	if err != nil {
		e.logger.Warn("shape of measured parameters unknown",
			zap.Strings("measured", param.Names(measured)),
			zap.Error(err),
		)
		return nil
	}
	return shape
}

func (e *Engine) readAdditional(ctx context.Context, params []param.Parameter) ([]float64, error) {
	if len(params) == 0 {
		return nil, nil
	}
	return Sampler{}.Values(ctx, params)
}

// session is one open recorder for the duration of a sweep call.
type session struct {
	rec   Recorder
	label string
	rows  int
	total int
}

func (e *Engine) open(ctx context.Context, s *session, axes, measured []param.Parameter, shape model.Shape) error {
	if err := s.rec.RegisterAxes(ctx, axes); err != nil {
		return err
	}
	return s.rec.RegisterMeasured(ctx, measured, shape)
}

func (e *Engine) add(ctx context.Context, s *session, rec model.Record) error {
	if err := s.rec.AddResult(ctx, rec); err != nil {
		return err
	}
	s.rows++
	e.scope.Tagged(map[string]string{"dataset": s.label}).Counter("records").Inc(1)
	return nil
}

// finish finalizes every session with outcome and merges runErr with any
// finalize failure. Storage is always finalized before an error surfaces.
func (e *Engine) finish(ctx context.Context, outcome model.Outcome, runErr error, sessions ...*session) ([]model.DatasetHandle, error) {
	hw := context.WithoutCancel(ctx)
	if runErr != nil {
		outcome = model.OutcomeFailed
	}
	handles := make([]model.DatasetHandle, len(sessions))
	errs := []error{runErr}
	for i, s := range sessions {
		h, err := s.rec.Finalize(hw, outcome)
		if err != nil {
			errs = append(errs, err)
		}
		if h.Outcome == "" {
			h.Outcome = outcome
		}
		handles[i] = h
	}
	e.scope.Tagged(map[string]string{"outcome": string(outcome)}).Counter("sweeps").Inc(1)

	fields := []zap.Field{zap.String("outcome", string(outcome))}
	for _, s := range sessions {
		fields = append(fields, zap.Int(s.label+"_rows", s.rows))
	}
	switch outcome {
	case model.OutcomeFailed:
		e.logger.Error("sweep failed", append(fields, zap.Error(runErr))...)
	case model.OutcomeCancelled:
		e.logger.Warn("sweep cancelled, partial data kept", fields...)
	default:
		e.logger.Info("sweep completed", fields...)
	}
	return handles, errors.Join(errs...)
}

func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}
