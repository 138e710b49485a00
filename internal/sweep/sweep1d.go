package sweep

import (
	"context"
	"slices"
	"time"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
)

type Sweep1D struct {
	Axis      param.Axis
	Setpoints []float64
	Delay     time.Duration
	Measure   []param.Parameter
	// Additional parameters are read once before the first point and stored
	// as extra setpoint columns of every record.
	Additional []param.Parameter
	UseThreads bool
	// Enter runs after the dataset is registered and before the first
	// point. Exit runs after the last point, also on cancellation or a
	// failure once Enter succeeded.
	Enter []Action
	Exit  []Action
}

func (s Sweep1D) validate(rec Recorder) error {
	if s.Axis == nil {
		return configError("sweep axis is required")
	}
	if len(s.Setpoints) == 0 {
		return configError("setpoints for %s are empty", s.Axis.Name())
	}
	if len(s.Measure) == 0 {
		return configError("measurement set is empty")
	}
	if s.Delay < 0 {
		return configError("delay must be >= 0, got %s", s.Delay)
	}
	if rec == nil {
		return configError("recorder is required")
	}
	if err := validateActions(s.Enter, s.Exit); err != nil {
		return err
	}
	return validateParams(s.Measure, s.Additional)
}

func validateParams(groups ...[]param.Parameter) error {
	for _, group := range groups {
		for i, p := range group {
			if p == nil {
				return configError("parameter %d is nil", i)
			}
		}
	}
	return nil
}

// Run1D walks one axis through its setpoints and records a row per point.
func (e *Engine) Run1D(ctx context.Context, s Sweep1D, rec Recorder) (model.DatasetHandle, error) {
	if err := s.validate(rec); err != nil {
		return model.DatasetHandle{}, err
	}
	xs := slices.Clone(s.Setpoints)
	e.warnMonotonic(s.Axis.Name(), xs)

	axes := append([]param.Parameter{s.Axis}, s.Additional...)
	shape := e.shape(loopShape(len(s.Additional), len(xs)), s.Measure)
	main := &session{rec: rec, label: "main", total: len(xs)}

	outcome, err := e.run1D(ctx, s, xs, axes, shape, main)
	handles, err := e.finish(ctx, outcome, err, main)
	return handles[0], err
}

func (e *Engine) run1D(ctx context.Context, s Sweep1D, xs []float64, axes []param.Parameter, shape model.Shape, main *session) (outcome model.Outcome, err error) {
	hw := context.WithoutCancel(ctx)
	if err := e.open(hw, main, axes, s.Measure, shape); err != nil {
		return model.OutcomeFailed, err
	}
	if err := runActions(hw, "enter", s.Enter); err != nil {
		return model.OutcomeFailed, err
	}
	defer func() {
		outcome, err = exitActions(hw, outcome, err, s.Exit)
	}()
	extra, err := e.readAdditional(hw, s.Additional)
	if err != nil {
		return model.OutcomeFailed, err
	}

	sampler := e.sampler(s.UseThreads)
	for i, x := range xs {
		if cancelled(ctx) {
			return model.OutcomeCancelled, nil
		}
		if err := e.mover.MoveTo(hw, s.Axis, x); err != nil {
			return model.OutcomeFailed, err
		}
		e.sleep(s.Delay)
		values, err := sampler.Values(hw, s.Measure)
		if err != nil {
			return model.OutcomeFailed, err
		}
		setpoints := append([]float64{x}, extra...)
		if err := e.add(hw, main, model.Record{Setpoints: setpoints, Values: values}); err != nil {
			return model.OutcomeFailed, err
		}
		e.progress(model.ProgressEvent{
			Dataset:   main.label,
			Direction: model.DirectionForward,
			Outers:    1,
			Index:     i,
			Total:     main.total,
			Setpoints: setpoints,
		})
	}
	return model.OutcomeCompleted, nil
}
