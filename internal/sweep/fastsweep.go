package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mesosweep/internal/param"
)

type FastOptions struct {
	// Step between consecutive targets, default 0.1 (axis units).
	Step float64
	// Pause after each target is reached, default 100ms.
	Pause time.Duration
	// Settle before the first and after the last target, default 500ms.
	Settle time.Duration
	// Threshold, when set, is read after every target; the sweep stops as
	// soon as it reads above Limit.
	Threshold param.Parameter
	Limit     float64
}

func (o FastOptions) normalize() FastOptions {
	if o.Step <= 0 {
		o.Step = 0.1
	}
	if o.Pause <= 0 {
		o.Pause = 100 * time.Millisecond
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
	return o
}

// FastSweep brings axis to target in steps without recording anything and
// returns the last value written. A threshold trip or a cancelled ctx stops
// the sweep early without an error.
func (e *Engine) FastSweep(ctx context.Context, axis param.Axis, target float64, opts FastOptions) (float64, error) {
	if axis == nil {
		return 0, configError("sweep axis is required")
	}
	opts = opts.normalize()
	hw := context.WithoutCancel(ctx)

	start, err := axis.Get(hw)
	if err != nil {
		return 0, hardwareError("get", axis.Name(), err)
	}
	path, err := Generate(start, target, WithStep(opts.Step))
	if err != nil {
		return 0, err
	}

	reached := start
	e.sleep(opts.Settle)
	defer e.sleep(opts.Settle)
	for i, v := range path {
		if cancelled(ctx) {
			e.logger.Warn("fast sweep cancelled", zap.String("axis", axis.Name()), zap.Float64("reached", reached))
			return reached, nil
		}
		if err := e.mover.MoveTo(hw, axis, v); err != nil {
			return reached, err
		}
		reached = v
		e.sleep(opts.Pause)
		if opts.Threshold == nil {
			continue
		}
		level, err := opts.Threshold.Get(hw)
		if err != nil {
			return reached, hardwareError("get", opts.Threshold.Name(), err)
		}
		if level > opts.Limit {
			e.logger.Warn("fast sweep stopped at threshold",
				zap.String("axis", axis.Name()),
				zap.Float64("reached", reached),
				zap.String("threshold", opts.Threshold.Name()),
				zap.Float64("level", level),
				zap.Float64("limit", opts.Limit),
				zap.Int("step", i),
			)
			return reached, nil
		}
	}
	return reached, nil
}
