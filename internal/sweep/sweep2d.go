package sweep

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
)

// DefaultReturnPoints is how many points the unmeasured return of the inner
// axis passes through when retrace lines are not recorded.
const DefaultReturnPoints = 201

type Sweep2D struct {
	X          param.Axis
	XSetpoints []float64
	InnerDelay time.Duration
	Y          param.Axis
	YSetpoints []float64
	OuterDelay time.Duration
	Measure    []param.Parameter
	Additional []param.Parameter
	UseThreads bool
	// MeasureRetrace records odd outer lines, traversed in reverse, into the
	// retrace recorder. Without it odd lines only bring X back to its start.
	MeasureRetrace bool
	ReturnPoints   int
	// OuterEnter and OuterExit run once around the whole grid. InnerEnter
	// runs before every measured line, after the outer delay; InnerExit runs
	// after every recorded point.
	OuterEnter []Action
	OuterExit  []Action
	InnerEnter []Action
	InnerExit  []Action
}

func (s Sweep2D) validate(main Recorder) error {
	if s.X == nil || s.Y == nil {
		return configError("both inner and outer axes are required")
	}
	if len(s.XSetpoints) == 0 {
		return configError("inner setpoints for %s are empty", s.X.Name())
	}
	if len(s.YSetpoints) == 0 {
		return configError("outer setpoints for %s are empty", s.Y.Name())
	}
	if len(s.Measure) == 0 {
		return configError("measurement set is empty")
	}
	if s.InnerDelay < 0 || s.OuterDelay < 0 {
		return configError("delays must be >= 0, got inner=%s outer=%s", s.InnerDelay, s.OuterDelay)
	}
	if s.ReturnPoints < 0 {
		return configError("return points must be >= 0, got %d", s.ReturnPoints)
	}
	if main == nil {
		return configError("main recorder is required")
	}
	if err := validateActions(s.OuterEnter, s.OuterExit, s.InnerEnter, s.InnerExit); err != nil {
		return err
	}
	return validateParams(s.Measure, s.Additional)
}

// Run2D walks Y through its setpoints and, for every outer value, walks X.
// Even outer indices are traversed forward into main. Odd indices are either
// traversed in reverse into retrace (MeasureRetrace) or used for an
// unmeasured return of X to its first setpoint. Both recorders stay open for
// the whole call and are finalized together; a nil retrace recorder is
// replaced by Discard.
func (e *Engine) Run2D(ctx context.Context, s Sweep2D, main, retrace Recorder) (model.DatasetHandle, model.DatasetHandle, error) {
	if err := s.validate(main); err != nil {
		return model.DatasetHandle{}, model.DatasetHandle{}, err
	}
	return e.runGrid(ctx, s, main, retrace)
}

// Repeat1D sweeps one axis Repeats times, with a counter as outer axis.
type Repeat1D struct {
	Axis           param.Axis
	Setpoints      []float64
	InnerDelay     time.Duration
	OuterDelay     time.Duration
	Repeats        int
	Measure        []param.Parameter
	Additional     []param.Parameter
	UseThreads     bool
	MeasureRetrace bool
	ReturnPoints   int
	CounterName    string
	OuterEnter     []Action
	OuterExit      []Action
	InnerEnter     []Action
	InnerExit      []Action
}

func (e *Engine) Run1DRepeat(ctx context.Context, s Repeat1D, main, retrace Recorder) (model.DatasetHandle, model.DatasetHandle, error) {
	if s.Repeats < 1 {
		return model.DatasetHandle{}, model.DatasetHandle{}, configError("repeats must be >= 1, got %d", s.Repeats)
	}
	counts := make([]float64, s.Repeats)
	for i := range counts {
		counts[i] = float64(i)
	}
	grid := Sweep2D{
		X:              s.Axis,
		XSetpoints:     s.Setpoints,
		InnerDelay:     s.InnerDelay,
		Y:              param.NewCounter(s.CounterName),
		YSetpoints:     counts,
		OuterDelay:     s.OuterDelay,
		Measure:        s.Measure,
		Additional:     s.Additional,
		UseThreads:     s.UseThreads,
		MeasureRetrace: s.MeasureRetrace,
		ReturnPoints:   s.ReturnPoints,
		OuterEnter:     s.OuterEnter,
		OuterExit:      s.OuterExit,
		InnerEnter:     s.InnerEnter,
		InnerExit:      s.InnerExit,
	}
	if err := grid.validate(main); err != nil {
		return model.DatasetHandle{}, model.DatasetHandle{}, err
	}
	return e.runGrid(ctx, grid, main, retrace)
}

func (e *Engine) runGrid(ctx context.Context, s Sweep2D, main, retrace Recorder) (model.DatasetHandle, model.DatasetHandle, error) {
	if retrace == nil {
		retrace = Discard
	}
	if s.ReturnPoints == 0 {
		s.ReturnPoints = DefaultReturnPoints
	}
	xs := slices.Clone(s.XSetpoints)
	ys := slices.Clone(s.YSetpoints)
	e.warnMonotonic(s.X.Name(), xs)
	e.warnMonotonic(s.Y.Name(), ys)

	forwardLines := (len(ys) + 1) / 2
	retraceLines := 0
	if s.MeasureRetrace {
		retraceLines = len(ys) / 2
	}
	sessions := gridSessions{
		main:    &session{rec: main, label: "main", total: forwardLines * len(xs)},
		retrace: &session{rec: retrace, label: "retrace", total: retraceLines * len(xs)},
	}

	outcome, err := e.walkGrid(ctx, s, xs, ys, sessions)
	handles, err := e.finish(ctx, outcome, err, sessions.main, sessions.retrace)
	return handles[0], handles[1], err
}

type gridSessions struct {
	main    *session
	retrace *session
}

func (e *Engine) walkGrid(ctx context.Context, s Sweep2D, xs, ys []float64, sessions gridSessions) (outcome model.Outcome, err error) {
	hw := context.WithoutCancel(ctx)
	axes := append([]param.Parameter{s.Y, s.X}, s.Additional...)
	mainShape := e.shape(loopShape(len(s.Additional), (len(ys)+1)/2, len(xs)), s.Measure)
	if err := e.open(hw, sessions.main, axes, s.Measure, mainShape); err != nil {
		return model.OutcomeFailed, err
	}
	var retraceShape model.Shape
	if s.MeasureRetrace {
		retraceShape = e.shape(loopShape(len(s.Additional), len(ys)/2, len(xs)), s.Measure)
	}
	if err := e.open(hw, sessions.retrace, axes, s.Measure, retraceShape); err != nil {
		return model.OutcomeFailed, err
	}
	if err := runActions(hw, "outer enter", s.OuterEnter); err != nil {
		return model.OutcomeFailed, err
	}
	defer func() {
		outcome, err = exitActions(hw, outcome, err, s.OuterExit)
	}()
	extra, err := e.readAdditional(hw, s.Additional)
	if err != nil {
		return model.OutcomeFailed, err
	}

	reversed := Reversed(xs)
	sampler := e.sampler(s.UseThreads)
	for c, y := range ys {
		if cancelled(ctx) {
			return model.OutcomeCancelled, nil
		}
		if err := e.mover.MoveTo(hw, s.Y, y); err != nil {
			return model.OutcomeFailed, err
		}

		var (
			line []float64
			sess *session
			dir  model.Direction
		)
		switch {
		case c%2 == 0:
			line, sess, dir = xs, sessions.main, model.DirectionForward
		case s.MeasureRetrace:
			line, sess, dir = reversed, sessions.retrace, model.DirectionRetrace
		default:
			if err := e.returnSweep(hw, s.X, xs, s.ReturnPoints); err != nil {
				return model.OutcomeFailed, err
			}
			e.progress(model.ProgressEvent{
				Direction: model.DirectionReturn,
				Outer:     c,
				Outers:    len(ys),
				Setpoints: []float64{y},
			})
			continue
		}

		if err := e.mover.MoveTo(hw, s.X, line[0]); err != nil {
			return model.OutcomeFailed, err
		}
		e.sleep(s.OuterDelay)
		if err := runActions(hw, "inner enter", s.InnerEnter); err != nil {
			return model.OutcomeFailed, err
		}

		for i, x := range line {
			if err := e.mover.MoveTo(hw, s.X, x); err != nil {
				return model.OutcomeFailed, err
			}
			e.sleep(s.InnerDelay)
			values, err := sampler.Values(hw, s.Measure)
			if err != nil {
				return model.OutcomeFailed, err
			}
			setpoints := append([]float64{y, x}, extra...)
			if err := e.add(hw, sess, model.Record{Setpoints: setpoints, Values: values}); err != nil {
				return model.OutcomeFailed, err
			}
			e.progress(model.ProgressEvent{
				Dataset:   sess.label,
				Direction: dir,
				Outer:     c,
				Outers:    len(ys),
				Index:     i,
				Total:     len(line),
				Setpoints: setpoints,
			})
			if err := runActions(hw, "inner exit", s.InnerExit); err != nil {
				return model.OutcomeFailed, err
			}
		}
	}
	return model.OutcomeCompleted, nil
}

// returnSweep brings x from its last setpoint back to its first without
// sampling, passing through the given number of evenly spaced waypoints.
func (e *Engine) returnSweep(ctx context.Context, x param.Axis, xs []float64, points int) error {
	from, to := xs[len(xs)-1], xs[0]
	if len(xs) == 1 {
		points = 1
	}
	path, err := Generate(from, to, WithCount(points), WithTolerance(0))
	if err != nil {
		return err
	}
	e.logger.Debug("unmeasured return of inner axis",
		zap.String("axis", x.Name()),
		zap.Float64("from", from),
		zap.Float64("to", to),
		zap.Int("points", len(path)),
	)
	for _, p := range path {
		if err := e.mover.MoveTo(ctx, x, p); err != nil {
			return err
		}
	}
	return nil
}
