package sweep

import (
	"context"
	"time"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
)

// timeoutSlack ends a timed sweep when less than this much time is left.
const timeoutSlack = 5 * time.Millisecond

// TimeSweep samples the measurement set every Delay until Timeout has
// elapsed. The setpoint axis is the elapsed time in seconds.
type TimeSweep struct {
	Delay      time.Duration
	Timeout    time.Duration
	Measure    []param.Parameter
	Additional []param.Parameter
	UseThreads bool
	Enter      []Action
	Exit       []Action
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (s TimeSweep) validate(rec Recorder) error {
	if len(s.Measure) == 0 {
		return configError("measurement set is empty")
	}
	if s.Delay <= 0 {
		return configError("delay must be > 0, got %s", s.Delay)
	}
	if s.Timeout <= 0 {
		return configError("timeout must be > 0, got %s", s.Timeout)
	}
	if rec == nil {
		return configError("recorder is required")
	}
	if err := validateActions(s.Enter, s.Exit); err != nil {
		return err
	}
	return validateParams(s.Measure, s.Additional)
}

func (e *Engine) RunTime(ctx context.Context, s TimeSweep, rec Recorder) (model.DatasetHandle, error) {
	if err := s.validate(rec); err != nil {
		return model.DatasetHandle{}, err
	}
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	timer := param.NewElapsedTimeWithClock("time", clock)
	axes := append([]param.Parameter{timer}, s.Additional...)
	main := &session{rec: rec, label: "main", total: int(s.Timeout / s.Delay)}

	outcome, err := e.runTime(ctx, s, timer, axes, main)
	handles, err := e.finish(ctx, outcome, err, main)
	return handles[0], err
}

func (e *Engine) runTime(ctx context.Context, s TimeSweep, timer *param.ElapsedTime, axes []param.Parameter, main *session) (outcome model.Outcome, err error) {
	hw := context.WithoutCancel(ctx)
	if err := e.open(hw, main, axes, s.Measure, nil); err != nil {
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
	timeout := s.Timeout.Seconds()
	timer.ResetClock()
	for i := 0; ; i++ {
		if cancelled(ctx) {
			return model.OutcomeCancelled, nil
		}
		e.sleep(s.Delay)
		t, _ := timer.Get(hw)
		values, err := sampler.Values(hw, s.Measure)
		if err != nil {
			return model.OutcomeFailed, err
		}
		setpoints := append([]float64{t}, extra...)
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
		now, _ := timer.Get(hw)
		if timeout-now < timeoutSlack.Seconds() {
			return model.OutcomeCompleted, nil
		}
	}
}
