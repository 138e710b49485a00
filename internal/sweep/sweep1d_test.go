package sweep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
	"mesosweep/internal/sweep"
)

func TestRun1DRecordsEveryPointInOrder(t *testing.T) {
	eng, sleeper := newTestEngine()
	gate := param.NewManual("gate", "V")
	xs, err := sweep.Generate(0, 1, sweep.WithCount(5))
	require.NoError(t, err)
	rec := newMemRecorder("ds")

	handle, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      gate,
		Setpoints: xs,
		Delay:     50 * time.Millisecond,
		Measure:   []param.Parameter{echo("readback", gate), constant("current", 2)},
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeCompleted, handle.Outcome)
	assert.Equal(t, 5, handle.Rows)
	assert.Equal(t, 1, rec.finalized)
	assert.Equal(t, []string{"gate"}, rec.axes)
	assert.Equal(t, []string{"readback", "current"}, rec.measured)
	assert.Equal(t, model.Shape{"readback": {5}, "current": {5}}, rec.shape)
	require.Len(t, rec.records, 5)
	for i, r := range rec.records {
		assert.Equal(t, []float64{xs[i]}, r.Setpoints)
		assert.Equal(t, []float64{xs[i], 2}, r.Values)
	}
	assert.Equal(t, 5*50*time.Millisecond, sleeper.total())
}

func TestRun1DAdditionalSetpoints(t *testing.T) {
	eng, _ := newTestEngine()
	gate := param.NewManual("gate", "V")
	rec := newMemRecorder("ds")

	_, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:       gate,
		Setpoints:  []float64{1, 2},
		Measure:    []param.Parameter{constant("current", 1)},
		Additional: []param.Parameter{constant("temperature", 0.02)},
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"gate", "temperature"}, rec.axes)
	assert.Equal(t, model.Shape{"current": {1, 2}}, rec.shape)
	assert.Equal(t, []float64{2, 0.02}, rec.records[1].Setpoints)
}

func TestRun1DCancellationKeepsPartialData(t *testing.T) {
	const stopAfter = 3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng, _ := newTestEngine(func(cfg *sweep.Config) {
		cfg.Progress = func(ev model.ProgressEvent) {
			if ev.Index == stopAfter-1 {
				cancel()
			}
		}
	})
	gate := param.NewManual("gate", "V")
	rec := newMemRecorder("ds")

	handle, err := eng.Run1D(ctx, sweep.Sweep1D{
		Axis:      gate,
		Setpoints: []float64{0, 1, 2, 3, 4, 5, 6},
		Measure:   []param.Parameter{constant("current", 1)},
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeCancelled, handle.Outcome)
	assert.Equal(t, stopAfter, handle.Rows)
	assert.Len(t, rec.records, stopAfter)
	assert.Equal(t, 1, rec.finalized)
	assert.Equal(t, model.OutcomeCancelled, rec.outcome)
}

func TestRun1DHardwareErrorFinalizesFirst(t *testing.T) {
	eng, _ := newTestEngine()
	gate := param.NewManual("gate", "V")
	boom := errors.New("lock-in overload")
	var reads int
	flaky := &param.Func{
		ParamName: "lockin_x",
		GetFn: func(context.Context) (float64, error) {
			reads++
			if reads == 3 {
				return 0, boom
			}
			return 1, nil
		},
	}
	rec := newMemRecorder("ds")

	handle, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      gate,
		Setpoints: []float64{0, 1, 2, 3},
		Measure:   []param.Parameter{flaky},
	}, rec)
	require.ErrorIs(t, err, boom)
	var hw *sweep.HardwareError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, "lockin_x", hw.Param)

	assert.Equal(t, model.OutcomeFailed, handle.Outcome)
	assert.Equal(t, 2, handle.Rows)
	assert.Equal(t, 1, rec.finalized)
	assert.Equal(t, model.OutcomeFailed, rec.outcome)
}

func TestRun1DRecorderErrorFails(t *testing.T) {
	eng, _ := newTestEngine()
	rec := newMemRecorder("ds")
	rec.failAddAt = 1

	handle, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      param.NewManual("gate", "V"),
		Setpoints: []float64{0, 1, 2},
		Measure:   []param.Parameter{constant("current", 1)},
	}, rec)
	require.Error(t, err)
	assert.Equal(t, model.OutcomeFailed, handle.Outcome)
	assert.Equal(t, 1, rec.finalized)
}

func TestRun1DRejectsInvalidSweep(t *testing.T) {
	eng, _ := newTestEngine()
	gate := param.NewManual("gate", "V")
	measure := []param.Parameter{constant("current", 1)}
	cases := map[string]sweep.Sweep1D{
		"no axis":        {Setpoints: []float64{1}, Measure: measure},
		"no setpoints":   {Axis: gate, Measure: measure},
		"no measurement": {Axis: gate, Setpoints: []float64{1}},
		"negative delay": {Axis: gate, Setpoints: []float64{1}, Measure: measure, Delay: -time.Second},
		"nil measured":   {Axis: gate, Setpoints: []float64{1}, Measure: []param.Parameter{nil}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			rec := newMemRecorder("ds")
			_, err := eng.Run1D(context.Background(), s, rec)
			require.ErrorIs(t, err, sweep.ErrConfiguration)
			assert.Zero(t, rec.finalized)
		})
	}

	_, err := eng.Run1D(context.Background(), sweep.Sweep1D{Axis: gate, Setpoints: []float64{1}, Measure: measure}, nil)
	require.ErrorIs(t, err, sweep.ErrConfiguration)
}

func TestRun1DWarnsOnNonMonotonicSetpoints(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	eng, _ := newTestEngine(func(cfg *sweep.Config) { cfg.Logger = zap.New(core) })

	_, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      param.NewManual("gate", "V"),
		Setpoints: []float64{0, 2, 1},
		Measure:   []param.Parameter{constant("current", 1)},
	}, newMemRecorder("ds"))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("not monotonic").Len())
}

func TestRun1DMetrics(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	eng, _ := newTestEngine(func(cfg *sweep.Config) { cfg.Scope = scope })

	_, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      param.NewManual("gate", "V", param.WithMaxRate(100)),
		Setpoints: []float64{0, 1, 2},
		Measure:   []param.Parameter{constant("current", 1)},
	}, newMemRecorder("ds"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), counterValue(scope, "records", map[string]string{"dataset": "main"}))
	assert.Equal(t, int64(3), counterValue(scope, "moves", nil))
	assert.Equal(t, int64(1), counterValue(scope, "sweeps", map[string]string{"outcome": "completed"}))
}

func TestRun1DRecorderCallOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := NewMockRecorder(ctrl)
	eng, _ := newTestEngine()
	gate := param.NewManual("gate", "V")

	gomock.InOrder(
		rec.EXPECT().RegisterAxes(gomock.Any(), gomock.Len(1)).Return(nil),
		rec.EXPECT().RegisterMeasured(gomock.Any(), gomock.Len(1), gomock.Any()).Return(nil),
		rec.EXPECT().AddResult(gomock.Any(), model.Record{Setpoints: []float64{1}, Values: []float64{7}}).Return(nil),
		rec.EXPECT().AddResult(gomock.Any(), model.Record{Setpoints: []float64{2}, Values: []float64{7}}).Return(nil),
		rec.EXPECT().Finalize(gomock.Any(), model.OutcomeCompleted).
			Return(model.DatasetHandle{ID: "abc", Rows: 2, Outcome: model.OutcomeCompleted}, nil),
	)

	handle, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      gate,
		Setpoints: []float64{1, 2},
		Measure:   []param.Parameter{constant("current", 7)},
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, "abc", handle.ID)
}

func TestRun1DFinalizeErrorIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := NewMockRecorder(ctrl)
	eng, _ := newTestEngine()
	closed := errors.New("store closed")

	rec.EXPECT().RegisterAxes(gomock.Any(), gomock.Any()).Return(nil)
	rec.EXPECT().RegisterMeasured(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	rec.EXPECT().AddResult(gomock.Any(), gomock.Any()).Return(nil)
	rec.EXPECT().Finalize(gomock.Any(), model.OutcomeCompleted).Return(model.DatasetHandle{}, closed)

	handle, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      param.NewManual("gate", "V"),
		Setpoints: []float64{1},
		Measure:   []param.Parameter{constant("current", 7)},
	}, rec)
	require.ErrorIs(t, err, closed)
	assert.Equal(t, model.OutcomeCompleted, handle.Outcome)
}

func TestRun1DUnknownShapeStillRecords(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	eng, _ := newTestEngine(func(cfg *sweep.Config) { cfg.Logger = zap.New(core) })
	current := constant("current", 1)
	rec := newMemRecorder("ds")

	// measuring a parameter twice leaves its shape undefined
	handle, err := eng.Run1D(context.Background(), sweep.Sweep1D{
		Axis:      param.NewManual("gate", "V"),
		Setpoints: []float64{0, 1, 2},
		Measure:   []param.Parameter{current, current},
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessageSnippet("shape of measured parameters unknown").Len())
	assert.Nil(t, rec.shape)
	assert.Equal(t, model.OutcomeCompleted, handle.Outcome)
	assert.Len(t, rec.records, 3)
	assert.Equal(t, []float64{1, 1}, rec.records[2].Values)
}
