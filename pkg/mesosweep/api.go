package mesosweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
	"mesosweep/internal/platform"
	"mesosweep/internal/recorder"
	"mesosweep/internal/sim"
	"mesosweep/internal/station"
	"mesosweep/internal/stats"
	"mesosweep/internal/storage"
	"mesosweep/internal/sweep"
)

const (
	defaultExportsDir = "exports"
	defaultDBPath     = "mesosweep.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
	Experiment string

	// Station supplies the instruments. When nil a simulated station is
	// built from Sim.
	Station *station.Station
	Sim     sim.Options

	Logger   *zap.Logger
	Scope    tally.Scope
	Sleeper  sweep.Sleeper
	Progress sweep.ProgressFunc

	StepPause   time.Duration
	SettlePause time.Duration
	Workers     int
	BatchSize   int
	Now         func() time.Time
}

type Client struct {
	store   storage.Store
	station *station.Station
	engine  *sweep.Engine
	records recorder.Factory
	runner  *platform.Runner
	logger  *zap.Logger

	exportsDir string
}

// Range describes setpoints either explicitly through Values or as an
// evenly spaced sequence from Start to Stop with a Step or a number of
// Points.
type Range struct {
	Start  float64
	Stop   float64
	Step   float64
	Points int
	Values []float64
}

type Sweep1DRequest struct {
	Name       string
	Axis       string
	Range      Range
	Delay      time.Duration
	Measure    []string
	Additional []string
	UseThreads bool
	// Enter and Exit run on the instruments before the first and after the
	// last point.
	Enter []sweep.Action
	Exit  []sweep.Action
}

type Sweep2DRequest struct {
	Name           string
	X              string
	XRange         Range
	InnerDelay     time.Duration
	Y              string
	YRange         Range
	OuterDelay     time.Duration
	Measure        []string
	Additional     []string
	UseThreads     bool
	MeasureRetrace bool
	ReturnPoints   int
	OuterEnter     []sweep.Action
	OuterExit      []sweep.Action
	InnerEnter     []sweep.Action
	InnerExit      []sweep.Action
}

type RepeatRequest struct {
	Name           string
	Axis           string
	Range          Range
	InnerDelay     time.Duration
	OuterDelay     time.Duration
	Repeats        int
	Measure        []string
	Additional     []string
	UseThreads     bool
	MeasureRetrace bool
	ReturnPoints   int
	OuterEnter     []sweep.Action
	OuterExit      []sweep.Action
	InnerEnter     []sweep.Action
	InnerExit      []sweep.Action
}

type TimedRequest struct {
	Name       string
	Delay      time.Duration
	Timeout    time.Duration
	Measure    []string
	Additional []string
	UseThreads bool
	Enter      []sweep.Action
	Exit       []sweep.Action
}

type RampRequest struct {
	Axis      string
	Target    float64
	Step      float64
	Pause     time.Duration
	Threshold string
	Limit     float64
}

type SweepSummary struct {
	RunID   string
	Outcome model.Outcome
	Main    model.DatasetHandle
	Retrace model.DatasetHandle
	Elapsed time.Duration
}

type DatasetsRequest struct {
	Limit int
}

type ExportRequest struct {
	ID     string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	ID        string
	Name      string
	Rows      int
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	st := opts.Station
	if st == nil {
		simOpts := opts.Sim
		if simOpts == (sim.Options{}) {
			simOpts = sim.DefaultOptions()
		}
		st, _, err = sim.NewStation(simOpts)
		if err != nil {
			_ = storage.CloseIfSupported(store)
			return nil, err
		}
	}

	return &Client{
		store:   store,
		station: st,
		engine: sweep.NewEngine(sweep.Config{
			Logger:      logger,
			Scope:       opts.Scope,
			Sleeper:     opts.Sleeper,
			Progress:    opts.Progress,
			StepPause:   opts.StepPause,
			SettlePause: opts.SettlePause,
			Workers:     opts.Workers,
		}),
		records: recorder.Factory{
			Store:      store,
			Experiment: opts.Experiment,
			BatchSize:  opts.BatchSize,
			Logger:     logger,
			Now:        opts.Now,
		},
		runner:     platform.NewRunner(platform.RunnerOptions{Logger: logger, Now: opts.Now}),
		logger:     logger,
		exportsDir: exportsDir,
	}, nil
}

// Close stops running sweeps and releases the store.
func (c *Client) Close() error {
	c.runner.StopAll()
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Reset(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

func (c *Client) Station() *station.Station {
	return c.station
}

// Runs lists the latest run of every sweep started through the client.
func (c *Client) Runs() []platform.RunStatus {
	return c.runner.Runs()
}

// Stop cancels a running sweep by run name and waits for it to finish.
func (c *Client) Stop(name string) {
	c.runner.Stop(name)
}

func (c *Client) Sweep1D(ctx context.Context, req Sweep1DRequest) (SweepSummary, error) {
	if err := c.Init(ctx); err != nil {
		return SweepSummary{}, err
	}
	s, err := c.sweep1D(req)
	if err != nil {
		return SweepSummary{}, err
	}
	rec, err := c.records.Open(req.Name)
	if err != nil {
		return SweepSummary{}, err
	}
	return c.execute(ctx, "sweep1d:"+req.Axis, func(ctx context.Context) (model.DatasetHandle, model.DatasetHandle, error) {
		main, err := c.engine.Run1D(ctx, s, rec)
		return main, model.DatasetHandle{}, err
	})
}

func (c *Client) Sweep2D(ctx context.Context, req Sweep2DRequest) (SweepSummary, error) {
	if err := c.Init(ctx); err != nil {
		return SweepSummary{}, err
	}
	s, err := c.sweep2D(req)
	if err != nil {
		return SweepSummary{}, err
	}
	main, retrace, err := c.openGrid(req.Name, req.MeasureRetrace)
	if err != nil {
		return SweepSummary{}, err
	}
	return c.execute(ctx, "sweep2d:"+req.X+":"+req.Y, func(ctx context.Context) (model.DatasetHandle, model.DatasetHandle, error) {
		return c.engine.Run2D(ctx, s, main, retrace)
	})
}

func (c *Client) Repeat(ctx context.Context, req RepeatRequest) (SweepSummary, error) {
	if err := c.Init(ctx); err != nil {
		return SweepSummary{}, err
	}
	s, err := c.repeat(req)
	if err != nil {
		return SweepSummary{}, err
	}
	main, retrace, err := c.openGrid(req.Name, req.MeasureRetrace)
	if err != nil {
		return SweepSummary{}, err
	}
	return c.execute(ctx, "repeat:"+req.Axis, func(ctx context.Context) (model.DatasetHandle, model.DatasetHandle, error) {
		return c.engine.Run1DRepeat(ctx, s, main, retrace)
	})
}

func (c *Client) Timed(ctx context.Context, req TimedRequest) (SweepSummary, error) {
	if err := c.Init(ctx); err != nil {
		return SweepSummary{}, err
	}
	measure, err := c.params(req.Measure)
	if err != nil {
		return SweepSummary{}, err
	}
	additional, err := c.params(req.Additional)
	if err != nil {
		return SweepSummary{}, err
	}
	rec, err := c.records.Open(req.Name)
	if err != nil {
		return SweepSummary{}, err
	}
	s := sweep.TimeSweep{
		Delay:      req.Delay,
		Timeout:    req.Timeout,
		Measure:    measure,
		Additional: additional,
		UseThreads: req.UseThreads,
		Enter:      req.Enter,
		Exit:       req.Exit,
	}
	return c.execute(ctx, "timed", func(ctx context.Context) (model.DatasetHandle, model.DatasetHandle, error) {
		main, err := c.engine.RunTime(ctx, s, rec)
		return main, model.DatasetHandle{}, err
	})
}

// Ramp brings an axis to a target without recording, stopping early when
// the threshold parameter reads above the limit. It returns the value
// reached.
func (c *Client) Ramp(ctx context.Context, req RampRequest) (float64, error) {
	axis, err := c.station.Axis(req.Axis)
	if err != nil {
		return 0, err
	}
	opts := sweep.FastOptions{Step: req.Step, Pause: req.Pause, Limit: req.Limit}
	if req.Threshold != "" {
		opts.Threshold, err = c.station.Parameter(req.Threshold)
		if err != nil {
			return 0, err
		}
	}
	return c.engine.FastSweep(ctx, axis, req.Target, opts)
}

// Estimate1D predicts the duration of a 1D sweep from the axis' current
// value and rate.
func (c *Client) Estimate1D(ctx context.Context, req Sweep1DRequest) (time.Duration, error) {
	s, err := c.sweep1D(req)
	if err != nil {
		return 0, err
	}
	from, err := s.Axis.Get(ctx)
	if err != nil {
		return 0, err
	}
	return c.engine.Estimator().Sweep1D(from, s.Setpoints, param.Rate(s.Axis), s.Delay), nil
}

func (c *Client) Estimate2D(ctx context.Context, req Sweep2DRequest) (time.Duration, error) {
	s, err := c.sweep2D(req)
	if err != nil {
		return 0, err
	}
	xFrom, err := s.X.Get(ctx)
	if err != nil {
		return 0, err
	}
	yFrom, err := s.Y.Get(ctx)
	if err != nil {
		return 0, err
	}
	return c.engine.Estimator().Sweep2D(sweep.GridEstimate{
		XFrom:          xFrom,
		XSetpoints:     s.XSetpoints,
		XRate:          param.Rate(s.X),
		InnerDelay:     s.InnerDelay,
		YFrom:          yFrom,
		YSetpoints:     s.YSetpoints,
		YRate:          param.Rate(s.Y),
		OuterDelay:     s.OuterDelay,
		MeasureRetrace: s.MeasureRetrace,
		ReturnPoints:   s.ReturnPoints,
	}), nil
}

func (c *Client) EstimateRepeat(ctx context.Context, req RepeatRequest) (time.Duration, error) {
	s, err := c.repeat(req)
	if err != nil {
		return 0, err
	}
	from, err := s.Axis.Get(ctx)
	if err != nil {
		return 0, err
	}
	return c.engine.Estimator().Repeat(from, s.Setpoints, param.Rate(s.Axis), s.InnerDelay, s.OuterDelay, s.Repeats, s.MeasureRetrace, s.ReturnPoints), nil
}

// Datasets lists stored datasets newest first.
func (c *Client) Datasets(ctx context.Context, req DatasetsRequest) ([]model.DatasetInfo, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	infos, err := c.store.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DatasetInfo, 0, len(infos))
	for i := len(infos) - 1; i >= 0; i-- {
		out = append(out, infos[i])
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) Records(ctx context.Context, id string) (model.DatasetInfo, []model.Record, error) {
	if err := c.Init(ctx); err != nil {
		return model.DatasetInfo{}, nil, err
	}
	info, ok, err := c.store.GetDataset(ctx, id)
	if err != nil {
		return model.DatasetInfo{}, nil, err
	}
	if !ok {
		return model.DatasetInfo{}, nil, fmt.Errorf("%w: %s", storage.ErrDatasetNotFound, id)
	}
	records, _, err := c.store.GetRecords(ctx, id)
	if err != nil {
		return model.DatasetInfo{}, nil, err
	}
	return info, records, nil
}

// Export writes a dataset as CSV plus metadata under the exports directory
// and records it in the export index.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	id := req.ID
	if req.Latest {
		latest, err := c.Datasets(ctx, DatasetsRequest{Limit: 1})
		if err != nil {
			return ExportSummary{}, err
		}
		if len(latest) == 0 {
			return ExportSummary{}, errors.New("no datasets available")
		}
		id = latest[0].ID
	}
	if id == "" {
		return ExportSummary{}, errors.New("dataset id is required")
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}

	info, records, err := c.Records(ctx, id)
	if err != nil {
		return ExportSummary{}, err
	}
	dir, err := stats.WriteDatasetExport(outDir, info, records)
	if err != nil {
		return ExportSummary{}, err
	}
	if err := stats.AppendDatasetIndex(outDir, stats.IndexEntry(info, dir)); err != nil {
		return ExportSummary{}, err
	}
	c.logger.Info("dataset exported", zap.String("dataset_id", id), zap.String("dir", dir), zap.Int("rows", len(records)))
	return ExportSummary{ID: id, Name: info.Name, Rows: len(records), Directory: dir}, nil
}

type gridFunc func(ctx context.Context) (main, retrace model.DatasetHandle, err error)

// execute runs fn on the client's runner under name. The sweep stops when
// either ctx is cancelled or the run is stopped, and then finalizes its
// datasets as cancelled.
func (c *Client) execute(ctx context.Context, name string, fn gridFunc) (SweepSummary, error) {
	var (
		main, retrace model.DatasetHandle
		runErr        error
	)
	started := time.Now()
	id, err := c.runner.Start(name, func(runCtx context.Context) (platform.RunResult, error) {
		sweepCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()

		main, retrace, runErr = fn(sweepCtx)
		result := platform.RunResult{Outcome: main.Outcome}
		for _, h := range []model.DatasetHandle{main, retrace} {
			if !h.Empty() {
				result.Datasets = append(result.Datasets, h)
			}
		}
		return result, runErr
	})
	if err != nil {
		return SweepSummary{}, err
	}

	status, err := c.runner.Wait(context.WithoutCancel(ctx), name)
	if err != nil {
		return SweepSummary{}, err
	}
	return SweepSummary{
		RunID:   id,
		Outcome: status.Status,
		Main:    main,
		Retrace: retrace,
		Elapsed: time.Since(started),
	}, runErr
}

// openGrid returns a nil retrace recorder unless retrace lines are measured.
func (c *Client) openGrid(name string, measureRetrace bool) (sweep.Recorder, sweep.Recorder, error) {
	if measureRetrace {
		main, retrace, err := c.records.OpenPair(name)
		if err != nil {
			return nil, nil, err
		}
		return main, retrace, nil
	}
	main, err := c.records.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return main, nil, nil
}

func (c *Client) sweep1D(req Sweep1DRequest) (sweep.Sweep1D, error) {
	axis, err := c.station.Axis(req.Axis)
	if err != nil {
		return sweep.Sweep1D{}, err
	}
	xs, err := req.Range.setpoints(c.logger)
	if err != nil {
		return sweep.Sweep1D{}, fmt.Errorf("%s setpoints: %w", req.Axis, err)
	}
	measure, err := c.params(req.Measure)
	if err != nil {
		return sweep.Sweep1D{}, err
	}
	additional, err := c.params(req.Additional)
	if err != nil {
		return sweep.Sweep1D{}, err
	}
	return sweep.Sweep1D{
		Axis:       axis,
		Setpoints:  xs,
		Delay:      req.Delay,
		Measure:    measure,
		Additional: additional,
		UseThreads: req.UseThreads,
		Enter:      req.Enter,
		Exit:       req.Exit,
	}, nil
}

func (c *Client) sweep2D(req Sweep2DRequest) (sweep.Sweep2D, error) {
	x, err := c.station.Axis(req.X)
	if err != nil {
		return sweep.Sweep2D{}, err
	}
	y, err := c.station.Axis(req.Y)
	if err != nil {
		return sweep.Sweep2D{}, err
	}
	xs, err := req.XRange.setpoints(c.logger)
	if err != nil {
		return sweep.Sweep2D{}, fmt.Errorf("%s setpoints: %w", req.X, err)
	}
	ys, err := req.YRange.setpoints(c.logger)
	if err != nil {
		return sweep.Sweep2D{}, fmt.Errorf("%s setpoints: %w", req.Y, err)
	}
	measure, err := c.params(req.Measure)
	if err != nil {
		return sweep.Sweep2D{}, err
	}
	additional, err := c.params(req.Additional)
	if err != nil {
		return sweep.Sweep2D{}, err
	}
	return sweep.Sweep2D{
		X:              x,
		XSetpoints:     xs,
		InnerDelay:     req.InnerDelay,
		Y:              y,
		YSetpoints:     ys,
		OuterDelay:     req.OuterDelay,
		Measure:        measure,
		Additional:     additional,
		UseThreads:     req.UseThreads,
		MeasureRetrace: req.MeasureRetrace,
		ReturnPoints:   req.ReturnPoints,
		OuterEnter:     req.OuterEnter,
		OuterExit:      req.OuterExit,
		InnerEnter:     req.InnerEnter,
		InnerExit:      req.InnerExit,
	}, nil
}

func (c *Client) repeat(req RepeatRequest) (sweep.Repeat1D, error) {
	s, err := c.sweep1D(Sweep1DRequest{
		Axis:       req.Axis,
		Range:      req.Range,
		Measure:    req.Measure,
		Additional: req.Additional,
	})
	if err != nil {
		return sweep.Repeat1D{}, err
	}
	return sweep.Repeat1D{
		Axis:           s.Axis,
		Setpoints:      s.Setpoints,
		InnerDelay:     req.InnerDelay,
		OuterDelay:     req.OuterDelay,
		Repeats:        req.Repeats,
		Measure:        s.Measure,
		Additional:     s.Additional,
		UseThreads:     req.UseThreads,
		MeasureRetrace: req.MeasureRetrace,
		ReturnPoints:   req.ReturnPoints,
		OuterEnter:     req.OuterEnter,
		OuterExit:      req.OuterExit,
		InnerEnter:     req.InnerEnter,
		InnerExit:      req.InnerExit,
	}, nil
}

func (c *Client) params(names []string) ([]param.Parameter, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return c.station.Parameters(names...)
}

func (r Range) setpoints(logger *zap.Logger) ([]float64, error) {
	if len(r.Values) > 0 {
		return append([]float64(nil), r.Values...), nil
	}
	opts := []sweep.GenerateOption{sweep.WithLog(logger)}
	if r.Step != 0 {
		opts = append(opts, sweep.WithStep(r.Step))
	}
	if r.Points != 0 {
		opts = append(opts, sweep.WithCount(r.Points))
	}
	return sweep.Generate(r.Start, r.Stop, opts...)
}
