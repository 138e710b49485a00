package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mesosweep/internal/model"
	"mesosweep/internal/sim"
	"mesosweep/internal/storage"
	"mesosweep/internal/sweep"
	api "mesosweep/pkg/mesosweep"
)

const (
	exportsDir    = "exports"
	defaultDBPath = "mesosweep.db"
	defaultPoints = 11
)

var (
	stdout io.Writer = os.Stdout
	stderr           = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "params":
		return runParams(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "estimate":
		return runEstimate(ctx, args[1:])
	case "sweep1d", "sweep2d", "repeat", "timed":
		return runSweep(ctx, args[0], args[1:])
	case "ramp":
		return runRamp(ctx, args[1:])
	case "datasets":
		return runDatasets(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are shared by every command that talks to the store or the
// instruments.
type commonFlags struct {
	storeKind   *string
	dbPath      *string
	experiment  *string
	logLevel    *string
	logJSON     *bool
	gateRate    *float64
	fieldRate   *float64
	noise       *float64
	latency     *time.Duration
	seed        *uint64
	stepPause   *time.Duration
	settlePause *time.Duration
	workers     *int
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	def := sim.DefaultOptions()
	return &commonFlags{
		storeKind:   fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:      fs.String("db-path", defaultDBPath, "sqlite database path"),
		experiment:  fs.String("experiment", "", "experiment label stored with every dataset"),
		logLevel:    fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logJSON:     fs.Bool("log-json", false, "emit JSON logs"),
		gateRate:    fs.Float64("gate-rate", def.GateRate, "simulated gate ramp rate (V/s)"),
		fieldRate:   fs.Float64("field-rate", def.FieldRate, "simulated magnet ramp rate (T/s)"),
		noise:       fs.Float64("noise", 0, "relative lock-in noise amplitude"),
		latency:     fs.Duration("latency", 0, "simulated read latency"),
		seed:        fs.Uint64("seed", 1, "noise seed"),
		stepPause:   fs.Duration("step-pause", sweep.DefaultStepPause, "pause between rate-limited sub-steps"),
		settlePause: fs.Duration("settle-pause", sweep.DefaultSettlePause, "pause before and after every move"),
		workers:     fs.Int("workers", 0, "concurrent reads when sampling in parallel (0 = one per parameter)"),
	}
}

func (c *commonFlags) options(outDir string, progress sweep.ProgressFunc) (api.Options, *zap.Logger, error) {
	logger, err := buildLogger(*c.logLevel, *c.logJSON)
	if err != nil {
		return api.Options{}, nil, err
	}
	simOpts := sim.DefaultOptions()
	simOpts.GateRate = *c.gateRate
	simOpts.FieldRate = *c.fieldRate
	simOpts.Noise = *c.noise
	simOpts.Latency = *c.latency
	simOpts.Seed = *c.seed
	return api.Options{
		StoreKind:   *c.storeKind,
		DBPath:      *c.dbPath,
		ExportsDir:  outDir,
		Experiment:  *c.experiment,
		Sim:         simOpts,
		Logger:      logger,
		Progress:    progress,
		StepPause:   *c.stepPause,
		SettlePause: *c.settlePause,
		Workers:     *c.workers,
	}, logger, nil
}

func (c *commonFlags) client(outDir string, progress sweep.ProgressFunc) (*api.Client, func(), error) {
	opts, logger, err := c.options(outDir, progress)
	if err != nil {
		return nil, nil, err
	}
	client, err := api.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		_ = logger.Sync()
	}, nil
}

func buildLogger(level string, jsonOutput bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, done, err := common.client(exportsDir, nil)
	if err != nil {
		return err
	}
	defer done()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "initialized store=%s\n", *common.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, done, err := common.client(exportsDir, nil)
	if err != nil {
		return err
	}
	defer done()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "reset store=%s\n", *common.storeKind)
	return nil
}

func runParams(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, done, err := common.client(exportsDir, nil)
	if err != nil {
		return err
	}
	defer done()

	st := client.Station()
	axes := make(map[string]bool)
	for _, name := range st.Axes() {
		axes[name] = true
	}
	for _, name := range st.Names() {
		p, err := st.Parameter(name)
		if err != nil {
			return err
		}
		kind := "read"
		if axes[name] {
			kind = "axis"
		}
		fmt.Fprintf(stdout, "%s kind=%s unit=%s\n", name, kind, p.Unit())
	}
	return nil
}

func runGenerate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	start := fs.Float64("start", 0, "first setpoint")
	stop := fs.Float64("stop", 1, "last setpoint")
	step := fs.Float64("step", 0, "step size (exclusive with -points)")
	points := fs.Int("points", 0, "number of points (exclusive with -step)")
	tol := fs.Float64("tol", sweep.DefaultTolerance, "tolerance for an evenly dividing step")
	logLevel := fs.String("log-level", "warn", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := buildLogger(*logLevel, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	opts := []sweep.GenerateOption{sweep.WithTolerance(*tol), sweep.WithLog(logger)}
	if *step != 0 {
		opts = append(opts, sweep.WithStep(*step))
	}
	if *points != 0 {
		opts = append(opts, sweep.WithCount(*points))
	}
	xs, err := sweep.Generate(*start, *stop, opts...)
	if err != nil {
		return err
	}
	for _, x := range xs {
		fmt.Fprintln(stdout, strconv.FormatFloat(x, 'g', -1, 64))
	}
	return nil
}

// registerSweepFlags defines the flags of one sweep kind. "all" defines the
// union, used by estimate.
func registerSweepFlags(fs *flag.FlagSet, kind string) {
	has := func(kinds ...string) bool {
		if kind == "all" {
			return true
		}
		for _, k := range kinds {
			if k == kind {
				return true
			}
		}
		return false
	}

	fs.String("name", "", "dataset name; strftime directives are expanded (default: start time)")
	fs.String("measure", sim.LockinXName, "comma separated parameters to measure")
	fs.String("additional", "", "comma separated parameters read once and stored as extra setpoints")
	fs.Bool("threads", false, "sample measured parameters concurrently")
	if has("sweep1d", "repeat") {
		fs.String("axis", sim.TopGateName, "swept parameter")
		fs.Float64("start", 0, "first setpoint")
		fs.Float64("stop", 1, "last setpoint")
		fs.Float64("step", 0, "step size (exclusive with -points)")
		fs.Int("points", 0, fmt.Sprintf("number of points (default %d when -step is unset)", defaultPoints))
		fs.String("values-file", "", "CSV file whose column supplies the setpoints")
		fs.String("values-column", "", "column of -values-file (default: first column)")
	}
	if has("sweep2d") {
		for _, axis := range []struct{ prefix, def string }{{"x", sim.TopGateName}, {"y", sim.BackGateName}} {
			fs.String(axis.prefix, axis.def, "swept parameter of the "+axis.prefix+" axis")
			fs.Float64(axis.prefix+"-start", 0, "first "+axis.prefix+" setpoint")
			fs.Float64(axis.prefix+"-stop", 1, "last "+axis.prefix+" setpoint")
			fs.Float64(axis.prefix+"-step", 0, axis.prefix+" step size")
			fs.Int(axis.prefix+"-points", 0, axis.prefix+" number of points")
		}
	}
	if has("sweep1d") {
		fs.Duration("delay", 0, "wait after every move before sampling")
	}
	if has("timed") {
		if fs.Lookup("delay") == nil {
			fs.Duration("delay", time.Second, "interval between samples")
		}
		fs.Duration("timeout", 10*time.Second, "total duration of the timed sweep")
	}
	if has("sweep2d", "repeat") {
		fs.Duration("inner-delay", 0, "wait after every inner move before sampling")
		fs.Duration("outer-delay", 0, "wait after moving to the start of every line")
		fs.Bool("retrace", false, "measure the reverse lines into a second dataset")
		fs.Int("return-points", 0, fmt.Sprintf("points of the unmeasured return (default %d)", sweep.DefaultReturnPoints))
	}
	if has("repeat") {
		fs.Int("repeats", 2, "number of passes")
	}
}

// sweepFromFlags builds the sweep settings: the JSON config first, then the
// flags. Without a config every flag applies, defaults included.
func sweepFromFlags(fs *flag.FlagSet, configPath string) (sweepConfig, error) {
	cfg, err := loadOrDefaultSweepConfig(configPath)
	if err != nil {
		return sweepConfig{}, err
	}
	set := make(map[string]bool)
	values := make(map[string]any)
	fs.VisitAll(func(f *flag.Flag) {
		if getter, ok := f.Value.(flag.Getter); ok {
			values[f.Name] = getter.Get()
		}
		if configPath == "" {
			set[f.Name] = true
		}
	})
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	overrideFromFlags(&cfg, set, values)
	if err := cfg.loadValues(); err != nil {
		return sweepConfig{}, err
	}

	for _, r := range []*api.Range{&cfg.Range, &cfg.XRange, &cfg.YRange} {
		if r.Step == 0 && r.Points == 0 && len(r.Values) == 0 {
			r.Points = defaultPoints
		}
	}
	return cfg, nil
}

func runEstimate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("estimate", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	configPath := fs.String("config", "", "optional sweep config JSON path")
	kind := fs.String("kind", "sweep1d", "sweep kind: sweep1d|sweep2d|repeat|timed")
	registerSweepFlags(fs, "all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := sweepFromFlags(fs, *configPath)
	if err != nil {
		return err
	}

	client, done, err := common.client(exportsDir, nil)
	if err != nil {
		return err
	}
	defer done()

	var d time.Duration
	switch *kind {
	case "sweep1d":
		d, err = client.Estimate1D(ctx, cfg.sweep1D())
	case "sweep2d":
		d, err = client.Estimate2D(ctx, cfg.sweep2D())
	case "repeat":
		d, err = client.EstimateRepeat(ctx, cfg.repeat())
	case "timed":
		d = cfg.Timeout
	default:
		err = fmt.Errorf("unsupported sweep kind: %s", *kind)
	}
	if err != nil {
		return err
	}

	finish := time.Now().Add(d)
	fmt.Fprintf(stdout, "kind=%s estimate=%s finish=%s (%s)\n", *kind, d.Round(time.Millisecond), finish.Format(time.Kitchen), humanize.Time(finish))
	return nil
}

func runSweep(ctx context.Context, kind string, args []string) error {
	fs := flag.NewFlagSet(kind, flag.ContinueOnError)
	common := registerCommonFlags(fs)
	configPath := fs.String("config", "", "optional sweep config JSON path")
	export := fs.Bool("export", false, "export the finished datasets as CSV")
	outDir := fs.String("out", exportsDir, "export output directory")
	quiet := fs.Bool("quiet", false, "do not print progress")
	registerSweepFlags(fs, kind)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := sweepFromFlags(fs, *configPath)
	if err != nil {
		return err
	}

	var progress *progressPrinter
	var progressFn sweep.ProgressFunc
	if !*quiet {
		progress = newProgressPrinter(stderr)
		progressFn = progress.Update
	}
	client, done, err := common.client(*outDir, progressFn)
	if err != nil {
		return err
	}
	defer done()

	var summary api.SweepSummary
	switch kind {
	case "sweep1d":
		summary, err = client.Sweep1D(ctx, cfg.sweep1D())
	case "sweep2d":
		summary, err = client.Sweep2D(ctx, cfg.sweep2D())
	case "repeat":
		summary, err = client.Repeat(ctx, cfg.repeat())
	case "timed":
		summary, err = client.Timed(ctx, cfg.timed())
	}
	if progress != nil {
		progress.Done()
	}
	printSummary(kind, summary)
	if err != nil {
		return err
	}

	if *export {
		for _, h := range []model.DatasetHandle{summary.Main, summary.Retrace} {
			if h.Empty() {
				continue
			}
			exported, err := client.Export(ctx, api.ExportRequest{ID: h.ID})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "exported id=%s to=%s\n", exported.ID, filepath.Clean(exported.Directory))
		}
	}
	return nil
}

func printSummary(kind string, summary api.SweepSummary) {
	if summary.RunID == "" {
		return
	}
	fmt.Fprintf(stdout, "%s run_id=%s outcome=%s elapsed=%s\n", kind, summary.RunID, summary.Outcome, summary.Elapsed.Round(time.Millisecond))
	for _, h := range []model.DatasetHandle{summary.Main, summary.Retrace} {
		if h.Empty() {
			continue
		}
		fmt.Fprintf(stdout, "dataset id=%s name=%s rows=%s outcome=%s\n", h.ID, h.Name, humanize.Comma(int64(h.Rows)), h.Outcome)
	}
}

func runRamp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ramp", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	axis := fs.String("axis", sim.TopGateName, "parameter to ramp")
	target := fs.Float64("target", 0, "value to ramp to")
	step := fs.Float64("step", 0, "step between targets (default 0.1)")
	pause := fs.Duration("pause", 0, "pause after every target (default 100ms)")
	threshold := fs.String("threshold", "", "parameter checked after every target")
	limit := fs.Float64("limit", 0, "stop once the threshold parameter reads above this value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, done, err := common.client(exportsDir, nil)
	if err != nil {
		return err
	}
	defer done()

	reached, err := client.Ramp(ctx, api.RampRequest{
		Axis:      *axis,
		Target:    *target,
		Step:      *step,
		Pause:     *pause,
		Threshold: *threshold,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ramp axis=%s target=%g reached=%g\n", *axis, *target, reached)
	return nil
}

func runDatasets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	limit := fs.Int("limit", 20, "max datasets to list (0 lists all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, done, err := common.client(exportsDir, nil)
	if err != nil {
		return err
	}
	defer done()

	infos, err := client.Datasets(ctx, api.DatasetsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	for _, info := range infos {
		created := info.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, info.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Fprintf(stdout, "id=%s name=%s outcome=%s rows=%s created=%q\n", info.ID, info.Name, info.Outcome, humanize.Comma(int64(info.Rows)), created)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	id := fs.String("id", "", "dataset id")
	latest := fs.Bool("latest", false, "export the most recent dataset")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id != "" && *latest {
		return errors.New("use either --id or --latest, not both")
	}
	if *id == "" && !*latest {
		return errors.New("export requires --id or --latest")
	}

	client, done, err := common.client(*outDir, nil)
	if err != nil {
		return err
	}
	defer done()

	exported, err := client.Export(ctx, api.ExportRequest{ID: *id, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported id=%s rows=%s to=%s\n", exported.ID, humanize.Comma(int64(exported.Rows)), filepath.Clean(exported.Directory))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: mesosweepctl <init|reset|params|generate|estimate|sweep1d|sweep2d|repeat|timed|ramp|datasets|export> [flags]", msg)
}
