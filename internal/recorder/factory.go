package recorder

import (
	"time"

	"go.uber.org/zap"

	"mesosweep/internal/storage"
)

// Factory opens recorders that share one store and its settings.
type Factory struct {
	Store      storage.Store
	Experiment string
	BatchSize  int
	Logger     *zap.Logger
	Now        func() time.Time
}

func (f Factory) Open(name string) (*Recorder, error) {
	return New(Options{
		Store:      f.Store,
		Name:       name,
		Experiment: f.Experiment,
		BatchSize:  f.BatchSize,
		Logger:     f.Logger,
		Now:        f.Now,
	})
}

// OpenPair opens the main and retrace recorders of a 2D sweep. The retrace
// dataset is named after the main one with a "_retrace" suffix.
func (f Factory) OpenPair(name string) (main, retrace *Recorder, err error) {
	main, err = f.Open(name)
	if err != nil {
		return nil, nil, err
	}
	retrace, err = f.Open(escape(main.Name()) + "_retrace")
	if err != nil {
		return nil, nil, err
	}
	return main, retrace, nil
}

// escape protects a formatted name from a second strftime pass.
func escape(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '%' {
			out = append(out, '%')
		}
		out = append(out, name[i])
	}
	return string(out)
}
