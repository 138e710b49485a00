package sweep

import (
	"context"
	"runtime"

	"github.com/uber-go/tally/v4"

	"mesosweep/internal/param"
)

// concurrentThreshold is the measurement-set size above which sampling fans
// out even without an explicit request.
const concurrentThreshold = 2

type Sample struct {
	Param param.Parameter
	Value float64
}

// Sampler reads one measurement round. Results always follow the order of
// the parameters passed in, whichever read finishes first.
type Sampler struct {
	UseThreads bool
	Workers    int
	Scope      tally.Scope
}

// Concurrent reports whether a round of n parameters is read on the worker
// pool.
func (s Sampler) Concurrent(n int) bool {
	return s.UseThreads || n > concurrentThreshold
}

func (s Sampler) Sample(ctx context.Context, params []param.Parameter) ([]Sample, error) {
	hw := context.WithoutCancel(ctx)
	scope := s.Scope
	if scope == nil {
		scope = tally.NoopScope
	}
	sw := scope.Timer("sample_latency").Start()
	defer sw.Stop()

	if len(params) == 0 {
		return nil, nil
	}
	if !s.Concurrent(len(params)) {
		return s.sequential(hw, params)
	}
	return s.concurrent(hw, params)
}

// Values is Sample without the parameter handles.
func (s Sampler) Values(ctx context.Context, params []param.Parameter) ([]float64, error) {
	samples, err := s.Sample(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(samples))
	for i, sm := range samples {
		out[i] = sm.Value
	}
	return out, nil
}

func (s Sampler) sequential(ctx context.Context, params []param.Parameter) ([]Sample, error) {
	out := make([]Sample, len(params))
	for i, p := range params {
		v, err := p.Get(ctx)
		if err != nil {
			return nil, hardwareError("get", p.Name(), err)
		}
		out[i] = Sample{Param: p, Value: v}
	}
	return out, nil
}

func (s Sampler) concurrent(ctx context.Context, params []param.Parameter) ([]Sample, error) {
	type job struct {
		idx int
		p   param.Parameter
	}
	type result struct {
		idx   int
		value float64
		err   error
	}

	workerCount := s.Workers
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	if workerCount > len(params) {
		workerCount = len(params)
	}

	jobs := make(chan job)
	results := make(chan result, len(params))
	for w := 0; w < workerCount; w++ {
		go func() {
			for j := range jobs {
				v, err := j.p.Get(ctx)
				if err != nil {
					results <- result{idx: j.idx, err: hardwareError("get", j.p.Name(), err)}
					continue
				}
				results <- result{idx: j.idx, value: v}
			}
		}()
	}

	for i, p := range params {
		jobs <- job{idx: i, p: p}
	}
	close(jobs)

	out := make([]Sample, len(params))
	var firstErr error
	firstIdx := len(params)
	for range params {
		res := <-results
		if res.err != nil {
			// report the failure of the earliest parameter for determinism
			if res.idx < firstIdx {
				firstIdx = res.idx
				firstErr = res.err
			}
			continue
		}
		out[res.idx] = Sample{Param: params[res.idx], Value: res.value}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
