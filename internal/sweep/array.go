package sweep

import (
	"math"

	"go.uber.org/zap"
)

const (
	// DefaultTolerance absorbs floating point error when deciding whether a
	// step divides an interval evenly.
	DefaultTolerance = 1e-10

	maxPoints = 1 << 24
)

type generateConfig struct {
	step   float64
	count  int
	tol    float64
	logger *zap.Logger

	hasStep  bool
	hasCount bool
}

type GenerateOption func(*generateConfig)

func WithStep(step float64) GenerateOption {
	return func(c *generateConfig) {
		c.step = step
		c.hasStep = true
	}
}

func WithCount(count int) GenerateOption {
	return func(c *generateConfig) {
		c.count = count
		c.hasCount = true
	}
}

func WithTolerance(tol float64) GenerateOption {
	return func(c *generateConfig) { c.tol = tol }
}

// WithLog routes effective-step warnings to logger.
func WithLog(logger *zap.Logger) GenerateOption {
	return func(c *generateConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Generate returns an evenly spaced setpoint sequence from start to stop,
// both included. Exactly one of WithStep or WithCount must be given.
//
// With a step that does not divide the interval within the tolerance, the
// sequence uses floor(|stop-start|/step + tol) + 1 points and a warning
// reports the effective step. The result is never empty.
func Generate(start, stop float64, opts ...GenerateOption) ([]float64, error) {
	cfg := generateConfig{tol: DefaultTolerance, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if math.IsNaN(start) || math.IsNaN(stop) || math.IsInf(start, 0) || math.IsInf(stop, 0) {
		return nil, configError("start and stop must be finite, got %v and %v", start, stop)
	}
	switch {
	case cfg.hasStep && cfg.hasCount:
		return nil, configError("use of step and count at the same time")
	case !cfg.hasStep && !cfg.hasCount:
		return nil, configError("specify either a step size or a number of points")
	}
	if cfg.tol < 0 {
		return nil, configError("tolerance must be >= 0, got %v", cfg.tol)
	}

	span := math.Abs(stop - start)
	if cfg.hasCount {
		return generateCount(start, stop, span, cfg)
	}
	return generateStep(start, stop, span, cfg)
}

func generateCount(start, stop, span float64, cfg generateConfig) ([]float64, error) {
	n := cfg.count
	if n < 1 {
		return nil, configError("count must be >= 1, got %d", n)
	}
	if n > maxPoints {
		return nil, configError("count %d exceeds %d points", n, maxPoints)
	}
	if n > 1 && span/float64(n) < cfg.tol {
		reduced := int(math.Floor(span/cfg.tol+cfg.tol)) + 1
		if reduced < n {
			cfg.logger.Warn("could not generate an array with so many points",
				zap.Int("requested", n),
				zap.Int("effective_count", reduced),
				zap.Float64("effective_step", effectiveStep(span, reduced)),
			)
			n = reduced
		}
	}
	return linspace(start, stop, n), nil
}

func generateStep(start, stop, span float64, cfg generateConfig) ([]float64, error) {
	step := cfg.step
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, configError("step must be positive and finite, got %v", step)
	}

	steps := span / step
	lo := int(math.Floor(steps + cfg.tol))
	hi := int(math.Ceil(steps - cfg.tol))
	if lo+1 > maxPoints {
		return nil, configError("step %v over [%v, %v] exceeds %d points", step, start, stop, maxPoints)
	}

	n := lo + 1
	if lo == 0 && span > 0 {
		// keep stop in the sequence when the step overshoots the interval
		n = 2
	}
	if lo != hi {
		cfg.logger.Warn("step does not divide the interval into an integer number of points",
			zap.Float64("start", start),
			zap.Float64("stop", stop),
			zap.Float64("step", step),
			zap.Float64("effective_step", effectiveStep(span, n)),
			zap.Int("points", n),
		)
	}
	return linspace(start, stop, n), nil
}

func effectiveStep(span float64, n int) float64 {
	if n < 2 {
		return 0
	}
	return span / float64(n-1)
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	last := float64(n - 1)
	for i := range out {
		out[i] = start + (stop-start)*float64(i)/last
	}
	out[0] = start
	out[n-1] = stop
	return out
}

// Reversed returns a reversed copy of xs.
func Reversed(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[len(xs)-1-i] = v
	}
	return out
}
