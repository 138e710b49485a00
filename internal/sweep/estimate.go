package sweep

import (
	"math"
	"time"
)

// Estimator predicts how long sweeps take from the same pauses the engine
// applies. Sampling time is not known in advance and is not included.
type Estimator struct {
	StepPause   time.Duration
	SettlePause time.Duration
}

func (e *Engine) Estimator() Estimator {
	return Estimator{StepPause: e.cfg.StepPause, SettlePause: e.cfg.SettlePause}
}

// MoveTime is the time the rate limiter spends moving from one value to
// another on an axis limited to rate. An unconstrained axis moves instantly.
func (est Estimator) MoveTime(from, to, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	n := 1
	if from != to {
		n = waypointCount(math.Abs(to-from), rate)
	}
	return 2*est.SettlePause + time.Duration(n-1)*max(est.StepPause, DefaultStepPause)
}

// line is the time to walk xs starting from the axis value from, pausing
// delay after every point.
func (est Estimator) line(from float64, xs []float64, rate float64, delay time.Duration) time.Duration {
	var total time.Duration
	cur := from
	for _, x := range xs {
		total += est.MoveTime(cur, x, rate) + delay
		cur = x
	}
	return total
}

// Sweep1D estimates Run1D over xs for an axis currently at from.
func (est Estimator) Sweep1D(from float64, xs []float64, rate float64, delay time.Duration) time.Duration {
	return est.line(from, xs, rate, delay)
}

// GridEstimate describes a 2D sweep for Estimator.Sweep2D. XFrom and YFrom
// are the current axis values.
type GridEstimate struct {
	XFrom          float64
	XSetpoints     []float64
	XRate          float64
	InnerDelay     time.Duration
	YFrom          float64
	YSetpoints     []float64
	YRate          float64
	OuterDelay     time.Duration
	MeasureRetrace bool
	ReturnPoints   int
}

func (est Estimator) Sweep2D(g GridEstimate) time.Duration {
	if len(g.XSetpoints) == 0 || len(g.YSetpoints) == 0 {
		return 0
	}
	returnPoints := g.ReturnPoints
	if returnPoints <= 0 {
		returnPoints = DefaultReturnPoints
	}
	xs := g.XSetpoints
	first, last := xs[0], xs[len(xs)-1]
	reversed := Reversed(xs)

	var total time.Duration
	x, y := g.XFrom, g.YFrom
	for c, yv := range g.YSetpoints {
		total += est.MoveTime(y, yv, g.YRate)
		y = yv
		switch {
		case c%2 == 0:
			total += est.MoveTime(x, first, g.XRate) + g.OuterDelay
			total += est.line(first, xs, g.XRate, g.InnerDelay)
			x = last
		case g.MeasureRetrace:
			total += est.MoveTime(x, last, g.XRate) + g.OuterDelay
			total += est.line(last, reversed, g.XRate, g.InnerDelay)
			x = first
		default:
			total += est.returnTime(last, first, g.XRate, len(xs), returnPoints)
			x = first
		}
	}
	return total
}

// Repeat estimates Run1DRepeat. The counter axis moves instantly.
func (est Estimator) Repeat(from float64, xs []float64, rate float64, inner, outer time.Duration, repeats int, measureRetrace bool, returnPoints int) time.Duration {
	if repeats < 1 {
		return 0
	}
	counts := make([]float64, repeats)
	for i := range counts {
		counts[i] = float64(i)
	}
	return est.Sweep2D(GridEstimate{
		XFrom:          from,
		XSetpoints:     xs,
		XRate:          rate,
		InnerDelay:     inner,
		YSetpoints:     counts,
		OuterDelay:     outer,
		MeasureRetrace: measureRetrace,
		ReturnPoints:   returnPoints,
	})
}

func (est Estimator) returnTime(from, to, rate float64, lineLen, points int) time.Duration {
	if lineLen == 1 {
		points = 1
	}
	path, err := Generate(from, to, WithCount(points), WithTolerance(0))
	if err != nil {
		return est.MoveTime(from, to, rate)
	}
	return est.line(from, path, rate, 0)
}
