package sweep

import (
	"errors"
	"fmt"
	"math"

	"mesosweep/internal/model"
	"mesosweep/internal/param"
)

var ErrShapeUnknown = errors.New("sweep: shape unknown")

// IsMonotonic reports whether xs is strictly increasing or strictly
// decreasing. Sequences with fewer than two points are monotonic.
func IsMonotonic(xs []float64) bool {
	if len(xs) < 2 {
		return true
	}
	increasing, decreasing := true, true
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if !(d > 0) {
			increasing = false
		}
		if !(d < 0) {
			decreasing = false
		}
	}
	return increasing || decreasing
}

// EstimateShape computes the result-array shape of every measured parameter
// for the given loop dimensions. Every reading is a scalar, so each
// parameter gets the loop shape itself.
func EstimateShape(loop []int, measured []param.Parameter) (model.Shape, error) {
	total := 1
	for i, dim := range loop {
		if dim < 0 {
			return nil, fmt.Errorf("%w: dimension %d is negative (%d)", ErrShapeUnknown, i, dim)
		}
		if dim > 0 && total > math.MaxInt32/dim {
			return nil, fmt.Errorf("%w: %v overflows", ErrShapeUnknown, loop)
		}
		total *= dim
	}

	shape := make(model.Shape, len(measured))
	for _, p := range measured {
		if p == nil {
			return nil, fmt.Errorf("%w: nil measured parameter", ErrShapeUnknown)
		}
		if _, dup := shape[p.Name()]; dup {
			return nil, fmt.Errorf("%w: parameter %s measured twice", ErrShapeUnknown, p.Name())
		}
		dims := make([]int, len(loop))
		copy(dims, loop)
		shape[p.Name()] = dims
	}
	return shape, nil
}

// loopShape lists a unit dimension per additional setpoint followed by the
// loop dimensions, outer first.
func loopShape(additional int, dims ...int) []int {
	out := make([]int, additional, additional+len(dims))
	for i := range out {
		out[i] = 1
	}
	return append(out, dims...)
}
