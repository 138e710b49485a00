// Package sweep drives control axes through setpoint sequences and records
// what the measured parameters read at every point.
//
// The engine is a single coordinating flow. The only fan-out happens while
// sampling a measurement round, where independent reads may run on a small
// worker pool and are joined in measurement-set order before the next point.
//
// Every change of an axis goes through the rate limiter (Mover). An axis that
// declares a maximum rate is walked in sub-steps of rate/100 with a fixed
// pause between writes, so no write exceeds the declared rate:
//
//	eng := sweep.NewEngine(sweep.Config{Logger: logger})
//	xs, _ := sweep.Generate(0, 1, sweep.WithCount(101))
//	handle, err := eng.Run1D(ctx, sweep.Sweep1D{
//	    Axis:      gate,
//	    Setpoints: xs,
//	    Delay:     50 * time.Millisecond,
//	    Measure:   []param.Parameter{lockinX, lockinY},
//	}, rec)
//
// Cancelling ctx stops a sweep between points (or between outer lines of a
// 2D sweep). The recorder is finalized with the rows acquired so far and the
// call returns normally with Outcome == model.OutcomeCancelled. Hardware
// errors also finalize the recorder first, then surface as *HardwareError.
package sweep
