package sweep

import (
	"context"
	"math"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"mesosweep/internal/param"
)

const (
	// subStepsPerRate splits one rate unit into this many sub-steps, so a
	// rate-limited axis moves by at most MaxRate/100 per write.
	subStepsPerRate = 100

	DefaultStepPause   = 10 * time.Millisecond
	DefaultSettlePause = 10 * time.Millisecond
)

// Sleeper blocks for a settling pause. Pauses model physical settling and are
// never skipped, even when the sweep is being cancelled.
type Sleeper interface {
	Sleep(d time.Duration)
}

type SleeperFunc func(time.Duration)

func (f SleeperFunc) Sleep(d time.Duration) { f(d) }

var realSleeper = SleeperFunc(time.Sleep)

// Mover is the rate limiter: the only path through which the engine changes
// an axis value. A StepPause below DefaultStepPause, the zero value
// included, is raised to DefaultStepPause.
type Mover struct {
	StepPause   time.Duration
	SettlePause time.Duration
	Sleeper     Sleeper
	Logger      *zap.Logger
	Scope       tally.Scope
}

func (m *Mover) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if m.Sleeper == nil {
		realSleeper.Sleep(d)
		return
	}
	m.Sleeper.Sleep(d)
}

func (m *Mover) stepPause() time.Duration {
	return max(m.StepPause, DefaultStepPause)
}

func (m *Mover) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Mover) scope() tally.Scope {
	if m.Scope == nil {
		return tally.NoopScope
	}
	return m.Scope
}

// waypointCount returns how many points a rate-limited move over dist needs
// so that no sub-step exceeds rate/subStepsPerRate.
func waypointCount(dist, rate float64) int {
	step := rate / subStepsPerRate
	steps := math.Ceil(dist/step - DefaultTolerance)
	if steps > maxPoints {
		return maxPoints + 1
	}
	n := int(steps)
	if n < 1 {
		n = 1
	}
	return n + 1
}

// Waypoints returns the sub-step sequence from current to target for an axis
// limited to rate. A non-positive rate means a single direct jump.
func (m *Mover) Waypoints(current, target, rate float64) ([]float64, error) {
	if rate <= 0 || current == target {
		return []float64{target}, nil
	}
	n := waypointCount(math.Abs(target-current), rate)
	if n > maxPoints {
		return nil, configError("move from %v to %v at rate %v needs %d waypoints", current, target, rate, n)
	}
	return Generate(current, target, WithCount(n), WithTolerance(0))
}

// MoveTo walks axis to target. Hardware calls run on a context detached from
// ctx's cancellation so a move in progress is never abandoned half way. The
// first failed write aborts the move.
func (m *Mover) MoveTo(ctx context.Context, axis param.Axis, target float64) error {
	hw := context.WithoutCancel(ctx)
	rate := param.Rate(axis)
	if rate == 0 {
		m.logger().Debug("axis has no rate constraint, setting directly",
			zap.String("axis", axis.Name()),
			zap.Float64("target", target),
		)
		if err := axis.Set(hw, target); err != nil {
			return hardwareError("set", axis.Name(), err)
		}
		m.scope().Counter("moves").Inc(1)
		m.scope().Counter("waypoints").Inc(1)
		return nil
	}

	current, err := axis.Get(hw)
	if err != nil {
		return hardwareError("get", axis.Name(), err)
	}
	points, err := m.Waypoints(current, target, rate)
	if err != nil {
		return err
	}

	m.sleep(m.SettlePause)
	for i, p := range points {
		if i > 0 {
			m.sleep(m.stepPause())
		}
		if err := axis.Set(hw, p); err != nil {
			return hardwareError("set", axis.Name(), err)
		}
	}
	m.sleep(m.SettlePause)

	m.scope().Counter("moves").Inc(1)
	m.scope().Counter("waypoints").Inc(int64(len(points)))
	return nil
}
