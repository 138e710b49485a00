package param

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	ElementaryCharge   = 1.602176634e-19  // C
	VacuumPermittivity = 8.8541878128e-12 // F/m
)

var ErrInvalidCoupling = errors.New("param: invalid coupling")

// minRate combines two rate constraints, ignoring unconstrained ones.
func minRate(a, b float64) float64 {
	switch {
	case a <= 0:
		return math.Max(b, 0)
	case b <= 0:
		return a
	default:
		return math.Min(a, b)
	}
}

// Linear drives a dependent axis along with a primary one:
//
//	dependent = M*primary + P
//
// Reads return the primary value.
type Linear struct {
	name      string
	primary   Axis
	dependent Axis
	m, p      float64
	rate      float64
}

func NewLinear(name string, primary, dependent Axis, m, p float64) (*Linear, error) {
	if primary == nil || dependent == nil {
		return nil, fmt.Errorf("%w: linear %s needs two axes", ErrInvalidCoupling, name)
	}
	if m == 0 {
		return nil, fmt.Errorf("%w: linear %s slope must be non-zero", ErrInvalidCoupling, name)
	}
	rate := minRate(Rate(primary), Rate(dependent)/math.Abs(m))
	return &Linear{name: name, primary: primary, dependent: dependent, m: m, p: p, rate: rate}, nil
}

func (l *Linear) Name() string { return l.name }
func (l *Linear) Unit() string { return l.primary.Unit() }

func (l *Linear) Get(ctx context.Context) (float64, error) {
	return l.primary.Get(ctx)
}

func (l *Linear) Set(ctx context.Context, value float64) error {
	if err := l.primary.Set(ctx, value); err != nil {
		return err
	}
	return l.dependent.Set(ctx, l.m*value+l.p)
}

func (l *Linear) MaxRate() (float64, bool) { return l.rate, l.rate > 0 }

// DualGate couples a top and a back gate through their capacitances (F/m²)
// so that carrier density and displacement field can be swept directly.
type DualGate struct {
	Top, Back   Axis
	CTop, CBack float64
}

func (g DualGate) validate() error {
	if g.Top == nil || g.Back == nil {
		return fmt.Errorf("%w: dual gate needs top and back gates", ErrInvalidCoupling)
	}
	if g.CTop <= 0 || g.CBack <= 0 {
		return fmt.Errorf("%w: capacitances must be positive", ErrInvalidCoupling)
	}
	return nil
}

func (g DualGate) read(ctx context.Context) (vtg, vbg float64, err error) {
	if vtg, err = g.Top.Get(ctx); err != nil {
		return 0, 0, err
	}
	if vbg, err = g.Back.Get(ctx); err != nil {
		return 0, 0, err
	}
	return vtg, vbg, nil
}

// Density returns n = (Ctg*Vtg + Cbg*Vbg)/e in m⁻².
func (g DualGate) Density(ctx context.Context) (float64, error) {
	vtg, vbg, err := g.read(ctx)
	if err != nil {
		return 0, err
	}
	return (g.CTop*vtg + g.CBack*vbg) / ElementaryCharge, nil
}

// Displacement returns D = (Ctg*Vtg - Cbg*Vbg)/2ε0 in V/m.
func (g DualGate) Displacement(ctx context.Context) (float64, error) {
	vtg, vbg, err := g.read(ctx)
	if err != nil {
		return 0, err
	}
	return (g.CTop*vtg - g.CBack*vbg) / 2 / VacuumPermittivity, nil
}

func (g DualGate) apply(ctx context.Context, n, d float64) error {
	vtg := (ElementaryCharge*n + 2*VacuumPermittivity*d) / 2 / g.CTop
	vbg := (ElementaryCharge*n - 2*VacuumPermittivity*d) / 2 / g.CBack
	if err := g.Top.Set(ctx, vtg); err != nil {
		return err
	}
	return g.Back.Set(ctx, vbg)
}

// chargeRate is the slowest gate rate expressed as charge per area per second.
func (g DualGate) chargeRate() float64 {
	return minRate(Rate(g.Top)*g.CTop, Rate(g.Back)*g.CBack)
}

// Density sweeps carrier density at constant displacement. When locked the
// displacement captured at construction is held; otherwise the displacement
// currently on the gates is followed, drifts included.
type Density struct {
	name  string
	gates DualGate
	lock  bool
	held  float64
	rate  float64
}

func NewDensity(name string, gates DualGate, lock bool, displacement float64) (*Density, error) {
	if err := gates.validate(); err != nil {
		return nil, err
	}
	return &Density{
		name:  name,
		gates: gates,
		lock:  lock,
		held:  displacement,
		rate:  gates.chargeRate() / ElementaryCharge,
	}, nil
}

func (d *Density) Name() string { return d.name }
func (d *Density) Unit() string { return "m^-2" }

func (d *Density) Get(ctx context.Context) (float64, error) {
	return d.gates.Density(ctx)
}

func (d *Density) Set(ctx context.Context, value float64) error {
	displacement := d.held
	if !d.lock {
		var err error
		if displacement, err = d.gates.Displacement(ctx); err != nil {
			return err
		}
	}
	return d.gates.apply(ctx, value, displacement)
}

func (d *Density) MaxRate() (float64, bool) { return d.rate, d.rate > 0 }

// Displacement sweeps the displacement field at constant density.
type Displacement struct {
	name  string
	gates DualGate
	lock  bool
	held  float64
	rate  float64
}

func NewDisplacement(name string, gates DualGate, lock bool, density float64) (*Displacement, error) {
	if err := gates.validate(); err != nil {
		return nil, err
	}
	return &Displacement{
		name:  name,
		gates: gates,
		lock:  lock,
		held:  density,
		rate:  gates.chargeRate() / 2 / VacuumPermittivity,
	}, nil
}

func (d *Displacement) Name() string { return d.name }
func (d *Displacement) Unit() string { return "V/m" }

func (d *Displacement) Get(ctx context.Context) (float64, error) {
	return d.gates.Displacement(ctx)
}

func (d *Displacement) Set(ctx context.Context, value float64) error {
	density := d.held
	if !d.lock {
		var err error
		if density, err = d.gates.Density(ctx); err != nil {
			return err
		}
	}
	return d.gates.apply(ctx, density, value)
}

func (d *Displacement) MaxRate() (float64, bool) { return d.rate, d.rate > 0 }
