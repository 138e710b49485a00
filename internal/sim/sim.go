// Package sim provides simulated instruments for a dual-gated device: two
// gate sources, a bias source, a magnet, a lock-in amplifier, a leakage
// monitor and a thermometer. The lock-in reads a synthetic conductance
// that depends on where the gates and the field currently are.
package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"mesosweep/internal/param"
	"mesosweep/internal/station"
)

const (
	TopGateName      = "top_gate"
	BackGateName     = "back_gate"
	BiasName         = "bias"
	FieldName        = "field"
	LockinXName      = "lockin_x"
	LockinYName      = "lockin_y"
	LeakageName      = "leakage"
	TemperatureName  = "temperature"
	DensityName      = "density"
	DisplacementName = "displacement"
)

type Options struct {
	// GateRate and FieldRate are the declared maximum ramp rates (V/s, T/s).
	GateRate  float64
	FieldRate float64
	// CTop and CBack are the gate capacitances per area (F/m^2).
	CTop  float64
	CBack float64
	// Latency delays every simulated read.
	Latency time.Duration
	// Noise is the relative amplitude of Gaussian noise on lock-in reads.
	Noise float64
	Seed  uint64
	// LeakageOnset is the gate voltage magnitude above which the gate
	// starts to leak.
	LeakageOnset float64
}

func DefaultOptions() Options {
	return Options{
		GateRate:     1,
		FieldRate:    0.1,
		CTop:         1e-3,
		CBack:        3e-4,
		LeakageOnset: 8,
	}
}

// Device is the shared state all simulated instruments read from.
type Device struct {
	opts Options

	TopGate  *param.Manual
	BackGate *param.Manual
	Bias     *param.Manual
	Field    *param.Manual

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDevice(opts Options) *Device {
	def := DefaultOptions()
	if opts.CTop <= 0 {
		opts.CTop = def.CTop
	}
	if opts.CBack <= 0 {
		opts.CBack = def.CBack
	}
	if opts.LeakageOnset <= 0 {
		opts.LeakageOnset = def.LeakageOnset
	}
	d := &Device{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	d.TopGate = param.NewManual(TopGateName, "V", param.WithMaxRate(opts.GateRate))
	d.BackGate = param.NewManual(BackGateName, "V", param.WithMaxRate(opts.GateRate))
	d.Bias = param.NewManual(BiasName, "V", param.WithInitial(1e-4))
	d.Field = param.NewManual(FieldName, "T", param.WithMaxRate(opts.FieldRate))
	return d
}

// Gates returns the dual-gate pair of the device.
func (d *Device) Gates() param.DualGate {
	return param.DualGate{Top: d.TopGate, Back: d.BackGate, CTop: d.opts.CTop, CBack: d.opts.CBack}
}

// Conductance is the synthetic two-terminal conductance in units of e^2/h:
// a charge-neutrality dip broadened by displacement field, on top of
// Shubnikov-de Haas oscillations once a field is applied.
func (d *Device) Conductance(ctx context.Context) (float64, error) {
	gates := d.Gates()
	n, err := gates.Density(ctx)
	if err != nil {
		return 0, err
	}
	disp, err := gates.Displacement(ctx)
	if err != nil {
		return 0, err
	}
	b, err := d.Field.Get(ctx)
	if err != nil {
		return 0, err
	}

	// densities in 1e16 m^-2, displacement in V/nm
	nn := n / 1e16
	dd := disp / 1e9
	width := 0.05 + 0.5*math.Abs(dd)
	g := 20 - 18*width*width/(nn*nn+width*width)
	if b != 0 {
		g += 2 * math.Cos(2*math.Pi*nn/(0.25*math.Abs(b))) * math.Exp(-1/math.Abs(b))
	}
	return g, nil
}

func (d *Device) noise() float64 {
	if d.opts.Noise == 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.Noise * d.rng.NormFloat64()
}

func (d *Device) wait(ctx context.Context) error {
	if d.opts.Latency <= 0 {
		return nil
	}
	timer := time.NewTimer(d.opts.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reading is a read-only simulated parameter.
type reading struct {
	name string
	unit string
	read func(ctx context.Context) (float64, error)
	dev  *Device
}

func (r *reading) Name() string { return r.name }
func (r *reading) Unit() string { return r.unit }

func (r *reading) Get(ctx context.Context) (float64, error) {
	if err := r.dev.wait(ctx); err != nil {
		return 0, err
	}
	return r.read(ctx)
}

// LockinX is the in-phase lock-in voltage: conductance times bias.
func (d *Device) LockinX() param.Parameter {
	return &reading{name: LockinXName, unit: "V", dev: d, read: func(ctx context.Context) (float64, error) {
		g, err := d.Conductance(ctx)
		if err != nil {
			return 0, err
		}
		bias, err := d.Bias.Get(ctx)
		if err != nil {
			return 0, err
		}
		return g * bias * (1 + d.noise()), nil
	}}
}

// LockinY is the quadrature lock-in voltage, a small fraction of X.
func (d *Device) LockinY() param.Parameter {
	return &reading{name: LockinYName, unit: "V", dev: d, read: func(ctx context.Context) (float64, error) {
		g, err := d.Conductance(ctx)
		if err != nil {
			return 0, err
		}
		bias, err := d.Bias.Get(ctx)
		if err != nil {
			return 0, err
		}
		return 0.02 * g * bias * (1 + d.noise()), nil
	}}
}

// Leakage is the gate leakage current. It grows exponentially once either
// gate exceeds the leakage onset.
func (d *Device) Leakage() param.Parameter {
	return &reading{name: LeakageName, unit: "A", dev: d, read: func(ctx context.Context) (float64, error) {
		vtg, err := d.TopGate.Get(ctx)
		if err != nil {
			return 0, err
		}
		vbg, err := d.BackGate.Get(ctx)
		if err != nil {
			return 0, err
		}
		over := math.Max(math.Abs(vtg), math.Abs(vbg)) - d.opts.LeakageOnset
		if over <= 0 {
			return 1e-12, nil
		}
		return 1e-12 * math.Exp(5*over), nil
	}}
}

// Temperature is a mixing chamber thermometer that warms with field.
func (d *Device) Temperature() param.Parameter {
	return &reading{name: TemperatureName, unit: "K", dev: d, read: func(ctx context.Context) (float64, error) {
		b, err := d.Field.Get(ctx)
		if err != nil {
			return 0, err
		}
		return 0.012 + 0.001*b*b, nil
	}}
}

// NewStation builds a station with every simulated instrument registered,
// plus density and displacement axes over the gate pair and the short
// aliases vtg, vbg and B.
func NewStation(opts Options) (*station.Station, *Device, error) {
	d := NewDevice(opts)
	density, err := param.NewDensity(DensityName, d.Gates(), false, 0)
	if err != nil {
		return nil, nil, err
	}
	displacement, err := param.NewDisplacement(DisplacementName, d.Gates(), false, 0)
	if err != nil {
		return nil, nil, err
	}

	st := station.New()
	if err := st.Add(
		d.TopGate, d.BackGate, d.Bias, d.Field,
		d.LockinX(), d.LockinY(), d.Leakage(), d.Temperature(),
		density, displacement,
	); err != nil {
		return nil, nil, err
	}
	for alias, name := range map[string]string{"vtg": TopGateName, "vbg": BackGateName, "B": FieldName} {
		if err := st.Alias(alias, name); err != nil {
			return nil, nil, err
		}
	}
	return st, d, nil
}
