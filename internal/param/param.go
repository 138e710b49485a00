// Package param defines the capabilities the sweep engine consumes from
// instrument drivers, plus a handful of software parameters built on top of
// them (counters, clocks, linear couplings and dual-gate transformations).
package param

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrReadOnly = errors.New("param: parameter is read-only")

// Parameter is a measurable quantity owned by an instrument driver.
type Parameter interface {
	Name() string
	Unit() string
	Get(ctx context.Context) (float64, error)
}

// Axis is a controllable quantity. MaxRate reports the declared maximum
// |Δvalue|/second; ok == false or a rate <= 0 means unconstrained.
type Axis interface {
	Parameter
	Set(ctx context.Context, value float64) error
	MaxRate() (rate float64, ok bool)
}

// Rate returns the usable rate constraint of an axis, or 0 when the axis
// declares none.
func Rate(a Axis) float64 {
	rate, ok := a.MaxRate()
	if !ok || rate <= 0 {
		return 0
	}
	return rate
}

// Names lists parameter names in order.
func Names[P Parameter](params []P) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Name()
	}
	return out
}

type ManualOption func(*Manual)

func WithInitial(value float64) ManualOption {
	return func(m *Manual) { m.value = value }
}

func WithMaxRate(rate float64) ManualOption {
	return func(m *Manual) { m.rate = rate }
}

// WithSetHook runs before a value is stored; a non-nil error rejects the write.
func WithSetHook(hook func(value float64) error) ManualOption {
	return func(m *Manual) { m.onSet = hook }
}

// WithGetHook runs on every read; a non-nil error fails the read.
func WithGetHook(hook func(value float64) (float64, error)) ManualOption {
	return func(m *Manual) { m.onGet = hook }
}

// Manual is an in-memory axis. It holds the last value written to it.
type Manual struct {
	name string
	unit string
	rate float64

	onSet func(float64) error
	onGet func(float64) (float64, error)

	mu    sync.Mutex
	value float64
}

func NewManual(name, unit string, opts ...ManualOption) *Manual {
	m := &Manual{name: name, unit: unit}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manual) Name() string { return m.name }
func (m *Manual) Unit() string { return m.unit }

func (m *Manual) Get(_ context.Context) (float64, error) {
	m.mu.Lock()
	value := m.value
	hook := m.onGet
	m.mu.Unlock()
	if hook != nil {
		return hook(value)
	}
	return value, nil
}

func (m *Manual) Set(_ context.Context, value float64) error {
	if m.onSet != nil {
		if err := m.onSet(value); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.value = value
	m.mu.Unlock()
	return nil
}

func (m *Manual) MaxRate() (float64, bool) {
	return m.rate, m.rate > 0
}

// Func adapts plain functions to Axis. A nil SetFn makes the parameter
// read-only.
type Func struct {
	ParamName string
	ParamUnit string
	GetFn     func(ctx context.Context) (float64, error)
	SetFn     func(ctx context.Context, value float64) error
	Rate      float64
}

func (f *Func) Name() string { return f.ParamName }
func (f *Func) Unit() string { return f.ParamUnit }

func (f *Func) Get(ctx context.Context) (float64, error) {
	if f.GetFn == nil {
		return 0, fmt.Errorf("param %s: no getter", f.ParamName)
	}
	return f.GetFn(ctx)
}

func (f *Func) Set(ctx context.Context, value float64) error {
	if f.SetFn == nil {
		return fmt.Errorf("%w: %s", ErrReadOnly, f.ParamName)
	}
	return f.SetFn(ctx, value)
}

func (f *Func) MaxRate() (float64, bool) {
	return f.Rate, f.Rate > 0
}
