package station

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"mesosweep/internal/param"
)

func readOnly(name string) param.Parameter {
	return &readOnlyParam{name: name}
}

type readOnlyParam struct{ name string }

func (p *readOnlyParam) Name() string                         { return p.name }
func (p *readOnlyParam) Unit() string                         { return "A" }
func (p *readOnlyParam) Get(context.Context) (float64, error) { return 1, nil }

func TestAddAndResolve(t *testing.T) {
	s := New()
	gate := param.NewManual("gate", "V")
	if err := s.Add(gate, readOnly("current")); err != nil {
		t.Fatalf("add: %v", err)
	}

	axis, err := s.Axis("gate")
	if err != nil {
		t.Fatalf("axis: %v", err)
	}
	if axis != gate {
		t.Fatalf("unexpected axis: %v", axis)
	}
	p, err := s.Parameter("current")
	if err != nil {
		t.Fatalf("parameter: %v", err)
	}
	if p.Name() != "current" {
		t.Fatalf("unexpected parameter: %s", p.Name())
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"current", "gate"}) {
		t.Fatalf("unexpected names: %v", got)
	}
	if got := s.Axes(); !reflect.DeepEqual(got, []string{"gate"}) {
		t.Fatalf("unexpected axes: %v", got)
	}
}

func TestStationErrors(t *testing.T) {
	s := New()
	if err := s.Add(readOnly("current")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(readOnly("current")); !errors.Is(err, ErrParameterExists) {
		t.Fatalf("expected ErrParameterExists, got %v", err)
	}
	if _, err := s.Parameter("missing"); !errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("expected ErrParameterNotFound, got %v", err)
	}
	if _, err := s.Axis("current"); !errors.Is(err, ErrNotSettable) {
		t.Fatalf("expected ErrNotSettable, got %v", err)
	}
	if err := s.Add(readOnly(" ")); err == nil {
		t.Fatal("expected name validation")
	}
	if err := s.Add(nil); err == nil {
		t.Fatal("expected nil parameter validation")
	}
}

func TestAliases(t *testing.T) {
	s := New()
	gate := param.NewManual("top_gate", "V")
	if err := s.Add(gate); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Alias("Vtg", "top_gate"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	axis, err := s.Axis("vtg")
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	if axis != gate {
		t.Fatal("alias resolved to the wrong parameter")
	}
	if err := s.Alias("x", "missing"); !errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("expected ErrParameterNotFound, got %v", err)
	}
	if err := s.Add(param.NewManual("VTG", "V")); !errors.Is(err, ErrParameterExists) {
		t.Fatalf("expected alias collision, got %v", err)
	}
}

func TestParametersKeepsOrder(t *testing.T) {
	s := New()
	if err := s.Add(readOnly("b"), readOnly("a"), readOnly("c")); err != nil {
		t.Fatalf("add: %v", err)
	}
	params, err := s.Parameters("c", "a")
	if err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if got := param.Names(params); !reflect.DeepEqual(got, []string{"c", "a"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if _, err := s.Parameters("a", "zz"); !errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("expected ErrParameterNotFound, got %v", err)
	}
}
