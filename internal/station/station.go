// Package station holds the instrument parameters available to a session.
// A Station is an explicit value passed to whoever needs it; there is no
// process-wide registry.
package station

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mesosweep/internal/param"
)

var (
	ErrParameterExists   = errors.New("parameter already registered")
	ErrParameterNotFound = errors.New("parameter not found")
	ErrNotSettable       = errors.New("parameter is not settable")
)

type Station struct {
	mu      sync.RWMutex
	params  map[string]param.Parameter
	aliases map[string]string
}

func New() *Station {
	return &Station{
		params:  make(map[string]param.Parameter),
		aliases: make(map[string]string),
	}
}

// Add registers parameters under their own names.
func (s *Station) Add(params ...param.Parameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range params {
		if p == nil {
			return errors.New("parameter is required")
		}
		name := strings.TrimSpace(p.Name())
		if name == "" {
			return errors.New("parameter name is required")
		}
		if _, exists := s.params[name]; exists {
			return fmt.Errorf("%w: %s", ErrParameterExists, name)
		}
		if _, exists := s.aliases[strings.ToLower(name)]; exists {
			return fmt.Errorf("%w: %s is an alias", ErrParameterExists, name)
		}
		s.params[name] = p
	}
	return nil
}

// Alias makes a registered parameter reachable under another,
// case-insensitive name.
func (s *Station) Alias(alias, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alias = strings.TrimSpace(alias)
	if alias == "" {
		return errors.New("alias is required")
	}
	if _, ok := s.params[name]; !ok {
		return fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	if _, exists := s.params[alias]; exists {
		return fmt.Errorf("%w: %s", ErrParameterExists, alias)
	}
	s.aliases[strings.ToLower(alias)] = name
	return nil
}

func (s *Station) Parameter(name string) (param.Parameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	return p, nil
}

func (s *Station) Axis(name string) (param.Axis, error) {
	p, err := s.Parameter(name)
	if err != nil {
		return nil, err
	}
	axis, ok := p.(param.Axis)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSettable, p.Name())
	}
	return axis, nil
}

// Parameters resolves names in order.
func (s *Station) Parameters(names ...string) ([]param.Parameter, error) {
	out := make([]param.Parameter, 0, len(names))
	for _, name := range names {
		p, err := s.Parameter(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Names lists registered parameter names, sorted.
func (s *Station) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.params))
	for name := range s.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Axes lists the names of settable parameters, sorted.
func (s *Station) Axes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.params))
	for name, p := range s.params {
		if _, ok := p.(param.Axis); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Station) find(name string) (param.Parameter, bool) {
	lookup := strings.TrimSpace(name)
	if lookup == "" {
		return nil, false
	}
	if p, ok := s.params[lookup]; ok {
		return p, true
	}
	if canonical, ok := s.aliases[strings.ToLower(lookup)]; ok {
		p, ok := s.params[canonical]
		return p, ok
	}
	return nil, false
}
