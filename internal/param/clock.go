package param

import (
	"context"
	"sync"
	"time"
)

// Counter is an integer-valued axis used as the outer axis of repeated
// sweeps. Setting it records which repetition is running.
type Counter struct {
	name string

	mu    sync.Mutex
	count float64
}

func NewCounter(name string) *Counter {
	if name == "" {
		name = "counter"
	}
	return &Counter{name: name}
}

func (c *Counter) Name() string { return c.name }
func (c *Counter) Unit() string { return "#" }

func (c *Counter) Get(_ context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, nil
}

func (c *Counter) Set(_ context.Context, value float64) error {
	c.mu.Lock()
	c.count = value
	c.mu.Unlock()
	return nil
}

func (c *Counter) MaxRate() (float64, bool) { return 0, false }

func (c *Counter) Reset() {
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

// Timestamp reads the wall clock as seconds since the Unix epoch.
type Timestamp struct {
	name string
	now  func() time.Time
}

func NewTimestamp(name string) *Timestamp {
	if name == "" {
		name = "timestamp"
	}
	return &Timestamp{name: name, now: time.Now}
}

func (t *Timestamp) Name() string { return t.name }
func (t *Timestamp) Unit() string { return "s" }

func (t *Timestamp) Get(_ context.Context) (float64, error) {
	return float64(t.now().UnixNano()) / 1e9, nil
}

// ElapsedTime reads seconds since the last ResetClock.
type ElapsedTime struct {
	name string
	now  func() time.Time

	mu    sync.Mutex
	start time.Time
}

func NewElapsedTime(name string) *ElapsedTime {
	return NewElapsedTimeWithClock(name, time.Now)
}

// NewElapsedTimeWithClock is NewElapsedTime with an injectable clock.
func NewElapsedTimeWithClock(name string, now func() time.Time) *ElapsedTime {
	if name == "" {
		name = "time"
	}
	return &ElapsedTime{name: name, now: now, start: now()}
}

func (e *ElapsedTime) Name() string { return e.name }
func (e *ElapsedTime) Unit() string { return "s" }

func (e *ElapsedTime) Get(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now().Sub(e.start).Seconds(), nil
}

func (e *ElapsedTime) ResetClock() {
	e.mu.Lock()
	e.start = e.now()
	e.mu.Unlock()
}
