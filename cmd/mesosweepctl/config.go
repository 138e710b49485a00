package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"mesosweep/internal/stats"
	api "mesosweep/pkg/mesosweep"
)

// sweepConfig is the union of every sweep command's settings. It is filled
// from an optional JSON file and then from command-line flags.
type sweepConfig struct {
	Name           string
	Axis           string
	Range          api.Range
	ValuesFile     string
	ValuesColumn   string
	X              string
	XRange         api.Range
	Y              string
	YRange         api.Range
	Delay          time.Duration
	InnerDelay     time.Duration
	OuterDelay     time.Duration
	Timeout        time.Duration
	Repeats        int
	Measure        []string
	Additional     []string
	UseThreads     bool
	MeasureRetrace bool
	ReturnPoints   int
}

func (c sweepConfig) sweep1D() api.Sweep1DRequest {
	return api.Sweep1DRequest{
		Name:       c.Name,
		Axis:       c.Axis,
		Range:      c.Range,
		Delay:      c.Delay,
		Measure:    c.Measure,
		Additional: c.Additional,
		UseThreads: c.UseThreads,
	}
}

func (c sweepConfig) sweep2D() api.Sweep2DRequest {
	return api.Sweep2DRequest{
		Name:           c.Name,
		X:              c.X,
		XRange:         c.XRange,
		InnerDelay:     c.InnerDelay,
		Y:              c.Y,
		YRange:         c.YRange,
		OuterDelay:     c.OuterDelay,
		Measure:        c.Measure,
		Additional:     c.Additional,
		UseThreads:     c.UseThreads,
		MeasureRetrace: c.MeasureRetrace,
		ReturnPoints:   c.ReturnPoints,
	}
}

func (c sweepConfig) repeat() api.RepeatRequest {
	return api.RepeatRequest{
		Name:           c.Name,
		Axis:           c.Axis,
		Range:          c.Range,
		InnerDelay:     c.InnerDelay,
		OuterDelay:     c.OuterDelay,
		Repeats:        c.Repeats,
		Measure:        c.Measure,
		Additional:     c.Additional,
		UseThreads:     c.UseThreads,
		MeasureRetrace: c.MeasureRetrace,
		ReturnPoints:   c.ReturnPoints,
	}
}

func (c sweepConfig) timed() api.TimedRequest {
	return api.TimedRequest{
		Name:       c.Name,
		Delay:      c.Delay,
		Timeout:    c.Timeout,
		Measure:    c.Measure,
		Additional: c.Additional,
		UseThreads: c.UseThreads,
	}
}

// loadSweepConfig reads a JSON sweep description. Durations are given in
// milliseconds; the inner and outer axes of a 2D sweep are nested objects:
//
//	{"name": "map", "x": {"axis": "vtg", "start": -1, "stop": 1, "points": 201},
//	 "y": {"axis": "vbg", "values": [0, 0.5]}, "measure": ["lockin_x"]}
func loadSweepConfig(path string) (sweepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sweepConfig{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return sweepConfig{}, err
	}

	var cfg sweepConfig
	if v, ok := asString(raw["name"]); ok {
		cfg.Name = v
	}
	cfg.Axis, cfg.Range = axisFromMap(raw)
	if v, ok := asString(raw["values_file"]); ok {
		cfg.ValuesFile = v
	}
	if v, ok := asString(raw["values_column"]); ok {
		cfg.ValuesColumn = v
	}
	if x, ok := raw["x"].(map[string]any); ok {
		cfg.X, cfg.XRange = axisFromMap(x)
	}
	if y, ok := raw["y"].(map[string]any); ok {
		cfg.Y, cfg.YRange = axisFromMap(y)
	}
	if v, ok := asInt(raw["delay_ms"]); ok {
		cfg.Delay = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(raw["inner_delay_ms"]); ok {
		cfg.InnerDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(raw["outer_delay_ms"]); ok {
		cfg.OuterDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(raw["timeout_ms"]); ok {
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(raw["repeats"]); ok {
		cfg.Repeats = v
	}
	if v, ok := asStrings(raw["measure"]); ok {
		cfg.Measure = v
	}
	if v, ok := asStrings(raw["additional"]); ok {
		cfg.Additional = v
	}
	if v, ok := asBool(raw["threads"]); ok {
		cfg.UseThreads = v
	}
	if v, ok := asBool(raw["retrace"]); ok {
		cfg.MeasureRetrace = v
	}
	if v, ok := asInt(raw["return_points"]); ok {
		cfg.ReturnPoints = v
	}
	return cfg, nil
}

func loadOrDefaultSweepConfig(configPath string) (sweepConfig, error) {
	if configPath == "" {
		return sweepConfig{}, nil
	}
	cfg, err := loadSweepConfig(configPath)
	if err != nil {
		return sweepConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func axisFromMap(raw map[string]any) (string, api.Range) {
	var (
		axis string
		r    api.Range
	)
	if v, ok := asString(raw["axis"]); ok {
		axis = v
	}
	if v, ok := asFloat64(raw["start"]); ok {
		r.Start = v
	}
	if v, ok := asFloat64(raw["stop"]); ok {
		r.Stop = v
	}
	if v, ok := asFloat64(raw["step"]); ok {
		r.Step = v
	}
	if v, ok := asInt(raw["points"]); ok {
		r.Points = v
	}
	if v, ok := asFloats(raw["values"]); ok {
		r.Values = v
	}
	return axis, r
}

// overrideFromFlags applies the flags named in set on top of cfg.
func overrideFromFlags(cfg *sweepConfig, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "name":
			cfg.Name = v.(string)
		case "axis":
			cfg.Axis = v.(string)
		case "start":
			cfg.Range.Start = v.(float64)
		case "stop":
			cfg.Range.Stop = v.(float64)
		case "step":
			cfg.Range.Step = v.(float64)
		case "points":
			cfg.Range.Points = v.(int)
		case "values-file":
			cfg.ValuesFile = v.(string)
		case "values-column":
			cfg.ValuesColumn = v.(string)
		case "x":
			cfg.X = v.(string)
		case "x-start":
			cfg.XRange.Start = v.(float64)
		case "x-stop":
			cfg.XRange.Stop = v.(float64)
		case "x-step":
			cfg.XRange.Step = v.(float64)
		case "x-points":
			cfg.XRange.Points = v.(int)
		case "y":
			cfg.Y = v.(string)
		case "y-start":
			cfg.YRange.Start = v.(float64)
		case "y-stop":
			cfg.YRange.Stop = v.(float64)
		case "y-step":
			cfg.YRange.Step = v.(float64)
		case "y-points":
			cfg.YRange.Points = v.(int)
		case "delay":
			cfg.Delay = v.(time.Duration)
		case "inner-delay":
			cfg.InnerDelay = v.(time.Duration)
		case "outer-delay":
			cfg.OuterDelay = v.(time.Duration)
		case "timeout":
			cfg.Timeout = v.(time.Duration)
		case "repeats":
			cfg.Repeats = v.(int)
		case "measure":
			cfg.Measure = splitList(v.(string))
		case "additional":
			cfg.Additional = splitList(v.(string))
		case "threads":
			cfg.UseThreads = v.(bool)
		case "retrace":
			cfg.MeasureRetrace = v.(bool)
		case "return-points":
			cfg.ReturnPoints = v.(int)
		}
	}
}

// loadValues replaces the main axis range with a column read from
// ValuesFile.
func (c *sweepConfig) loadValues() error {
	if c.ValuesFile == "" {
		return nil
	}
	f, err := os.Open(c.ValuesFile)
	if err != nil {
		return err
	}
	defer f.Close()
	values, err := stats.ReadColumnCSV(f, c.ValuesColumn)
	if err != nil {
		return fmt.Errorf("%s: %w", c.ValuesFile, err)
	}
	if len(values) == 0 {
		return fmt.Errorf("%s: no setpoints in column %q", c.ValuesFile, c.ValuesColumn)
	}
	c.Range = api.Range{Values: values}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asFloats(v any) ([]float64, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func asStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case string:
		return splitList(x), true
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
