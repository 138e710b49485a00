package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Outcome is the terminal (or current) state of one sweep invocation.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Terminal reports whether no further records can be appended.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeCompleted, OutcomeCancelled, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Direction tells which way the inner axis is traversed on an outer line.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionRetrace Direction = "retrace"
	DirectionReturn  Direction = "return"
)

// Record is one row of output: axis values (outer axis first, then any
// additional setpoints) followed by one measured value per parameter of the
// measurement set, in measurement-set order.
type Record struct {
	Setpoints []float64 `json:"setpoints"`
	Values    []float64 `json:"values"`
}

// Shape maps a measured parameter name to the expected result-array shape.
// A nil Shape means the shape is unknown.
type Shape map[string][]int

type ParamSpec struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

type DatasetInfo struct {
	VersionedRecord
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Experiment     string      `json:"experiment,omitempty"`
	Axes           []ParamSpec `json:"axes"`
	Measured       []ParamSpec `json:"measured"`
	Shape          Shape       `json:"shape,omitempty"`
	Outcome        Outcome     `json:"outcome"`
	Rows           int         `json:"rows"`
	CreatedAtUTC   string      `json:"created_at_utc"`
	FinalizedAtUTC string      `json:"finalized_at_utc,omitempty"`
}

// DatasetHandle is what a finalized recorder session hands back to callers.
// The zero value stands for "no dataset".
type DatasetHandle struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rows    int     `json:"rows"`
	Outcome Outcome `json:"outcome"`
}

func (h DatasetHandle) Empty() bool {
	return h.ID == ""
}

type ProgressEvent struct {
	Dataset   string    `json:"dataset"`
	Direction Direction `json:"direction"`
	Outer     int       `json:"outer"`
	Outers    int       `json:"outers"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Setpoints []float64 `json:"setpoints"`
}
