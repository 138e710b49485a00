package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"mesosweep/internal/model"
)

const (
	datasetIndexFile = "dataset_index.json"
	dataFile         = "data.csv"
	metaFile         = "meta.json"
)

// ColumnSummary holds the range and spread of one exported column.
type ColumnSummary struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

type ExportMeta struct {
	Dataset model.DatasetInfo `json:"dataset"`
	Columns []ColumnSummary   `json:"columns"`
}

type DatasetIndexEntry struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Experiment     string        `json:"experiment,omitempty"`
	Outcome        model.Outcome `json:"outcome"`
	Rows           int           `json:"rows"`
	CreatedAtUTC   string        `json:"created_at_utc"`
	FinalizedAtUTC string        `json:"finalized_at_utc,omitempty"`
	Path           string        `json:"path"`
}

// IndexEntry summarises an exported dataset for dataset_index.json.
func IndexEntry(info model.DatasetInfo, path string) DatasetIndexEntry {
	return DatasetIndexEntry{
		ID:             info.ID,
		Name:           info.Name,
		Experiment:     info.Experiment,
		Outcome:        info.Outcome,
		Rows:           info.Rows,
		CreatedAtUTC:   info.CreatedAtUTC,
		FinalizedAtUTC: info.FinalizedAtUTC,
		Path:           path,
	}
}

// WriteDatasetExport writes <baseDir>/<id>/data.csv and meta.json. The CSV
// header lists the axis names followed by the measured names.
func WriteDatasetExport(baseDir string, info model.DatasetInfo, records []model.Record) (string, error) {
	if info.ID == "" {
		return "", fmt.Errorf("dataset id is required")
	}
	width := len(info.Axes) + len(info.Measured)
	for i, record := range records {
		if len(record.Setpoints) != len(info.Axes) || len(record.Values) != len(info.Measured) {
			return "", fmt.Errorf("record %d has %d columns, dataset %s expects %d", i, len(record.Setpoints)+len(record.Values), info.ID, width)
		}
	}

	dir := filepath.Join(baseDir, info.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(dir, dataFile), info, records); err != nil {
		return "", err
	}

	meta := ExportMeta{Dataset: info, Columns: summarize(info, records)}
	meta.Dataset.Rows = len(records)
	if err := writeJSON(filepath.Join(dir, metaFile), meta); err != nil {
		return "", err
	}
	return dir, nil
}

func ReadExportMeta(baseDir, id string) (ExportMeta, bool, error) {
	if id == "" {
		return ExportMeta{}, false, fmt.Errorf("dataset id is required")
	}
	data, err := os.ReadFile(filepath.Join(baseDir, id, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ExportMeta{}, false, nil
		}
		return ExportMeta{}, false, err
	}
	var meta ExportMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return ExportMeta{}, false, err
	}
	return meta, true, nil
}

func AppendDatasetIndex(baseDir string, entry DatasetIndexEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("dataset id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListDatasetIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].ID == entry.ID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, datasetIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, datasetIndexFile), index)
}

// ListDatasetIndex returns the index newest first.
func ListDatasetIndex(baseDir string) ([]DatasetIndexEntry, error) {
	path := filepath.Join(baseDir, datasetIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []DatasetIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []DatasetIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry DatasetIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// later appends win ties
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})
	out := make([]DatasetIndexEntry, len(indexed))
	for i := range indexed {
		out[i] = indexed[i].entry
	}
	return out, nil
}

func writeCSV(path string, info model.DatasetInfo, records []model.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := make([]string, 0, len(info.Axes)+len(info.Measured))
	for _, spec := range info.Axes {
		header = append(header, spec.Name)
	}
	for _, spec := range info.Measured {
		header = append(header, spec.Name)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, record := range records {
		i := 0
		for _, v := range record.Setpoints {
			row[i] = strconv.FormatFloat(v, 'g', -1, 64)
			i++
		}
		for _, v := range record.Values {
			row[i] = strconv.FormatFloat(v, 'g', -1, 64)
			i++
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func summarize(info model.DatasetInfo, records []model.Record) []ColumnSummary {
	specs := append(append([]model.ParamSpec{}, info.Axes...), info.Measured...)
	out := make([]ColumnSummary, len(specs))
	column := make([]float64, 0, len(records))
	for c, spec := range specs {
		column = column[:0]
		for _, record := range records {
			if c < len(record.Setpoints) {
				column = append(column, record.Setpoints[c])
			} else {
				column = append(column, record.Values[c-len(record.Setpoints)])
			}
		}
		mean, std := avgStd(column)
		out[c] = ColumnSummary{
			Name:  spec.Name,
			Unit:  spec.Unit,
			Count: len(column),
			Min:   minOrZero(column),
			Max:   maxOrZero(column),
			Mean:  mean,
			Std:   std,
		}
	}
	return out
}

func avgStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - avg
		variance += d * d
	}
	return avg, math.Sqrt(variance / float64(len(values)))
}

func maxOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Max(out, v)
	}
	return out
}

func minOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Min(out, v)
	}
	return out
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
