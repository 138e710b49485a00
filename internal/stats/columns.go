package stats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadColumnCSV reads one numeric column of a CSV file with a header row,
// such as a data.csv written by WriteDatasetExport. Column names match
// case-insensitively and an empty name selects the first column. Rows
// whose fields are all blank are skipped.
func ReadColumnCSV(in io.Reader, column string) ([]float64, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col, err := headerColumn(header, column)
	if err != nil {
		return nil, err
	}

	var values []float64
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if allBlank(fields) {
			continue
		}
		line, _ := r.FieldPos(0)
		if col >= len(fields) {
			return nil, fmt.Errorf("csv line %d: no field for column %q", line, header[col])
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[col]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d column %q: %w", line, header[col], err)
		}
		values = append(values, v)
	}
}

func headerColumn(header []string, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	for i, field := range header {
		if strings.EqualFold(strings.TrimSpace(field), name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("csv column not found: %s", name)
}

func allBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
