package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"mesosweep/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps info with the current schema and codec versions.
func Versioned(info model.DatasetInfo) model.DatasetInfo {
	info.VersionedRecord = model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
	return info
}

func EncodeDatasetInfo(info model.DatasetInfo) ([]byte, error) {
	return json.Marshal(info)
}

func DecodeDatasetInfo(data []byte) (model.DatasetInfo, error) {
	var info model.DatasetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return model.DatasetInfo{}, err
	}
	if err := checkVersion(info.VersionedRecord); err != nil {
		return model.DatasetInfo{}, err
	}
	return info, nil
}

func EncodeRecord(record model.Record) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeRecord(data []byte) (model.Record, error) {
	var record model.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return model.Record{}, err
	}
	return record, nil
}

// checkRecordWidth rejects a record whose column counts do not match the
// dataset's registered axes and measured parameters.
func checkRecordWidth(info model.DatasetInfo, record model.Record) error {
	if len(record.Setpoints) != len(info.Axes) || len(record.Values) != len(info.Measured) {
		return fmt.Errorf("dataset %s: record has %d setpoints and %d values, want %d and %d",
			info.ID, len(record.Setpoints), len(record.Values), len(info.Axes), len(info.Measured))
	}
	return nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
