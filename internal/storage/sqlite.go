//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"mesosweep/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// one writer keeps appends strictly ordered
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, info model.DatasetInfo) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if info.ID == "" {
		return fmt.Errorf("dataset id is required")
	}

	info = Versioned(info)
	info.Rows = 0
	payload, err := EncodeDatasetInfo(info)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO datasets (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, info.ID, info.CreatedAtUTC, info.SchemaVersion, info.CodecVersion, payload)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return fmt.Errorf("%w: %s", ErrDatasetExists, info.ID)
	}
	return nil
}

func (s *SQLiteStore) AppendRecords(ctx context.Context, id string, records []model.Record) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	info, err := loadDataset(ctx, tx, id)
	if err != nil {
		return err
	}
	if info.Outcome.Terminal() {
		return fmt.Errorf("%w: %s", ErrDatasetFinalized, id)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (dataset_id, seq, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		if err := checkRecordWidth(info, record); err != nil {
			return err
		}
		payload, err := EncodeRecord(record)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, info.Rows, payload); err != nil {
			return err
		}
		info.Rows++
	}

	if err := saveDataset(ctx, tx, info); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) FinalizeDataset(ctx context.Context, id string, outcome model.Outcome, finalizedAtUTC string) (model.DatasetInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return model.DatasetInfo{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.DatasetInfo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	info, err := loadDataset(ctx, tx, id)
	if err != nil {
		return model.DatasetInfo{}, err
	}
	if info.Outcome.Terminal() {
		return model.DatasetInfo{}, fmt.Errorf("%w: %s", ErrDatasetFinalized, id)
	}
	info.Outcome = outcome
	info.FinalizedAtUTC = finalizedAtUTC

	if err := saveDataset(ctx, tx, info); err != nil {
		return model.DatasetInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DatasetInfo{}, err
	}
	return info, nil
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (model.DatasetInfo, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.DatasetInfo{}, false, err
	}

	info, err := loadDataset(ctx, db, id)
	if err != nil {
		if errors.Is(err, ErrDatasetNotFound) {
			return model.DatasetInfo{}, false, nil
		}
		return model.DatasetInfo{}, false, err
	}
	return info, true, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]model.DatasetInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM datasets ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DatasetInfo
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		info, err := DecodeDatasetInfo(payload)
		if err != nil {
			return nil, fmt.Errorf("decode dataset %s: %w", id, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetRecords(ctx context.Context, id string) ([]model.Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	if _, err := loadDataset(ctx, db, id); err != nil {
		if errors.Is(err, ErrDatasetNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, `SELECT seq, payload FROM records WHERE dataset_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		var (
			seq     int
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, false, err
		}
		record, err := DecodeRecord(payload)
		if err != nil {
			return nil, false, fmt.Errorf("decode record %s/%d: %w", id, seq, err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		DELETE FROM records;
		DELETE FROM datasets;
	`)
	return err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadDataset(ctx context.Context, q queryer, id string) (model.DatasetInfo, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM datasets WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DatasetInfo{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
		}
		return model.DatasetInfo{}, err
	}
	info, err := DecodeDatasetInfo(payload)
	if err != nil {
		return model.DatasetInfo{}, fmt.Errorf("decode dataset %s: %w", id, err)
	}
	return info, nil
}

func saveDataset(ctx context.Context, tx *sql.Tx, info model.DatasetInfo) error {
	payload, err := EncodeDatasetInfo(info)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE datasets SET payload = ? WHERE id = ?`, payload, info.ID)
	return err
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS records (
			dataset_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (dataset_id, seq)
		);
	`)
	return err
}
