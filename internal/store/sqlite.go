package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/embano1/transcribe-longform/internal/types"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// Status of a record before the pipeline picks it up.
const StatusPending = "pending"

// ErrNotFound is returned for unknown record IDs.
var ErrNotFound = errors.New("record not found")

// Record is one transcription request and its outcome.
type Record struct {
	ID        int64           `json:"id"`
	FilePath  string          `json:"file_path"`
	FileSize  int64           `json:"file_size"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	WordCount int             `json:"word_count"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists transcription records in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and migrates) the database described by cfg.
func Open(cfg types.StoreConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		word_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRecord registers a source file and returns the new record ID.
func (s *Store) CreateRecord(ctx context.Context, path string, size int64) (int64, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO records (file_path, file_size, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		path, size, StatusPending, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("create record: %w", err)
	}
	return res.LastInsertId()
}

// FileMetadata returns the source file registered for the record.
func (s *Store) FileMetadata(ctx context.Context, recordID int64) (types.SourceFile, error) {
	var src types.SourceFile
	err := s.db.QueryRowContext(ctx,
		"SELECT file_path, file_size FROM records WHERE id = ?", recordID,
	).Scan(&src.Path, &src.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SourceFile{}, ErrNotFound
	}
	if err != nil {
		return types.SourceFile{}, fmt.Errorf("file metadata: %w", err)
	}
	return src, nil
}

// BeginRun resets a record to pending at 0% and clears the outcome of any
// earlier run.
func (s *Store) BeginRun(ctx context.Context, recordID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET status = ?, progress = 0, error = '', result = NULL, word_count = 0, updated_at = ? WHERE id = ?",
		StatusPending, s.now().UnixMilli(), recordID,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return requireRow(res)
}

// UpsertProgress records pipeline progress. Progress never decreases and a
// terminal status is never replaced by a non-terminal one, so late or
// duplicated writes within a run are harmless.
func (s *Store) UpsertProgress(ctx context.Context, recordID int64, percent int, status types.Phase) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE records SET
		progress = MAX(progress, ?),
		status = CASE WHEN status IN (?, ?) THEN status ELSE ? END,
		updated_at = ?
	WHERE id = ?`,
		percent, string(types.PhaseCompleted), string(types.PhaseFailed), string(status), s.now().UnixMilli(), recordID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireRow(res)
}

// WriteFinalResult stores the outcome of a run. A nil transcript marks the
// record failed with errMsg; otherwise it is completed at 100%.
func (s *Store) WriteFinalResult(ctx context.Context, recordID int64, merged *types.MergedTranscript, errMsg string) error {
	now := s.now().UnixMilli()
	if merged == nil {
		res, err := s.db.ExecContext(ctx,
			"UPDATE records SET status = ?, error = ?, result = NULL, word_count = 0, updated_at = ? WHERE id = ?",
			string(types.PhaseFailed), errMsg, now, recordID,
		)
		if err != nil {
			return fmt.Errorf("write failure: %w", err)
		}
		return requireRow(res)
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET status = ?, progress = 100, result = ?, word_count = ?, error = ?, updated_at = ? WHERE id = ?",
		string(types.PhaseCompleted), string(payload), merged.WordCount, errMsg, now, recordID,
	)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return requireRow(res)
}

const recordColumns = "id, file_path, file_size, status, progress, result, word_count, error, created_at, updated_at"

// Record returns a record by ID.
func (s *Store) Record(ctx context.Context, recordID int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", recordID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// ListRecords returns the most recent records without their results.
func (s *Store) ListRecords(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM records ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Result = nil
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                Record
		result           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.FilePath, &r.FileSize, &r.Status, &r.Progress, &result, &r.WordCount, &r.Error, &created, &updated); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		r.Result = json.RawMessage(result.String)
	}
	r.CreatedAt = time.UnixMilli(created)
	r.UpdatedAt = time.UnixMilli(updated)
	return &r, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
