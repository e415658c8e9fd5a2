package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the database file created inside the data directory
const DBFileName = "pubsync.db"

// timeLayout is fixed width so stored times sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	publication TEXT NOT NULL,
	start_time TEXT NOT NULL, -- RFC3339
	end_time TEXT NOT NULL,
	status TEXT NOT NULL,
	files_synced INTEGER DEFAULT 0,
	bytes_synced INTEGER DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_executions_publication_time ON executions(publication, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

CREATE TABLE IF NOT EXISTS baseline (
	publication TEXT NOT NULL,
	path TEXT NOT NULL,
	type INTEGER NOT NULL,
	local_type INTEGER NOT NULL,
	local_size INTEGER NOT NULL,
	local_mtime TEXT NOT NULL,
	local_checksum TEXT NOT NULL DEFAULT '',
	local_etag TEXT NOT NULL DEFAULT '',
	remote_type INTEGER NOT NULL,
	remote_size INTEGER NOT NULL,
	remote_mtime TEXT NOT NULL,
	remote_checksum TEXT NOT NULL DEFAULT '',
	remote_etag TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (publication, path)
);
`

// Status of a recorded execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPartial:
		return true
	}
	return false
}

// Manager handles baseline persistence and execution history
type Manager struct {
	db *sqlx.DB
}

// ExecutionRecord represents a single synchronization run
type ExecutionRecord struct {
	ID          int64
	Publication string
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	FilesSynced int
	BytesSynced int64
	Error       string
}

// dbExecution is used for scanning rows where times are stored as TEXT
type dbExecution struct {
	ID          int64  `db:"id"`
	Publication string `db:"publication"`
	StartTime   string `db:"start_time"`
	EndTime     string `db:"end_time"`
	Status      string `db:"status"`
	FilesSynced int    `db:"files_synced"`
	BytesSynced int64  `db:"bytes_synced"`
	Error       string `db:"error"`
}

func (e dbExecution) record() ExecutionRecord {
	start, _ := time.Parse(time.RFC3339Nano, e.StartTime)
	end, _ := time.Parse(time.RFC3339Nano, e.EndTime)
	return ExecutionRecord{
		ID:          e.ID,
		Publication: e.Publication,
		StartTime:   start,
		EndTime:     end,
		Status:      Status(e.Status),
		FilesSynced: e.FilesSynced,
		BytesSynced: e.BytesSynced,
		Error:       e.Error,
	}
}

// NewManager creates a new state manager
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Manager{db: db}, nil
}

// SaveExecution records a synchronization run
func (m *Manager) SaveExecution(record ExecutionRecord) error {
	if !record.Status.IsValid() {
		return fmt.Errorf("invalid status: %s (must be 'success', 'failed', or 'partial')", record.Status)
	}

	data := dbExecution{
		Publication: record.Publication,
		StartTime:   record.StartTime.UTC().Format(timeLayout),
		EndTime:     record.EndTime.UTC().Format(timeLayout),
		Status:      string(record.Status),
		FilesSynced: record.FilesSynced,
		BytesSynced: record.BytesSynced,
		Error:       record.Error,
	}

	query := `INSERT INTO executions (publication, start_time, end_time, status, files_synced, bytes_synced, error)
	          VALUES (:publication, :start_time, :end_time, :status, :files_synced, :bytes_synced, :error)`
	if _, err := m.db.NamedExec(query, data); err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}

	return nil
}

const selectExecutions = `SELECT id, publication, start_time, end_time, status, files_synced, bytes_synced, error FROM executions`

// GetHistory retrieves execution history for a publication
func (m *Manager) GetHistory(publication string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var rows []dbExecution
	err := m.db.Select(&rows, selectExecutions+` WHERE publication = ? ORDER BY start_time DESC LIMIT ?`, publication, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return toRecords(rows), nil
}

// GetLastSuccess retrieves the last successful execution for a publication
func (m *Manager) GetLastSuccess(publication string) (*ExecutionRecord, error) {
	var row dbExecution
	err := m.db.Get(&row, selectExecutions+` WHERE publication = ? AND status = 'success' ORDER BY start_time DESC LIMIT 1`, publication)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No successful execution found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}

	record := row.record()
	return &record, nil
}

// GetAllHistory retrieves execution history for all publications
func (m *Manager) GetAllHistory(limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var rows []dbExecution
	if err := m.db.Select(&rows, selectExecutions+` ORDER BY start_time DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return toRecords(rows), nil
}

func toRecords(rows []dbExecution) []ExecutionRecord {
	records := make([]ExecutionRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
