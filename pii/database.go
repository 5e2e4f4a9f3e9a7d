package pii

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	detectors "github.com/hannes/docguard/pii/detectors"
)

// DatabaseConfig holds detection log storage configuration.
type DatabaseConfig struct {
	Enabled  bool
	Driver   string // "sqlite" or "postgres"
	Path     string // SQLite database file
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// DetectionLogDB persists detection records beyond the in-memory buffer.
type DetectionLogDB interface {
	// InsertEntry stores one detection record
	InsertEntry(ctx context.Context, entry HistoryEntry) error

	// RecentEntries retrieves records, newest first
	RecentEntries(ctx context.Context, limit int) ([]HistoryEntry, error)

	// CountEntries returns the total number of stored records
	CountEntries(ctx context.Context) (int, error)

	// ClearEntries removes all records
	ClearEntries(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// NewDetectionLogDB opens the configured backend.
func NewDetectionLogDB(ctx context.Context, config DatabaseConfig) (DetectionLogDB, error) {
	switch config.Driver {
	case "", "sqlite":
		return NewSQLiteDetectionDB(ctx, config)
	case "postgres":
		return NewPostgresDetectionDB(ctx, config)
	}
	return nil, fmt.Errorf("unknown database driver: %s", config.Driver)
}

// entryRecord is the serialized row form shared by both backends.
type entryRecord struct {
	items []detectors.DetectionItem
	risk  *RiskVerdict
}

func marshalEntry(entry HistoryEntry) (itemsJSON, riskJSON []byte, err error) {
	itemsJSON, err = json.Marshal(entry.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal detection items: %w", err)
	}
	if entry.Risk != nil {
		riskJSON, err = json.Marshal(entry.Risk)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal risk verdict: %w", err)
		}
	}
	return itemsJSON, riskJSON, nil
}

func unmarshalEntry(itemsJSON, riskJSON []byte) (entryRecord, error) {
	var rec entryRecord
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &rec.items); err != nil {
			return rec, fmt.Errorf("failed to unmarshal detection items: %w", err)
		}
	}
	if len(riskJSON) > 0 {
		var verdict RiskVerdict
		if err := json.Unmarshal(riskJSON, &verdict); err != nil {
			return rec, fmt.Errorf("failed to unmarshal risk verdict: %w", err)
		}
		rec.risk = &verdict
	}
	return rec, nil
}

// SQLiteDetectionDB implements DetectionLogDB on a local SQLite file.
type SQLiteDetectionDB struct {
	db *sql.DB
}

// NewSQLiteDetectionDB creates a new SQLite detection log
func NewSQLiteDetectionDB(ctx context.Context, config DatabaseConfig) (*SQLiteDetectionDB, error) {
	dbPath := config.Path
	if dbPath == "" {
		dbPath = "docguard.db"
	}

	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS detection_entries (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		source TEXT NOT NULL,
		filename TEXT,
		masked_filename TEXT,
		items TEXT NOT NULL,
		risk TEXT,
		visibility TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_detection_entries_created ON detection_entries(created_at)`); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SQLiteDetectionDB{db: db}, nil
}

func (s *SQLiteDetectionDB) InsertEntry(ctx context.Context, entry HistoryEntry) error {
	itemsJSON, riskJSON, err := marshalEntry(entry)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detection_entries (id, created_at, source, filename, masked_filename, items, risk, visibility)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Source,
		entry.Filename, entry.MaskedFilename, string(itemsJSON), nullableString(riskJSON), string(entry.Visibility))
	if err != nil {
		return fmt.Errorf("failed to insert detection entry: %w", err)
	}
	return nil
}

func (s *SQLiteDetectionDB) RecentEntries(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, source, filename, masked_filename, items, risk, visibility
		 FROM detection_entries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	return scanEntries(rows)
}

func (s *SQLiteDetectionDB) CountEntries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_entries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count detection entries: %w", err)
	}
	return count, nil
}

func (s *SQLiteDetectionDB) ClearEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM detection_entries`); err != nil {
		return fmt.Errorf("failed to clear detection entries: %w", err)
	}
	return nil
}

func (s *SQLiteDetectionDB) Close() error {
	return s.db.Close()
}

// PostgresDetectionDB implements DetectionLogDB on PostgreSQL for
// deployments where multiple collectors share one log.
type PostgresDetectionDB struct {
	db *sql.DB
}

// NewPostgresDetectionDB creates a new PostgreSQL detection log
func NewPostgresDetectionDB(ctx context.Context, config DatabaseConfig) (*PostgresDetectionDB, error) {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS detection_entries (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		source TEXT NOT NULL,
		filename TEXT,
		masked_filename TEXT,
		items JSONB NOT NULL,
		risk JSONB,
		visibility TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_detection_entries_created ON detection_entries(created_at)`); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &PostgresDetectionDB{db: db}, nil
}

func (p *PostgresDetectionDB) InsertEntry(ctx context.Context, entry HistoryEntry) error {
	itemsJSON, riskJSON, err := marshalEntry(entry)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO detection_entries (id, created_at, source, filename, masked_filename, items, risk, visibility)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Timestamp.UTC(), entry.Source,
		entry.Filename, entry.MaskedFilename, string(itemsJSON), nullableString(riskJSON), string(entry.Visibility))
	if err != nil {
		return fmt.Errorf("failed to insert detection entry: %w", err)
	}
	return nil
}

func (p *PostgresDetectionDB) RecentEntries(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, created_at::TEXT, source, filename, masked_filename, items::TEXT, risk::TEXT, visibility
		 FROM detection_entries ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	return scanEntries(rows)
}

func (p *PostgresDetectionDB) CountEntries(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_entries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count detection entries: %w", err)
	}
	return count, nil
}

func (p *PostgresDetectionDB) ClearEntries(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM detection_entries`); err != nil {
		return fmt.Errorf("failed to clear detection entries: %w", err)
	}
	return nil
}

func (p *PostgresDetectionDB) Close() error {
	return p.db.Close()
}

func scanEntries(rows *sql.Rows) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var createdAt, itemsJSON, visibility string
		var riskJSON sql.NullString
		if err := rows.Scan(&entry.ID, &createdAt, &entry.Source, &entry.Filename,
			&entry.MaskedFilename, &itemsJSON, &riskJSON, &visibility); err != nil {
			return nil, fmt.Errorf("failed to scan detection entry: %w", err)
		}

		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.Timestamp = ts
		entry.Visibility = Visibility(visibility)

		rec, err := unmarshalEntry([]byte(itemsJSON), []byte(riskJSON.String))
		if err != nil {
			return nil, err
		}
		entry.Items = rec.items
		entry.Risk = rec.risk

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detection entries: %w", err)
	}
	return entries, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07", "2006-01-02 15:04:05-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", s)
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
