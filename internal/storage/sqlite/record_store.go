// Package sqlite provides the default single-file record store. It uses the
// pure-Go modernc driver in WAL mode so existence checks from the navigator
// never wait on worker writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable        = "scraped_data"
	defaultMaxOpenConns = 8
	timestampLayout     = "2006-01-02 15:04:05.000000"
)

// Config locates the database file.
type Config struct {
	Path         string
	Table        string
	MaxOpenConns int
}

// RecordStore persists one row per polling station.
type RecordStore struct {
	db    *sql.DB
	table string
	clock crawler.Clock
}

var _ crawler.RecordStore = (*RecordStore)(nil)

// Open creates the parent directory, opens the database, and ensures the table exists.
func Open(ctx context.Context, cfg Config, clock crawler.Clock) (*RecordStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(time.Minute)

	store := &RecordStore{db: db, table: table, clock: clock}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// dsn applies the pragmas on every pooled connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *RecordStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id_jrv INTEGER PRIMARY KEY,
	depto_nom TEXT,
	muni_nom TEXT,
	centro_nom TEXT,
	estado_acta TEXT,
	votos_validos_calculados INTEGER,
	json TEXT,
	updated_at TIMESTAMP
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Exists reports whether a row for stationID is present.
func (s *RecordStore) Exists(ctx context.Context, stationID int64) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id_jrv = ? LIMIT 1`, s.table)
	var one int
	err := s.db.QueryRowContext(ctx, query, stationID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check station %d: %w", stationID, err)
	default:
		return true, nil
	}
}

// Upsert replaces any existing row for the same station in one statement.
func (s *RecordStore) Upsert(ctx context.Context, record crawler.Record) error {
	payload, err := record.Encode()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT OR REPLACE INTO %s (
	id_jrv, depto_nom, muni_nom, centro_nom, estado_acta,
	votos_validos_calculados, json, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	_, err = s.db.ExecContext(ctx, query,
		record.StationID,
		record.Geography.DepartmentName,
		record.Geography.MunicipalityName,
		record.Geography.CenterName,
		string(record.Audit.Status),
		record.Stats.ValidVotes,
		string(payload),
		s.now().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert station %d: %w", record.StationID, err)
	}
	return nil
}

// Count returns the number of stored stations.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stations: %w", err)
	}
	return n, nil
}

// Load returns the stored JSON document for stationID.
func (s *RecordStore) Load(ctx context.Context, stationID int64) (string, error) {
	var doc string
	query := fmt.Sprintf(`SELECT json FROM %s WHERE id_jrv = ?`, s.table)
	if err := s.db.QueryRowContext(ctx, query, stationID).Scan(&doc); err != nil {
		return "", fmt.Errorf("load station %d: %w", stationID, err)
	}
	return doc, nil
}

// Close closes the database handle.
func (s *RecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *RecordStore) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}
