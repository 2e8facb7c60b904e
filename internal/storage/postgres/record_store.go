// Package postgres provides a Postgres-backed record store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "scraped_data"

// Config controls the Postgres connection pool used for station rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore writes one row per polling station into Postgres.
type RecordStore struct {
	pool  pool
	table string
	clock crawler.Clock
}

var _ crawler.RecordStore = (*RecordStore)(nil)

// New connects to Postgres and ensures the table exists.
func New(ctx context.Context, cfg Config, clock crawler.Clock) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, clock crawler.Clock) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table, clock: clock}, nil
}

// EnsureSchema creates the station table when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id_jrv BIGINT PRIMARY KEY,
	depto_nom TEXT,
	muni_nom TEXT,
	centro_nom TEXT,
	estado_acta TEXT,
	votos_validos_calculados BIGINT,
	json JSONB,
	updated_at TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Exists reports whether a row for stationID is present.
func (s *RecordStore) Exists(ctx context.Context, stationID int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id_jrv = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, stationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check station %d: %w", stationID, err)
	}
	return exists, nil
}

// Upsert inserts the record or replaces the existing row for the same station.
func (s *RecordStore) Upsert(ctx context.Context, record crawler.Record) error {
	payload, err := record.Encode()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id_jrv,
	depto_nom,
	muni_nom,
	centro_nom,
	estado_acta,
	votos_validos_calculados,
	json,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (id_jrv) DO UPDATE SET
	depto_nom = EXCLUDED.depto_nom,
	muni_nom = EXCLUDED.muni_nom,
	centro_nom = EXCLUDED.centro_nom,
	estado_acta = EXCLUDED.estado_acta,
	votos_validos_calculados = EXCLUDED.votos_validos_calculados,
	json = EXCLUDED.json,
	updated_at = EXCLUDED.updated_at`, s.table)

	args := []any{
		record.StationID,
		record.Geography.DepartmentName,
		record.Geography.MunicipalityName,
		record.Geography.CenterName,
		string(record.Audit.Status),
		record.Stats.ValidVotes,
		string(payload),
		s.now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert station %d: %w", record.StationID, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *RecordStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
