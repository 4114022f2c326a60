// Package postgres mirrors document records into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fund-document-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordMirror copies every appended record into a Postgres table. It
// implements crawler.RecordSink; the CSV record log stays authoritative.
type RecordMirror struct {
	pool  execCloser
	table string
}

// NewRecordMirror connects to Postgres using cfg.
func NewRecordMirror(ctx context.Context, cfg Config) (*RecordMirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordMirror{pool: pool, table: table}, nil
}

// NewRecordMirrorWithPool constructs a mirror from an existing pool (primarily for testing).
func NewRecordMirrorWithPool(pool execCloser, table string) (*RecordMirror, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordMirror{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "fund_documents"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (m *RecordMirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// EnsureSchema creates the table if it does not exist.
func (m *RecordMirror) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	identifier          TEXT NOT NULL,
	category            TEXT NOT NULL,
	effective_date      TEXT NOT NULL,
	retrieval_date      TEXT NOT NULL,
	download_reference  TEXT NOT NULL,
	local_file_path     TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL,
	file_size           BIGINT NOT NULL,
	PRIMARY KEY (identifier, download_reference)
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", m.table, err)
	}
	return nil
}

// Record inserts record. Rows already present are left untouched.
func (m *RecordMirror) Record(ctx context.Context, record crawler.DocumentRecord) error {
	if m == nil || m.pool == nil {
		return fmt.Errorf("record mirror is not configured")
	}
	if strings.TrimSpace(record.Identifier) == "" || strings.TrimSpace(record.Reference) == "" {
		return fmt.Errorf("identifier and download reference are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	identifier,
	category,
	effective_date,
	retrieval_date,
	download_reference,
	local_file_path,
	content_fingerprint,
	file_size
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (identifier, download_reference) DO NOTHING`, m.table)

	args := []any{
		record.Identifier,
		string(record.Category),
		record.EffectiveDate,
		record.RetrievalDate,
		record.Reference,
		record.Path,
		record.Fingerprint,
		record.Size,
	}
	if _, err := m.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}
