// Package postgres provides a Postgres-backed record provider.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagewatch/internal/storage"
)

const defaultTable = "tracked_targets"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for target records.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Provider stores one JSONB row per tracked target.
type Provider struct {
	pool  pool
	table string
}

// New connects to Postgres and ensures the record table exists.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
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
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	provider := &Provider{pool: pgPool, table: table}
	if err := provider.EnsureSchema(ctx); err != nil {
		pgPool.Close()
		return nil, err
	}
	return provider, nil
}

// NewWithPool constructs a provider from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Provider, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Provider{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the record table when it does not exist.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, p.table)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (p *Provider) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Put upserts the record for key.
func (p *Provider) Put(ctx context.Context, key string, data []byte) error {
	query := fmt.Sprintf(`
INSERT INTO %s (key, record, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`, p.table)
	if _, err := p.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (p *Provider) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table)
	tag, err := p.pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns every stored record ordered by key.
func (p *Provider) List(ctx context.Context) ([]storage.Object, error) {
	query := fmt.Sprintf(`SELECT key, record FROM %s ORDER BY key`, p.table)
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var objects []storage.Object
	for rows.Next() {
		var obj storage.Object
		if err := rows.Scan(&obj.Key, &obj.Data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return objects, nil
}
