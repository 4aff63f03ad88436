// Package postgres implements database.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" database/sql driver for the migrator
	"github.com/pressly/goose/v3"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

const applicationName = "schedulerd"

// NewPool opens and pings a pool for cfg. Zero sizing fields keep the pgx
// defaults.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheck > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// withMigrator runs fn against a goose provider over the embedded schema.
func withMigrator(ctx context.Context, dsn string, fn func(*goose.Provider) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	schema, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, schema)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("load migrations: %w", err)
	}
	defer func() { _ = p.Close() }()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return fn(p)
}

// Migrate applies every pending migration and returns the versions applied.
func Migrate(ctx context.Context, dsn string) ([]int64, error) {
	var applied []int64
	err := withMigrator(ctx, dsn, func(p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, r := range results {
			if r.Error == nil {
				applied = append(applied, r.Source.Version)
			}
		}
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
	return applied, err
}

// Rollback reverts up to steps migrations, newest first, and returns the
// versions reverted. It stops early once the schema is empty.
func Rollback(ctx context.Context, dsn string, steps int) ([]int64, error) {
	var reverted []int64
	err := withMigrator(ctx, dsn, func(p *goose.Provider) error {
		for range steps {
			v, err := p.GetDBVersion(ctx)
			if err != nil {
				return fmt.Errorf("schema version: %w", err)
			}
			if v == 0 {
				return nil
			}
			r, err := p.Down(ctx)
			if err != nil {
				return fmt.Errorf("migrate down from %d: %w", v, err)
			}
			reverted = append(reverted, r.Source.Version)
		}
		return nil
	})
	return reverted, err
}

// SchemaVersion returns the newest applied migration, 0 for an empty schema.
func SchemaVersion(ctx context.Context, dsn string) (int64, error) {
	var v int64
	err := withMigrator(ctx, dsn, func(p *goose.Provider) error {
		var err error
		v, err = p.GetDBVersion(ctx)
		return err
	})
	return v, err
}
