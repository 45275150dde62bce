// Package db is the readings store shared by the persistence sink and the
// collaborator read API.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var (
	ErrConnectFailed = errors.New("error connecting to readings database")
	ErrMigrateFailed = errors.New("error migrating readings schema")
)

type Config struct {
	ConnString     string
	MigrationsPath string
}

type DB struct {
	connString     string
	migrationsPath string
	pool           *pgxpool.Pool
}

func (db *DB) Migrate(ctx context.Context) error {
	const fn = "DB:Migrate"
	slog.InfoContext(ctx, "Migrating readings schema...", "path", db.migrationsPath)
	m, err := migrate.New(
		"file://"+db.migrationsPath,
		db.connString,
	)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrMigrateFailed, err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("%s:%w:%w", fn, ErrMigrateFailed, err)
	}
	return nil
}

func Init(ctx context.Context, cfg Config) (*DB, error) {
	const fn = "DB:Init"
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("%s:%w: conn string is empty", fn, ErrConnectFailed)
	}
	if cfg.MigrationsPath == "" {
		return nil, fmt.Errorf("%s:%w: migrations path is empty", fn, ErrMigrateFailed)
	}

	pool, err := pgxpool.Connect(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrConnectFailed, err)
	}

	db := &DB{
		pool:           pool,
		connString:     cfg.ConnString,
		migrationsPath: cfg.MigrationsPath,
	}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "Readings database ready")
	return db, nil
}

func (db *DB) Close() {
	db.pool.Close()
}
