package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Vielheim/crux/internal/db/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// gooseUp and friends are seams over goose for tests.
var (
	gooseUp     = goose.UpContext
	gooseDown   = goose.DownContext
	gooseStatus = goose.StatusContext
)

func prepareGoose() error {
	goose.SetBaseFS(migrations.Migrations)
	return goose.SetDialect("postgres")
}

func openSQL(dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return sqlDB, nil
}

// Migrate applies all pending migrations against dsn.
func Migrate(ctx context.Context, dsn string) error {
	return withGoose(dsn, func(sqlDB *sql.DB) error {
		return gooseUp(ctx, sqlDB, ".")
	})
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, dsn string) error {
	return withGoose(dsn, func(sqlDB *sql.DB) error {
		return gooseDown(ctx, sqlDB, ".")
	})
}

// MigrationStatus logs the applied state of every migration through goose.
func MigrationStatus(ctx context.Context, dsn string) error {
	return withGoose(dsn, func(sqlDB *sql.DB) error {
		return gooseStatus(ctx, sqlDB, ".")
	})
}

func withGoose(dsn string, fn func(*sql.DB) error) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("failed to configure migrations: %w", err)
	}

	sqlDB, err := openSQL(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	if err := fn(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
