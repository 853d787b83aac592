package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // Required for file source
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// NewPostgresDB connects to Postgres and sizes the connection pool for a
// request-per-call workload where every request costs at most a handful of
// single-row queries.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	logger.Info("Connected to postgres",
		zap.Int("max_open_conns", maxOpenConns))
	return db, nil
}

// MigrateDB applies pending schema migrations. An up-to-date schema is not an
// error; anything else is fatal, since the queries assume the current schema.
func MigrateDB(db *sqlx.DB, logger *zap.Logger) {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		logger.Fatal("Failed to prepare migration driver", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "photoshare", driver)
	if err != nil {
		logger.Fatal("Failed to create migrate instance", zap.Error(err))
	}

	switch err := m.Up(); {
	case err == nil:
		logger.Info("Schema migrations applied")
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Schema is up to date")
	default:
		logger.Fatal("Failed to run schema migrations", zap.Error(err))
	}
}
