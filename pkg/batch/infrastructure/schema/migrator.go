// Package schema applies the embedded DDL of the batched migration tables with golang-migrate.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

//go:embed resources
var resources embed.FS

// DefaultMigrationsTable is the golang-migrate bookkeeping table.
const DefaultMigrationsTable = "batchmig_schema_migrations"

// Resources returns the embedded DDL directory for dbType, e.g. for creating test tables.
func Resources(dbType string) (fs.FS, error) {
	return fs.Sub(resources, "resources/"+dbType)
}

// Migrator applies the engine schema to one named connection.
type Migrator struct {
	resolver        database.DBConnectionResolver
	dbName          string
	migrationsTable string
}

// NewMigrator creates a Migrator for the named connection.
func NewMigrator(resolver database.DBConnectionResolver, dbName, migrationsTable string) *Migrator {
	if migrationsTable == "" {
		migrationsTable = DefaultMigrationsTable
	}
	return &Migrator{resolver: resolver, dbName: dbName, migrationsTable: migrationsTable}
}

// Up applies every pending schema migration.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mi *migrate.Migrate) error { return mi.Up() })
}

// Down reverts every schema migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mi *migrate.Migrate) error { return mi.Down() })
}

// Version returns the applied schema version and whether it is dirty.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	var version uint
	var dirty bool
	err := m.run(ctx, "version", func(mi *migrate.Migrate) error {
		var vErr error
		version, dirty, vErr = mi.Version()
		if errors.Is(vErr, migrate.ErrNilVersion) {
			return nil
		}
		return vErr
	})
	return version, dirty, err
}

func (m *Migrator) run(ctx context.Context, command string, fn func(*migrate.Migrate) error) error {
	const op = "SchemaMigrator"

	conn, err := m.resolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to resolve connection '%s'", m.dbName), err, false, true)
	}
	dbType := conn.Type()
	sqlDB, err := conn.GetSQLDB()
	if err != nil {
		return exception.NewBatchError(op, "failed to get underlying sql.DB", err, false, false)
	}

	sub, err := Resources(dbType)
	if err != nil {
		return exception.NewBatchErrorf(op, "no schema resources for database type '%s'", dbType, err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return exception.NewBatchError(op, "failed to create iofs source driver", err, false, false)
	}

	driver, err := m.databaseDriver(dbType, sqlDB)
	if err != nil {
		_ = source.Close()
		return exception.NewBatchError(op, "failed to create database driver", err, false, false)
	}

	instance, err := migrate.NewWithInstance("iofs", source, dbType, driver)
	if err != nil {
		_ = source.Close()
		return exception.NewBatchError(op, "failed to create migrate instance", err, false, false)
	}

	logger.Infof("Running schema %s on '%s' (%s, table %s)", command, m.dbName, dbType, m.migrationsTable)
	runErr := fn(instance)

	// Closing the instance also closes the *sql.DB it was given. SQLite drivers hold no
	// dedicated connection, so only the source is closed to keep in-memory databases alive.
	// Other connections are re-established by the resolver on next use.
	if dbType == "sqlite" {
		_ = source.Close()
	} else {
		if srcErr, dbErr := instance.Close(); srcErr != nil || dbErr != nil {
			logger.Debugf("Closing migrate instance: source=%v database=%v", srcErr, dbErr)
		}
		if _, err := m.resolver.ResolveDBConnection(ctx, m.dbName); err != nil {
			logger.Warnf("Reconnecting '%s' after schema %s failed: %v", m.dbName, command, err)
		}
	}

	if runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return exception.NewBatchErrorf(op, "schema %s failed on '%s'", command, m.dbName, runErr)
	}
	if errors.Is(runErr, migrate.ErrNoChange) {
		logger.Debugf("Schema on '%s' is up to date.", m.dbName)
	}
	return nil
}

func (m *Migrator) databaseDriver(dbType string, sqlDB *sql.DB) (migratedb.Driver, error) {
	switch dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: m.migrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: m.migrationsTable})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: m.migrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for schema migration: %s", dbType)
	}
}
