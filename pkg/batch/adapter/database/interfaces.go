// Package database defines the storage abstractions the repositories are written against.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
)

// DBExecutor is the full set of read and write operations on a connection.
type DBExecutor interface {
	tx.TxExecutor

	// ExecuteQuery runs a SELECT with the given AND-combined conditions into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced is ExecuteQuery with optional ordering and limit.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the rows matching query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)

	// Pluck collects the distinct values of column for rows matching query.
	Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error
}

// DBConnection is a named database connection.
type DBConnection interface {
	DBExecutor

	// Close closes the connection.
	Close() error
	// Type returns the database type (e.g. "postgres").
	Type() string
	// Name returns the connection name (e.g. "metadata").
	Name() string
	// RefreshConnection pings the pool to check the connection is usable.
	RefreshConnection(ctx context.Context) error
	// Config returns the settings the connection was built from.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves named connections, reconnecting when necessary.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider hands out connections of one database type.
type DBProvider interface {
	// GetConnection returns the named connection, establishing it on first use.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes every connection held by this provider.
	CloseAll() error
	// Type returns the database type served by this provider.
	Type() string
}

// DBProviderGroup is the fx value group DBProviders are collected into.
const DBProviderGroup = "db_providers"
