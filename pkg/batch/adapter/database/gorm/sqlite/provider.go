// Package sqlite provides the GORM DBProvider for SQLite.
package sqlite

import (
	"errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the DSN for cfg. URI style names ("file:...") are passed
// through untouched; plain paths get a busy timeout so concurrent workers wait on locks.
func ConnectionString(cfg dbconfig.DatabaseConfig) string {
	if cfg.Database == ":memory:" || strings.HasPrefix(cfg.Database, "file:") {
		return cfg.Database
	}
	return cfg.Database + "?_busy_timeout=5000"
}

// SQLiteDBProvider implements database.DBProvider for SQLite.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the SQLite provider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}
