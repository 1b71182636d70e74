package test

import (
	"io/fs"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm/sqlite" // registers the "sqlite" dialector
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/schema"
)

// NewSQLiteTestConnection opens a private in-memory SQLite database with the engine
// tables created from the embedded DDL. The pool holds a single connection so every
// query sees the same database. The connection is closed when t finishes.
func NewSQLiteTestConnection(t *testing.T) dbadapter.DBConnection {
	t.Helper()
	return NewSQLiteTestConnectionWithLogger(t, nil)
}

// NewSQLiteTestConnectionWithLogger is NewSQLiteTestConnection with GORM logging to l.
// A nil l keeps GORM silent.
func NewSQLiteTestConnectionWithLogger(t *testing.T, l gormlogger.Interface) dbadapter.DBConnection {
	t.Helper()

	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool: dbconfig.PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
	}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	resources, err := schema.Resources("sqlite")
	require.NoError(t, err)
	files, err := fs.Glob(resources, "*.up.sql")
	require.NoError(t, err)
	sort.Strings(files)
	for _, name := range files {
		ddl, err := fs.ReadFile(resources, name)
		require.NoError(t, err)
		for _, stmt := range strings.Split(string(ddl), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			_, err := sqlDB.Exec(stmt)
			require.NoError(t, err, "applying %s", name)
		}
	}

	if l != nil {
		db = db.Session(&gorm.Session{Logger: l})
	}
	conn := gormadapter.NewGormDBAdapter(db, cfg, "metadata")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
