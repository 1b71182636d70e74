package schema_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm/sqlite"
	sqlrepo "github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/schema"
	testutil "github.com/tigerroll/batchmig/pkg/batch/test"
)

func TestMigrator_UpDown(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "batchmig.db")}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)
	conn := gormadapter.NewGormDBAdapter(db, cfg, "metadata")
	t.Cleanup(func() { _ = conn.Close() })
	resolver := testutil.NewTestSingleConnectionResolver(conn)

	m := schema.NewMigrator(resolver, "metadata", "")
	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// Applying twice is a no-op.
	require.NoError(t, m.Up(ctx))

	version, dirty, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	repo := sqlrepo.NewSQLMigrationRepository(resolver, "metadata")
	_, inserted, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 0, testutil.Int64(9), 5))
	require.NoError(t, err)
	assert.True(t, inserted)

	require.NoError(t, m.Down(ctx))
	_, err = repo.FindMigrations(ctx, "app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema missing")
}

func TestResources(t *testing.T) {
	for _, dbType := range []string{"sqlite", "postgres", "mysql"} {
		res, err := schema.Resources(dbType)
		require.NoError(t, err)
		_, err = res.Open("000001_create_batched_migrations.up.sql")
		assert.NoError(t, err, dbType)
	}
}
