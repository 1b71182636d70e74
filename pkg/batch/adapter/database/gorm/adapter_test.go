package gorm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
)

type account struct {
	ID      int64 `gorm:"primaryKey"`
	Owner   string
	Balance int64
}

func (account) TableName() string { return "accounts" }

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.BatchMig.AdapterConfigs["database"] = map[string]interface{}{
		"metadata": map[string]interface{}{
			"type":     "sqlite",
			"database": filepath.Join(t.TempDir(), "adapter.db"),
			"pool":     map[string]interface{}{"max_open_conns": 1},
		},
		"broken": map[string]interface{}{"type": "oracle"},
	}
	return cfg
}

func newConnection(t *testing.T) (database.DBConnection, *gormadapter.GormDBConnectionResolver) {
	t.Helper()
	cfg := newConfig(t)
	resolver := gormadapter.NewGormDBConnectionResolver(gormadapter.ResolverParams{
		DBProviders: []database.DBProvider{sqlite.NewProvider(cfg)},
		Cfg:         cfg,
	})
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveDBConnection(context.Background(), "metadata")
	require.NoError(t, err)

	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)
	_, err = sqlDB.Exec(`CREATE TABLE accounts (id INTEGER PRIMARY KEY, owner TEXT UNIQUE NOT NULL, balance INTEGER NOT NULL)`)
	require.NoError(t, err)
	return conn, resolver
}

func TestDecodeDatabaseConfig(t *testing.T) {
	cfg := newConfig(t)

	dbCfg, err := gormadapter.DecodeDatabaseConfig(cfg, "metadata")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", dbCfg.Type)
	assert.Equal(t, 1, dbCfg.Pool.MaxOpenConns)

	_, err = gormadapter.DecodeDatabaseConfig(cfg, "missing")
	assert.ErrorContains(t, err, "'missing' not found")

	_, err = gormadapter.DecodeDatabaseConfig(config.NewConfig(), "metadata")
	assert.ErrorContains(t, err, "no 'adapter.database' configuration found")
}

func TestResolver(t *testing.T) {
	conn, resolver := newConnection(t)
	ctx := context.Background()

	assert.Equal(t, "sqlite", conn.Type())
	assert.Equal(t, "metadata", conn.Name())

	again, err := resolver.ResolveDBConnection(ctx, "metadata")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = resolver.ResolveDBConnection(ctx, "broken")
	assert.ErrorContains(t, err, "no DBProvider for type 'oracle'")

	_, err = gormadapter.Open(dbconfig.DatabaseConfig{Type: "oracle"}, "SILENT")
	assert.ErrorContains(t, err, "no dialector registered")
}

func TestExecutor(t *testing.T) {
	conn, _ := newConnection(t)
	ctx := context.Background()

	accounts := []account{{ID: 1, Owner: "ada", Balance: 10}, {ID: 2, Owner: "bob", Balance: 20}}
	n, err := conn.ExecuteUpdate(ctx, &accounts, gormadapter.OperationCreate, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := conn.Count(ctx, &account{}, map[string]interface{}{"owner": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var found []account
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &found, nil, "balance desc", 1))
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].Owner)

	n, err = conn.ExecuteUpdateColumns(ctx, "accounts", map[string]interface{}{"id": 1}, map[string]interface{}{"balance": 15})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = conn.ExecuteUpdateColumns(ctx, "accounts", nil, map[string]interface{}{"balance": 0})
	assert.ErrorContains(t, err, "empty condition")

	dup := []account{{ID: 3, Owner: "ada", Balance: 99}}
	_, err = conn.ExecuteUpsert(ctx, &dup, "", []string{"owner"}, nil)
	require.NoError(t, err)

	var owners []string
	require.NoError(t, conn.Pluck(ctx, &account{}, "owner", &owners, nil))
	assert.ElementsMatch(t, []string{"ada", "bob"}, owners)

	var ada []account
	require.NoError(t, conn.ExecuteQuery(ctx, &ada, map[string]interface{}{"owner": "ada"}))
	require.Len(t, ada, 1)
	assert.Equal(t, int64(15), ada[0].Balance)

	_, err = conn.ExecuteUpdate(ctx, &account{}, "MERGE", "", nil)
	assert.ErrorContains(t, err, "unsupported update operation")

	var missing []account
	err = conn.ExecuteQuery(ctx, &missing, map[string]interface{}{"x": 1})
	assert.Error(t, err)
	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)
	_, err = sqlDB.Exec(`SELECT * FROM no_table`)
	assert.True(t, conn.IsTableNotExistError(err))
}

func TestTransactionManager(t *testing.T) {
	conn, resolver := newConnection(t)
	ctx := context.Background()
	tm := gormadapter.NewGormTransactionManager(resolver, "metadata")

	err := tx.RunInTx(ctx, tm, func(ctx context.Context) error {
		txn, ok := tx.FromContext(ctx)
		if !ok {
			return errors.New("no transaction in context")
		}
		_, err := txn.ExecuteUpdate(ctx, &account{ID: 1, Owner: "ada", Balance: 1}, gormadapter.OperationCreate, "", nil)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tx.RunInTx(ctx, tm, func(ctx context.Context) error {
		txn, _ := tx.FromContext(ctx)
		if _, err := txn.ExecuteUpdate(ctx, &account{ID: 2, Owner: "bob", Balance: 2}, gormadapter.OperationCreate, "", nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := conn.Count(ctx, &account{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

type lease struct {
	ID     int64 `gorm:"primaryKey"`
	Holder *string
}

func (lease) TableName() string { return "leases" }

func TestExecutor_ExpressionConditions(t *testing.T) {
	conn, _ := newConnection(t)
	ctx := context.Background()
	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)
	_, err = sqlDB.Exec(`CREATE TABLE leases (id INTEGER PRIMARY KEY, holder TEXT)`)
	require.NoError(t, err)

	holder := "worker-1"
	leases := []lease{{ID: 1, Holder: &holder}, {ID: 2}}
	_, err = conn.ExecuteUpdate(ctx, &leases, gormadapter.OperationCreate, "", nil)
	require.NoError(t, err)

	held, err := conn.Count(ctx, &lease{}, map[string]interface{}{"holder": tx.NotNull})
	require.NoError(t, err)
	assert.Equal(t, int64(1), held)

	n, err := conn.ExecuteUpdateColumns(ctx, "leases", map[string]interface{}{"id": 2, "holder": tx.NotNull}, map[string]interface{}{"holder": nil})
	require.NoError(t, err)
	assert.Zero(t, n, "a row with a NULL column does not match NotNull")

	n, err = conn.ExecuteUpdateColumns(ctx, "leases", map[string]interface{}{"id": 1, "holder": tx.NotNull}, map[string]interface{}{"holder": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	free, err := conn.Count(ctx, &lease{}, map[string]interface{}{"holder": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(2), free)
	var ranged []lease
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &ranged, map[string]interface{}{"id": tx.Between{Min: 2, Max: 5}}, "id ASC", 0))
	require.Len(t, ranged, 1)
	assert.Equal(t, int64(2), ranged[0].ID)

	n, err = conn.ExecuteUpdateColumns(ctx, "leases", map[string]interface{}{"id": tx.Between{Min: 1, Max: 2}, "holder": nil}, map[string]interface{}{"holder": "worker-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
