package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a GORM transaction.
type GormTxAdapter struct {
	db *gorm.DB
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.db.WithContext(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.db.WithContext(ctx), model, tableName, conflictColumns, updateColumns)
}

// ExecuteUpdateColumns implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdateColumns(ctx context.Context, tableName string, query map[string]interface{}, values map[string]interface{}) (int64, error) {
	return executeUpdateColumns(t.db.WithContext(ctx), tableName, query, values)
}

// IsTableNotExistError implements tx.TxExecutor.
func (t *GormTxAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(err)
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// GormTransactionManager implements tx.TransactionManager. It resolves the connection
// on every Begin so a reconnect by the resolver is picked up.
type GormTransactionManager struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

// NewGormTransactionManager creates a transaction manager for the named connection.
func NewGormTransactionManager(dbResolver database.DBConnectionResolver, dbName string) tx.TransactionManager {
	return &GormTransactionManager{dbResolver: dbResolver, dbName: dbName}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	adapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("connection '%s' is %T, not *GormDBAdapter", m.dbName, conn)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	gormTx := adapter.GetGormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	g, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type %T: expected *GormTxAdapter", t)
	}
	return g.db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	g, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type %T: expected *GormTxAdapter", t)
	}
	return g.db.Rollback().Error
}

var _ tx.Tx = (*GormTxAdapter)(nil)
