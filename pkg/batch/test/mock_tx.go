package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/batchmig/pkg/batch/core/tx"
)

// MockTx is a testify mock of tx.Tx.
type MockTx struct {
	mock.Mock
}

// ExecuteUpdate mocks tx.TxExecutor.
func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteUpsert mocks tx.TxExecutor.
func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteUpdateColumns mocks tx.TxExecutor.
func (m *MockTx) ExecuteUpdateColumns(ctx context.Context, tableName string, query map[string]interface{}, values map[string]interface{}) (int64, error) {
	args := m.Called(ctx, tableName, query, values)
	return args.Get(0).(int64), args.Error(1)
}

// IsTableNotExistError mocks tx.TxExecutor. Without an expectation it returns false.
func (m *MockTx) IsTableNotExistError(err error) bool {
	for _, c := range m.ExpectedCalls {
		if c.Method == "IsTableNotExistError" {
			return m.Called(err).Bool(0)
		}
	}
	return false
}

// Savepoint mocks tx.Tx.
func (m *MockTx) Savepoint(name string) error {
	return m.Called(name).Error(0)
}

// RollbackToSavepoint mocks tx.Tx.
func (m *MockTx) RollbackToSavepoint(name string) error {
	return m.Called(name).Error(0)
}

// MockTxManager is a testify mock of tx.TransactionManager.
type MockTxManager struct {
	mock.Mock
}

// Begin records the call and returns the configured Tx or error.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

// Commit mocks tx.TransactionManager.
func (m *MockTxManager) Commit(t tx.Tx) error {
	return m.Called(t).Error(0)
}

// Rollback mocks tx.TransactionManager.
func (m *MockTxManager) Rollback(t tx.Tx) error {
	return m.Called(t).Error(0)
}

var _ tx.Tx = (*MockTx)(nil)
var _ tx.TransactionManager = (*MockTxManager)(nil)
