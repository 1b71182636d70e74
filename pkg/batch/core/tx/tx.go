// Package tx abstracts transaction management so repositories can run the same
// write operations with or without an enclosing transaction.
package tx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// TxExecutor defines the write operations available both on a plain connection and
// inside a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs an INSERT ("CREATE"), UPDATE or DELETE for the given model.
	// query is an AND-combined map of column conditions.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, resolving conflicts on conflictColumns. An empty
	// updateColumns means ON CONFLICT DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteUpdateColumns updates the given columns on every row of tableName matching query.
	// A nil value in query matches NULL, NotNull matches NOT NULL, Between matches an
	// inclusive range and a slice value matches IN.
	ExecuteUpdateColumns(ctx context.Context, tableName string, query map[string]interface{}, values map[string]interface{}) (rowsAffected int64, err error)

	// IsTableNotExistError reports whether err means the target table is missing.
	IsTableNotExistError(err error) bool
}

type notNull struct{}

// NotNull is a query value matching rows whose column is not NULL.
var NotNull = notNull{}

// Between is a query value matching column values in [Min, Max].
type Between struct {
	Min interface{}
	Max interface{}
}

// Tx is an ongoing transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a named savepoint.
	Savepoint(name string) error
	// RollbackToSavepoint rolls back to a named savepoint.
	RollbackToSavepoint(name string) error
}

// TransactionManager manages the transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

type txContextKey struct{}

// WithTx returns a context carrying t. Repositories pick it up for their writes.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txContextKey{}).(Tx)
	return t, ok
}

// RunInTx runs fn inside a transaction begun on tm. The transaction is committed when
// fn returns nil and rolled back otherwise. A nil tm runs fn directly.
func RunInTx(ctx context.Context, tm TransactionManager, fn func(ctx context.Context) error) (err error) {
	if tm == nil {
		return fn(ctx)
	}
	t, err := tm.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tm.Rollback(t); rbErr != nil {
				logger.Errorf("Rollback after panic failed: %v", rbErr)
			}
			panic(p)
		}
	}()

	if err = fn(WithTx(ctx, t)); err != nil {
		if rbErr := tm.Rollback(t); rbErr != nil {
			logger.Errorf("Rollback failed: %v (original error: %v)", rbErr, err)
		}
		return err
	}
	if err = tm.Commit(t); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
