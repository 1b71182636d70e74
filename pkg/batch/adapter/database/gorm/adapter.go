// Package gorm implements the database adapter on top of GORM.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// Write operations accepted by ExecuteUpdate.
const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
)

// TableNamer is implemented by entities with an explicit table name.
type TableNamer interface {
	TableName() string
}

var tableNamerType = reflect.TypeOf((*TableNamer)(nil)).Elem()

// applyTableName scopes db to the table of model, which may be an entity or a slice of entities.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	val := reflect.ValueOf(model)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		elemType := val.Type().Elem()
		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		if reflect.PointerTo(elemType).Implements(tableNamerType) {
			if namer, ok := reflect.New(elemType).Interface().(TableNamer); ok {
				return db.Table(namer.TableName())
			}
		}
	}
	return db.Model(model)
}

// GormDBAdapter implements database.DBConnection.
type GormDBAdapter struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    dbconfig.DatabaseConfig
	dbType string
	name   string
}

// NewGormDBAdapter wraps an open *gorm.DB.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) database.DBConnection {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Errorf("Failed to get underlying *sql.DB for '%s': %v", name, err)
	}
	return &GormDBAdapter{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		dbType: cfg.Type,
		name:   name,
	}
}

// GetGormDB returns the wrapped *gorm.DB. Only the gorm adapter package should need it.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

// Close implements database.DBConnection.
func (a *GormDBAdapter) Close() error {
	if a.sqlDB == nil {
		return nil
	}
	logger.Infof("Closing database connection '%s'...", a.name)
	return a.sqlDB.Close()
}

// Type implements database.DBConnection.
func (a *GormDBAdapter) Type() string {
	return a.dbType
}

// Name implements database.DBConnection.
func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection implements database.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection '%s' is not initialized", a.name)
	}
	return a.sqlDB.PingContext(ctx)
}

// Config implements database.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements database.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// ExecuteQuery implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	return a.ExecuteQueryAdvanced(ctx, target, query, "", 0)
}

// ExecuteQueryAdvanced implements database.DBExecutor.
// Find never yields gorm.ErrRecordNotFound, so callers detect "no rows" themselves.
func (a *GormDBAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := where(applyTableName(a.db.WithContext(ctx), target), query)
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db.Find(target).Error
}

// Count implements database.DBExecutor.
func (a *GormDBAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	db := where(applyTableName(a.db.WithContext(ctx), model), query)
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Pluck implements database.DBExecutor.
func (a *GormDBAdapter) Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error {
	db := where(applyTableName(a.db.WithContext(ctx), model), query)
	return db.Distinct().Pluck(column, target).Error
}

// ExecuteUpdate implements tx.TxExecutor. GORM's implicit transaction is skipped.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	return executeUpdate(db, model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	return executeUpsert(db, model, tableName, conflictColumns, updateColumns)
}

// ExecuteUpdateColumns implements tx.TxExecutor.
func (a *GormDBAdapter) ExecuteUpdateColumns(ctx context.Context, tableName string, query map[string]interface{}, values map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	return executeUpdateColumns(db, tableName, query, values)
}

// IsTableNotExistError implements tx.TxExecutor.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(err)
}

func executeUpdate(db *gorm.DB, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case OperationCreate:
		result = db.Create(model)
	case OperationUpdate:
		// The primary key of model is added to the WHERE clause by GORM.
		result = db.Model(model).Where(query).Updates(model)
	case OperationDelete:
		result = where(db, query).Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func executeUpsert(db *gorm.DB, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func executeUpdateColumns(db *gorm.DB, tableName string, query map[string]interface{}, values map[string]interface{}) (int64, error) {
	if tableName == "" {
		return 0, fmt.Errorf("table name is required for column updates")
	}
	if len(query) == 0 {
		return 0, fmt.Errorf("refusing to update every row of %s: empty condition", tableName)
	}
	if len(values) == 0 {
		return 0, nil
	}
	result := where(db.Table(tableName), query).Updates(values)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// where adds query to db. tx.NotNull and tx.Between values become SQL expressions, the
// rest go through GORM's map conditions.
func where(db *gorm.DB, query map[string]interface{}) *gorm.DB {
	conds := make(map[string]interface{}, len(query))
	var exprs []string
	for col, v := range query {
		if _, ok := v.(tx.Between); ok || v == tx.NotNull {
			exprs = append(exprs, col)
			continue
		}
		conds[col] = v
	}
	if len(conds) > 0 {
		db = db.Where(conds)
	}
	sort.Strings(exprs)
	for _, col := range exprs {
		column := clause.Column{Name: col}
		if r, ok := query[col].(tx.Between); ok {
			db = db.Where(clause.Expr{SQL: "? BETWEEN ? AND ?", Vars: []interface{}{column, r.Min, r.Max}})
			continue
		}
		db = db.Where(clause.Expr{SQL: "? IS NOT NULL", Vars: []interface{}{column}})
	}
	return db
}

// isTableNotExistError matches the "missing table" errors of PostgreSQL, MySQL and SQLite.
func isTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) ||
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) ||
		strings.Contains(msg, "no such table:")
}

var _ database.DBConnection = (*GormDBAdapter)(nil)
