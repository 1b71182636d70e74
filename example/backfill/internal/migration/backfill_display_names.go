// Package migration holds the batched migrations of the backfill example.
package migration

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	support "github.com/tigerroll/batchmig/pkg/batch/core/config/support"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// Project is the project the example registers its migrations under.
const Project = "backfill-example"

// BackfillDisplayNamesFilename identifies the display name backfill.
const BackfillDisplayNamesFilename = "20240315093000_backfill_user_display_names"

// AppDBRef names the adapter.database connection holding the users table.
const AppDBRef = "app"

// BackfillDisplayNames fills users.display_name from first_name and last_name.
// Rows that already have a display name are left alone, so re-running a range is safe.
type BackfillDisplayNames struct {
	resolver database.DBConnectionResolver
}

// NewBackfillDisplayNames creates the migration.
func NewBackfillDisplayNames(resolver database.DBConnectionResolver) *BackfillDisplayNames {
	return &BackfillDisplayNames{resolver: resolver}
}

type user struct {
	ID int64 `gorm:"column:id"`
}

func (user) TableName() string { return "users" }

// displayNameExpr builds "first_name last_name" in the dialect of dbType.
func displayNameExpr(dbType string) clause.Expr {
	if dbType == "mysql" {
		return gorm.Expr("CONCAT(first_name, ' ', last_name)")
	}
	return gorm.Expr("first_name || ' ' || last_name")
}

// Parameters implements model.Definition. The range covers every user id; an empty
// table yields a nil Max.
func (b *BackfillDisplayNames) Parameters(ctx context.Context) (model.MigrationParameters, error) {
	conn, err := b.resolver.ResolveDBConnection(ctx, AppDBRef)
	if err != nil {
		return model.MigrationParameters{}, err
	}
	var first, last []user
	if err := conn.ExecuteQueryAdvanced(ctx, &first, nil, "id ASC", 1); err != nil {
		return model.MigrationParameters{}, fmt.Errorf("failed to read the users id range: %w", err)
	}
	if len(first) == 0 {
		logger.Infof("users is empty; nothing to backfill.")
		return model.MigrationParameters{}, nil
	}
	if err := conn.ExecuteQueryAdvanced(ctx, &last, nil, "id DESC", 1); err != nil {
		return model.MigrationParameters{}, fmt.Errorf("failed to read the users id range: %w", err)
	}
	max := last[0].ID
	logger.Infof("Backfill covers user ids %d..%d.", first[0].ID, max)
	return model.MigrationParameters{Min: first[0].ID, Max: &max}, nil
}

// Execute implements model.Definition.
func (b *BackfillDisplayNames) Execute(ctx context.Context, min, max int64) (model.JobData, error) {
	conn, err := b.resolver.ResolveDBConnection(ctx, AppDBRef)
	if err != nil {
		return nil, err
	}
	n, err := conn.ExecuteUpdateColumns(ctx, "users",
		map[string]interface{}{"id": tx.Between{Min: min, Max: max}, "display_name": nil},
		map[string]interface{}{"display_name": displayNameExpr(conn.Type())},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to backfill users [%d, %d]: %w", min, max, err)
	}
	return model.JobData{"updated": n}, nil
}

// Module contributes the example's migrations to the registry.
var Module = fx.Options(
	support.ProvideMigration(Project, BackfillDisplayNamesFilename, NewBackfillDisplayNames),
)
