// Package postgres provides the GORM DBProvider for PostgreSQL.
package postgres

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the key/value DSN expected by the pgx-based GORM driver.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("password=%s", c.Password),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	if c.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", c.Schema))
	}
	return strings.Join(parts, " ")
}

// PostgresDBProvider implements database.DBProvider for PostgreSQL.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the PostgreSQL provider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres")}
}
