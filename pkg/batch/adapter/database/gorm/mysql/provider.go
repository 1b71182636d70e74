// Package mysql provides the GORM DBProvider for MySQL.
package mysql

import (
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the DSN with the driver's own formatter so credentials
// containing reserved characters are escaped.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.MultiStatements = true
	return dsn.FormatDSN()
}

// MySQLDBProvider implements database.DBProvider for MySQL.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the MySQL provider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}
