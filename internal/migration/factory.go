package migration

import (
	"fmt"

	"github.com/o3willard-AI/alcs-sub001/config"
)

// NewMigratorFromConfig creates a migrator for the configured database
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from database settings.
// An explicit URL wins over the individual connection fields.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	dbURL := dbCfg.URL
	switch {
	case dbURL != "" && dbType == DatabaseTypeSQLite:
		dbURL = SQLiteURL(dbURL)
	case dbURL != "":
	case dbType == DatabaseTypeSQLite:
		// Name 字段即数据库文件路径
		dbURL = SQLiteURL(dbCfg.Name)
	default:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	}

	return NewMigratorFromURL(string(dbType), dbURL)
}

// NewMigratorFromURL creates a migrator from a driver name and URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
