package migration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	appconfig "github.com/BaSui01/hitlflow/config"
)

// NewMigratorFromConfig 使用应用配置中的 database 段创建迁移器.
func NewMigratorFromConfig(cfg *appconfig.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig 按 Driver 拼接连接串并创建迁移器.
// sqlite 的 Name 字段是数据库文件路径.
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		dbURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		Logger:       logger,
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		Logger:       logger,
	})
}

// UpFromConfig 打开迁移器、执行全部待执行迁移并关闭.
// serve 在 store.auto_migrate 开启时调用.
func UpFromConfig(ctx context.Context, dbCfg appconfig.DatabaseConfig, logger *zap.Logger) error {
	m, err := NewMigratorFromDatabaseConfig(dbCfg, logger)
	if err != nil {
		return err
	}
	upErr := m.Up(ctx)
	closeErr := m.Close()
	return errors.Join(upErr, closeErr)
}
