package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/config"
	"github.com/BaSui01/hitlflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}
	if err := migrateCommand(args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrateCommand 解析参数、打开迁移器并执行子命令
func migrateCommand(command string, args []string) error {
	if !slices.Contains(migration.Commands, command) {
		printMigrateUsage()
		return fmt.Errorf("unknown migrate subcommand: %s", command)
	}

	fs := flag.NewFlagSet("migrate "+command, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	dbURL := fs.String("db-url", "", "Database connection URL (default: from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	migrator, err := openMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := migration.NewCLI(migrator).Run(ctx, command, fs.Args())
	return errors.Join(runErr, migrator.Close())
}

// openMigrator 优先使用命令行给出的连接，否则读取配置文件与环境变量
func openMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if dbURL != "" {
		if dbType == "" {
			return nil, fmt.Errorf("--db-type is required with --db-url")
		}
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  hitlflow migrate <subcommand> [options] [argument]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations
  steps <n>   Apply n migrations (negative n rolls back)
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show database and migration details

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  hitlflow migrate up
  hitlflow migrate up --config /etc/hitlflow/config.yaml
  hitlflow migrate status
  hitlflow migrate goto --db-type sqlite --db-url "file:hitl.db?mode=rwc" 1`)
}
