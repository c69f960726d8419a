package db

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/looplj/agentpay/internal/objects"
)

// Models lists every table owned by the service.
var Models = []any{
	&objects.CapabilityGrant{},
	&objects.StrategyPermission{},
	&objects.ShardRecord{},
	&objects.ExecutionRecord{},
	&objects.WalletBinding{},
}

func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Dialect {
	case "postgres", "pgx", "postgresdb", "pg", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite3", "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("invalid dialect: %s", cfg.Dialect)
	}

	level := gormlogger.Warn
	if cfg.Debug {
		level = gormlogger.Info
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewLogger(level, cfg.SlowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return gdb, nil
}

// Migrate creates or updates the schema. The one-active-grant-per-pair rule needs a partial
// index, which struct tags cannot express.
func Migrate(ctx context.Context, gdb *gorm.DB) error {
	gdb = gdb.WithContext(ctx)

	if err := gdb.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	const activePairIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_grant_owner_signer
ON capability_grants (owner_address, signer_address) WHERE status = 'active'`

	if err := gdb.Exec(activePairIndex).Error; err != nil {
		return fmt.Errorf("create active grant index: %w", err)
	}

	return nil
}

func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
