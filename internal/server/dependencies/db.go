package dependencies

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/server/db"
)

// NewDB opens the database, migrates the schema and closes it on stop.
func NewDB(lc fx.Lifecycle, cfg db.Config) (*gorm.DB, error) {
	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(context.Background(), gdb); err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	log.Info(context.Background(), "database ready", log.String("dialect", cfg.Dialect))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close(gdb)
		},
	})

	return gdb, nil
}
