package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/config"
)

var Module = fx.Module("bootstrap",
	fx.Provide(
		NewService,
	),
	fx.Invoke(runBootstrap),
)

// A failed migration is logged and the server keeps starting; the readiness
// probe reports the broken database.
func runBootstrap(lc fx.Lifecycle, b *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := b.Migrate(ctx); err != nil {
				zap.L().Warn("[bootstrap] continuing without migrated tables", zap.Error(err))
			}
			return nil
		},
	})
}

// Ensure creates the MySQL schema before the database module connects. List
// it ahead of db.Module.
var Ensure = fx.Module("bootstrap.ensure",
	fx.Invoke(ensureDatabase),
)

func ensureDatabase(cfg *config.Config) {
	if err := EnsureDatabase(cfg); err != nil {
		zap.L().Warn("[bootstrap] could not ensure database exists", zap.Error(err))
	}
}
