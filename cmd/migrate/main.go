package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/db"
	"wecodesec-tools/pkg/logger"
	"wecodesec-tools/services/bootstrap"
)

// migrate creates the database (MySQL only) and the task tables, then exits.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		bootstrap.Ensure,
		db.Module,
		fx.Provide(bootstrap.NewService),
		fx.Invoke(migrate),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)
	if err := app.Err(); err != nil {
		zap.L().Error("migration failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.Stop(ctx)
}

func migrate(svc *bootstrap.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := svc.Migrate(ctx); err != nil {
		return err
	}
	zap.L().Info("migration complete")
	return nil
}
