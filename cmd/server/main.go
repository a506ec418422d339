package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/db"
	"wecodesec-tools/pkg/health"
	"wecodesec-tools/pkg/httpapi"
	"wecodesec-tools/pkg/logger"
	"wecodesec-tools/pkg/minio"
	"wecodesec-tools/pkg/otelcol"
	"wecodesec-tools/pkg/profiling"
	"wecodesec-tools/pkg/redis"
	"wecodesec-tools/pkg/server"
	"wecodesec-tools/services/aigateway"
	"wecodesec-tools/services/aitask"
	"wecodesec-tools/services/bootstrap"
	"wecodesec-tools/services/scheduler"
	"wecodesec-tools/services/ticket"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		bootstrap.Ensure,
		db.Module,
		redis.Module,
		minio.Module,
		bootstrap.Module,
		aigateway.Module,
		server.Module,
		httpapi.Module,
		health.Module,
		aitask.Server,
		ticket.Server,
		scheduler.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
