package main

import (
	"log"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/db"
	"testerhub-engagement/pkg/featureflags"
	"testerhub-engagement/pkg/gen"
	"testerhub-engagement/pkg/health"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/pkg/otelcol"
	"testerhub-engagement/pkg/profiling"
	"testerhub-engagement/pkg/redis"
	"testerhub-engagement/pkg/server"
	"testerhub-engagement/pkg/task"
	"testerhub-engagement/services/bootstrap"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/checkin"
	"testerhub-engagement/services/engagement"
	"testerhub-engagement/services/enrollment"
	"testerhub-engagement/services/payout"
	"testerhub-engagement/services/point"
	"testerhub-engagement/services/progress"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		calendar.Module,
		featureflags.Module,
		health.Module,
		task.Client,
		bootstrap.Module,
		payout.Module,
		campaign.Module,
		checkin.Module,
		enrollment.Module,
		point.Module,
		progress.Module,
		engagement.Module,
		engagement.HTTP,
		engagement.GRPC,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
