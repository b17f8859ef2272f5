package main

import (
	"context"
	"flag"
	"log"
	"time"

	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/db"
	"testerhub-engagement/pkg/gen"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/services/bootstrap"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/payout"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var (
	appName    = flag.String("app", "", "app under test")
	capacity   = flag.Int("capacity", 20, "tester slots")
	budget     = flag.Int64("budget", 10000, "campaign budget in points")
	commission = flag.String("commission", "0.2", "platform commission rate in [0,1)")
	days       = flag.Int("days", 0, "required days, defaults to the payout schedule length")
)

func main() {
	flag.Parse()
	if *appName == "" {
		log.Fatal("-app is required")
	}
	rate, err := decimal.NewFromString(*commission)
	if err != nil {
		log.Fatalf("invalid -commission: %v", err)
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		bootstrap.Module,
		payout.Module,
		campaign.Module,
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, svc *campaign.Service) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					c, err := svc.Create(ctx, campaign.CreateParams{
						AppName:        *appName,
						RequiredDays:   *days,
						TesterCapacity: *capacity,
						Budget:         *budget,
						CommissionRate: rate,
					})
					if err != nil {
						return err
					}
					zap.L().Info("campaign created", zap.String("campaign_id", c.ID), zap.Int("required_days", c.RequiredDays))
					return sd.Shutdown()
				},
			})
		}),
		fx.StartTimeout(30 * time.Second),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}
