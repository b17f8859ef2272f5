package payout

import (
	"testerhub-engagement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payout",
	fx.Provide(
		ProvideSchedule,
		NewCalculator,
	),
)

// ProvideSchedule loads ENGAGEMENT.PAYOUT_SCHEDULE, or the default table, and
// refuses to start when it does not add up to 100% over REQUIRED_DAYS.
func ProvideSchedule(cfg *config.Config) (*Schedule, error) {
	s := DefaultSchedule()
	if len(cfg.Engagement.PayoutSchedule) > 0 {
		var err error
		if s, err = FromPercentages(cfg.Engagement.PayoutSchedule); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(cfg.Engagement.RequiredDays); err != nil {
		zap.L().Error("invalid payout schedule", zap.Error(err))
		return nil, err
	}

	return s, nil
}
