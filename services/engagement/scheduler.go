package engagement

import (
	"context"
	"fmt"
	"time"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/task"
	"testerhub-engagement/pkg/taskname"
	"testerhub-engagement/services/campaign"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues one sweep per ONGOING campaign on
// ENGAGEMENT.SWEEP_SCHEDULE.
type Scheduler struct {
	cron      *cron.Cron
	spec      string
	clock     calendar.Clock
	campaigns *campaign.Service
	enqueuer  task.Enqueuer
}

type SchedulerParams struct {
	fx.In
	Config    *config.Config
	Clock     calendar.Clock
	Campaigns *campaign.Service
	Enqueuer  task.Enqueuer
}

func NewScheduler(p SchedulerParams) (*Scheduler, error) {
	loc, err := time.LoadLocation(p.Config.Engagement.Timezone)
	if err != nil {
		return nil, err
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(zap.L().Named("cron")))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:      c,
		spec:      p.Config.Engagement.SweepSchedule,
		clock:     p.Clock,
		campaigns: p.Campaigns,
		enqueuer:  p.Enqueuer,
	}, nil
}

func startScheduler(lc fx.Lifecycle, s *Scheduler) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.EnqueueSweeps(context.Background()) }); err != nil {
		return fmt.Errorf("schedule campaign sweep %q: %w", s.spec, err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			zap.L().Info("[Scheduler] campaign sweep scheduled", zap.String("schedule", s.spec))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

// EnqueueSweeps enqueues a sweep for every ONGOING campaign and returns how
// many were queued. Tasks carry the day in their id so a rerun on the same
// day does not queue duplicates.
func (s *Scheduler) EnqueueSweeps(ctx context.Context) int {
	start := time.Now()
	day := s.clock.Today().String()

	campaigns, err := s.campaigns.ListOngoing(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] failed to list campaigns", zap.Error(err))
		return 0
	}

	var queued int
	for _, c := range campaigns {
		t, err := task.NewJSONTask(taskname.CampaignSweep, SweepPayload{CampaignID: c.ID})
		if err != nil {
			zap.L().Error("[Scheduler] failed to build sweep task", zap.Error(err))
			continue
		}

		_, err = s.enqueuer.Enqueue(ctx, t,
			asynq.Queue(taskname.QueueLow),
			asynq.TaskID(fmt.Sprintf("%s:%s:%s", taskname.CampaignSweep, c.ID, day)),
			asynq.Retention(24*time.Hour),
		)
		if err != nil {
			zap.L().Warn("[Scheduler] failed to enqueue sweep", zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		queued++
	}

	zap.L().Info("[Scheduler] sweeps enqueued",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("queued", queued),
		zap.Duration("duration", time.Since(start)),
	)
	return queued
}
