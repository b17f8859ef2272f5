package engagement

import (
	"context"
	"errors"
	"fmt"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/pkg/repository"
	"testerhub-engagement/pkg/task"
	"testerhub-engagement/pkg/taskname"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/checkin"
	"testerhub-engagement/services/enrollment"
	"testerhub-engagement/services/payout"
	"testerhub-engagement/services/point"
	"testerhub-engagement/services/progress"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotEnrolled          = enrollment.ErrNotEnrolled
	ErrAlreadyRecordedToday = errutil.New(errutil.StatusConflict, "check-in already recorded today", errutil.WithReason("already_recorded_today"))
	ErrStorage              = errutil.New(errutil.StatusServiceUnavailable, "engagement storage unavailable", errutil.WithReason("storage_failure"))
	ErrInvariantViolation   = errutil.New(errutil.StatusInternal, "engagement ledger invariant violated", errutil.WithReason("invariant_violation"))
)

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      calendar.Clock
	graceDays  int
	calculator *payout.Calculator

	campaigns   *campaign.Service
	enrollments *enrollment.Service
	checkins    checkin.Repository
	points      *point.Service
	progress    *progress.Engine
	enqueuer    task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Clock       calendar.Clock
	Config      *config.Config
	Calculator  *payout.Calculator
	Campaigns   *campaign.Service
	Enrollments *enrollment.Service
	CheckIns    checkin.Repository
	Points      *point.Service
	Progress    *progress.Engine
	Enqueuer    task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	var enq task.Enqueuer = task.NopEnqueuer{}
	if p.Enqueuer != nil {
		enq = p.Enqueuer
	}

	return &Service{
		db:          p.DB,
		node:        p.Node,
		clock:       p.Clock,
		graceDays:   p.Config.Engagement.DropGraceDays,
		calculator:  p.Calculator,
		campaigns:   p.Campaigns,
		enrollments: p.Enrollments,
		checkins:    p.CheckIns,
		points:      p.Points,
		progress:    p.Progress,
		enqueuer:    enq,
	}
}

// RecordCheckIn records today's check-in for the tester and grants the day's
// reward. Everything from the enrollment lock to the point history entry is
// one transaction. It is never retried here: a caller retrying after an
// ambiguous failure must observe ErrAlreadyRecordedToday instead of being
// paid twice.
func (s *Service) RecordCheckIn(ctx context.Context, campaignID, testerID string) (*checkin.CheckIn, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("campaign_id", campaignID), zap.String("tester_id", testerID))
	today := s.clock.Today()

	var out *checkin.CheckIn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		en, err := s.enrollments.LockForCheckIn(ctx, tx, campaignID, testerID)
		if err != nil {
			return err
		}

		checkins := s.checkins.WithTx(tx)
		existing, err := checkins.FindOnDate(ctx, campaignID, testerID, today)
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		if existing != nil {
			return ErrAlreadyRecordedToday
		}

		prior, err := checkins.CountInCycle(ctx, campaignID, testerID, en.Cycle)
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		dayIndex := int(prior) + 1

		c, err := s.campaigns.Repository().WithTrx(tx).FindOne(ctx, &campaign.Campaign{ID: campaignID})
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		if c == nil {
			return campaign.ErrCampaignNotFound
		}

		reward, err := s.calculator.RewardCapped(c.Terms(), dayIndex, en.CumulativePoints)
		if err != nil {
			return err
		}

		ci := &checkin.CheckIn{
			ID:          s.node.Generate().String(),
			CampaignID:  campaignID,
			TesterID:    testerID,
			CheckInDate: today,
			DayIndex:    dayIndex,
			Cycle:       en.Cycle,
			Points:      reward,
		}
		if err := checkins.Create(ctx, ci); err != nil {
			if errors.Is(err, checkin.ErrDuplicate) {
				return ErrAlreadyRecordedToday
			}
			return errutil.Wrap(ErrStorage, err)
		}

		if err := s.enrollments.AddPoints(ctx, tx, en.ID, reward); err != nil {
			return err
		}

		// Days past the schedule are recorded but pay nothing.
		if reward > 0 {
			if _, err := s.points.Credit(ctx, tx, point.Entry{
				TesterID:    testerID,
				Amount:      reward,
				Reason:      fmt.Sprintf("Day %d check-in reward", dayIndex),
				CampaignID:  campaignID,
				ReferenceID: ci.ID,
				Metadata:    map[string]any{"day_index": dayIndex, "cycle": en.Cycle},
			}); err != nil {
				return err
			}
		}

		out = ci
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRecordedToday) {
			checkInDuplicates.Inc()
			zapLog.Info("check-in already recorded today")
		} else if !errors.Is(err, ErrNotEnrolled) {
			zapLog.Error("failed to record check-in", zap.Error(err))
		}
		return nil, err
	}

	checkInsRecorded.Inc()
	pointsGranted.Add(float64(out.Points))
	zapLog.Info("check-in recorded", zap.Int("day_index", out.DayIndex), zap.Int64("points", out.Points))

	s.progress.Invalidate(ctx, campaignID)
	s.enqueueEvaluate(ctx, campaignID, testerID)

	return out, nil
}

func (s *Service) enqueueEvaluate(ctx context.Context, campaignID, testerID string) {
	t, err := task.NewJSONTask(taskname.EnrollmentEvaluate, EvaluatePayload{CampaignID: campaignID, TesterID: testerID})
	if err == nil {
		_, err = s.enqueuer.Enqueue(ctx, t, asynq.Queue(taskname.QueueDefault), asynq.MaxRetry(3))
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to enqueue enrollment evaluation",
			zap.String("campaign_id", campaignID), zap.String("tester_id", testerID), zap.Error(err))
	}
}

func (s *Service) GetTesterStatus(ctx context.Context, campaignID string) (*progress.CampaignStatus, error) {
	return s.progress.GetStatus(ctx, campaignID)
}

func (s *Service) GetEnrollment(ctx context.Context, campaignID, testerID string) (*enrollment.Enrollment, error) {
	return s.enrollments.Get(ctx, campaignID, testerID)
}

func (s *Service) Join(ctx context.Context, campaignID, testerID string) (*enrollment.Enrollment, error) {
	e, err := s.enrollments.Join(ctx, campaignID, testerID)
	if err != nil {
		return nil, err
	}
	s.progress.Invalidate(ctx, campaignID)
	return e, nil
}

func (s *Service) Leave(ctx context.Context, campaignID, testerID string) (*enrollment.Enrollment, error) {
	e, err := s.enrollments.Leave(ctx, campaignID, testerID)
	if err != nil {
		return nil, err
	}
	s.progress.Invalidate(ctx, campaignID)
	return e, nil
}

// Evaluate applies the lifecycle rule to one enrollment and returns what was
// done. Enrollments that are not ONGOING are left alone.
func (s *Service) Evaluate(ctx context.Context, campaignID, testerID string) (progress.Verdict, error) {
	en, err := s.enrollments.Get(ctx, campaignID, testerID)
	if err != nil {
		return progress.Keep, err
	}
	if !en.IsOngoing() {
		return progress.Keep, nil
	}

	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return progress.Keep, err
	}

	return s.evaluate(ctx, c, en)
}

func (s *Service) evaluate(ctx context.Context, c *campaign.Campaign, en *enrollment.Enrollment) (progress.Verdict, error) {
	checkIns, err := repository.RetryRead(ctx, "checkin.list_tester", func(ctx context.Context) ([]*checkin.CheckIn, error) {
		return s.checkins.ListByTester(ctx, en.CampaignID, en.TesterID)
	})
	if err != nil {
		return progress.Keep, errutil.Wrap(ErrStorage, err)
	}

	today := s.clock.Today()
	verdict := progress.Decide(progress.CycleDates(checkIns, en.Cycle), en.CycleStartedOn, today, c.RequiredDays, s.graceDays)

	var changed bool
	switch verdict {
	case progress.Complete:
		changed, err = s.enrollments.MarkCompleted(ctx, nil, en.ID)
	case progress.Drop:
		changed, err = s.enrollments.MarkDropped(ctx, nil, en.ID)
	default:
		return progress.Keep, nil
	}
	if err != nil {
		return progress.Keep, err
	}
	if !changed {
		// Someone else moved it out of ONGOING first.
		return progress.Keep, nil
	}

	transitions.WithLabelValues(verdict.String()).Inc()
	logger.FromContext(ctx).Info("enrollment transitioned",
		zap.String("campaign_id", en.CampaignID),
		zap.String("tester_id", en.TesterID),
		zap.String("verdict", verdict.String()),
		zap.Stringer("date", today),
	)
	s.progress.Invalidate(ctx, en.CampaignID)
	return verdict, nil
}

type SweepResult struct {
	Evaluated int `json:"evaluated"`
	Completed int `json:"completed"`
	Dropped   int `json:"dropped"`
	Failed    int `json:"failed"`
}

// SweepCampaign evaluates every ONGOING enrollment of the campaign. One
// failing enrollment does not stop the others.
func (s *Service) SweepCampaign(ctx context.Context, campaignID string) (SweepResult, error) {
	var res SweepResult

	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return res, err
	}

	ongoing, err := s.enrollments.ListOngoingByCampaign(ctx, campaignID)
	if err != nil {
		return res, err
	}

	for _, en := range ongoing {
		res.Evaluated++
		v, err := s.evaluate(ctx, c, en)
		if err != nil {
			res.Failed++
			logger.FromContext(ctx).Warn("failed to evaluate enrollment",
				zap.String("enrollment_id", en.ID), zap.Error(err))
			continue
		}
		switch v {
		case progress.Complete:
			res.Completed++
		case progress.Drop:
			res.Dropped++
		}
	}

	logger.FromContext(ctx).Info("campaign swept",
		zap.String("campaign_id", campaignID),
		zap.Int("evaluated", res.Evaluated),
		zap.Int("completed", res.Completed),
		zap.Int("dropped", res.Dropped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// MyCampaign is one row of a tester's campaign list.
type MyCampaign struct {
	CampaignID       string            `json:"campaign_id"`
	AppName          string            `json:"app_name"`
	RequiredDays     int               `json:"required_days"`
	Status           enrollment.Status `json:"status"`
	Cycle            int               `json:"cycle"`
	CumulativePoints int64             `json:"cumulative_points"`
	CompletedDays    int               `json:"completed_days"`
	PerTesterShare   decimal.Decimal   `json:"per_tester_share"`
	progress.Analysis
}

// ListMyCampaigns lists every campaign the tester has joined with their
// progress in the current cycle.
func (s *Service) ListMyCampaigns(ctx context.Context, testerID string) ([]MyCampaign, error) {
	enrollments, err := s.enrollments.ListByTester(ctx, testerID)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	out := make([]MyCampaign, 0, len(enrollments))
	for _, en := range enrollments {
		c, err := s.campaigns.Get(ctx, en.CampaignID)
		if err != nil {
			return nil, err
		}

		checkIns, err := repository.RetryRead(ctx, "checkin.list_tester", func(ctx context.Context) ([]*checkin.CheckIn, error) {
			return s.checkins.ListByTester(ctx, en.CampaignID, testerID)
		})
		if err != nil {
			return nil, errutil.Wrap(ErrStorage, err)
		}

		share, err := s.calculator.PerTesterShare(c.Terms())
		if err != nil {
			return nil, err
		}

		dates := progress.CycleDates(checkIns, en.Cycle)
		out = append(out, MyCampaign{
			CampaignID:       c.ID,
			AppName:          c.AppName,
			RequiredDays:     c.RequiredDays,
			Status:           en.Status,
			Cycle:            en.Cycle,
			CumulativePoints: en.CumulativePoints,
			CompletedDays:    len(dates),
			PerTesterShare:   share.Round(2),
			Analysis:         progress.Analyze(dates, today, en.Status == enrollment.StatusDropped, s.graceDays),
		})
	}
	return out, nil
}

func (s *Service) PendingToday(ctx context.Context, testerID string) ([]*enrollment.Enrollment, error) {
	return s.enrollments.PendingToday(ctx, testerID)
}

// VerifyTester checks the tester's point ledger and that every enrollment's
// cumulative points equal the points on its check-ins. Divergence is reported,
// never repaired.
func (s *Service) VerifyTester(ctx context.Context, testerID string) error {
	zapLog := logger.FromContext(ctx).With(zap.String("tester_id", testerID))

	if err := s.points.Verify(ctx, testerID); err != nil {
		if errors.Is(err, point.ErrInvariantViolation) {
			invariantViolations.WithLabelValues("point_ledger").Inc()
		}
		return err
	}

	enrollments, err := s.enrollments.ListByTester(ctx, testerID)
	if err != nil {
		return err
	}

	for _, en := range enrollments {
		sum, err := repository.RetryRead(ctx, "checkin.sum_points", func(ctx context.Context) (int64, error) {
			return s.checkins.SumPoints(ctx, en.CampaignID, testerID)
		})
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		if sum != en.CumulativePoints {
			invariantViolations.WithLabelValues("cumulative_points").Inc()
			zapLog.Error("cumulative points diverge from check-ins",
				zap.String("campaign_id", en.CampaignID),
				zap.Int64("cumulative_points", en.CumulativePoints),
				zap.Int64("check_in_points", sum),
			)
			return errutil.Wrap(ErrInvariantViolation,
				fmt.Errorf("campaign %s: cumulative %d, check-ins %d", en.CampaignID, en.CumulativePoints, sum))
		}
	}
	return nil
}
