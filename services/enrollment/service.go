package enrollment

import (
	"context"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/db"
	"testerhub-engagement/pkg/db/option"
	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/pkg/featureflags"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/pkg/repository"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/checkin"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEnrollmentNotFound = errutil.New(errutil.StatusNotFound, "enrollment not found", errutil.WithReason("enrollment_not_found"))
	ErrNotEnrolled        = errutil.New(errutil.StatusUnprocessableEntity, "tester is not enrolled in an ongoing test", errutil.WithReason("not_enrolled"))
	ErrRejoinNotAllowed   = errutil.New(errutil.StatusUnprocessableEntity, "dropped testers may not rejoin this campaign", errutil.WithReason("rejoin_not_allowed"))
	ErrCampaignClosed     = errutil.New(errutil.StatusUnprocessableEntity, "campaign is not accepting testers", errutil.WithReason("campaign_closed"))
	ErrCampaignFull       = errutil.New(errutil.StatusConflict, "campaign has no free tester slots", errutil.WithReason("campaign_full"))
	ErrAlreadyCompleted   = errutil.New(errutil.StatusConflict, "enrollment already completed", errutil.WithReason("already_completed"))
	ErrStorage            = errutil.New(errutil.StatusServiceUnavailable, "enrollment storage unavailable", errutil.WithReason("storage_failure"))
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    calendar.Clock
	flags    featureflags.FeatureFlag
	rejoin   bool
	repo     repository.Repository[Enrollment]
	campaign repository.Repository[campaign.Campaign]
	checkins checkin.Repository
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Clock     calendar.Clock
	Config    *config.Config
	Flags     featureflags.FeatureFlag
	Campaigns *campaign.Service
	CheckIns  checkin.Repository
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		clock:    p.Clock,
		flags:    p.Flags,
		rejoin:   p.Config.Engagement.AllowRejoin,
		repo:     repository.ProvideStore[Enrollment](p.DB),
		campaign: p.Campaigns.Repository(),
		checkins: p.CheckIns,
	}
}

// Join enrolls a tester. Joining again while ONGOING or COMPLETED returns the
// existing enrollment. A DROPPED tester is re-activated on a new cycle when
// the rejoin policy allows it.
func (s *Service) Join(ctx context.Context, campaignID, testerID string) (*Enrollment, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("campaign_id", campaignID), zap.String("tester_id", testerID))
	today := s.clock.Today()

	var out *Enrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The campaign row lock serialises joins so capacity cannot be overrun.
		c, err := s.campaign.WithTrx(tx).FindOne(ctx, &campaign.Campaign{ID: campaignID}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		if c == nil {
			return campaign.ErrCampaignNotFound
		}

		existing, err := s.repo.WithTrx(tx).FindOne(ctx, &Enrollment{CampaignID: campaignID, TesterID: testerID})
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		if existing != nil && existing.Status != StatusDropped {
			out = existing
			return nil
		}

		if !c.IsOngoing() {
			return ErrCampaignClosed
		}

		taken, err := s.countSeats(ctx, tx, campaignID)
		if err != nil {
			return errutil.Wrap(ErrStorage, err)
		}
		if taken >= int64(c.TesterCapacity) {
			return ErrCampaignFull
		}

		if existing != nil {
			if !s.flags.Enabled(ctx, testerID, featureflags.AllowRejoin, s.rejoin) {
				return ErrRejoinNotAllowed
			}
			updates := map[string]any{
				"status":           StatusOngoing,
				"cycle":            gorm.Expr("cycle + 1"),
				"cycle_started_on": today,
				"dropped_at":       nil,
			}
			if err := s.repo.WithTrx(tx).Update(ctx, existing.ID, &updates); err != nil {
				return errutil.Wrap(ErrStorage, err)
			}
			out, err = s.repo.WithTrx(tx).FindOne(ctx, &Enrollment{ID: existing.ID})
			if err != nil {
				return errutil.Wrap(ErrStorage, err)
			}
			zapLog.Info("tester rejoined campaign", zap.Int("cycle", out.Cycle))
			return nil
		}

		out = &Enrollment{
			ID:             s.node.Generate().String(),
			CampaignID:     campaignID,
			TesterID:       testerID,
			Status:         StatusOngoing,
			Cycle:          1,
			CycleStartedOn: today,
		}
		if err := s.repo.WithTrx(tx).Create(ctx, out); err != nil {
			if db.IsUniqueViolation(err) {
				return errDuplicateJoin
			}
			return errutil.Wrap(ErrStorage, err)
		}
		zapLog.Info("tester joined campaign")
		return nil
	})

	// A concurrent join of the same pair won the insert; report its row.
	if err == errDuplicateJoin {
		return s.Get(ctx, campaignID, testerID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

var errDuplicateJoin = errutil.New(errutil.StatusConflict, "duplicate join")

func (s *Service) countSeats(ctx context.Context, tx *gorm.DB, campaignID string) (int64, error) {
	return s.repo.WithTrx(tx).Count(ctx, &Enrollment{CampaignID: campaignID}, option.ApplyOperator(option.Condition{
		Field:    "status",
		Operator: option.IN,
		Value:    []string{string(StatusOngoing), string(StatusCompleted)},
	}))
}

// Leave withdraws an ONGOING tester. Leaving twice is a no-op.
func (s *Service) Leave(ctx context.Context, campaignID, testerID string) (*Enrollment, error) {
	e, err := s.Get(ctx, campaignID, testerID)
	if err != nil {
		return nil, err
	}

	switch e.Status {
	case StatusDropped:
		return e, nil
	case StatusCompleted:
		return nil, ErrAlreadyCompleted
	}

	if _, err := s.MarkDropped(ctx, nil, e.ID); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("tester left campaign", zap.String("campaign_id", campaignID), zap.String("tester_id", testerID))
	return s.Get(ctx, campaignID, testerID)
}

func (s *Service) Get(ctx context.Context, campaignID, testerID string) (*Enrollment, error) {
	e, err := repository.RetryRead(ctx, "enrollment.get", func(ctx context.Context) (*Enrollment, error) {
		return s.repo.FindOne(ctx, &Enrollment{CampaignID: campaignID, TesterID: testerID})
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query enrollment", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}
	if e == nil {
		return nil, ErrEnrollmentNotFound
	}
	return e, nil
}

// LockForCheckIn loads the tester's enrollment with a row lock held until tx
// ends. Anything other than an ONGOING enrollment is ErrNotEnrolled.
func (s *Service) LockForCheckIn(ctx context.Context, tx *gorm.DB, campaignID, testerID string) (*Enrollment, error) {
	e, err := s.repo.WithTrx(tx).FindOne(ctx, &Enrollment{CampaignID: campaignID, TesterID: testerID}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Wrap(ErrStorage, err)
	}
	if e == nil || !e.IsOngoing() {
		return nil, ErrNotEnrolled
	}
	return e, nil
}

// AddPoints increments cumulative_points in the database, not from a value
// read earlier.
func (s *Service) AddPoints(ctx context.Context, tx *gorm.DB, id string, points int64) error {
	if points == 0 {
		return nil
	}
	updates := map[string]any{"cumulative_points": gorm.Expr("cumulative_points + ?", points)}
	if err := s.repo.WithTrx(tx).Update(ctx, id, &updates); err != nil {
		return errutil.Wrap(ErrStorage, err)
	}
	return nil
}

func (s *Service) ListByCampaign(ctx context.Context, campaignID string) ([]*Enrollment, error) {
	return s.list(ctx, &Enrollment{CampaignID: campaignID})
}

func (s *Service) ListOngoingByCampaign(ctx context.Context, campaignID string) ([]*Enrollment, error) {
	return s.list(ctx, &Enrollment{CampaignID: campaignID, Status: StatusOngoing})
}

func (s *Service) ListByTester(ctx context.Context, testerID string) ([]*Enrollment, error) {
	return s.list(ctx, &Enrollment{TesterID: testerID})
}

func (s *Service) list(ctx context.Context, query *Enrollment) ([]*Enrollment, error) {
	out, err := repository.RetryRead(ctx, "enrollment.list", func(ctx context.Context) ([]*Enrollment, error) {
		return s.repo.Find(ctx, query, option.WithOrder("created_at ASC, id ASC"))
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to list enrollments", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}
	return out, nil
}

// PendingToday lists the tester's ONGOING enrollments without a check-in
// today.
func (s *Service) PendingToday(ctx context.Context, testerID string) ([]*Enrollment, error) {
	ongoing, err := s.list(ctx, &Enrollment{TesterID: testerID, Status: StatusOngoing})
	if err != nil {
		return nil, err
	}
	if len(ongoing) == 0 {
		return []*Enrollment{}, nil
	}

	done, err := repository.RetryRead(ctx, "checkin.today", func(ctx context.Context) ([]string, error) {
		return s.checkins.CampaignIDsOn(ctx, testerID, s.clock.Today())
	})
	if err != nil {
		return nil, errutil.Wrap(ErrStorage, err)
	}
	checked := make(map[string]struct{}, len(done))
	for _, id := range done {
		checked[id] = struct{}{}
	}

	pending := make([]*Enrollment, 0, len(ongoing))
	for _, e := range ongoing {
		if _, ok := checked[e.CampaignID]; !ok {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// MarkDropped moves an ONGOING enrollment to DROPPED. It reports false when
// the enrollment had already left ONGOING.
func (s *Service) MarkDropped(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	return s.transition(ctx, tx, id, map[string]any{
		"status":     StatusDropped,
		"dropped_at": s.clock.Now().UTC(),
	})
}

// MarkCompleted moves an ONGOING enrollment to COMPLETED.
func (s *Service) MarkCompleted(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	return s.transition(ctx, tx, id, map[string]any{
		"status":       StatusCompleted,
		"completed_at": s.clock.Now().UTC(),
	})
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, id string, updates map[string]any) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	updates["updated_at"] = s.clock.Now().UTC()
	res := tx.WithContext(ctx).Model(&Enrollment{}).
		Where("id = ? AND status = ?", id, StatusOngoing).
		Updates(updates)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to update enrollment status", zap.String("enrollment_id", id), zap.Error(res.Error))
		return false, errutil.Wrap(ErrStorage, res.Error)
	}
	return res.RowsAffected == 1, nil
}
