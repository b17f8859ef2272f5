package campaign

import (
	"context"

	"testerhub-engagement/pkg/db/option"
	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/pkg/repository"
	"testerhub-engagement/services/payout"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrCampaignNotFound = errutil.New(errutil.StatusNotFound, "campaign not found", errutil.WithReason("campaign_not_found"))
	ErrStorage          = errutil.New(errutil.StatusServiceUnavailable, "campaign storage unavailable", errutil.WithReason("storage_failure"))
)

type Service struct {
	node     *snowflake.Node
	schedule *payout.Schedule
	repo     repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Schedule *payout.Schedule
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:     p.Node,
		schedule: p.Schedule,
		repo:     repository.ProvideStore[Campaign](p.DB),
	}
}

// Repository exposes the store so other services can join it to their
// transactions.
func (s *Service) Repository() repository.Repository[Campaign] {
	return s.repo
}

type CreateParams struct {
	AppName        string
	RequiredDays   int
	TesterCapacity int
	Budget         int64
	CommissionRate decimal.Decimal
}

// Create registers a campaign after checking its terms against the payout
// schedule. Campaign management lives elsewhere; this is used for seeding.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Campaign, error) {
	c := &Campaign{
		ID:             s.node.Generate().String(),
		AppName:        p.AppName,
		RequiredDays:   p.RequiredDays,
		TesterCapacity: p.TesterCapacity,
		Budget:         p.Budget,
		CommissionRate: p.CommissionRate,
		Status:         StatusOngoing,
	}
	if c.RequiredDays == 0 {
		c.RequiredDays = s.schedule.Days()
	}

	if err := c.Terms().Validate(); err != nil {
		return nil, err
	}
	if err := s.schedule.Validate(c.RequiredDays); err != nil {
		return nil, errutil.ValidationFailed("payout schedule does not cover campaign", err,
			errutil.WithDetails(errutil.Detail{Field: "required_days", Message: err.Error()}))
	}

	if err := s.repo.Create(ctx, c); err != nil {
		logger.FromContext(ctx).Error("failed to create campaign", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.repo.FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return c, nil
}

func (s *Service) ListOngoing(ctx context.Context) ([]*Campaign, error) {
	out, err := s.repo.Find(ctx, &Campaign{Status: StatusOngoing}, option.WithOrder("created_at ASC"))
	if err != nil {
		return nil, errutil.Wrap(ErrStorage, err)
	}
	return out, nil
}

// MarkCompleted closes a campaign to new enrollments.
func (s *Service) MarkCompleted(ctx context.Context, id string) error {
	updates := map[string]any{"status": StatusCompleted}
	if err := s.repo.Update(ctx, id, &updates); err != nil {
		return errutil.Wrap(ErrStorage, err)
	}
	return nil
}
