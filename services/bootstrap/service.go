package bootstrap

import (
	"context"
	"fmt"

	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/checkin"
	"testerhub-engagement/services/enrollment"
	"testerhub-engagement/services/point"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the engagement services own, in dependency order.
func Models() []any {
	return []any{
		&campaign.Campaign{},
		&enrollment.Enrollment{},
		&checkin.CheckIn{},
		&point.Balance{},
		&point.History{},
	}
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Migrate creates or updates the schema, including the unique indexes the
// check-in and ledger writes rely on.
func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] schema migration failed", zap.Error(err))
		return fmt.Errorf("migrate schema: %w", err)
	}
	zap.L().Info("[bootstrap] schema is up to date")
	return nil
}
