package checkin

import (
	"context"
	"errors"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/db"

	"gorm.io/gorm"
)

// ErrDuplicate is returned by Create when the tester already has a check-in
// for that campaign and day.
var ErrDuplicate = errors.New("checkin: already recorded for this day")

// Repository is the append-only check-in ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, c *CheckIn) error
	FindOnDate(ctx context.Context, campaignID, testerID string, date calendar.Date) (*CheckIn, error)
	CountInCycle(ctx context.Context, campaignID, testerID string, cycle int) (int64, error)
	ListByTester(ctx context.Context, campaignID, testerID string) ([]*CheckIn, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*CheckIn, error)
	SumPoints(ctx context.Context, campaignID, testerID string) (int64, error)
	CampaignIDsOn(ctx context.Context, testerID string, date calendar.Date) ([]string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, c *CheckIn) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *gormRepository) FindOnDate(ctx context.Context, campaignID, testerID string, date calendar.Date) (*CheckIn, error) {
	var c CheckIn
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND tester_id = ? AND check_in_date = ?", campaignID, testerID, date).
		Take(&c).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) CountInCycle(ctx context.Context, campaignID, testerID string, cycle int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&CheckIn{}).
		Where("campaign_id = ? AND tester_id = ? AND cycle = ?", campaignID, testerID, cycle).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) ListByTester(ctx context.Context, campaignID, testerID string) ([]*CheckIn, error) {
	var out []*CheckIn
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND tester_id = ?", campaignID, testerID).
		Order("check_in_date ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*CheckIn, error) {
	var out []*CheckIn
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("tester_id ASC, check_in_date ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) SumPoints(ctx context.Context, campaignID, testerID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&CheckIn{}).
		Where("campaign_id = ? AND tester_id = ?", campaignID, testerID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	return total, err
}

func (r *gormRepository) CampaignIDsOn(ctx context.Context, testerID string, date calendar.Date) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&CheckIn{}).
		Where("tester_id = ? AND check_in_date = ?", testerID, date).
		Pluck("campaign_id", &ids).Error
	return ids, err
}
