package campaign

import (
	"time"

	"testerhub-engagement/services/payout"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
)

// Campaign is a fixed-length beta test of one app.
type Campaign struct {
	ID             string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	AppName        string          `gorm:"column:app_name;type:varchar(255);not null" json:"app_name"`
	RequiredDays   int             `gorm:"column:required_days;not null;default:14" json:"required_days"`
	TesterCapacity int             `gorm:"column:tester_capacity;not null" json:"tester_capacity"`
	Budget         int64           `gorm:"column:budget;not null" json:"budget"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,4);not null" json:"commission_rate"`
	Status         Status          `gorm:"column:status;type:varchar(20);not null;default:'ONGOING';index" json:"status"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (c *Campaign) IsOngoing() bool {
	return c.Status == StatusOngoing
}

// Terms returns the payout parameters of the campaign.
func (c *Campaign) Terms() payout.Terms {
	return payout.Terms{
		Budget:         c.Budget,
		Capacity:       c.TesterCapacity,
		CommissionRate: c.CommissionRate,
	}
}
