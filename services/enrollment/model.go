package enrollment

import (
	"time"

	"testerhub-engagement/pkg/calendar"
)

type Status string

const (
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
	StatusDropped   Status = "DROPPED"
)

// Enrollment is a tester's participation in a campaign. COMPLETED and
// DROPPED are terminal, except that a DROPPED tester may rejoin, which
// starts a new cycle.
type Enrollment struct {
	ID               string        `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID       string        `gorm:"column:campaign_id;type:varchar(32);not null;uniqueIndex:idx_enrollments_pair,priority:1" json:"campaign_id"`
	TesterID         string        `gorm:"column:tester_id;type:varchar(64);not null;uniqueIndex:idx_enrollments_pair,priority:2;index" json:"tester_id"`
	Status           Status        `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	CumulativePoints int64         `gorm:"column:cumulative_points;not null;default:0" json:"cumulative_points"`
	Cycle            int           `gorm:"column:cycle;not null;default:1" json:"cycle"`
	CycleStartedOn   calendar.Date `gorm:"column:cycle_started_on" json:"cycle_started_on"`
	DroppedAt        *time.Time    `gorm:"column:dropped_at" json:"dropped_at,omitempty"`
	CompletedAt      *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (e *Enrollment) IsOngoing() bool { return e.Status == StatusOngoing }
