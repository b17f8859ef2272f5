package checkin

import (
	"time"

	"testerhub-engagement/pkg/calendar"
)

// CheckIn records that a tester used the app on one calendar day. Rows are
// never updated or deleted; at most one exists per (campaign, tester, day).
type CheckIn struct {
	ID          string        `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID  string        `gorm:"column:campaign_id;type:varchar(32);not null;uniqueIndex:idx_check_ins_day,priority:1" json:"campaign_id"`
	TesterID    string        `gorm:"column:tester_id;type:varchar(64);not null;uniqueIndex:idx_check_ins_day,priority:2;index" json:"tester_id"`
	CheckInDate calendar.Date `gorm:"column:check_in_date;not null;uniqueIndex:idx_check_ins_day,priority:3" json:"check_in_date"`
	DayIndex    int           `gorm:"column:day_index;not null" json:"day_index"`
	Cycle       int           `gorm:"column:cycle;not null;default:1" json:"cycle"`
	Points      int64         `gorm:"column:points;not null" json:"points"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
