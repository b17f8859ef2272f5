package point

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryTypeEarn  EntryType = "EARN"
	EntryTypeSpend EntryType = "SPEND"
)

// GenesisHash is the previous hash of a tester's first history entry.
const GenesisHash = "GENESIS"

// Balance is a tester's spendable points. It always equals the sum of the
// tester's history amounts.
type Balance struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"-"`
	TesterID  string    `gorm:"column:tester_id;type:varchar(64);not null;uniqueIndex" json:"tester_id"`
	Balance   int64     `gorm:"column:balance;not null;default:0" json:"balance"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// History is one immutable balance movement. Entries of a tester form a hash
// chain ordered by Sequence.
type History struct {
	ID           string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TesterID     string         `gorm:"column:tester_id;type:varchar(64);not null;uniqueIndex:idx_point_histories_seq,priority:1" json:"tester_id"`
	Sequence     int64          `gorm:"column:sequence;not null;uniqueIndex:idx_point_histories_seq,priority:2" json:"sequence"`
	Type         EntryType      `gorm:"column:type;type:varchar(10);not null" json:"type"`
	Amount       int64          `gorm:"column:amount;not null" json:"amount"`
	Balance      int64          `gorm:"column:balance;not null" json:"balance"`
	Reason       string         `gorm:"column:reason;type:varchar(255);not null" json:"reason"`
	CampaignID   string         `gorm:"column:campaign_id;type:varchar(32);index" json:"campaign_id,omitempty"`
	ReferenceID  string         `gorm:"column:reference_id;type:varchar(64)" json:"reference_id,omitempty"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash string         `gorm:"column:previous_hash;type:varchar(64);not null" json:"-"`
	Hash         string         `gorm:"column:hash;type:varchar(64);not null" json:"-"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (h *History) HashFields() map[string]string {
	return map[string]string{
		"id":            h.ID,
		"tester_id":     h.TesterID,
		"sequence":      fmt.Sprintf("%d", h.Sequence),
		"type":          string(h.Type),
		"amount":        fmt.Sprintf("%d", h.Amount),
		"balance":       fmt.Sprintf("%d", h.Balance),
		"reason":        h.Reason,
		"campaign_id":   h.CampaignID,
		"reference_id":  h.ReferenceID,
		"created_at":    h.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": h.PreviousHash,
	}
}

// GenerateHash is sha256 over the sorted key=value pairs joined with "|".
func (h *History) GenerateHash() string {
	fields := h.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (Balance) TableName() string { return "point_balances" }
func (History) TableName() string { return "point_histories" }
