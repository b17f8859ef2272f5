package payout

import (
	"testerhub-engagement/pkg/errutil"

	"github.com/shopspring/decimal"
)

var ErrInvalidTerms = errutil.New(errutil.StatusValidationFailed, "invalid campaign payout terms", errutil.WithReason("invalid_payout_terms"))

// Terms are the campaign parameters that determine a tester's payout.
type Terms struct {
	Budget         int64
	Capacity       int
	CommissionRate decimal.Decimal
}

func (t Terms) Validate() error {
	var details []errutil.Detail
	if t.Budget < 0 {
		details = append(details, errutil.Detail{Field: "budget", Message: "must not be negative"})
	}
	if t.Capacity <= 0 {
		details = append(details, errutil.Detail{Field: "tester_capacity", Message: "must be positive"})
	}
	if t.CommissionRate.IsNegative() || t.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		details = append(details, errutil.Detail{Field: "commission_rate", Message: "must be in [0, 1)"})
	}
	if len(details) == 0 {
		return nil
	}
	be := ErrInvalidTerms.(errutil.BaseError)
	be.Details = details
	return be
}

// Calculator turns a schedule and campaign terms into per-day rewards.
// It has no state beyond the schedule and is safe for concurrent use.
type Calculator struct {
	schedule *Schedule
}

func NewCalculator(s *Schedule) *Calculator {
	return &Calculator{schedule: s}
}

func (c *Calculator) Schedule() *Schedule { return c.schedule }

// PerTesterShare is budget * (1 - commission) / capacity, rounded to the
// decimal package's division precision. Use it for display only; rewards
// are floored from the exact quotient.
func (c *Calculator) PerTesterShare(t Terms) (decimal.Decimal, error) {
	if err := t.Validate(); err != nil {
		return decimal.Zero, err
	}
	return t.net().Div(decimal.NewFromInt(int64(t.Capacity))), nil
}

// Reward is floor(budget * (1 - commission) * bp(day) / (capacity * 10000)).
// The numerator is an exact product, so a single integer division keeps the
// floor exact even when budget/capacity does not terminate.
func (c *Calculator) Reward(t Terms, day int) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	num := t.net().Mul(decimal.NewFromInt(c.schedule.BasisPoints(day)))
	return floorDiv(num, int64(t.Capacity)*FullBasisPoints), nil
}

func (t Terms) net() decimal.Decimal {
	return decimal.NewFromInt(t.Budget).Mul(decimal.NewFromInt(1).Sub(t.CommissionRate))
}

// floorDiv divides a non-negative decimal by a positive integer, rounding down.
func floorDiv(num decimal.Decimal, den int64) int64 {
	q, _ := num.QuoRem(decimal.NewFromInt(den), 0)
	return q.IntPart()
}

// RewardCapped is Reward limited so that alreadyEarned plus the result never
// exceeds floor(PerTesterShare). A tester who rejoins a campaign restarts the
// schedule but cannot earn more than one full share in total.
func (c *Calculator) RewardCapped(t Terms, day int, alreadyEarned int64) (int64, error) {
	reward, err := c.Reward(t, day)
	if err != nil {
		return 0, err
	}
	remaining := floorDiv(t.net(), int64(t.Capacity)) - alreadyEarned
	if remaining <= 0 {
		return 0, nil
	}
	return min(reward, remaining), nil
}
