package payout

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FullBasisPoints is 100% expressed in basis points.
const FullBasisPoints int64 = 10000

var defaultBasisPoints = []int64{
	500, 500, 600, 600, 600, 700, 700,
	700, 700, 800, 800, 900, 900, 1000,
}

var bpDivisor = decimal.NewFromInt(FullBasisPoints)

// Schedule is the share of a tester's payout released on each day of a
// campaign, in basis points. Day indices are 1-based.
type Schedule struct {
	bps []int64
}

// DefaultSchedule is the 14 day ramp from 5% to 10%.
func DefaultSchedule() *Schedule {
	s, _ := NewSchedule(defaultBasisPoints...)
	return s
}

func NewSchedule(bps ...int64) (*Schedule, error) {
	if len(bps) == 0 {
		return nil, fmt.Errorf("payout: empty schedule")
	}
	for i, bp := range bps {
		if bp < 0 {
			return nil, fmt.Errorf("payout: day %d has negative share %d", i+1, bp)
		}
	}
	out := make([]int64, len(bps))
	copy(out, bps)
	return &Schedule{bps: out}, nil
}

// FromPercentages converts a list such as [5, 5, 6, ...] to basis points.
// Precision beyond two decimal places is rejected rather than rounded.
func FromPercentages(percentages []float64) (*Schedule, error) {
	bps := make([]int64, len(percentages))
	for i, p := range percentages {
		scaled := decimal.NewFromFloat(p).Mul(decimal.NewFromInt(100))
		if !scaled.Equal(scaled.Truncate(0)) {
			return nil, fmt.Errorf("payout: day %d share %v has more than two decimals", i+1, p)
		}
		bps[i] = scaled.IntPart()
	}
	return NewSchedule(bps...)
}

// Days is the number of days the table covers.
func (s *Schedule) Days() int { return len(s.bps) }

// BasisPoints returns the share for day, or 0 outside the table.
func (s *Schedule) BasisPoints(day int) int64 {
	if day < 1 || day > len(s.bps) {
		return 0
	}
	return s.bps[day-1]
}

// Fraction returns the share for day as a fraction of 1.
func (s *Schedule) Fraction(day int) decimal.Decimal {
	return decimal.NewFromInt(s.BasisPoints(day)).Div(bpDivisor)
}

// Validate checks that the first requiredDays entries add up to exactly 100%.
func (s *Schedule) Validate(requiredDays int) error {
	if requiredDays < 1 {
		return fmt.Errorf("payout: required days must be positive, got %d", requiredDays)
	}
	if requiredDays > len(s.bps) {
		return fmt.Errorf("payout: schedule covers %d days, campaign requires %d", len(s.bps), requiredDays)
	}

	var total int64
	for _, bp := range s.bps[:requiredDays] {
		total += bp
	}
	if total != FullBasisPoints {
		return fmt.Errorf("payout: schedule for %d days sums to %s%%, want 100%%",
			requiredDays, decimal.NewFromInt(total).Div(decimal.NewFromInt(100)).String())
	}
	return nil
}
