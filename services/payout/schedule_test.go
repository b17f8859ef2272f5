package payout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDefaultScheduleSumsToFullPayout(t *testing.T) {
	s := DefaultSchedule()

	require.Equal(t, 14, s.Days())
	require.NoError(t, s.Validate(14))

	total := decimal.Zero
	for day := 1; day <= 14; day++ {
		total = total.Add(s.Fraction(day))
	}
	require.True(t, total.Equal(decimal.NewFromInt(1)), "got %s", total)
}

func TestScheduleOutOfRangeDays(t *testing.T) {
	s := DefaultSchedule()

	require.True(t, s.Fraction(0).IsZero())
	require.True(t, s.Fraction(-3).IsZero())
	require.True(t, s.Fraction(15).IsZero())
	require.True(t, s.Fraction(1).Equal(decimal.RequireFromString("0.05")))
	require.True(t, s.Fraction(14).Equal(decimal.RequireFromString("0.1")))
}

func TestScheduleValidate(t *testing.T) {
	s, err := NewSchedule(5000, 4000, 1000)
	require.NoError(t, err)

	require.NoError(t, s.Validate(3))
	require.Error(t, s.Validate(2))
	require.Error(t, s.Validate(4))
	require.Error(t, s.Validate(0))

	_, err = NewSchedule()
	require.Error(t, err)
	_, err = NewSchedule(10001, -1)
	require.Error(t, err)
}

func TestFromPercentages(t *testing.T) {
	s, err := FromPercentages([]float64{33.33, 33.33, 33.34})
	require.NoError(t, err)
	require.NoError(t, s.Validate(3))
	require.Equal(t, int64(3334), s.BasisPoints(3))

	_, err = FromPercentages([]float64{33.333, 66.667})
	require.Error(t, err)
}
