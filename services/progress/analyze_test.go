package progress

import (
	"testing"

	"testerhub-engagement/pkg/calendar"

	"github.com/stretchr/testify/require"
)

func days(start calendar.Date, offsets ...int) []calendar.Date {
	out := make([]calendar.Date, len(offsets))
	for i, o := range offsets {
		out[i] = start.AddDays(o)
	}
	return out
}

var t0 = calendar.MustParseDate("2024-03-10")

func TestAnalyze(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		a := Analyze(nil, t0, false, 0)
		require.Equal(t, 0, a.CurrentDay)
		require.Nil(t, a.LastCompletedDay)
		require.False(t, a.Completed)
		require.False(t, a.Dropped)
	})

	t.Run("not started but withdrawn", func(t *testing.T) {
		a := Analyze(nil, t0, true, 0)
		require.True(t, a.Dropped)
	})

	t.Run("first check-in today", func(t *testing.T) {
		a := Analyze(days(t0, 0), t0, false, 0)
		require.Equal(t, 1, a.CurrentDay)
		require.Equal(t, 1, *a.LastCompletedDay)
		require.True(t, a.Completed)
		require.False(t, a.Dropped)
	})

	t.Run("missed a day", func(t *testing.T) {
		a := Analyze(days(t0, 0, 1, 2), t0.AddDays(4), false, 0)
		require.True(t, a.Dropped)
		require.Equal(t, 3, *a.LastCompletedDay)
		require.Equal(t, 5, a.CurrentDay)
		require.False(t, a.Completed)
		require.True(t, a.Consecutive)
	})

	t.Run("gap then today", func(t *testing.T) {
		a := Analyze(days(t0, 0, 1, 3), t0.AddDays(3), false, 0)
		require.True(t, a.CompletedToday)
		require.False(t, a.Consecutive)
		require.False(t, a.Completed)
		require.True(t, a.Dropped)
		require.Equal(t, 1, a.LongestGap)
	})

	t.Run("grace tolerates a short gap", func(t *testing.T) {
		a := Analyze(days(t0, 0, 1, 3), t0.AddDays(4), false, 1)
		require.False(t, a.Dropped)

		a = Analyze(days(t0, 0, 1), t0.AddDays(4), false, 1)
		require.True(t, a.Dropped)
	})

	t.Run("explicit drop wins", func(t *testing.T) {
		a := Analyze(days(t0, 0), t0, true, 0)
		require.True(t, a.Completed)
		require.True(t, a.Dropped)
	})
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name  string
		dates []calendar.Date
		today calendar.Date
		grace int
		want  Verdict
	}{
		{name: "checked in yesterday", dates: days(t0, 0, 1), today: t0.AddDays(2), want: Keep},
		{name: "missed yesterday", dates: days(t0, 0, 1), today: t0.AddDays(3), want: Drop},
		{name: "missed yesterday with grace", dates: days(t0, 0, 1), today: t0.AddDays(3), grace: 1, want: Keep},
		{name: "closed gap", dates: days(t0, 0, 2), today: t0.AddDays(2), want: Drop},
		{name: "full streak", dates: days(t0, 0, 1, 2), today: t0.AddDays(3), want: Complete},
		{name: "not started, joined yesterday", today: t0.AddDays(1), want: Keep},
		{name: "not started for a full day", today: t0.AddDays(2), want: Drop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Decide(tc.dates, t0, tc.today, 3, tc.grace))
		})
	}
}

func TestCampaignProgress(t *testing.T) {
	today := t0.AddDays(10)

	require.Equal(t, 0, CampaignProgress(nil, today, 14))
	require.Equal(t, 29, CampaignProgress([]calendar.Date{today.AddDays(-7), today.AddDays(-3)}, today, 14))
	require.Equal(t, 7, CampaignProgress([]calendar.Date{today}, today, 14))
	require.Equal(t, 100, CampaignProgress([]calendar.Date{today.AddDays(-30)}, today, 14))
	// 1/8 = 12.5% rounds up.
	require.Equal(t, 13, CampaignProgress([]calendar.Date{today}, today, 8))
}
