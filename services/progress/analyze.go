package progress

import (
	"testerhub-engagement/pkg/calendar"

	"github.com/shopspring/decimal"
)

// Analysis is what one tester's check-in history says about them on a given
// day. LastCompletedDay is nil until the first check-in.
type Analysis struct {
	CheckIns         int            `json:"check_ins"`
	FirstCheckIn     *calendar.Date `json:"first_check_in,omitempty"`
	LastCheckIn      *calendar.Date `json:"last_check_in,omitempty"`
	CurrentDay       int            `json:"current_day"`
	LastCompletedDay *int           `json:"last_completed_day,omitempty"`
	CompletedToday   bool           `json:"completed_today"`
	Consecutive      bool           `json:"consecutive"`
	Completed        bool           `json:"completed"`
	Dropped          bool           `json:"dropped"`
	// LongestGap is the largest number of days missed between two check-ins.
	LongestGap int `json:"longest_gap"`
}

// Analyze evaluates dates (ascending, at most one per day) as of today.
//
// graceDays is how many days a tester may go without a check-in, today
// included, before being reported dropped. With graceDays 0 a tester is
// dropped unless they have an unbroken streak that includes today.
func Analyze(dates []calendar.Date, today calendar.Date, explicitlyDropped bool, graceDays int) Analysis {
	if len(dates) == 0 {
		return Analysis{Consecutive: true, Dropped: explicitlyDropped}
	}

	first, last := dates[0], dates[len(dates)-1]
	lastCompleted := last.DaysSince(first) + 1

	a := Analysis{
		CheckIns:         len(dates),
		FirstCheckIn:     &first,
		LastCheckIn:      &last,
		CurrentDay:       today.DaysSince(first) + 1,
		LastCompletedDay: &lastCompleted,
		CompletedToday:   last.Equal(today),
		Consecutive:      len(dates) == lastCompleted,
	}
	a.Completed = a.CompletedToday && a.Consecutive

	for i := 1; i < len(dates); i++ {
		if gap := dates[i].DaysSince(dates[i-1]) - 1; gap > a.LongestGap {
			a.LongestGap = gap
		}
	}

	a.Dropped = explicitlyDropped ||
		a.LongestGap > graceDays ||
		today.DaysSince(last) > graceDays
	return a
}

type Verdict int

const (
	Keep Verdict = iota
	Complete
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Complete:
		return "complete"
	case Drop:
		return "drop"
	default:
		return "keep"
	}
}

// Decide is the lifecycle rule for an ONGOING enrollment. Unlike Analyze it
// does not hold today against the tester: only days that have fully passed
// without a check-in count as missed. A cycle with no check-ins is measured
// from the day after it started.
func Decide(dates []calendar.Date, cycleStart, today calendar.Date, requiredDays, graceDays int) Verdict {
	if len(dates) == 0 {
		if cycleStart.IsZero() {
			return Keep
		}
		if today.DaysSince(cycleStart)-1 > graceDays {
			return Drop
		}
		return Keep
	}

	a := Analyze(dates, today, false, graceDays)
	if a.LongestGap > graceDays {
		return Drop
	}
	if a.CheckIns >= requiredDays {
		return Complete
	}
	if today.DaysSince(*a.LastCheckIn)-1 > graceDays {
		return Drop
	}
	return Keep
}

// CampaignProgress is the share of the campaign the most recent starter has
// covered, as a whole percent rounded half up and capped at 100. starts holds
// the first check-in date of every tester who has started.
func CampaignProgress(starts []calendar.Date, today calendar.Date, requiredDays int) int {
	if len(starts) == 0 || requiredDays <= 0 {
		return 0
	}

	latest := starts[0]
	for _, s := range starts[1:] {
		if s.After(latest) {
			latest = s
		}
	}

	daysPassed := today.DaysSince(latest) + 1
	if daysPassed <= 0 {
		return 0
	}

	pct := decimal.NewFromInt(int64(daysPassed)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(requiredDays))).
		Round(0).
		IntPart()
	if pct > 100 {
		return 100
	}
	return int(pct)
}
