// internal/recurrence/recurrence.go

// Package recurrence computes when a recurring campaign runs next and whether
// a moment falls inside a campaign's allowed sending window. Both the
// scheduler and the campaign lifecycle use it; it touches no storage.
package recurrence

import (
	"sort"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// Rule is a campaign's recurrence configuration.
type Rule struct {
	Type   model.RecurringType
	Days   []int // weekdays 0-6 for weekly, days-of-month 1-31 for monthly
	Hour   int
	Minute int
	Start  *time.Time
	End    *time.Time
}

// Window is the allowed sending window, enforced independently of recurrence.
// Hours are [StartHour, EndHour); an empty Days slice allows every weekday.
// StartHour==0 && EndHour==0 (or EndHour>=24 with StartHour 0) means no
// hour restriction.
type Window struct {
	StartHour int
	EndHour   int
	Days      []int
}

func (w Window) unrestrictedHours() bool {
	return w.StartHour <= 0 && (w.EndHour <= 0 || w.EndHour >= 24)
}

func (w Window) allowsHour(h int) bool {
	if w.unrestrictedHours() {
		return true
	}
	return h >= w.StartHour && h < w.EndHour
}

func (w Window) allowsDay(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, allowed := range w.Days {
		if int(d) == allowed {
			return true
		}
	}
	return false
}

// Contains reports whether t is inside the window.
func (w Window) Contains(t time.Time) bool {
	return w.allowsHour(t.Hour()) && w.allowsDay(t.Weekday())
}

// RuleFor extracts the recurrence rule from a campaign.
func RuleFor(c *model.Campaign) Rule {
	return Rule{
		Type:   c.RecurringType,
		Days:   toInts(c.RecurringDays),
		Hour:   c.RecurringHour,
		Minute: c.RecurringMinute,
		Start:  c.RecurringStart,
		End:    c.RecurringEnd,
	}
}

// WindowFor extracts the allowed sending window from a campaign.
func WindowFor(c *model.Campaign) Window {
	return Window{
		StartHour: c.AllowedTimeStart,
		EndHour:   c.AllowedTimeEnd,
		Days:      toInts(c.AllowedDays),
	}
}

func toInts(a []int64) []int {
	if len(a) == 0 {
		return nil
	}
	out := make([]int, len(a))
	for i, v := range a {
		out[i] = int(v)
	}
	return out
}

// NextRun computes the next due time for a recurring campaign, or nil when
// recurrence has run past its end date. The starting point is lastRun when
// present, else the later of now and the rule's start date; the configured
// hour/minute is applied, same-day candidates that already ran advance one
// period, and the result is finally clamped into the allowed window.
func NextRun(r Rule, w Window, lastRun *time.Time, now time.Time) *time.Time {
	seed := now
	if lastRun != nil {
		seed = *lastRun
	} else if r.Start != nil && r.Start.After(now) {
		seed = *r.Start
	}

	cand := time.Date(seed.Year(), seed.Month(), seed.Day(), r.Hour, r.Minute, 0, 0, seed.Location())
	ranToday := lastRun != nil && sameDay(*lastRun, now)

	switch r.Type {
	case model.RecurringDaily:
		cand = nextDaily(cand, now, ranToday)
	case model.RecurringWeekly:
		var ok bool
		cand, ok = nextWeekly(cand, now, ranToday, r.Days)
		if !ok {
			return nil
		}
	case model.RecurringMonthly:
		var ok bool
		cand, ok = nextMonthly(cand, now, ranToday, r.Days)
		if !ok {
			return nil
		}
	default:
		return nil
	}

	if r.End != nil && cand.After(*r.End) {
		return nil
	}

	cand = Clamp(cand, w)
	return &cand
}

func nextDaily(cand, now time.Time, ranToday bool) time.Time {
	if ranToday && sameDay(cand, now) {
		cand = cand.AddDate(0, 0, 1)
	}
	for !cand.After(now) {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand
}

func nextWeekly(cand, now time.Time, ranToday bool, days []int) (time.Time, bool) {
	cand = nextDaily(cand, now, ranToday)
	if len(days) == 0 {
		return cand, true
	}
	for i := 0; i < 7; i++ {
		if weekdayIn(cand, days) {
			return cand, true
		}
		cand = cand.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

func nextMonthly(cand, now time.Time, ranToday bool, days []int) (time.Time, bool) {
	if len(days) == 0 {
		days = []int{cand.Day()}
	}
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)

	from := cand
	if ranToday && sameDay(cand, now) {
		from = cand.AddDate(0, 1, 0)
	}

	// Scan at most 13 months for a configured day-of-month that lands
	// strictly after now. Days a short month lacks (e.g. 31 in February)
	// are skipped for that month.
	year, month := from.Year(), from.Month()
	for m := 0; m < 13; m++ {
		for _, d := range sorted {
			if m == 0 && d < from.Day() {
				continue
			}
			t := time.Date(year, month, d, cand.Hour(), cand.Minute(), 0, 0, cand.Location())
			if t.Day() != d { // rolled over a short month
				continue
			}
			if t.After(now) {
				return t, true
			}
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return time.Time{}, false
}

// Clamp moves t into the allowed window: a time before the window's opening
// hour snaps to the opening hour that day, at or past the closing hour it
// rolls to the opening hour of the next day, and disallowed weekdays advance
// day by day (at most 7 steps) to the next allowed one.
func Clamp(t time.Time, w Window) time.Time {
	if !w.unrestrictedHours() {
		if t.Hour() < w.StartHour {
			t = time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, 0, 0, 0, t.Location())
		} else if t.Hour() >= w.EndHour {
			t = time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
		}
	}
	if len(w.Days) == 0 {
		return t
	}
	for i := 0; i < 7; i++ {
		if w.allowsDay(t.Weekday()) {
			return t
		}
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func weekdayIn(t time.Time, days []int) bool {
	for _, d := range days {
		if int(t.Weekday()) == d {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
