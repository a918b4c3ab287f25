// Package retention selects which snapshots to keep under a tiered
// grandfather-father-son schedule: everything from yesterday on, one per day
// for the last week, one per week for last month, one per month for the last
// year and one per year forever.
//
// Every tier is a pure function of the snapshot times and "now"; all
// computations happen in UTC. Within a bucket the latest snapshot wins, and
// empty buckets contribute nothing.
package retention

import (
	"sort"
	"time"
)

// endOfDay is the inclusive end of a bucket that closes on a given day.
const endOfDay = 23*time.Hour + 59*time.Minute + 59*time.Second

// Tier is one retention rule.
type Tier struct {
	Name   string
	Select func(snapshots []time.Time, now time.Time) []time.Time
}

// Tiers are applied independently and their selections unioned.
var Tiers = []Tier{
	{Name: "recent", Select: Recent},
	{Name: "daily", Select: Daily},
	{Name: "weekly", Select: Weekly},
	{Name: "monthly", Select: Monthly},
	{Name: "yearly", Select: Yearly},
}

// Keep returns the union of all tiers, ascending.
func Keep(snapshots []time.Time, now time.Time) []time.Time {
	now = now.UTC()
	seen := make(map[time.Time]bool)
	var keep []time.Time
	for _, tier := range Tiers {
		for _, t := range tier.Select(snapshots, now) {
			if !seen[t] {
				seen[t] = true
				keep = append(keep, t)
			}
		}
	}
	sortTimes(keep)
	return keep
}

// Recent keeps every snapshot from the start of yesterday onward.
func Recent(snapshots []time.Time, now time.Time) []time.Time {
	yesterday := midnight(now.UTC().Add(-24 * time.Hour))
	var out []time.Time
	for _, t := range snapshots {
		if !t.Before(yesterday) {
			out = append(out, t)
		}
	}
	return out
}

// Daily keeps the latest snapshot of each of the seven calendar days
// before today.
func Daily(snapshots []time.Time, now time.Time) []time.Time {
	lastWeek := midnight(now.UTC().AddDate(0, 0, -7))
	var out []time.Time
	for i := 0; i < 7; i++ {
		day := lastWeek.AddDate(0, 0, i)
		out = appendLatest(out, snapshots, day, day.Add(endOfDay))
	}
	return out
}

// Weekly keeps the latest snapshot of each week-sized bucket between the
// first of the month 31 days ago and the end of last month.
//
// Buckets start every 7 days from that first day. A bucket ends on the
// Sunday of its start day's week; when that Sunday falls past the end of the
// start day's month, the bucket instead runs to the end of the whole window.
// Buckets that do not start on a Monday therefore leave the days between their
// Sunday and the next start uncovered.
func Weekly(snapshots []time.Time, now time.Time) []time.Time {
	today := midnight(now.UTC())
	lastMonth := today.AddDate(0, 0, -31)
	startOfMonth := time.Date(lastMonth.Year(), lastMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	endOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	var out []time.Time
	for start := startOfMonth; !start.After(endOfMonth); start = start.AddDate(0, 0, 7) {
		weekEnd := endOfMonth
		sunday := 6 - mondayWeekday(start) + start.Day()
		if sunday <= daysIn(start.Year(), start.Month()) {
			weekEnd = time.Date(start.Year(), start.Month(), sunday, 0, 0, 0, 0, time.UTC)
		}
		out = appendLatest(out, snapshots, start, weekEnd.Add(endOfDay))
	}
	return out
}

// Monthly keeps the latest snapshot of each calendar month touching the
// last 365 days.
func Monthly(snapshots []time.Time, now time.Time) []time.Time {
	now = now.UTC()
	var out []time.Time
	cursor := midnight(now.AddDate(0, 0, -365))
	for !cursor.After(now) {
		start := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1).Add(endOfDay)
		out = appendLatest(out, snapshots, start, end)
		cursor = end.Add(time.Second)
	}
	return out
}

// Yearly keeps the latest snapshot of every calendar year, with no limit on
// how far back.
func Yearly(snapshots []time.Time, _ time.Time) []time.Time {
	desc := append([]time.Time(nil), snapshots...)
	sort.Slice(desc, func(i, j int) bool { return desc[i].After(desc[j]) })

	years := make(map[int]bool)
	var out []time.Time
	for _, t := range desc {
		if !years[t.Year()] {
			years[t.Year()] = true
			out = append(out, t)
		}
	}
	return out
}

// appendLatest appends the latest snapshot within [start, end], if any.
func appendLatest(out, snapshots []time.Time, start, end time.Time) []time.Time {
	var latest time.Time
	found := false
	for _, t := range snapshots {
		if t.Before(start) || t.After(end) {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	if found {
		out = append(out, latest)
	}
	return out
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mondayWeekday numbers weekdays Monday=0 .. Sunday=6.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
