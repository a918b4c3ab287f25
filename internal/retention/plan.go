package retention

import (
	"time"

	"snapback/internal/snap"
)

// Plan is the outcome of applying the policy to a host's snapshot names.
type Plan struct {
	Total  int
	Keep   []string // ascending
	Remove []string // ascending
}

// Apply parses names and splits them into keep and remove sets. A name that
// looks like a snapshot but is not a valid date fails the whole plan with
// snap.ErrRetentionParse rather than being skipped.
func Apply(names []string, now time.Time) (*Plan, error) {
	times := make([]time.Time, 0, len(names))
	for _, name := range names {
		t, err := snap.ParseTimestamp(name)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}

	kept := make(map[time.Time]bool)
	for _, t := range Keep(times, now) {
		kept[t] = true
	}

	plan := &Plan{Total: len(names)}
	sortTimes(times)
	for _, t := range times {
		name := snap.FormatTimestamp(t)
		if kept[t] {
			plan.Keep = append(plan.Keep, name)
		} else {
			plan.Remove = append(plan.Remove, name)
		}
	}
	return plan, nil
}
