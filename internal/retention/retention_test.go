package retention

import (
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"snapback/internal/snap"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		t.Fatalf("bad test time %q: %v", s, err)
	}
	return v
}

func times(t *testing.T, ss ...string) []time.Time {
	t.Helper()
	out := make([]time.Time, len(ss))
	for i, s := range ss {
		out[i] = ts(t, s)
	}
	return out
}

// set dedups and sorts, so tier results can be compared regardless of
// bucket order or repeated picks.
func set(in []time.Time) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range in {
		s := t.Format("2006-01-02 15:04")
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if out == nil {
		return []string{}
	}
	sort.Strings(out)
	return out
}

func TestTiers(t *testing.T) {
	tests := []struct {
		name      string
		tier      func([]time.Time, time.Time) []time.Time
		snapshots []string
		now       string
		want      []string
	}{
		{
			name:      "recent keeps everything from start of yesterday",
			tier:      Recent,
			snapshots: []string{"2024-01-01 23:59", "2024-01-02 00:00", "2024-01-03 09:00"},
			now:       "2024-01-03 10:00",
			want:      []string{"2024-01-02 00:00", "2024-01-03 09:00"},
		},
		{
			name:      "daily keeps latest per day",
			tier:      Daily,
			snapshots: []string{"2024-01-01 00:00", "2024-01-01 23:00", "2024-01-02 12:00"},
			now:       "2024-01-03 00:00",
			want:      []string{"2024-01-01 23:00", "2024-01-02 12:00"},
		},
		{
			name:      "daily ignores today and days older than a week",
			tier:      Daily,
			snapshots: []string{"2024-01-02 23:59", "2024-01-03 00:00", "2024-01-09 23:59", "2024-01-10 08:00"},
			now:       "2024-01-10 12:00",
			want:      []string{"2024-01-03 00:00", "2024-01-09 23:59"},
		},
		{
			name: "weekly buckets run from the first to sunday",
			tier: Weekly,
			snapshots: []string{
				"2024-02-02 10:00", "2024-02-03 12:00", // first bucket, Thu 1st to Sun 4th
				"2024-02-06 00:00", // between Sunday and next bucket start: uncovered
				"2024-02-10 00:00",
				"2024-02-29 05:00", // last bucket clamps to end of month
				"2024-03-05 00:00", // current month: not weekly
			},
			now:  "2024-03-15 10:00",
			want: []string{"2024-02-03 12:00", "2024-02-10 00:00", "2024-02-29 05:00"},
		},
		{
			name:      "weekly overflow bucket stretches to end of window",
			tier:      Weekly,
			snapshots: []string{"2024-01-30 12:00", "2024-02-10 12:00"},
			now:       "2024-03-01 00:00",
			want:      []string{"2024-02-10 12:00"},
		},
		{
			name: "monthly keeps latest per calendar month of the last year",
			tier: Monthly,
			snapshots: []string{
				"2023-05-31 23:00",
				"2023-06-01 00:00", "2023-06-20 00:00",
				"2024-01-05 00:00", "2024-01-31 23:59",
				"2024-06-14 00:00",
			},
			now:  "2024-06-15 12:00",
			want: []string{"2023-06-20 00:00", "2024-01-31 23:59", "2024-06-14 00:00"},
		},
		{
			name:      "yearly keeps one per year",
			tier:      Yearly,
			snapshots: []string{"2020-06-01 00:00", "2020-12-31 00:00", "2021-03-01 00:00"},
			now:       "2024-01-01 00:00",
			want:      []string{"2020-12-31 00:00", "2021-03-01 00:00"},
		},
		{
			name:      "empty buckets contribute nothing",
			tier:      Daily,
			snapshots: nil,
			now:       "2024-01-01 00:00",
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := set(tt.tier(times(t, tt.snapshots...), ts(t, tt.now)))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeep_Union(t *testing.T) {
	now := ts(t, "2024-01-03 00:00")
	snapshots := times(t, "2024-01-01 00:00", "2024-01-01 23:00", "2024-01-02 12:00")

	got := set(Keep(snapshots, now))
	// 01-02 12:00 is picked by recent, daily, monthly and yearly but kept
	// once; 01-01 00:00 loses every bucket it falls in.
	want := []string{"2024-01-01 23:00", "2024-01-02 12:00"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keep() = %v, want %v", got, want)
	}
}

func TestApply(t *testing.T) {
	names := []string{
		"20221215.0000", "20221220.0000", "20230601.0000", "20230602.0000",
		"20231231.1200", "20240101.0000", "20240101.2300", "20240102.1200",
	}
	now := ts(t, "2024-01-03 00:00")

	plan, err := Apply(names, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if plan.Total != len(names) {
		t.Errorf("Total = %d, want %d", plan.Total, len(names))
	}
	if len(plan.Keep)+len(plan.Remove) != len(names) {
		t.Errorf("keep %d + remove %d != %d", len(plan.Keep), len(plan.Remove), len(names))
	}
	wantRemove := []string{"20221215.0000", "20230601.0000", "20240101.0000"}
	if !reflect.DeepEqual(plan.Remove, wantRemove) {
		t.Errorf("Remove = %v, want %v", plan.Remove, wantRemove)
	}
	wantKeep := []string{"20221220.0000", "20230602.0000", "20231231.1200", "20240101.2300", "20240102.1200"}
	if !reflect.DeepEqual(plan.Keep, wantKeep) {
		t.Errorf("Keep = %v, want %v", plan.Keep, wantKeep)
	}

	again, err := Apply(names, now)
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if !reflect.DeepEqual(plan, again) {
		t.Errorf("Apply() is not idempotent: %+v vs %+v", plan, again)
	}
}

func TestApply_ParseFailure(t *testing.T) {
	_, err := Apply([]string{"20240101.0000", "20241399.1200"}, time.Now())
	if !errors.Is(err, snap.ErrRetentionParse) {
		t.Fatalf("Apply() error = %v, want ErrRetentionParse", err)
	}
}

func TestApply_Empty(t *testing.T) {
	plan, err := Apply(nil, time.Now())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if plan.Total != 0 || len(plan.Keep) != 0 || len(plan.Remove) != 0 {
		t.Errorf("Apply(nil) = %+v, want empty plan", plan)
	}
}
