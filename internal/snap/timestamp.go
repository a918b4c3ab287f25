package snap

import (
	"fmt"
	"regexp"
	"time"
)

// TimestampLayout names promoted snapshots: YYYYMMDD.HHMM, always UTC.
// The format is fixed width and zero padded, so string order is time order.
const TimestampLayout = "20060102.1504"

var timestampPattern = regexp.MustCompile(`^[1-9]\d+\.\d{4}$`)

// IsTimestampName reports whether name looks like a promoted snapshot.
// It does not validate the date; see ParseTimestamp.
func IsTimestampName(name string) bool {
	return timestampPattern.MatchString(name)
}

// FormatTimestamp returns the snapshot name for t.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a snapshot name. Names that match the pattern but
// are not a valid date fail with ErrRetentionParse.
func ParseTimestamp(name string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, name, time.UTC)
	if err != nil {
		return time.Time{}, &Error{Kind: KindRetentionParse, Scope: name, Err: fmt.Errorf("parsing snapshot name: %w", err)}
	}
	return t, nil
}
