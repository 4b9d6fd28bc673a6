// Package util provides small time and formatting helpers shared across the scheduler.
package util

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// displayLayout renders operator-facing timestamps as dd/MM/yyyy HH:mm:ss.
const displayLayout = "02/01/2006 15:04:05"

// vnZone is UTC+7. Vietnam does not observe DST, so a fixed zone stays
// correct even on hosts without tzdata.
var vnZone = time.FixedZone("UTC+7", 7*60*60)

// naiveLayouts are accepted datetime forms carrying no zone information.
// Naive input is interpreted as Vietnam local time.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// FormatVN renders a time for display in Vietnam local time.
func FormatVN(t time.Time) string {
	return t.In(vnZone).Format(displayLayout)
}

// ParseScheduleTime parses a schedule time string. Zone-aware input
// (RFC 3339) is converted to UTC; naive input is read as UTC+7 and then
// converted. All scheduler internals operate on the UTC result.
func ParseScheduleTime(v string) (time.Time, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return time.Time{}, fmt.Errorf("scheduled time is required")
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, vnZone); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised scheduled time format: %q", v)
}

// ContentDigest returns a short stable fingerprint of post content for
// logging. Raw content never reaches the logs.
func ContentDigest(content string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("%08x:%d", h.Sum32(), len(content))
}
