package record

import (
	"fmt"
	"time"
)

// Date keys are calendar-day strings ("2025-03-04") in the user's local day;
// month keys ("2025-03") name the remote monthly sub-collections.
const (
	DateKeyLayout  = "2006-01-02"
	MonthKeyLayout = "2006-01"
)

// DistantPast is the fallback timestamp for remote documents whose
// updatedAt and createdAt are both missing or invalid. Any real local
// timestamp compares newer.
var DistantPast = time.Unix(0, 0).UTC()

// DateKeyOf formats t as a date key in t's location.
func DateKeyOf(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// ParseDateKey parses a date key; the result is midnight UTC of that day.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.Parse(DateKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t, nil
}

// ValidateDateKey reports whether key is a well-formed date key.
func ValidateDateKey(key string) error {
	_, err := ParseDateKey(key)
	return err
}

// MonthKeyOf projects a date key onto its month key. The input must be a
// valid date key; callers validate first.
func MonthKeyOf(dateKey string) string {
	if len(dateKey) < len(MonthKeyLayout) {
		return dateKey
	}
	return dateKey[:len(MonthKeyLayout)]
}

// MonthKeysSince lists the month keys from `since` through `now` inclusive,
// oldest first. Used to enumerate the remote monthly sub-collections that a
// windowed fetch must visit.
func MonthKeysSince(since, now time.Time) []string {
	since = since.UTC()
	now = now.UTC()
	if now.Before(since) {
		return []string{now.Format(MonthKeyLayout)}
	}
	var keys []string
	cur := time.Date(since.Year(), since.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(end) {
		keys = append(keys, cur.Format(MonthKeyLayout))
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}

// ClampTimestamp range-validates an embedded timestamp before transmission.
// Timestamps outside year 1..9999 (sentinel "distant past"/"distant future"
// values leaking out of date arithmetic) are substituted with now so a
// malformed value cannot abort an otherwise-valid batch.
func ClampTimestamp(t, now time.Time) time.Time {
	if t.IsZero() || t.Year() < 1 || t.Year() > 9999 {
		return now
	}
	return t
}
