package utils

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateKeyPrefix = "date="
	dateLayout    = "2006-01-02"
)

// DateKey names one day's snapshot directory, e.g. "date=2024-01-10".
type DateKey string

// KeyFor returns the date key of t in UTC.
func KeyFor(t time.Time) DateKey {
	return DateKey(dateKeyPrefix + t.UTC().Format(dateLayout))
}

// ParseDateKey accepts either "date=YYYY-MM-DD" or a bare "YYYY-MM-DD".
func ParseDateKey(s string) (DateKey, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(s, dateKeyPrefix)
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("date key %q: %w", s, err)
	}
	return KeyFor(d), nil
}

// Date returns midnight UTC of the key's day.
func (k DateKey) Date() (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimPrefix(string(k), dateKeyPrefix))
}

// Day returns the bare "YYYY-MM-DD" part of the key.
func (k DateKey) Day() string {
	return strings.TrimPrefix(string(k), dateKeyPrefix)
}

// Timestamp renders the key as "YYYY-MM-DD 00:00:00 UTC". Readers use it to
// reconstruct recorded_at for rows that lost it.
func (k DateKey) Timestamp() string {
	return k.Day() + " 00:00:00 UTC"
}

// Time is the key's day at midnight UTC, or the zero time if the key is malformed.
func (k DateKey) Time() time.Time {
	d, err := k.Date()
	if err != nil {
		return time.Time{}
	}
	return d
}

// Previous returns the key of the day before.
func (k DateKey) Previous() DateKey {
	d, err := k.Date()
	if err != nil {
		return k
	}
	return KeyFor(d.AddDate(0, 0, -1))
}

func (k DateKey) String() string {
	return string(k)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always reports the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c).UTC() }

// TodayKey returns the date key for the clock's current day.
func TodayKey(c Clock) DateKey {
	return KeyFor(c.Now())
}

// YesterdayKey returns the date key for the day before the clock's current day.
func YesterdayKey(c Clock) DateKey {
	return TodayKey(c).Previous()
}

// NowUTCISO renders the clock's instant as RFC 3339 in UTC.
func NowUTCISO(c Clock) string {
	return c.Now().UTC().Format(time.RFC3339)
}
