// Package timeparse turns operator-supplied target times into hour-aligned
// timestamps and the date_hour / ISO week keys used by the reporting tables.
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsable is returned when no supported form matches the input.
var ErrUnparsable = errors.New("unrecognized time expression")

// Level selects the key format produced by Key.
type Level string

const (
	LevelHour Level = "hour"
	LevelWeek Level = "week"
)

var (
	ymdPattern     = regexp.MustCompile(`(\d{4})[/-](\d{1,2})[/-](\d{1,2})`)
	dmyPattern     = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	dateHourKey    = regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}-(\d{1,2})\b`)
	hourSuffix     = regexp.MustCompile(`\b(\d{1,2})\s*h\b`)
	clockPattern   = regexp.MustCompile(`\b(\d{1,2})\s*:\s*(\d{2})\b`)
	absoluteLayout = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
)

// Parse resolves text relative to now. Full timestamps are returned as-is
// (converted to now's location); anything else is resolved to a calendar day
// plus an optional hour and truncated to the hour.
//
// Accepted forms: RFC3339, "2006-01-02 15:04:05[.fff]", "2006-01-02",
// "2006/01/02", "02/01/2006", "2006-01-02-15", "13h", "13:00", and the
// keywords now, today, yesterday, tomorrow. A day without an hour resolves to
// the current hour when it is today and midnight otherwise.
func Parse(text string, now time.Time) (time.Time, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	loc := now.Location()

	if t == "" || t == "now" {
		return now.Truncate(time.Hour), nil
	}
	for _, layout := range absoluteLayout {
		if ts, err := time.ParseInLocation(layout, text, loc); err == nil {
			return ts.In(loc), nil
		}
	}

	day, ok := extractDate(t, now)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, text)
	}
	hour, hasHour, err := extractHour(t)
	if err != nil {
		return time.Time{}, err
	}
	if !hasHour {
		if sameDay(day, now) {
			hour = now.Hour()
		} else {
			hour = 0
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc), nil
}

// Key formats t as the key used by the aggregated tables: "2006-01-02-15"
// for hourly data and "W05-2026" (ISO week) for weekly data.
func Key(t time.Time, level Level) (string, error) {
	switch level {
	case LevelHour:
		return t.Format("2006-01-02-15"), nil
	case LevelWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("W%02d-%d", week, year), nil
	default:
		return "", fmt.Errorf("unsupported aggregate level %q", level)
	}
}

func extractDate(t string, now time.Time) (time.Time, bool) {
	switch t {
	case "today":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	case "tomorrow":
		return now.AddDate(0, 0, 1), true
	}

	if m := ymdPattern.FindStringSubmatch(t); m != nil {
		return buildDate(m[1], m[2], m[3], now.Location())
	}
	if m := dmyPattern.FindStringSubmatch(t); m != nil {
		return buildDate(m[3], m[2], m[1], now.Location())
	}

	// A bare hour ("13h", "13:00") refers to today.
	if hourSuffix.MatchString(t) || clockPattern.MatchString(t) {
		return now, true
	}
	return time.Time{}, false
}

func buildDate(ys, ms, ds string, loc *time.Location) (time.Time, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	out := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	// time.Date normalizes 2026-02-31 into March.
	if out.Day() != d {
		return time.Time{}, false
	}
	return out, true
}

func extractHour(t string) (int, bool, error) {
	var raw string
	switch {
	case dateHourKey.MatchString(t):
		raw = dateHourKey.FindStringSubmatch(t)[1]
	case hourSuffix.MatchString(t):
		raw = hourSuffix.FindStringSubmatch(t)[1]
	case clockPattern.MatchString(t):
		raw = clockPattern.FindStringSubmatch(t)[1]
	default:
		return 0, false, nil
	}
	h, _ := strconv.Atoi(raw)
	if h > 23 {
		return 0, false, fmt.Errorf("%w: hour %d out of range", ErrUnparsable, h)
	}
	return h, true, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
