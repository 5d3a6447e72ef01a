// Package convert implements the epoch and calendar conversions served by the API.
package convert

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"

	"github.com/araddon/dateparse"
)

// Output layouts.
const (
	ISOLayout   = "2006-01-02T15:04:05-07:00"
	RFCLayout   = time.RFC1123Z
	PlainLayout = "2006-01-02 15:04:05 MST"

	DefaultTimezone = "UTC"
)

// Format names accepted by EpochToDate and Batch.
const (
	FormatISO  = "iso"
	FormatRFC  = "rfc"
	FormatUnix = "unix"
)

// Bounds keep results within four-digit years.
const (
	minTimestamp = -62135596800 // 0001-01-01T00:00:00Z
	maxTimestamp = 253402300799 // 9999-12-31T23:59:59Z
)

// ErrInvalidInput is the root of every caller error returned by this package.
var ErrInvalidInput = errors.New("invalid input")

// Input errors.
var (
	ErrMissingParameter = fmt.Errorf("%w: missing parameter", ErrInvalidInput)
	ErrUnknownTimezone  = fmt.Errorf("%w: unknown timezone", ErrInvalidInput)
	ErrInvalidDate      = fmt.Errorf("%w: invalid date", ErrInvalidInput)
	ErrInvalidTimestamp = fmt.Errorf("%w: invalid timestamp", ErrInvalidInput)
)

// EpochResult describes a timestamp rendered in a timezone.
type EpochResult struct {
	Timestamp int64  `json:"timestamp"`
	Date      string `json:"date"`
	ISOWeek   int    `json:"iso_week"`
	DayOfYear int    `json:"day_of_year"`
	Timezone  string `json:"timezone"`
	Formatted string `json:"formatted"`
}

// DateResult describes a parsed date and its Unix timestamp.
type DateResult struct {
	Date      string `json:"date"`
	Timestamp int64  `json:"timestamp"`
	ISOWeek   int    `json:"iso_week"`
	DayOfYear int    `json:"day_of_year"`
	Timezone  string `json:"timezone"`
}

// CurrentResult describes the current instant in UTC.
type CurrentResult struct {
	Timestamp int64  `json:"timestamp"`
	ISODate   string `json:"iso_date"`
	ISOWeek   int    `json:"iso_week"`
	DayOfYear int    `json:"day_of_year"`
}

// WeekResult holds the ISO 8601 calendar position of a date.
type WeekResult struct {
	Date      string `json:"date"`
	ISOWeek   int    `json:"iso_week"`
	WeekYear  int    `json:"week_year"`
	DayOfWeek int    `json:"day_of_week"`
	DayOfYear int    `json:"day_of_year"`
}

// Format describes an output format.
type Format struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example"`
}

// LoadTimezone resolves an IANA zone name. Blank means UTC. Names are
// matched case-insensitively, so "utc" and "europe/london" resolve too;
// the canonical name is returned.
func LoadTimezone(name string) (*time.Location, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimezone
	}
	if strings.EqualFold(name, "local") {
		return nil, name, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	for _, candidate := range zoneCandidates(name) {
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc, loc.String(), nil
		}
	}
	return nil, name, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
}

// zoneCandidates lists spellings of name to try against the zone database:
// as given, upper case ("UTC", "EST5EDT") and title case ("America/New_York").
// Title case also upper-cases short all-letter segments after "Etc/" so
// "etc/gmt+5" finds "Etc/GMT+5".
func zoneCandidates(name string) []string {
	candidates := []string{name}
	if upper := strings.ToUpper(name); upper != name {
		candidates = append(candidates, upper)
	}
	if title := zoneTitle(name); title != name {
		candidates = append(candidates, title)
	}
	return candidates
}

func zoneTitle(name string) string {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		if i > 0 && strings.EqualFold(parts[0], "etc") {
			parts[i] = strings.ToUpper(part)
			continue
		}
		b := []rune(strings.ToLower(part))
		for j := range b {
			if j == 0 || b[j-1] == '_' || b[j-1] == '-' {
				b[j] = unicode.ToUpper(b[j])
			}
		}
		parts[i] = string(b)
	}
	return strings.Join(parts, "/")
}

// EpochToDate renders timestamp (seconds) in the named timezone.
// Unrecognized formats fall back to PlainLayout.
func EpochToDate(timestamp int64, format, timezone string) (*EpochResult, error) {
	t, err := fromUnix(timestamp)
	if err != nil {
		return nil, err
	}
	loc, name, err := LoadTimezone(timezone)
	if err != nil {
		return nil, err
	}
	t = t.In(loc)

	_, week := t.ISOWeek()
	return &EpochResult{
		Timestamp: timestamp,
		Date:      t.Format(ISOLayout),
		ISOWeek:   week,
		DayOfYear: t.YearDay(),
		Timezone:  name,
		Formatted: render(t, format),
	}, nil
}

// DateToEpoch parses a free-form date. Dates without zone information are
// interpreted in the named timezone.
func DateToEpoch(date, timezone string) (*DateResult, error) {
	loc, name, err := LoadTimezone(timezone)
	if err != nil {
		return nil, err
	}
	t, err := ParseDate(date, loc)
	if err != nil {
		return nil, err
	}

	_, week := t.ISOWeek()
	return &DateResult{
		Date:      t.Format(ISOLayout),
		Timestamp: t.Unix(),
		ISOWeek:   week,
		DayOfYear: t.YearDay(),
		Timezone:  name,
	}, nil
}

// Current describes now in UTC.
func Current(now time.Time) CurrentResult {
	now = now.UTC()
	_, week := now.ISOWeek()
	return CurrentResult{
		Timestamp: now.Unix(),
		ISODate:   now.Format(ISOLayout),
		ISOWeek:   week,
		DayOfYear: now.YearDay(),
	}
}

// WeekNumber returns the ISO week data for date. The date is echoed back as given.
func WeekNumber(date string) (*WeekResult, error) {
	t, err := ParseDate(date, time.UTC)
	if err != nil {
		return nil, err
	}

	year, week := t.ISOWeek()
	dow := int(t.Weekday())
	if dow == 0 {
		dow = 7
	}
	return &WeekResult{
		Date:      date,
		ISOWeek:   week,
		WeekYear:  year,
		DayOfWeek: dow,
		DayOfYear: t.YearDay(),
	}, nil
}

// Formats lists the supported output formats with examples for
// 2025-06-08T08:37:43Z.
func Formats() []Format {
	example := time.Unix(1749371863, 0).UTC()
	return []Format{
		{Name: FormatISO, Description: "ISO 8601 format", Example: example.Format(ISOLayout)},
		{Name: FormatRFC, Description: "RFC 2822 format", Example: example.Format(RFCLayout)},
		{Name: FormatUnix, Description: "Unix timestamp", Example: fmt.Sprint(example.Unix())},
	}
}

// ParseDate parses a free-form date, using loc when the input carries no zone.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, fmt.Errorf("%w: date", ErrMissingParameter)
	}
	t, err := dateparse.ParseIn(date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

func fromUnix(timestamp int64) (time.Time, error) {
	if timestamp < minTimestamp || timestamp > maxTimestamp {
		return time.Time{}, fmt.Errorf("%w: %d is out of range", ErrInvalidTimestamp, timestamp)
	}
	return time.Unix(timestamp, 0).UTC(), nil
}

func render(t time.Time, format string) string {
	switch format {
	case FormatISO:
		return t.Format(ISOLayout)
	case FormatRFC:
		return t.Format(RFCLayout)
	default:
		return t.Format(PlainLayout)
	}
}
