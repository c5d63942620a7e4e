// Package calendar expands weekly program schedules into concrete session dates
// and converts HH:MM time slots into credited hours.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for times of day.
	TimeLayout = "15:04"
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format, expected HH:MM")
	ErrInvalidTimeSlot   = errors.New("slot end must be after slot start")
	ErrInvalidWeekday    = errors.New("invalid weekday code")
	ErrInvalidDate       = errors.New("invalid date, expected YYYY-MM-DD")
)

// Weekday is the short code staff use for a day of the week.
type Weekday string

// Supported weekday codes.
const (
	Sunday    Weekday = "SU"
	Monday    Weekday = "M"
	Tuesday   Weekday = "T"
	Wednesday Weekday = "W"
	Thursday  Weekday = "TH"
	Friday    Weekday = "F"
	Saturday  Weekday = "S"
)

var weekdayCodes = map[time.Weekday]Weekday{
	time.Sunday:    Sunday,
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
}

var codeWeekdays = map[Weekday]time.Weekday{
	Sunday:    time.Sunday,
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
}

// WeekdayOf returns the weekday code of t in t's own location.
func WeekdayOf(t time.Time) Weekday {
	return weekdayCodes[t.Weekday()]
}

// ParseWeekday normalises a weekday code such as "th" or " M ".
func ParseWeekday(raw string) (Weekday, error) {
	code := Weekday(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := codeWeekdays[code]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeekday, raw)
	}
	return code, nil
}

// ParseWeekdays parses a list of codes, dropping duplicates while keeping order.
func ParseWeekdays(raw []string) ([]Weekday, error) {
	seen := make(map[Weekday]struct{}, len(raw))
	days := make([]Weekday, 0, len(raw))
	for _, r := range raw {
		day, err := ParseWeekday(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	return days, nil
}

// Date truncates t to midnight UTC of the calendar day t falls on in its own location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DatesSince returns every date from start through today, both inclusive, whose
// weekday is in weekdays. Dates are ascending; start after today yields nothing.
func DatesSince(start time.Time, weekdays []Weekday, today time.Time) []time.Time {
	from, to := Date(start), Date(today)
	if from.After(to) || len(weekdays) == 0 {
		return nil
	}
	wanted := make(map[time.Weekday]struct{}, len(weekdays))
	for _, w := range weekdays {
		if wd, ok := codeWeekdays[w]; ok {
			wanted[wd] = struct{}{}
		}
	}
	var dates []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if _, ok := wanted[d.Weekday()]; ok {
			dates = append(dates, d)
		}
	}
	return dates
}

// Days returns every date from from through to inclusive.
func Days(from, to time.Time) []time.Time {
	start, end := Date(from), Date(to)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ParseTimeOfDay returns minutes past midnight for a strict HH:MM string.
func ParseTimeOfDay(raw string) (int, error) {
	if len(raw) != 5 || raw[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}
	hour, okH := twoDigits(raw[0], raw[1])
	minute, okM := twoDigits(raw[3], raw[4])
	if !okH || !okM || hour > 23 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}
	return hour*60 + minute, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// SlotDuration returns the hours credited for a slot: whole hours between start
// and end, plus one more when the leftover minutes reach 30.
func SlotDuration(start, end string) (decimal.Decimal, error) {
	from, err := ParseTimeOfDay(start)
	if err != nil {
		return decimal.Zero, err
	}
	to, err := ParseTimeOfDay(end)
	if err != nil {
		return decimal.Zero, err
	}
	if to <= from {
		return decimal.Zero, fmt.Errorf("%w: %s-%s", ErrInvalidTimeSlot, start, end)
	}
	total := to - from
	hours := total / 60
	if total%60 >= 30 {
		hours++
	}
	return decimal.NewFromInt(int64(hours)), nil
}
