// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed timer specification. The zero value is not
// usable; create one with Parse or ParseIn.
type Schedule struct {
	expression string
	location   *time.Location

	seconds     bitset64
	minutes     bitset64
	hours       bitset64
	daysOfMonth bitset64
	months      bitset64
	daysOfWeek  bitset64 // 0=Sunday regardless of layout

	// Day fields given as "*" or "?" do not restrict.
	dayOfMonthAny bool
	dayOfWeekAny  bool

	// years is nil when any year matches.
	years map[int]bool
}

type bitset64 uint64

func (b bitset64) has(value int) bool { return b&(1<<uint(value)) != 0 }
func (b *bitset64) set(value int)     { *b |= 1 << uint(value) }

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// field describes how one position of an expression is parsed.
type field struct {
	name     string
	minimum  int
	maximum  int
	names    map[string]int
	nameBase int // added to names[...] to get the field's numbering
}

// Parse parses an expression evaluated in UTC.
func Parse(expression string) (Schedule, error) {
	return ParseIn(expression, time.UTC)
}

// ParseIn parses an expression evaluated in location.
func ParseIn(expression string, location *time.Location) (Schedule, error) {
	fields := strings.Fields(expression)
	schedule := Schedule{expression: expression, location: location}

	var (
		quartz bool
		err    error
	)
	switch len(fields) {
	case 5:
		fields = append([]string{"0"}, fields...)
	case 6, 7:
		quartz = true
	default:
		return Schedule{}, fmt.Errorf("cron: expected 5, 6, or 7 fields, got %d", len(fields))
	}

	if schedule.seconds, err = parseField(fields[0], field{name: "second", maximum: 59}); err != nil {
		return Schedule{}, err
	}
	if schedule.minutes, err = parseField(fields[1], field{name: "minute", maximum: 59}); err != nil {
		return Schedule{}, err
	}
	if schedule.hours, err = parseField(fields[2], field{name: "hour", maximum: 23}); err != nil {
		return Schedule{}, err
	}

	schedule.dayOfMonthAny = isWildcard(fields[3], quartz)
	schedule.dayOfWeekAny = isWildcard(fields[5], quartz)
	if quartz {
		if fields[3] == "?" && fields[5] == "?" {
			return Schedule{}, fmt.Errorf("cron: %q: day-of-month and day-of-week cannot both be \"?\"", expression)
		}
		for _, index := range []int{3, 5} {
			if fields[index] == "?" {
				fields[index] = "*"
			}
		}
	}
	if schedule.daysOfMonth, err = parseField(fields[3], field{name: "day-of-month", minimum: 1, maximum: 31}); err != nil {
		return Schedule{}, err
	}
	if schedule.months, err = parseField(fields[4], field{name: "month", minimum: 1, maximum: 12, names: monthNames}); err != nil {
		return Schedule{}, err
	}

	if quartz {
		days, err := parseField(fields[5], field{name: "day-of-week", minimum: 1, maximum: 7, names: dayNames, nameBase: 1})
		if err != nil {
			return Schedule{}, err
		}
		for value := 1; value <= 7; value++ {
			if days.has(value) {
				schedule.daysOfWeek.set(value - 1)
			}
		}
	} else {
		days, err := parseField(fields[5], field{name: "day-of-week", maximum: 7, names: dayNames})
		if err != nil {
			return Schedule{}, err
		}
		if days.has(7) {
			days.set(0)
		}
		schedule.daysOfWeek = days &^ (1 << 7)
	}

	if len(fields) == 7 && fields[6] != "*" {
		schedule.years, err = parseYears(fields[6])
		if err != nil {
			return Schedule{}, err
		}
	}
	return schedule, nil
}

// isWildcard reports whether a day field leaves the day unrestricted.
func isWildcard(value string, quartz bool) bool {
	return value == "*" || (quartz && value == "?")
}

func (s Schedule) String() string {
	return s.expression
}

// Next returns the earliest time strictly after t that matches, in the
// schedule's location. It returns an error when no time matches within
// eight years (Feb 30, or a year list in the past).
func (s Schedule) Next(t time.Time) (time.Time, error) {
	location := s.location
	if location == nil {
		location = time.UTC
	}
	t = t.In(location).Truncate(time.Second).Add(time.Second)
	limit := t.AddDate(8, 0, 0)

	for t.Before(limit) {
		if s.years != nil && !s.years[t.Year()] {
			t = time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, location)
			continue
		}
		if !s.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, location)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, location)
			continue
		}
		if !s.hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, location)
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, location)
			continue
		}
		if !s.seconds.has(t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cron: %q: no matching time within 8 years", s.expression)
}

func (s Schedule) dayMatches(t time.Time) bool {
	dayOfMonth := s.daysOfMonth.has(t.Day())
	dayOfWeek := s.daysOfWeek.has(int(t.Weekday()))
	switch {
	case s.dayOfMonthAny && s.dayOfWeekAny:
		return true
	case s.dayOfMonthAny:
		return dayOfWeek
	case s.dayOfWeekAny:
		return dayOfMonth
	default:
		return dayOfMonth || dayOfWeek
	}
}

// parseField parses a comma-separated list of terms.
func parseField(value string, spec field) (bitset64, error) {
	var result bitset64
	for _, term := range strings.Split(value, ",") {
		bits, err := parseTerm(term, spec)
		if err != nil {
			return 0, fmt.Errorf("cron: %s field: %w", spec.name, err)
		}
		result |= bits
	}
	return result, nil
}

// parseTerm parses *, */N, V, V-V, V/N, or V-V/N.
func parseTerm(term string, spec field) (bitset64, error) {
	rangePart, stepPart, stepped := strings.Cut(term, "/")
	step := 1
	if stepped {
		parsed, err := strconv.Atoi(stepPart)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q", stepPart)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var start, end int
	switch {
	case rangePart == "*":
		start, end = spec.minimum, spec.maximum
	case strings.Contains(rangePart, "-"):
		low, high, _ := strings.Cut(rangePart, "-")
		var err error
		if start, err = spec.value(low); err != nil {
			return 0, err
		}
		if end, err = spec.value(high); err != nil {
			return 0, err
		}
		if start > end {
			return 0, fmt.Errorf("range start %d > end %d", start, end)
		}
	default:
		value, err := spec.value(rangePart)
		if err != nil {
			return 0, err
		}
		start, end = value, value
		if stepped {
			end = spec.maximum
		}
	}

	if start < spec.minimum || end > spec.maximum {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", spec.minimum, spec.maximum, start, end)
	}

	var result bitset64
	for value := start; value <= end; value += step {
		result.set(value)
	}
	return result, nil
}

func (spec field) value(text string) (int, error) {
	if spec.names != nil {
		if value, ok := spec.names[strings.ToUpper(text)]; ok {
			return value + spec.nameBase, nil
		}
	}
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", text)
	}
	return value, nil
}

func parseYears(value string) (map[int]bool, error) {
	years := make(map[int]bool)
	for _, term := range strings.Split(value, ",") {
		low, high, isRange := strings.Cut(term, "-")
		start, err := strconv.Atoi(low)
		if err != nil {
			return nil, fmt.Errorf("cron: year field: invalid value %q", low)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(high); err != nil {
				return nil, fmt.Errorf("cron: year field: invalid value %q", high)
			}
		}
		if start < 1970 || end > 2199 || start > end {
			return nil, fmt.Errorf("cron: year field: %q out of range [1970-2199]", term)
		}
		for year := start; year <= end; year++ {
			years[year] = true
		}
	}
	return years, nil
}
