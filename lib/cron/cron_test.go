// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, expression string) Schedule {
	t.Helper()
	schedule, err := Parse(expression)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expression, err)
	}
	return schedule
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParseValid(t *testing.T) {
	expressions := []string{
		"* * * * *",
		"0 7 * * *",
		"*/15 0-6 1,15 * 1-5",
		"30 3 * * 0",
		"0 0 1 1 *",
		"5,10,15 * * * *",
		"0-30/5 * * * *",
		"0 0 22 ? * MON-FRI",
		"30 15 10 * * ? 2027",
		"0 */5 * * * ?",
		"0 0 9 1,15 JAN-MAR ?",
		"0 0 * * sun",
	}
	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			if _, err := Parse(expression); err != nil {
				t.Errorf("Parse(%q) = %v, want nil", expression, err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    string
	}{
		{"too_few_fields", "* * * *", "expected 5, 6, or 7 fields"},
		{"too_many_fields", "* * * * * * * *", "expected 5, 6, or 7 fields"},
		{"empty", "", "expected 5, 6, or 7 fields"},
		{"minute_out_of_range", "60 * * * *", "out of range"},
		{"hour_out_of_range", "* 24 * * *", "out of range"},
		{"day_zero", "* * 0 * *", "out of range"},
		{"day_out_of_range", "* * 32 * *", "out of range"},
		{"month_zero", "* * * 0 *", "out of range"},
		{"month_out_of_range", "* * * 13 *", "out of range"},
		{"dow_out_of_range", "* * * * 8", "out of range"},
		{"quartz_dow_zero", "0 0 12 ? * 0", "out of range"},
		{"quartz_both_question", "0 0 12 ? * ?", "cannot both be"},
		{"question_outside_quartz", "0 12 ? * *", "invalid value"},
		{"negative_step", "*/0 * * * *", "step must be positive"},
		{"bad_range", "5-3 * * * *", "range start 5 > end 3"},
		{"non_numeric", "abc * * * *", "invalid value"},
		{"bad_month_name", "0 0 1 JUNE *", "invalid value"},
		{"bad_step_value", "*/x * * * *", "invalid step"},
		{"bad_year", "0 0 12 * * ? 1900", "year field"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(test.expression)
			if err == nil {
				t.Fatalf("Parse(%q) = nil, want error containing %q", test.expression, test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Parse(%q) = %q, want error containing %q", test.expression, err, test.wantErr)
			}
		})
	}
}

func TestNext(t *testing.T) {
	// 2026-02-18 is a Wednesday.
	tests := []struct {
		name       string
		expression string
		from       time.Time
		want       time.Time
	}{
		{"every minute", "* * * * *", utc(2026, 2, 18, 10, 30), utc(2026, 2, 18, 10, 31)},
		{"nightly before the hour", "0 2 * * *", utc(2026, 2, 18, 1, 0), utc(2026, 2, 18, 2, 0)},
		{"nightly after the hour", "0 2 * * *", utc(2026, 2, 18, 3, 0), utc(2026, 2, 19, 2, 0)},
		{"nightly exactly on the hour", "0 2 * * *", utc(2026, 2, 18, 2, 0), utc(2026, 2, 19, 2, 0)},
		{"quarter hours mid interval", "*/15 * * * *", utc(2026, 2, 18, 10, 14), utc(2026, 2, 18, 10, 15)},
		{"quarter hours on boundary", "*/15 * * * *", utc(2026, 2, 18, 10, 15), utc(2026, 2, 18, 10, 30)},
		{"quarter hours across midnight", "*/15 * * * *", utc(2026, 2, 18, 23, 50), utc(2026, 2, 19, 0, 0)},
		{"weekday same day", "0 9 * * 1-5", utc(2026, 2, 17, 8, 0), utc(2026, 2, 17, 9, 0)},
		{"weekday skips the weekend", "0 9 * * 1-5", utc(2026, 2, 20, 10, 0), utc(2026, 2, 23, 9, 0)},
		{"release days", "0 0 1,15 * *", utc(2026, 2, 16, 0, 0), utc(2026, 3, 1, 0, 0)},
		{"yearly", "0 0 1 1 *", utc(2026, 3, 15, 12, 0), utc(2027, 1, 1, 0, 0)},
		{"31st skips short months", "0 0 31 * *", utc(2026, 2, 1, 0, 0), utc(2026, 3, 31, 0, 0)},
		{"year rollover", "0 2 * * *", utc(2026, 12, 31, 8, 0), utc(2027, 1, 1, 2, 0)},
		{"leap day", "0 0 29 2 *", utc(2026, 1, 1, 0, 0), utc(2028, 2, 29, 0, 0)},
		{"sub-minute start", "0 * * * *", utc(2026, 2, 18, 10, 59).Add(30 * time.Second), utc(2026, 2, 18, 11, 0)},
		{"sunday", "0 3 * * 0", utc(2026, 2, 18, 0, 0), utc(2026, 2, 22, 3, 0)},
		{"range with step", "0-30/5 * * * *", utc(2026, 2, 18, 10, 7), utc(2026, 2, 18, 10, 10)},
		{"range with step wraps the hour", "0-30/5 * * * *", utc(2026, 2, 18, 10, 31), utc(2026, 2, 18, 11, 0)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			next, err := mustParse(t, test.expression).Next(test.from)
			if err != nil {
				t.Fatalf("Next(%v): %v", test.from, err)
			}
			if !next.Equal(test.want) {
				t.Errorf("Next(%v) = %v (%v), want %v", test.from, next, next.Weekday(), test.want)
			}
		})
	}
}

func TestNextSequence(t *testing.T) {
	schedule := mustParse(t, "0 */6 * * *")
	cursor := utc(2026, 2, 18, 0, 0)
	for index, want := range []time.Time{
		utc(2026, 2, 18, 6, 0),
		utc(2026, 2, 18, 12, 0),
		utc(2026, 2, 18, 18, 0),
		utc(2026, 2, 19, 0, 0),
	} {
		next, err := schedule.Next(cursor)
		if err != nil {
			t.Fatalf("Next #%d from %v: %v", index, cursor, err)
		}
		if !next.Equal(want) {
			t.Errorf("Next #%d = %v, want %v", index, next, want)
		}
		cursor = next
	}
}

func TestParseFieldEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		value string
		spec  field
		want  []int
	}{
		{"single", "5", field{maximum: 59}, []int{5}},
		{"range", "1-3", field{maximum: 59}, []int{1, 2, 3}},
		{"list", "1,3,5", field{maximum: 59}, []int{1, 3, 5}},
		{"star", "*", field{maximum: 5}, []int{0, 1, 2, 3, 4, 5}},
		{"star_step", "*/2", field{maximum: 5}, []int{0, 2, 4}},
		{"range_step", "1-10/3", field{maximum: 59}, []int{1, 4, 7, 10}},
		{"start_step", "50/4", field{maximum: 59}, []int{50, 54, 58}},
		{"month_names", "JAN,mar-apr", field{minimum: 1, maximum: 12, names: monthNames}, []int{1, 3, 4}},
		{"quartz_day_names", "MON-WED", field{minimum: 1, maximum: 7, names: dayNames, nameBase: 1}, []int{2, 3, 4}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bits, err := parseField(test.value, test.spec)
			if err != nil {
				t.Fatalf("parseField(%q) = %v", test.value, err)
			}
			for _, value := range test.want {
				if !bits.has(value) {
					t.Errorf("parseField(%q): missing value %d", test.value, value)
				}
			}
			count := 0
			for value := test.spec.minimum; value <= test.spec.maximum; value++ {
				if bits.has(value) {
					count++
				}
			}
			if count != len(test.want) {
				t.Errorf("parseField(%q): got %d values, want %d", test.value, count, len(test.want))
			}
		})
	}
}

func TestQuartzWeekdayEvenings(t *testing.T) {
	schedule := mustParse(t, "0 0 22 ? * MON-FRI")

	// Friday after 22:00 moves to Monday.
	next, err := schedule.Next(utc(2026, 2, 20, 22, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 23, 22, 0); !next.Equal(want) {
		t.Errorf("Next = %v (weekday=%v), want %v", next, next.Weekday(), want)
	}
}

func TestQuartzSeconds(t *testing.T) {
	schedule := mustParse(t, "30 */10 * * * ?")

	next, err := schedule.Next(utc(2026, 2, 18, 10, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 18, 10, 0).Add(30 * time.Second); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
	next, err = schedule.Next(next)
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 18, 10, 10).Add(30 * time.Second); !next.Equal(want) {
		t.Errorf("second Next = %v, want %v", next, want)
	}
}

func TestQuartzYear(t *testing.T) {
	schedule := mustParse(t, "0 0 0 1 1 ? 2028")
	next, err := schedule.Next(utc(2026, 6, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2028, 1, 1, 0, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}

	if _, err := mustParse(t, "0 0 0 1 1 ? 2020").Next(utc(2026, 1, 1, 0, 0)); err == nil {
		t.Error("Next for a past year succeeded, want error")
	}
}

func TestBothDayFieldsRestrictedMatchEither(t *testing.T) {
	// The 13th of the month or any Friday.
	schedule := mustParse(t, "0 12 13 * 5")

	cursor := utc(2026, 2, 10, 0, 0)
	for _, want := range []time.Time{
		utc(2026, 2, 13, 12, 0),
		utc(2026, 2, 20, 12, 0),
		utc(2026, 2, 27, 12, 0),
		utc(2026, 3, 6, 12, 0),
		utc(2026, 3, 13, 12, 0),
	} {
		next, err := schedule.Next(cursor)
		if err != nil {
			t.Fatal(err)
		}
		if !next.Equal(want) {
			t.Fatalf("Next(%v) = %v, want %v", cursor, next, want)
		}
		cursor = next
	}
}

func TestSundayAsSeven(t *testing.T) {
	from := utc(2026, 2, 18, 0, 0)
	seven, err := mustParse(t, "0 3 * * 7").Next(from)
	if err != nil {
		t.Fatal(err)
	}
	zero, err := mustParse(t, "0 3 * * 0").Next(from)
	if err != nil {
		t.Fatal(err)
	}
	if !seven.Equal(zero) {
		t.Errorf("day 7 = %v, day 0 = %v, want equal", seven, zero)
	}
}

func TestParseInLocation(t *testing.T) {
	location := time.FixedZone("UTC+5", 5*60*60)
	schedule, err := ParseIn("0 9 * * *", location)
	if err != nil {
		t.Fatal(err)
	}
	next, err := schedule.Next(utc(2026, 2, 18, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	// 09:00 at UTC+5 is 04:00 UTC.
	if want := utc(2026, 2, 18, 4, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next.UTC(), want)
	}
	if schedule.String() != "0 9 * * *" {
		t.Errorf("String() = %q", schedule.String())
	}
}
