// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses pipeline timer specifications and computes the
// next firing time.
//
// Two layouts are accepted, distinguished by field count:
//
//	minute hour day-of-month month day-of-week               (5 fields)
//	second minute hour day-of-month month day-of-week [year] (6 or 7 fields)
//
// The 5-field layout numbers days of the week 0-6 from Sunday (7 is
// also Sunday). The 6/7-field layout is the Quartz form used by timer
// specs such as "0 0 22 ? * MON-FRI": days of the week are 1-7 from
// Sunday and "?" marks the day field that is not constrained.
//
// Each field accepts values, ranges (1-5), lists (1,3,5), steps (*/15,
// 1-30/5) and "*". Month and weekday fields also accept three-letter
// names (JAN, MON). When both day fields are restricted a day matches
// if either does; otherwise both must match.
//
// Schedules evaluate in UTC unless parsed with ParseIn.
package cron
