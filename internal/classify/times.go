// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package classify

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/draftwise/triage/internal/models"
)

var (
	timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	datePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// normalizeTime validates a model-produced HH:MM string and zero-pads the
// hour. Returns ok=false for anything outside 00:00–23:59.
func normalizeTime(raw string) (hour, minute int, ok bool) {
	m := timePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// normalizeDate validates a model-produced YYYY-MM-DD string, including
// calendar validity (rejects 2024-02-30 and the like).
func normalizeDate(raw string) (year int, month time.Month, day int, ok bool) {
	m := datePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, 0, false
	}
	year, _ = strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	day, _ = strconv.Atoi(m[3])
	if mo < 1 || mo > 12 || day < 1 || day > 31 {
		return 0, 0, 0, false
	}
	month = time.Month(mo)

	// time.Date normalises out-of-range days, so a round-trip mismatch
	// means the date does not exist on the calendar.
	check := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if check.Year() != year || check.Month() != month || check.Day() != day {
		return 0, 0, 0, false
	}
	return year, month, day, true
}

// ProposedTimeRange converts a classifier-extracted ProposedTime into a
// concrete [start, end] range in the given location. The date and start
// time must be valid or the conversion fails. A missing, malformed, or
// non-positive end time is discarded and the end falls back to
// start + defaultDurationMinutes: an untrustworthy end time must never
// corrupt a calendar write.
func ProposedTimeRange(pt models.ProposedTime, defaultDurationMinutes int, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}

	year, month, day, ok := normalizeDate(pt.Date)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", pt.Date)
	}

	hour, minute, ok := normalizeTime(pt.StartTime)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time %q: expected HH:MM", pt.StartTime)
	}

	start = time.Date(year, month, day, hour, minute, 0, 0, loc)
	fallbackEnd := start.Add(time.Duration(defaultDurationMinutes) * time.Minute)

	if pt.EndTime == nil {
		return start, fallbackEnd, nil
	}

	endHour, endMinute, ok := normalizeTime(*pt.EndTime)
	if !ok {
		slog.Warn("discarding malformed end time", "end_time", *pt.EndTime)
		return start, fallbackEnd, nil
	}

	parsedEnd := time.Date(year, month, day, endHour, endMinute, 0, 0, loc)
	if !parsedEnd.After(start) {
		slog.Warn("discarding end time at or before start", "end_time", *pt.EndTime)
		return start, fallbackEnd, nil
	}
	return start, parsedEnd, nil
}

// FormatProposedTimes renders proposed times for prompt construction and
// display: one "Option N" line per time, with end time, timezone, and
// flexibility annotations when present.
func FormatProposedTimes(times []models.ProposedTime) string {
	if len(times) == 0 {
		return "No specific times proposed"
	}

	lines := make([]string, 0, len(times))
	for i, pt := range times {
		formatted := pt.Date + " " + pt.StartTime

		year, month, day, dateOK := normalizeDate(pt.Date)
		hour, minute, timeOK := normalizeTime(pt.StartTime)
		if dateOK && timeOK {
			start := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
			formatted = start.Format("Monday, January 2, 3:04 PM")

			if pt.EndTime != nil {
				if endHour, endMinute, ok := normalizeTime(*pt.EndTime); ok {
					end := time.Date(year, month, day, endHour, endMinute, 0, 0, time.UTC)
					formatted += " - " + end.Format("3:04 PM")
				}
			}
		}

		if pt.Timezone != nil && *pt.Timezone != "" {
			formatted += " (" + *pt.Timezone + ")"
		}
		if pt.IsFlexible {
			formatted += " [flexible]"
		}

		lines = append(lines, fmt.Sprintf("Option %d: %s", i+1, formatted))
	}
	return strings.Join(lines, "\n")
}
