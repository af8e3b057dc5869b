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

// Package calendar answers availability questions against the user's
// calendar via the connector broker's free/busy query.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/draftwise/triage/internal/connector"
	"github.com/draftwise/triage/internal/models"
)

// CalendarAPI is the slice of the connector client the checker needs.
type CalendarAPI interface {
	CheckCalendarConnection(ctx context.Context, userID string) (connector.Connection, error)
	QueryFreeBusy(ctx context.Context, userID string, timeMin, timeMax time.Time) (connector.FreeBusyResponse, error)
}

// Checker performs free/busy availability checks and slot enumeration.
type Checker struct {
	api CalendarAPI
}

// NewChecker creates an availability checker over the given calendar API.
func NewChecker(api CalendarAPI) *Checker {
	return &Checker{api: api}
}

// Check reports whether the user is free between start and end. Failures
// never surface as errors; they are folded into the result's Err field so
// the pipeline can degrade instead of aborting.
func (c *Checker) Check(ctx context.Context, userID string, start, end time.Time) models.AvailabilityResult {
	conn, err := c.api.CheckCalendarConnection(ctx, userID)
	if err != nil {
		slog.Error("calendar connection check failed", "user", userID, "error", err)
		return models.AvailabilityResult{Err: fmt.Sprintf("connection check failed: %v", err)}
	}
	if !conn.Connected {
		return models.AvailabilityResult{
			IsConnected: false,
			Err:         "calendar not connected",
		}
	}

	resp, err := c.api.QueryFreeBusy(ctx, userID, start, end)
	if err != nil {
		slog.Error("free/busy query failed", "user", userID, "error", err)
		return models.AvailabilityResult{
			IsConnected: true,
			Err:         fmt.Sprintf("free/busy query failed: %v", err),
		}
	}

	busy := primaryBusyPeriods(resp)

	conflicts := make([]models.CalendarEvent, 0, len(busy))
	for i, b := range busy {
		conflicts = append(conflicts, models.CalendarEvent{
			ID:      fmt.Sprintf("busy-%d", i),
			Summary: "Busy",
			Start:   b.Start,
			End:     b.End,
		})
	}

	return models.AvailabilityResult{
		IsConnected:       true,
		IsAvailable:       len(busy) == 0,
		ConflictingEvents: conflicts,
	}
}

// Slots enumerates the open fixed-width slots within working hours on the
// day containing date. Slots are chronological and never extend past the
// end of working hours.
func (c *Checker) Slots(ctx context.Context, userID string, date time.Time, slotMinutes, workStart, workEnd int) ([]models.TimeSlot, error) {
	conn, err := c.api.CheckCalendarConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("connection check: %w", err)
	}
	if !conn.Connected {
		return nil, fmt.Errorf("calendar not connected")
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), workStart, 0, 0, 0, date.Location())
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), workEnd, 0, 0, 0, date.Location())

	resp, err := c.api.QueryFreeBusy(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("free/busy query: %w", err)
	}

	slots := openSlots(dayStart, dayEnd, time.Duration(slotMinutes)*time.Minute, primaryBusyPeriods(resp))
	slog.Info("enumerated open slots", "user", userID, "date", dayStart.Format("2006-01-02"), "slots", len(slots))
	return slots, nil
}

// DaySummary reports per-day slot availability for the brief and status UIs.
type DaySummary struct {
	Date           string `json:"date"`
	AvailableSlots int    `json:"availableSlots"`
	TotalSlots     int    `json:"totalSlots"`
}

// Summary enumerates availability for the next daysAhead weekdays.
// Weekends are skipped.
func (c *Checker) Summary(ctx context.Context, userID string, daysAhead, slotMinutes, workStart, workEnd int) ([]DaySummary, error) {
	conn, err := c.api.CheckCalendarConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("connection check: %w", err)
	}
	if !conn.Connected {
		return nil, fmt.Errorf("calendar not connected")
	}

	hoursPerDay := workEnd - workStart
	totalSlots := hoursPerDay * 60 / slotMinutes

	var summary []DaySummary
	today := time.Now()
	for i := 0; i < daysAhead; i++ {
		day := today.AddDate(0, 0, i)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		slots, err := c.Slots(ctx, userID, day, slotMinutes, workStart, workEnd)
		if err != nil {
			return nil, err
		}

		summary = append(summary, DaySummary{
			Date:           day.Format("2006-01-02"),
			AvailableSlots: len(slots),
			TotalSlots:     totalSlots,
		})
	}
	return summary, nil
}

// primaryBusyPeriods extracts the busy list for the user's primary calendar.
// The provider may key the response by the account's literal email address
// rather than "primary", so when no recognised key is present we fall back
// to the first calendar in the response and log the choice. Known provider
// quirk, not an error.
func primaryBusyPeriods(resp connector.FreeBusyResponse) []connector.BusyPeriod {
	if len(resp.Calendars) == 0 {
		return nil
	}

	if cal, ok := resp.Calendars["primary"]; ok {
		return cal.Busy
	}

	keys := make([]string, 0, len(resp.Calendars))
	for key := range resp.Calendars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	slog.Info("free/busy response had no primary key, using first calendar", "key", keys[0])
	return resp.Calendars[keys[0]].Busy
}

// openSlots generates every fixed-width slot across the window and drops
// any that overlaps a busy period. Overlap uses the half-open test:
// aStart < bEnd && aEnd > bStart.
func openSlots(windowStart, windowEnd time.Time, slotDur time.Duration, busy []connector.BusyPeriod) []models.TimeSlot {
	type interval struct{ start, end time.Time }

	busyIntervals := make([]interval, 0, len(busy))
	for _, b := range busy {
		bs, err1 := time.Parse(time.RFC3339, b.Start)
		be, err2 := time.Parse(time.RFC3339, b.End)
		if err1 != nil || err2 != nil {
			slog.Warn("skipping unparseable busy period", "start", b.Start, "end", b.End)
			continue
		}
		busyIntervals = append(busyIntervals, interval{bs, be})
	}

	var slots []models.TimeSlot
	for cur := windowStart; !cur.Add(slotDur).After(windowEnd); cur = cur.Add(slotDur) {
		slotEnd := cur.Add(slotDur)

		conflict := false
		for _, b := range busyIntervals {
			if cur.Before(b.end) && slotEnd.After(b.start) {
				conflict = true
				break
			}
		}
		if !conflict {
			slots = append(slots, models.TimeSlot{Start: cur, End: slotEnd})
		}
	}
	return slots
}
