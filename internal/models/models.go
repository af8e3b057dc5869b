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

// Package models defines the data structures shared across the triage service.
package models

import "time"

// InboundEmailEvent is a normalised email extracted from a webhook payload.
// It lives for exactly one webhook invocation.
type InboundEmailEvent struct {
	EventType string
	UserID    string
	MessageID string
	ThreadID  string
	From      string
	To        string
	Subject   string
	Snippet   string
	Body      string
}

// Content returns the best available body text: the full body when present,
// otherwise the snippet.
func (e InboundEmailEvent) Content() string {
	if e.Body != "" {
		return e.Body
	}
	return e.Snippet
}

// Meeting types the classifier may return.
const (
	MeetingTypeOneOnOne  = "one-on-one"
	MeetingTypeGroup     = "group"
	MeetingTypeInterview = "interview"
	MeetingTypeCall      = "call"
	MeetingTypeVideoCall = "video-call"
	MeetingTypeInPerson  = "in-person"
	MeetingTypeUnknown   = "unknown"
)

// ProposedTime is a meeting time extracted by the classifier. The date and
// time strings are untrusted model output and must be validated before any
// calendar operation uses them.
type ProposedTime struct {
	Date       string  `json:"date"`      // YYYY-MM-DD
	StartTime  string  `json:"startTime"` // HH:MM, 24-hour
	EndTime    *string `json:"endTime"`
	Timezone   *string `json:"timezone"`
	IsFlexible bool    `json:"isFlexible"`
}

// ExtractedDetails holds secondary meeting details pulled from the email.
type ExtractedDetails struct {
	Location  *string  `json:"location"`
	Attendees []string `json:"attendees"`
	Platform  *string  `json:"platform"`
}

// MeetingClassification is the structured result of the meeting classifier.
// ProposedTimes may be empty even when IsMeetingRequest is true — open-ended
// requests ("let's find a time next week") carry no concrete slot.
type MeetingClassification struct {
	IsMeetingRequest bool             `json:"isMeetingRequest"`
	Confidence       float64          `json:"confidence"`
	MeetingType      string           `json:"meetingType"`
	MeetingPurpose   *string          `json:"meetingPurpose"`
	ProposedTimes    []ProposedTime   `json:"proposedTimes"`
	DurationMinutes  *int             `json:"durationMinutes"`
	IsUrgent         bool             `json:"isUrgent"`
	RequiresResponse bool             `json:"requiresResponse"`
	ExtractedDetails ExtractedDetails `json:"extractedDetails"`
}

// CalendarEvent is a busy interval reported by the calendar provider. The
// free/busy API does not reveal event details, so Summary is a placeholder.
type CalendarEvent struct {
	ID       string
	Summary  string
	Start    string
	End      string
	IsAllDay bool
}

// TimeSlot is an open interval within working hours.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// AvailabilityResult reports the outcome of a free/busy check. Err carries
// a provider error message; callers treat a non-empty Err as "unknown".
type AvailabilityResult struct {
	IsConnected       bool
	IsAvailable       bool
	ConflictingEvents []CalendarEvent
	AvailableSlots    []TimeSlot
	Err               string
}

// AvailabilityStatus is the persisted outcome of the calendar check.
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityBusy      AvailabilityStatus = "busy"
	AvailabilityUnknown   AvailabilityStatus = "unknown"
)

// ProcessedEmailRecord is the durable ledger entry written after a draft has
// been created. Records are never mutated or deleted by this service.
type ProcessedEmailRecord struct {
	ID                 string
	MessageID          string
	ThreadID           string
	UserID             string
	From               string
	Subject            string
	Snippet            string
	IsMeetingRequest   bool
	AvailabilityStatus AvailabilityStatus
	IsUrgent           bool
	DraftID            string
	DraftBody          string
	ProcessedAt        time.Time
}

// UserSettings holds per-user triage configuration.
type UserSettings struct {
	UserID            string `json:"userId"`
	CalendlyURL       string `json:"calendlyUrl,omitempty"`
	WorkingHoursStart int    `json:"workingHoursStart"`
	WorkingHoursEnd   int    `json:"workingHoursEnd"`
	Timezone          string `json:"timezone"`
	CalendarEnabled   bool   `json:"calendarEnabled"`
}

// DefaultSettings returns the settings applied when a user has no stored row.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:            userID,
		WorkingHoursStart: 9,
		WorkingHoursEnd:   17,
		Timezone:          "UTC",
		CalendarEnabled:   false,
	}
}

// UserProfile is the identity-provider view of a user.
type UserProfile struct {
	ID       string
	FullName string
	Email    string
}

// WebhookResult is the outcome of one webhook invocation.
type WebhookResult struct {
	Processed bool   `json:"processed"`
	DraftID   string `json:"draftId,omitempty"`
	Message   string `json:"message"`

	// Failed marks a fatal draft-creation error, as opposed to a benign
	// skip (duplicate, filtered sender). Not part of the wire shape.
	Failed bool `json:"-"`
}
