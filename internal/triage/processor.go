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

// Package triage orchestrates the processing of one inbound email event:
// dedup, sender filtering, urgency and meeting classification, the optional
// calendar-availability branch, draft generation, and the ledger write.
//
// Every external dependency failure short of the final draft-creation call
// degrades the response instead of aborting it. Draft creation is the one
// fatal boundary: an email that was never drafted produced no value, so
// that failure is reported to the caller.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/draftwise/triage/internal/classify"
	"github.com/draftwise/triage/internal/connector"
	"github.com/draftwise/triage/internal/drafts"
	"github.com/draftwise/triage/internal/models"
)

// automatedSenderPatterns drop mail from senders that never expect a reply.
var automatedSenderPatterns = []string{
	"noreply",
	"no-reply",
	"donotreply",
	"mailer-daemon",
	"postmaster",
}

// DedupFilter is the fast-path idempotency filter (Redis).
type DedupFilter interface {
	IsNew(ctx context.Context, userID, messageID string) (bool, error)
	Forget(ctx context.Context, userID, messageID string) error
}

// Ledger is the durable record of processed emails and user settings.
type Ledger interface {
	IsProcessed(ctx context.Context, userID, messageID string) bool
	SaveRecord(ctx context.Context, rec models.ProcessedEmailRecord) *models.ProcessedEmailRecord
	Settings(ctx context.Context, userID string) models.UserSettings
}

// ProfileSource looks up user identity for self-sent detection and the
// draft signature.
type ProfileSource interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// MeetingClassifier classifies an email as a meeting request. It never
// fails; classification errors degrade to the default classification.
type MeetingClassifier interface {
	DetectMeeting(ctx context.Context, email models.InboundEmailEvent) models.MeetingClassification
}

// AvailabilityChecker answers free/busy questions.
type AvailabilityChecker interface {
	Check(ctx context.Context, userID string, start, end time.Time) models.AvailabilityResult
	Slots(ctx context.Context, userID string, date time.Time, slotMinutes, workStart, workEnd int) ([]models.TimeSlot, error)
}

// DraftGenerator produces reply bodies. It never fails; generation errors
// degrade to fixed fallback sentences.
type DraftGenerator interface {
	Reply(ctx context.Context, email models.InboundEmailEvent, userName string) string
	MeetingReply(ctx context.Context, email models.InboundEmailEvent, userName string,
		classification models.MeetingClassification, avCtx drafts.AvailabilityContext,
		calendlyURL string, alternatives []string) string
}

// Mailbox creates reply drafts in the user's mail account.
type Mailbox interface {
	CreateDraft(ctx context.Context, userID string, draft connector.DraftRequest) (string, error)
}

// EventCreator creates calendar events.
type EventCreator interface {
	CreateCalendarEvent(ctx context.Context, userID string, event connector.EventRequest) (string, error)
}

// Processor sequences the triage pipeline for one inbound event.
type Processor struct {
	dedup    DedupFilter
	ledger   Ledger
	profiles ProfileSource
	meetings MeetingClassifier
	calendar AvailabilityChecker
	drafts   DraftGenerator
	mailbox  Mailbox
	events   EventCreator

	confidenceThreshold   float64
	defaultMeetingMinutes int
	slotMinutes           int
}

// ProcessorConfig holds the collaborators and tuning for a Processor.
type ProcessorConfig struct {
	Dedup    DedupFilter
	Ledger   Ledger
	Profiles ProfileSource
	Meetings MeetingClassifier
	Calendar AvailabilityChecker
	Drafts   DraftGenerator
	Mailbox  Mailbox
	Events   EventCreator

	ConfidenceThreshold   float64
	DefaultMeetingMinutes int
	SlotMinutes           int
}

// NewProcessor creates a triage processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		dedup:    cfg.Dedup,
		ledger:   cfg.Ledger,
		profiles: cfg.Profiles,
		meetings: cfg.Meetings,
		calendar: cfg.Calendar,
		drafts:   cfg.Drafts,
		mailbox:  cfg.Mailbox,
		events:   cfg.Events,

		confidenceThreshold:   cfg.ConfidenceThreshold,
		defaultMeetingMinutes: cfg.DefaultMeetingMinutes,
		slotMinutes:           cfg.SlotMinutes,
	}
	if p.confidenceThreshold <= 0 {
		p.confidenceThreshold = classify.DefaultConfidenceThreshold
	}
	if p.defaultMeetingMinutes <= 0 {
		p.defaultMeetingMinutes = 30
	}
	if p.slotMinutes <= 0 {
		p.slotMinutes = 30
	}
	return p
}

// Process runs the pipeline for one already-extracted email event.
func (p *Processor) Process(ctx context.Context, email models.InboundEmailEvent) models.WebhookResult {
	slog.Info("processing email", "user", email.UserID, "message_id", email.MessageID, "from", email.From)

	// Fast-path dedup. Fails open: a filter error is logged and treated
	// as new.
	if p.dedup != nil {
		isNew, err := p.dedup.IsNew(ctx, email.UserID, email.MessageID)
		if err != nil {
			slog.Warn("dedup filter check failed, proceeding", "error", err)
		} else if !isNew {
			slog.Info("skipping duplicate message", "message_id", email.MessageID)
			return models.WebhookResult{Processed: false, Message: "Email already processed"}
		}
	}

	// Authoritative dedup against the ledger. Also fails open.
	if p.ledger.IsProcessed(ctx, email.UserID, email.MessageID) {
		return models.WebhookResult{Processed: false, Message: "Email already processed"}
	}

	// Profile lookup for self-sent detection and the draft signature.
	// A missing profile degrades to a generic signature.
	userName := "User"
	userEmail := ""
	profile, err := p.profiles.GetUserProfile(ctx, email.UserID)
	if err != nil {
		slog.Warn("profile lookup failed", "user", email.UserID, "error", err)
	} else if profile != nil {
		if profile.FullName != "" {
			userName = profile.FullName
		}
		userEmail = profile.Email
	}

	if !shouldProcess(email, userEmail) {
		return models.WebhookResult{Processed: false, Message: "Email filtered out (automated/self-sent)"}
	}

	settings := p.ledger.Settings(ctx, email.UserID)

	classification := p.meetings.DetectMeeting(ctx, email)

	// Meeting urgency wins over the regex signal: the model saw the
	// whole email.
	isUrgent := classification.IsUrgent
	if !classification.IsMeetingRequest {
		isUrgent = classify.DetectUrgency(email.Subject, email.Content())
	}
	if isUrgent {
		slog.Info("email flagged as urgent", "message_id", email.MessageID)
	}

	availabilityStatus := models.AvailabilityUnknown
	var draftBody string

	var createEvent bool
	var eventStart time.Time
	eventDuration := p.defaultMeetingMinutes

	if classify.ShouldCheckCalendar(classification, p.confidenceThreshold) && settings.CalendarEnabled {
		slog.Info("processing as meeting request with calendar check", "message_id", email.MessageID)

		checked := false
		available := false
		var alternatives []string

		if classification.DurationMinutes != nil && *classification.DurationMinutes > 0 {
			eventDuration = *classification.DurationMinutes
		}

		if len(classification.ProposedTimes) > 0 {
			start, end, rangeErr := classify.ProposedTimeRange(
				classification.ProposedTimes[0], eventDuration, settingsLocation(settings))
			if rangeErr != nil {
				slog.Warn("unusable proposed time, skipping availability check", "error", rangeErr)
			} else {
				availability := p.calendar.Check(ctx, email.UserID, start, end)
				switch {
				case availability.Err != "":
					slog.Warn("availability check degraded", "error", availability.Err)
				case !availability.IsConnected:
					slog.Info("calendar not connected", "user", email.UserID)
				default:
					checked = true
					available = availability.IsAvailable
					if available {
						availabilityStatus = models.AvailabilityAvailable
						createEvent = true
						eventStart = start
					} else {
						availabilityStatus = models.AvailabilityBusy
						alternatives = p.alternativeSlots(ctx, email.UserID, start, settings)
					}
				}
			}
		} else {
			slog.Info("no proposed times in meeting request", "message_id", email.MessageID)
		}

		avCtx := drafts.DecideContext(checked && available, len(classification.ProposedTimes), settings.CalendlyURL, alternatives)
		draftBody = p.drafts.MeetingReply(ctx, email, userName, classification, avCtx, settings.CalendlyURL, alternatives)
	} else {
		draftBody = p.drafts.Reply(ctx, email, userName)
	}

	recipient := replyAddress(email.From)

	// Draft creation and event creation are independent network calls;
	// issue them concurrently and join before persisting.
	type eventOutcome struct {
		id  string
		err error
	}
	var eventCh chan eventOutcome
	if createEvent && p.events != nil {
		eventCh = make(chan eventOutcome, 1)
		req := connector.EventRequest{
			Title:           eventTitle(email.Subject),
			Description:     eventDescription(classification, email.From),
			StartTime:       eventStart.Format(time.RFC3339),
			DurationMinutes: eventDuration,
			Attendees:       []string{recipient},
		}
		if classification.ExtractedDetails.Location != nil {
			req.Location = *classification.ExtractedDetails.Location
		}
		go func() {
			id, eventErr := p.events.CreateCalendarEvent(ctx, email.UserID, req)
			eventCh <- eventOutcome{id: id, err: eventErr}
		}()
	}

	draftID, draftErr := p.mailbox.CreateDraft(ctx, email.UserID, connector.DraftRequest{
		Recipient: recipient,
		Subject:   replySubject(email.Subject),
		Body:      draftBody,
		ThreadID:  email.ThreadID,
	})

	if eventCh != nil {
		outcome := <-eventCh
		if outcome.err != nil {
			// Event creation is best effort; the draft is the product.
			slog.Warn("calendar event creation failed", "error", outcome.err)
		} else {
			slog.Info("calendar event created", "event_id", outcome.id)
		}
	}

	if draftErr != nil {
		slog.Error("failed to create draft", "user", email.UserID, "message_id", email.MessageID, "error", draftErr)
		// Clear the seen marker so an upstream retry is not dropped.
		if p.dedup != nil {
			if forgetErr := p.dedup.Forget(ctx, email.UserID, email.MessageID); forgetErr != nil {
				slog.Warn("failed to clear dedup marker", "error", forgetErr)
			}
		}
		return models.WebhookResult{
			Processed: false,
			Failed:    true,
			Message:   fmt.Sprintf("Failed to create draft: %v", draftErr),
		}
	}

	slog.Info("draft created", "draft_id", draftID, "user", email.UserID)

	p.ledger.SaveRecord(ctx, models.ProcessedEmailRecord{
		MessageID:          email.MessageID,
		ThreadID:           email.ThreadID,
		UserID:             email.UserID,
		From:               email.From,
		Subject:            email.Subject,
		Snippet:            email.Snippet,
		IsMeetingRequest:   classification.IsMeetingRequest,
		AvailabilityStatus: availabilityStatus,
		IsUrgent:           isUrgent,
		DraftID:            draftID,
		DraftBody:          draftBody,
	})

	return models.WebhookResult{
		Processed: true,
		DraftID:   draftID,
		Message:   fmt.Sprintf("Draft reply created for email from %s", email.From),
	}
}

// alternativeSlots fetches up to three open slots on the proposed day for
// the busy-with-alternatives reply. Best effort.
func (p *Processor) alternativeSlots(ctx context.Context, userID string, day time.Time, settings models.UserSettings) []string {
	slots, err := p.calendar.Slots(ctx, userID, day, p.slotMinutes, settings.WorkingHoursStart, settings.WorkingHoursEnd)
	if err != nil {
		slog.Warn("failed to get alternative slots", "error", err)
		return nil
	}

	limit := 3
	if len(slots) < limit {
		limit = len(slots)
	}
	formatted := make([]string, 0, limit)
	for _, slot := range slots[:limit] {
		formatted = append(formatted, slot.Start.Format("Mon, Jan 2, 3:04 PM"))
	}
	return formatted
}

// shouldProcess drops self-sent and automated mail.
func shouldProcess(email models.InboundEmailEvent, userEmail string) bool {
	fromLower := strings.ToLower(email.From)

	if userEmail != "" && strings.Contains(fromLower, strings.ToLower(userEmail)) {
		slog.Info("skipping email sent by user", "message_id", email.MessageID)
		return false
	}

	for _, pattern := range automatedSenderPatterns {
		if strings.Contains(fromLower, pattern) {
			slog.Info("skipping automated email", "from", email.From)
			return false
		}
	}
	return true
}

var addressPattern = regexp.MustCompile(`<(.+)>`)

// replyAddress extracts the bare address from a "Name <addr>" From header.
func replyAddress(from string) string {
	if m := addressPattern.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return from
}

// replySubject keeps the thread's subject, adding "Re: " once.
func replySubject(subject string) string {
	if strings.HasPrefix(subject, "Re:") {
		return subject
	}
	return "Re: " + subject
}

func eventTitle(subject string) string {
	if subject == "" {
		return "Meeting"
	}
	return subject
}

// eventDescription assembles the calendar event body from the extracted
// meeting details.
func eventDescription(c models.MeetingClassification, from string) string {
	var parts []string
	if c.MeetingPurpose != nil && *c.MeetingPurpose != "" {
		parts = append(parts, "Purpose: "+*c.MeetingPurpose)
	}
	if c.ExtractedDetails.Platform != nil && *c.ExtractedDetails.Platform != "" {
		parts = append(parts, "Platform: "+*c.ExtractedDetails.Platform)
	}
	parts = append(parts, "Requested by: "+from)
	return strings.Join(parts, "\n")
}

// settingsLocation resolves the user's timezone, falling back to UTC.
func settingsLocation(settings models.UserSettings) *time.Location {
	if settings.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		slog.Warn("invalid timezone in settings, using UTC", "timezone", settings.Timezone)
		return time.UTC
	}
	return loc
}
