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

package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/draftwise/triage/internal/connector"
	"github.com/draftwise/triage/internal/drafts"
	"github.com/draftwise/triage/internal/models"
)

// --- hand-rolled collaborator doubles ---

type mockDedup struct {
	mu        sync.Mutex
	seen      map[string]bool
	isNewErr  error
	forgotten []string
}

func (m *mockDedup) IsNew(ctx context.Context, userID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isNewErr != nil {
		return false, m.isNewErr
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	key := userID + ":" + messageID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *mockDedup) Forget(ctx context.Context, userID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + ":" + messageID
	delete(m.seen, key)
	m.forgotten = append(m.forgotten, key)
	return nil
}

type mockLedger struct {
	processed map[string]bool
	settings  models.UserSettings
	saved     []models.ProcessedEmailRecord
}

func (m *mockLedger) IsProcessed(ctx context.Context, userID, messageID string) bool {
	return m.processed[userID+":"+messageID]
}

func (m *mockLedger) SaveRecord(ctx context.Context, rec models.ProcessedEmailRecord) *models.ProcessedEmailRecord {
	m.saved = append(m.saved, rec)
	return &rec
}

func (m *mockLedger) Settings(ctx context.Context, userID string) models.UserSettings {
	if m.settings.UserID == "" {
		return models.DefaultSettings(userID)
	}
	return m.settings
}

type mockProfiles struct {
	profile *models.UserProfile
	err     error
}

func (m *mockProfiles) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return m.profile, m.err
}

type mockClassifier struct {
	classification models.MeetingClassification
}

func (m *mockClassifier) DetectMeeting(ctx context.Context, email models.InboundEmailEvent) models.MeetingClassification {
	return m.classification
}

type mockCalendar struct {
	check    models.AvailabilityResult
	slots    []models.TimeSlot
	slotsErr error
}

func (m *mockCalendar) Check(ctx context.Context, userID string, start, end time.Time) models.AvailabilityResult {
	return m.check
}

func (m *mockCalendar) Slots(ctx context.Context, userID string, date time.Time, slotMinutes, workStart, workEnd int) ([]models.TimeSlot, error) {
	return m.slots, m.slotsErr
}

type mockDrafter struct {
	replyCalls        int
	meetingReplyCalls int
	lastAvCtx         drafts.AvailabilityContext
	lastAlternatives  []string
}

func (m *mockDrafter) Reply(ctx context.Context, email models.InboundEmailEvent, userName string) string {
	m.replyCalls++
	return "standard draft body"
}

func (m *mockDrafter) MeetingReply(ctx context.Context, email models.InboundEmailEvent, userName string,
	classification models.MeetingClassification, avCtx drafts.AvailabilityContext,
	calendlyURL string, alternatives []string) string {
	m.meetingReplyCalls++
	m.lastAvCtx = avCtx
	m.lastAlternatives = alternatives
	return "meeting draft body"
}

type mockMailbox struct {
	mu     sync.Mutex
	drafts []connector.DraftRequest
	err    error
}

func (m *mockMailbox) CreateDraft(ctx context.Context, userID string, draft connector.DraftRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.drafts = append(m.drafts, draft)
	return "draft-1", nil
}

type mockEvents struct {
	mu     sync.Mutex
	events []connector.EventRequest
	err    error
}

func (m *mockEvents) CreateCalendarEvent(ctx context.Context, userID string, event connector.EventRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.events = append(m.events, event)
	return "event-1", nil
}

// --- helpers ---

type fixture struct {
	dedup    *mockDedup
	ledger   *mockLedger
	profiles *mockProfiles
	meetings *mockClassifier
	calendar *mockCalendar
	drafter  *mockDrafter
	mailbox  *mockMailbox
	events   *mockEvents
}

func newFixture() *fixture {
	return &fixture{
		dedup:  &mockDedup{},
		ledger: &mockLedger{},
		profiles: &mockProfiles{profile: &models.UserProfile{
			ID:       "user-1",
			FullName: "Bob Smith",
			Email:    "bob@example.com",
		}},
		meetings: &mockClassifier{},
		calendar: &mockCalendar{},
		drafter:  &mockDrafter{},
		mailbox:  &mockMailbox{},
		events:   &mockEvents{},
	}
}

func (f *fixture) processor() *Processor {
	return NewProcessor(ProcessorConfig{
		Dedup:    f.dedup,
		Ledger:   f.ledger,
		Profiles: f.profiles,
		Meetings: f.meetings,
		Calendar: f.calendar,
		Drafts:   f.drafter,
		Mailbox:  f.mailbox,
		Events:   f.events,
	})
}

func sampleEmail() models.InboundEmailEvent {
	return models.InboundEmailEvent{
		EventType: "gmail_new_email",
		UserID:    "user-1",
		MessageID: "msg-1",
		ThreadID:  "thr-1",
		From:      "Alice <alice@example.com>",
		Subject:   "Quick question",
		Body:      "Could you send over the report? It's urgent.",
	}
}

func meetingClassification(confidence float64) models.MeetingClassification {
	purpose := "project sync"
	platform := "Zoom"
	return models.MeetingClassification{
		IsMeetingRequest: true,
		Confidence:       confidence,
		MeetingType:      models.MeetingTypeVideoCall,
		MeetingPurpose:   &purpose,
		ProposedTimes: []models.ProposedTime{
			{Date: "2026-03-10", StartTime: "14:00"},
		},
		RequiresResponse: true,
		ExtractedDetails: models.ExtractedDetails{Platform: &platform},
	}
}

// --- tests ---

// TestProcess_StandardEmail verifies the non-meeting path: urgency from the
// pattern table, a standard draft, and a ledger record with unknown
// availability.
func TestProcess_StandardEmail(t *testing.T) {
	f := newFixture()
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())

	if !result.Processed || result.DraftID != "draft-1" {
		t.Fatalf("result = %+v", result)
	}
	if f.drafter.replyCalls != 1 || f.drafter.meetingReplyCalls != 0 {
		t.Errorf("draft calls = %d/%d, want 1 standard", f.drafter.replyCalls, f.drafter.meetingReplyCalls)
	}

	if len(f.mailbox.drafts) != 1 {
		t.Fatalf("drafts created = %d", len(f.mailbox.drafts))
	}
	draft := f.mailbox.drafts[0]
	if draft.Recipient != "alice@example.com" {
		t.Errorf("Recipient = %q, want bare address", draft.Recipient)
	}
	if draft.Subject != "Re: Quick question" {
		t.Errorf("Subject = %q", draft.Subject)
	}
	if draft.ThreadID != "thr-1" {
		t.Errorf("ThreadID = %q", draft.ThreadID)
	}

	if len(f.ledger.saved) != 1 {
		t.Fatalf("records saved = %d", len(f.ledger.saved))
	}
	rec := f.ledger.saved[0]
	if !rec.IsUrgent {
		t.Error("urgency pattern in body should mark the record urgent")
	}
	if rec.IsMeetingRequest {
		t.Error("record should not be a meeting request")
	}
	if rec.AvailabilityStatus != models.AvailabilityUnknown {
		t.Errorf("AvailabilityStatus = %q, want unknown", rec.AvailabilityStatus)
	}
	if len(f.events.events) != 0 {
		t.Error("no calendar event expected for a standard email")
	}
}

// TestProcess_Duplicate verifies the second delivery of the same message
// is dropped before any draft work.
func TestProcess_Duplicate(t *testing.T) {
	f := newFixture()
	p := f.processor()
	email := sampleEmail()

	first := p.Process(context.Background(), email)
	if !first.Processed {
		t.Fatalf("first result = %+v", first)
	}

	second := p.Process(context.Background(), email)
	if second.Processed {
		t.Fatalf("second result = %+v", second)
	}
	if second.Message != "Email already processed" {
		t.Errorf("Message = %q", second.Message)
	}
	if f.drafter.replyCalls != 1 {
		t.Errorf("draft generator ran %d times, want 1", f.drafter.replyCalls)
	}
	if len(f.mailbox.drafts) != 1 {
		t.Errorf("drafts created = %d, want 1", len(f.mailbox.drafts))
	}
}

// TestProcess_DedupFailsOpen verifies a filter error does not block
// processing.
func TestProcess_DedupFailsOpen(t *testing.T) {
	f := newFixture()
	f.dedup.isNewErr = errors.New("redis down")
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed {
		t.Fatalf("result = %+v, dedup errors must fail open", result)
	}
}

// TestProcess_LedgerDuplicate verifies the authoritative store catches
// duplicates the fast path missed.
func TestProcess_LedgerDuplicate(t *testing.T) {
	f := newFixture()
	f.ledger.processed = map[string]bool{"user-1:msg-1": true}
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if result.Processed {
		t.Fatalf("result = %+v", result)
	}
	if len(f.mailbox.drafts) != 0 {
		t.Error("no draft expected for a ledger duplicate")
	}
}

// TestProcess_FilteredSenders verifies automated and self-sent mail is
// dropped without drafting or recording.
func TestProcess_FilteredSenders(t *testing.T) {
	tests := []struct {
		name string
		from string
	}{
		{"noreply", "noreply@service.com"},
		{"no-reply with display name", "Service <no-reply@service.com>"},
		{"donotreply", "donotreply@bank.com"},
		{"mailer-daemon", "MAILER-DAEMON@mx.example.com"},
		{"postmaster", "postmaster@example.com"},
		{"self-sent", "Bob Smith <bob@example.com>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			p := f.processor()

			email := sampleEmail()
			email.From = tt.from
			result := p.Process(context.Background(), email)

			if result.Processed {
				t.Fatalf("result = %+v", result)
			}
			if !strings.Contains(result.Message, "filtered") {
				t.Errorf("Message = %q", result.Message)
			}
			if len(f.mailbox.drafts) != 0 {
				t.Error("no draft expected for filtered sender")
			}
			if len(f.ledger.saved) != 0 {
				t.Error("no ledger record expected for filtered sender")
			}
		})
	}
}

// TestProcess_MeetingAvailable verifies the available branch: meeting
// draft, tentative calendar event, and an available record.
func TestProcess_MeetingAvailable(t *testing.T) {
	f := newFixture()
	f.meetings.classification = meetingClassification(0.9)
	f.ledger.settings = models.UserSettings{
		UserID:            "user-1",
		WorkingHoursStart: 9,
		WorkingHoursEnd:   17,
		Timezone:          "UTC",
		CalendarEnabled:   true,
	}
	f.calendar.check = models.AvailabilityResult{IsConnected: true, IsAvailable: true}
	p := f.processor()

	email := sampleEmail()
	email.Subject = "Sync tomorrow?"
	email.Body = "Can we meet Tuesday at 2 PM?"
	result := p.Process(context.Background(), email)

	if !result.Processed {
		t.Fatalf("result = %+v", result)
	}
	if f.drafter.meetingReplyCalls != 1 || f.drafter.replyCalls != 0 {
		t.Errorf("draft calls = %d meeting / %d standard", f.drafter.meetingReplyCalls, f.drafter.replyCalls)
	}
	if f.drafter.lastAvCtx != drafts.ContextAvailable {
		t.Errorf("availability context = %v, want available", f.drafter.lastAvCtx)
	}

	if len(f.events.events) != 1 {
		t.Fatalf("events created = %d, want 1", len(f.events.events))
	}
	ev := f.events.events[0]
	if ev.Title != "Sync tomorrow?" {
		t.Errorf("event title = %q", ev.Title)
	}
	if ev.StartTime != "2026-03-10T14:00:00Z" {
		t.Errorf("event start = %q", ev.StartTime)
	}
	if ev.DurationMinutes != 30 {
		t.Errorf("event duration = %d, want default 30", ev.DurationMinutes)
	}
	if !strings.Contains(ev.Description, "project sync") || !strings.Contains(ev.Description, "Zoom") {
		t.Errorf("event description = %q", ev.Description)
	}
	if len(ev.Attendees) != 1 || ev.Attendees[0] != "alice@example.com" {
		t.Errorf("attendees = %v", ev.Attendees)
	}

	if rec := f.ledger.saved[0]; rec.AvailabilityStatus != models.AvailabilityAvailable {
		t.Errorf("AvailabilityStatus = %q, want available", rec.AvailabilityStatus)
	}
}

// TestProcess_MeetingBusyWithAlternatives verifies the busy branch offers
// open slots and creates no event.
func TestProcess_MeetingBusyWithAlternatives(t *testing.T) {
	f := newFixture()
	f.meetings.classification = meetingClassification(0.9)
	f.ledger.settings = models.UserSettings{
		UserID:            "user-1",
		WorkingHoursStart: 9,
		WorkingHoursEnd:   17,
		Timezone:          "UTC",
		CalendarEnabled:   true,
	}
	f.calendar.check = models.AvailabilityResult{IsConnected: true, IsAvailable: false}
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f.calendar.slots = []models.TimeSlot{
		{Start: day.Add(15 * time.Hour), End: day.Add(15*time.Hour + 30*time.Minute)},
		{Start: day.Add(16 * time.Hour), End: day.Add(16*time.Hour + 30*time.Minute)},
		{Start: day.Add(16*time.Hour + 30*time.Minute), End: day.Add(17 * time.Hour)},
		{Start: day.Add(17*time.Hour - 30*time.Minute), End: day.Add(17 * time.Hour)},
	}
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed {
		t.Fatalf("result = %+v", result)
	}

	if f.drafter.lastAvCtx != drafts.ContextBusyWithAlternatives {
		t.Errorf("availability context = %v, want busy-with-alternatives", f.drafter.lastAvCtx)
	}
	if len(f.drafter.lastAlternatives) != 3 {
		t.Errorf("alternatives = %v, want 3", f.drafter.lastAlternatives)
	}
	if f.drafter.lastAlternatives[0] != "Tue, Mar 10, 3:00 PM" {
		t.Errorf("first alternative = %q", f.drafter.lastAlternatives[0])
	}

	if len(f.events.events) != 0 {
		t.Error("no event expected when the user is busy")
	}
	if rec := f.ledger.saved[0]; rec.AvailabilityStatus != models.AvailabilityBusy {
		t.Errorf("AvailabilityStatus = %q, want busy", rec.AvailabilityStatus)
	}
}

// TestProcess_MeetingBusyWithCalendlyLink verifies the scheduling link
// takes precedence over computed alternatives.
func TestProcess_MeetingBusyWithCalendlyLink(t *testing.T) {
	f := newFixture()
	f.meetings.classification = meetingClassification(0.9)
	f.ledger.settings = models.UserSettings{
		UserID:            "user-1",
		CalendlyURL:       "https://calendly.com/bob",
		WorkingHoursStart: 9,
		WorkingHoursEnd:   17,
		Timezone:          "UTC",
		CalendarEnabled:   true,
	}
	f.calendar.check = models.AvailabilityResult{IsConnected: true, IsAvailable: false}
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed {
		t.Fatalf("result = %+v", result)
	}
	if f.drafter.lastAvCtx != drafts.ContextBusyWithLink {
		t.Errorf("availability context = %v, want busy-with-link", f.drafter.lastAvCtx)
	}
}

// TestProcess_CalendarGates verifies conditions that keep a meeting email
// on the standard-draft path.
func TestProcess_CalendarGates(t *testing.T) {
	tests := []struct {
		name   string
		modify func(f *fixture)
	}{
		{
			name: "calendar disabled in settings",
			modify: func(f *fixture) {
				f.meetings.classification = meetingClassification(0.9)
				// default settings leave CalendarEnabled false
			},
		},
		{
			name: "confidence below threshold",
			modify: func(f *fixture) {
				f.meetings.classification = meetingClassification(0.5)
				f.ledger.settings = models.UserSettings{UserID: "user-1", Timezone: "UTC", CalendarEnabled: true}
			},
		},
		{
			name: "no response required",
			modify: func(f *fixture) {
				c := meetingClassification(0.9)
				c.RequiresResponse = false
				f.meetings.classification = c
				f.ledger.settings = models.UserSettings{UserID: "user-1", Timezone: "UTC", CalendarEnabled: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.modify(f)
			p := f.processor()

			result := p.Process(context.Background(), sampleEmail())
			if !result.Processed {
				t.Fatalf("result = %+v", result)
			}
			if f.drafter.meetingReplyCalls != 0 {
				t.Error("calendar-gated email should take the standard draft path")
			}
			if f.drafter.replyCalls != 1 {
				t.Errorf("standard draft calls = %d, want 1", f.drafter.replyCalls)
			}
			if len(f.events.events) != 0 {
				t.Error("no event expected")
			}
		})
	}
}

// TestProcess_UnusableProposedTime verifies a malformed model date skips
// the availability check but still drafts a meeting reply.
func TestProcess_UnusableProposedTime(t *testing.T) {
	f := newFixture()
	c := meetingClassification(0.9)
	c.ProposedTimes = []models.ProposedTime{{Date: "2024-02-30", StartTime: "14:00"}}
	f.meetings.classification = c
	f.ledger.settings = models.UserSettings{UserID: "user-1", Timezone: "UTC", CalendarEnabled: true}
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed {
		t.Fatalf("result = %+v", result)
	}
	if f.drafter.meetingReplyCalls != 1 {
		t.Errorf("meeting draft calls = %d, want 1", f.drafter.meetingReplyCalls)
	}
	if f.drafter.lastAvCtx != drafts.ContextUnknown {
		t.Errorf("availability context = %v, want unknown", f.drafter.lastAvCtx)
	}
	if len(f.events.events) != 0 {
		t.Error("no event expected for an unusable time")
	}
	if rec := f.ledger.saved[0]; rec.AvailabilityStatus != models.AvailabilityUnknown {
		t.Errorf("AvailabilityStatus = %q, want unknown", rec.AvailabilityStatus)
	}
}

// TestProcess_DraftCreationFails verifies the one fatal boundary: a
// failed draft clears the dedup marker, writes no record, and reports
// failure.
func TestProcess_DraftCreationFails(t *testing.T) {
	f := newFixture()
	f.mailbox.err = errors.New("mailbox unavailable")
	p := f.processor()
	email := sampleEmail()

	result := p.Process(context.Background(), email)
	if result.Processed || !result.Failed {
		t.Fatalf("result = %+v", result)
	}
	if len(f.ledger.saved) != 0 {
		t.Error("no record should be written for a failed draft")
	}
	if len(f.dedup.forgotten) != 1 {
		t.Fatalf("dedup marker should be cleared, forgotten = %v", f.dedup.forgotten)
	}

	// The retry must get through the fast path again.
	f.mailbox.err = nil
	retry := p.Process(context.Background(), email)
	if !retry.Processed {
		t.Fatalf("retry result = %+v", retry)
	}
}

// TestProcess_EventCreationFailureIsNotFatal verifies event errors degrade
// while the draft still succeeds.
func TestProcess_EventCreationFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.meetings.classification = meetingClassification(0.9)
	f.ledger.settings = models.UserSettings{UserID: "user-1", Timezone: "UTC", CalendarEnabled: true}
	f.calendar.check = models.AvailabilityResult{IsConnected: true, IsAvailable: true}
	f.events.err = errors.New("calendar write denied")
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed || result.DraftID != "draft-1" {
		t.Fatalf("result = %+v", result)
	}
	if len(f.ledger.saved) != 1 {
		t.Error("record should still be written when only the event fails")
	}
}

// TestProcess_ProfileFailureDegrades verifies a missing profile still
// produces a draft with the generic signature.
func TestProcess_ProfileFailureDegrades(t *testing.T) {
	f := newFixture()
	f.profiles.profile = nil
	f.profiles.err = errors.New("profile service down")
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed {
		t.Fatalf("result = %+v", result)
	}
}

// TestProcess_ExplicitDuration verifies the classifier's duration is used
// for the calendar event.
func TestProcess_ExplicitDuration(t *testing.T) {
	f := newFixture()
	c := meetingClassification(0.9)
	dur := 60
	c.DurationMinutes = &dur
	f.meetings.classification = c
	f.ledger.settings = models.UserSettings{UserID: "user-1", Timezone: "UTC", CalendarEnabled: true}
	f.calendar.check = models.AvailabilityResult{IsConnected: true, IsAvailable: true}
	p := f.processor()

	result := p.Process(context.Background(), sampleEmail())
	if !result.Processed {
		t.Fatalf("result = %+v", result)
	}
	if len(f.events.events) != 1 || f.events.events[0].DurationMinutes != 60 {
		t.Errorf("events = %+v, want 60 minute duration", f.events.events)
	}
}

// TestReplyHelpers covers the small header helpers.
func TestReplyHelpers(t *testing.T) {
	if got := replyAddress("Alice <alice@example.com>"); got != "alice@example.com" {
		t.Errorf("replyAddress = %q", got)
	}
	if got := replyAddress("alice@example.com"); got != "alice@example.com" {
		t.Errorf("replyAddress bare = %q", got)
	}

	if got := replySubject("Hello"); got != "Re: Hello" {
		t.Errorf("replySubject = %q", got)
	}
	if got := replySubject("Re: Hello"); got != "Re: Hello" {
		t.Errorf("replySubject should not stack prefixes, got %q", got)
	}

	if got := eventTitle(""); got != "Meeting" {
		t.Errorf("eventTitle empty = %q", got)
	}
}
