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

// Package drafts generates reply drafts via the LLM. The generator never
// returns an error to the caller: a failed completion degrades to a fixed
// fallback sentence so the webhook always produces a draft body.
package drafts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/draftwise/triage/internal/classify"
	"github.com/draftwise/triage/internal/models"
)

// Fallback bodies used when the completion call fails.
const (
	fallbackReply        = "Thank you for your email. I will get back to you shortly."
	fallbackMeetingReply = "Thank you for the meeting request. I will check my availability and get back to you shortly."
)

// AvailabilityContext selects the meeting-reply prompt variant. Computed
// once from the calendar outcome and passed to the prompt builder so the
// four-way mapping stays exhaustive and testable.
type AvailabilityContext int

const (
	// ContextAvailable: the user is free at the proposed time.
	ContextAvailable AvailabilityContext = iota
	// ContextBusyWithLink: busy, but a scheduling link can be offered.
	ContextBusyWithLink
	// ContextBusyWithAlternatives: busy, with computed open slots to offer.
	ContextBusyWithAlternatives
	// ContextUnknown: availability could not be determined.
	ContextUnknown
)

func (c AvailabilityContext) String() string {
	switch c {
	case ContextAvailable:
		return "available"
	case ContextBusyWithLink:
		return "busy-with-link"
	case ContextBusyWithAlternatives:
		return "busy-with-alternatives"
	default:
		return "unknown"
	}
}

// DecideContext maps a calendar outcome onto the reply variant. Priority
// order: confirmed availability, scheduling link, computed alternatives,
// then the generic acknowledgement.
func DecideContext(isAvailable bool, proposedTimes int, calendlyURL string, alternatives []string) AvailabilityContext {
	switch {
	case isAvailable && proposedTimes > 0:
		return ContextAvailable
	case !isAvailable && calendlyURL != "":
		return ContextBusyWithLink
	case !isAvailable && len(alternatives) > 0:
		return ContextBusyWithAlternatives
	default:
		return ContextUnknown
	}
}

// TextCompleter is the slice of the LLM client the generator needs.
type TextCompleter interface {
	CompleteText(ctx context.Context, model, system, user string) (string, error)
}

// Generator produces draft reply bodies.
type Generator struct {
	llm   TextCompleter
	model string
}

// NewGenerator creates a draft generator using the given completer and
// model name.
func NewGenerator(llm TextCompleter, model string) *Generator {
	return &Generator{llm: llm, model: model}
}

// Reply generates a standard (non-meeting) draft reply signed with the
// user's name.
func (g *Generator) Reply(ctx context.Context, email models.InboundEmailEvent, userName string) string {
	system := "You are a helpful email assistant that generates professional draft replies."

	user := fmt.Sprintf(`You are a helpful email assistant. Generate a professional and friendly draft reply to the following email.

From: %s
Subject: %s
Content: %s

Requirements:
- Be polite and professional
- Address the main points of the email
- Keep the response concise but complete
- Don't include a subject line, just the body
- Sign off with "Best regards," followed by the sender's name: %s
- Do NOT use placeholders like [Your Name], [Your Position], or [Your Contact Information]

Draft reply:`, email.From, email.Subject, email.Content(), userName)

	body, err := g.llm.CompleteText(ctx, g.model, system, user)
	if err != nil {
		slog.Error("draft generation failed, using fallback", "error", err)
		return fallbackReply
	}
	return body
}

// MeetingReply generates a meeting-specific draft reply for the given
// availability context.
func (g *Generator) MeetingReply(
	ctx context.Context,
	email models.InboundEmailEvent,
	userName string,
	classification models.MeetingClassification,
	avCtx AvailabilityContext,
	calendlyURL string,
	alternatives []string,
) string {
	proposedTimesText := classify.FormatProposedTimes(classification.ProposedTimes)
	contextInfo := buildContextInfo(avCtx, proposedTimesText, calendlyURL, alternatives)

	purpose := "Not specified"
	if classification.MeetingPurpose != nil && *classification.MeetingPurpose != "" {
		purpose = *classification.MeetingPurpose
	}
	urgent := "No"
	if classification.IsUrgent {
		urgent = "Yes"
	}

	system := "You are a helpful email assistant that generates professional meeting response drafts."

	user := fmt.Sprintf(`You are a helpful email assistant. Generate a professional and friendly draft reply to this MEETING REQUEST email.

From: %s
Subject: %s
Content: %s

Meeting Details Detected:
- Meeting Type: %s
- Purpose: %s
- Urgent: %s
%s

Requirements:
- Be polite and professional
- Keep the response concise
- Don't include a subject line, just the body
- Sign off with "Best regards," followed by: %s
- Do NOT use placeholders like [Your Name], [Your Position], etc.

Draft reply:`, email.From, email.Subject, email.Content(),
		classification.MeetingType, purpose, urgent, contextInfo, userName)

	body, err := g.llm.CompleteText(ctx, g.model, system, user)
	if err != nil {
		slog.Error("meeting draft generation failed, using fallback", "error", err, "context", avCtx.String())
		return fallbackMeetingReply
	}
	return body
}

// buildContextInfo renders the availability section of the meeting prompt.
func buildContextInfo(avCtx AvailabilityContext, proposedTimes, calendlyURL string, alternatives []string) string {
	switch avCtx {
	case ContextAvailable:
		return fmt.Sprintf(`
AVAILABILITY STATUS: The user IS AVAILABLE at the proposed time(s).
Proposed time(s): %s

Generate a reply that:
- Confirms availability for the proposed meeting time
- Expresses enthusiasm about meeting
- Asks for any additional details needed (location, video call link, agenda, etc.)`, proposedTimes)

	case ContextBusyWithLink:
		return fmt.Sprintf(`
AVAILABILITY STATUS: The user is NOT AVAILABLE at the proposed time(s).
Proposed time(s): %s
User's Calendly link: %s

Generate a reply that:
- Politely declines the specific proposed time(s) due to a scheduling conflict
- Provides the Calendly link for them to find a suitable time
- Expresses enthusiasm about finding a time that works`, proposedTimes, calendlyURL)

	case ContextBusyWithAlternatives:
		return fmt.Sprintf(`
AVAILABILITY STATUS: The user is NOT AVAILABLE at the proposed time(s).
Proposed time(s): %s
Alternative available slots: %s

Generate a reply that:
- Politely declines the specific proposed time(s) due to a scheduling conflict
- Suggests the alternative available time slots
- Asks them to confirm which time works best`, proposedTimes, strings.Join(alternatives, ", "))

	default:
		return fmt.Sprintf(`
AVAILABILITY STATUS: Unable to check calendar availability.
Proposed time(s): %s

Generate a reply that:
- Acknowledges the meeting request
- Says you'll check your calendar and get back to them shortly
- Asks for any additional details about the meeting purpose`, proposedTimes)
	}
}
