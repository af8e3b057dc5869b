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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftwise/triage/internal/models"
)

// classificationSchema is the structured-output contract sent with every
// classification call. The provider guarantees the parsed result matches it.
const classificationSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["isMeetingRequest", "confidence", "meetingType", "meetingPurpose", "proposedTimes", "durationMinutes", "isUrgent", "requiresResponse", "extractedDetails"],
  "properties": {
    "isMeetingRequest": {"type": "boolean", "description": "True if this email is requesting or proposing a meeting"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1, "description": "Confidence score between 0 and 1 for the classification"},
    "meetingType": {"type": "string", "enum": ["one-on-one", "group", "interview", "call", "video-call", "in-person", "unknown"]},
    "meetingPurpose": {"type": ["string", "null"], "description": "Brief description of the meeting purpose if identifiable"},
    "proposedTimes": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["date", "startTime", "endTime", "timezone", "isFlexible"],
        "properties": {
          "date": {"type": "string", "description": "The proposed date in ISO format (YYYY-MM-DD)"},
          "startTime": {"type": "string", "description": "The proposed start time (HH:MM) in 24-hour format"},
          "endTime": {"type": ["string", "null"], "description": "The proposed end time (HH:MM) if specified, null otherwise"},
          "timezone": {"type": ["string", "null"], "description": "The timezone if mentioned (e.g., PST, EST, UTC)"},
          "isFlexible": {"type": "boolean", "description": "True if the time is flexible or merely suggested"}
        }
      }
    },
    "durationMinutes": {"type": ["integer", "null"], "description": "The proposed meeting duration in minutes if specified"},
    "isUrgent": {"type": "boolean", "description": "True if the meeting request appears urgent or time-sensitive"},
    "requiresResponse": {"type": "boolean", "description": "True if the sender clearly expects a response about availability"},
    "extractedDetails": {
      "type": "object",
      "additionalProperties": false,
      "required": ["location", "attendees", "platform"],
      "properties": {
        "location": {"type": ["string", "null"]},
        "attendees": {"type": "array", "items": {"type": "string"}},
        "platform": {"type": ["string", "null"], "description": "Meeting platform if mentioned (Zoom, Google Meet, Teams, etc.)"}
      }
    }
  }
}`

// StructuredCompleter is the slice of the LLM client the detector needs.
type StructuredCompleter interface {
	CompleteStructured(ctx context.Context, model, system, user, schemaName string, schema json.RawMessage) (json.RawMessage, error)
}

// MeetingDetector classifies emails as meeting requests via the LLM.
type MeetingDetector struct {
	llm   StructuredCompleter
	model string

	// now anchors relative date references ("tomorrow") in the prompt.
	// Overridable in tests.
	now func() time.Time
}

// NewMeetingDetector creates a meeting detector using the given completer
// and model name.
func NewMeetingDetector(llm StructuredCompleter, model string) *MeetingDetector {
	return &MeetingDetector{
		llm:   llm,
		model: model,
		now:   time.Now,
	}
}

// DetectMeeting classifies an email. Any model failure degrades to the
// default classification — an email treated as ordinary correspondence —
// rather than surfacing an error to the pipeline.
func (d *MeetingDetector) DetectMeeting(ctx context.Context, email models.InboundEmailEvent) models.MeetingClassification {
	currentDate := d.now().UTC().Format("2006-01-02")

	system := fmt.Sprintf(`You are an expert email analyst specializing in detecting meeting and scheduling requests.

Your task is to analyze the email and determine:
1. Whether this is a meeting/scheduling request
2. Extract any proposed times/dates for the meeting
3. Identify the type and purpose of the meeting
4. Note any urgency indicators

IMPORTANT GUIDELINES:
- A meeting request typically includes phrases like "let's meet", "schedule a call", "can we chat", "are you available", "set up a meeting"
- Look for specific dates, times, or relative time references (tomorrow, next week, etc.)
- Convert relative dates to absolute dates based on today's date: %s
- If a time range is given like "2-3 PM", extract both start and end times
- If only duration is mentioned (e.g., "30 minutes"), include it in durationMinutes
- Be conservative: if unsure whether it's a meeting request, set confidence lower

Today's date for reference: %s`, currentDate, currentDate)

	user := fmt.Sprintf(`Analyze this email for meeting/scheduling requests:

From: %s
Subject: %s

Body:
%s`, email.From, email.Subject, email.Content())

	raw, err := d.llm.CompleteStructured(ctx, d.model, system, user, "meeting_classification", json.RawMessage(classificationSchema))
	if err != nil {
		slog.Error("meeting classification failed", "error", err)
		return DefaultClassification()
	}

	var result models.MeetingClassification
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Error("meeting classification returned unparseable JSON", "error", err)
		return DefaultClassification()
	}

	slog.Info("meeting classification",
		"is_meeting", result.IsMeetingRequest,
		"confidence", result.Confidence,
		"proposed_times", len(result.ProposedTimes),
	)

	return result
}

// DefaultClassification is the safe fallback when classification fails:
// not a meeting, zero confidence, nothing extracted.
func DefaultClassification() models.MeetingClassification {
	return models.MeetingClassification{
		IsMeetingRequest: false,
		Confidence:       0,
		MeetingType:      models.MeetingTypeUnknown,
		ProposedTimes:    []models.ProposedTime{},
		ExtractedDetails: models.ExtractedDetails{
			Attendees: []string{},
		},
	}
}

// DefaultConfidenceThreshold gates the calendar path.
const DefaultConfidenceThreshold = 0.7

// ShouldCheckCalendar is the single gate controlling whether the expensive
// calendar path runs: a confident meeting request that expects an answer.
func ShouldCheckCalendar(c models.MeetingClassification, confidenceThreshold float64) bool {
	return c.IsMeetingRequest &&
		c.Confidence >= confidenceThreshold &&
		c.RequiresResponse
}
