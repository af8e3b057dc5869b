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

// Package brief summarises a user's recently processed emails: counts,
// meeting breakdown by availability, and a short LLM-written executive
// summary with a deterministic fallback.
package brief

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/draftwise/triage/internal/models"
)

// Window is how far back the brief looks.
const Window = 24 * time.Hour

// RecordSource is the slice of the ledger the brief needs.
type RecordSource interface {
	Since(ctx context.Context, userID string, cutoff time.Time) ([]models.ProcessedEmailRecord, error)
}

// TextCompleter is the slice of the LLM client the brief needs.
type TextCompleter interface {
	CompleteText(ctx context.Context, model, system, user string) (string, error)
}

// Stats counts the emails in the brief window.
type Stats struct {
	Total    int `json:"total"`
	Meetings int `json:"meetings"`
	Urgent   int `json:"urgent"`
}

// MeetingBreakdown groups meeting emails by availability outcome.
type MeetingBreakdown struct {
	Available []models.ProcessedEmailRecord `json:"available"`
	Busy      []models.ProcessedEmailRecord `json:"busy"`
	Unknown   []models.ProcessedEmailRecord `json:"unknown"`
}

// Result is a complete brief.
type Result struct {
	Summary          string                        `json:"summary"`
	Stats            Stats                         `json:"stats"`
	MeetingBreakdown MeetingBreakdown              `json:"meetingBreakdown"`
	DraftsReady      int                           `json:"draftsReady"`
	Emails           []models.ProcessedEmailRecord `json:"emails"`
	GeneratedAt      string                        `json:"generatedAt"`
}

// Service generates briefs from the ledger.
type Service struct {
	records RecordSource
	llm     TextCompleter
	model   string
}

// NewService creates a brief service.
func NewService(records RecordSource, llm TextCompleter, model string) *Service {
	return &Service{records: records, llm: llm, model: model}
}

// Generate builds the brief for a user over the last Window.
func (s *Service) Generate(ctx context.Context, userID string) (*Result, error) {
	emails, err := s.records.Since(ctx, userID, time.Now().Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("load processed emails: %w", err)
	}

	stats := Stats{Total: len(emails)}
	var breakdown MeetingBreakdown
	draftsReady := 0

	for _, e := range emails {
		if e.IsUrgent {
			stats.Urgent++
		}
		if e.DraftID != "" {
			draftsReady++
		}
		if !e.IsMeetingRequest {
			continue
		}
		stats.Meetings++
		switch e.AvailabilityStatus {
		case models.AvailabilityAvailable:
			breakdown.Available = append(breakdown.Available, e)
		case models.AvailabilityBusy:
			breakdown.Busy = append(breakdown.Busy, e)
		default:
			breakdown.Unknown = append(breakdown.Unknown, e)
		}
	}

	return &Result{
		Summary:          s.summarise(ctx, emails, stats),
		Stats:            stats,
		MeetingBreakdown: breakdown,
		DraftsReady:      draftsReady,
		Emails:           emails,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// summarise produces the executive summary. LLM failure falls back to a
// deterministic one-liner rather than failing the brief.
func (s *Service) summarise(ctx context.Context, emails []models.ProcessedEmailRecord, stats Stats) string {
	if len(emails) == 0 {
		return "No emails to summarize in the last 24 hours."
	}

	var lines []string
	for _, e := range emails {
		var tags []string
		if e.IsMeetingRequest {
			tags = append(tags, "[MEETING]")
		}
		if e.IsUrgent {
			tags = append(tags, "[URGENT]")
		}
		tagStr := ""
		if len(tags) > 0 {
			tagStr = " " + strings.Join(tags, " ")
		}
		subject := e.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		lines = append(lines, fmt.Sprintf("- From: %s\n  Subject: %s%s", SenderName(e.From), subject, tagStr))
	}

	system := "You are an executive assistant providing a brief summary of recent emails."
	user := fmt.Sprintf(`Here are the %d most recent emails from the last 24 hours:

%s

Provide a concise 2-3 sentence executive summary like a chief of staff would give. Focus on:
- Key themes or topics across the emails
- Anything urgent or requiring attention
- Meeting requests and their status`, len(emails), strings.Join(lines, "\n"))

	summary, err := s.llm.CompleteText(ctx, s.model, system, user)
	if err != nil {
		slog.Error("brief summary generation failed, using fallback", "error", err)
		return fallbackSummary(stats)
	}
	return summary
}

func fallbackSummary(stats Stats) string {
	return fmt.Sprintf("Processed %d emails in the last 24 hours: %d meeting requests, %d urgent.",
		stats.Total, stats.Meetings, stats.Urgent)
}

var (
	displayNamePattern = regexp.MustCompile(`^([^<]+)<`)
	localPartPattern   = regexp.MustCompile(`([^@<\s]+)@`)
)

// SenderName extracts a human-readable sender from a From header. Handles
// both "Jane Doe <jane@example.com>" and bare "jane@example.com" forms.
func SenderName(from string) string {
	if m := displayNamePattern.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := localPartPattern.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return from
}
