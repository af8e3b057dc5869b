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

// Package ledger provides the Postgres-backed record of processed emails
// and per-user settings. The processed-email table doubles as the
// idempotency check and the data source for the brief.
//
// Error policy is deliberately asymmetric: the duplicate check fails open
// (a datastore error permits re-processing, because dropping a legitimate
// email is worse than a duplicate draft) and the record write fails quiet
// (the ledger is history, not transactional state — a missed row must not
// fail a webhook that already produced its draft).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftwise/triage/internal/models"
)

// Store provides processed-email and user-settings persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a ledger store backed by the given Postgres pool.
// It ensures the tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processed_emails (
			id                  TEXT PRIMARY KEY,
			message_id          TEXT NOT NULL,
			thread_id           TEXT DEFAULT '',
			user_id             TEXT NOT NULL,
			from_address        TEXT NOT NULL,
			subject             TEXT DEFAULT '',
			snippet             TEXT DEFAULT '',
			is_meeting_request  BOOLEAN DEFAULT FALSE,
			availability_status TEXT DEFAULT 'unknown',
			is_urgent           BOOLEAN DEFAULT FALSE,
			draft_id            TEXT DEFAULT '',
			draft_body          TEXT DEFAULT '',
			processed_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_processed_user ON processed_emails(user_id);
		CREATE INDEX IF NOT EXISTS idx_processed_user_message ON processed_emails(user_id, message_id);
		CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_emails(processed_at);

		CREATE TABLE IF NOT EXISTS user_settings (
			user_id             TEXT PRIMARY KEY,
			calendly_url        TEXT DEFAULT '',
			working_hours_start INTEGER DEFAULT 9,
			working_hours_end   INTEGER DEFAULT 17,
			timezone            TEXT DEFAULT 'UTC',
			calendar_enabled    BOOLEAN DEFAULT FALSE,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// IsProcessed reports whether the (user, message) pair already has a ledger
// entry. Fails open: a datastore error logs and returns false, permitting
// re-processing.
func (s *Store) IsProcessed(ctx context.Context, userID, messageID string) bool {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_emails
			WHERE user_id = $1 AND message_id = $2
		)
	`, userID, messageID).Scan(&exists)
	if err != nil {
		slog.Error("processed-email lookup failed, failing open", "user", userID, "message_id", messageID, "error", err)
		return false
	}
	return exists
}

// SaveRecord inserts a processed-email record. Fails quiet: on error it
// logs and returns nil instead of propagating, since persistence is
// informational for the webhook's primary duty.
func (s *Store) SaveRecord(ctx context.Context, rec models.ProcessedEmailRecord) *models.ProcessedEmailRecord {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if rec.AvailabilityStatus == "" {
		rec.AvailabilityStatus = models.AvailabilityUnknown
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_emails
			(id, message_id, thread_id, user_id, from_address, subject, snippet,
			 is_meeting_request, availability_status, is_urgent, draft_id, draft_body, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rec.ID, rec.MessageID, rec.ThreadID, rec.UserID, rec.From, rec.Subject, rec.Snippet,
		rec.IsMeetingRequest, string(rec.AvailabilityStatus), rec.IsUrgent, rec.DraftID, rec.DraftBody, rec.ProcessedAt)
	if err != nil {
		slog.Error("failed to save processed email", "user", rec.UserID, "message_id", rec.MessageID, "error", err)
		return nil
	}

	slog.Info("saved processed email", "id", rec.ID, "user", rec.UserID, "message_id", rec.MessageID)
	return &rec
}

// RecentForUser returns the user's most recent processed emails.
func (s *Store) RecentForUser(ctx context.Context, userID string, limit int) ([]models.ProcessedEmailRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, thread_id, user_id, from_address, subject, snippet,
		       is_meeting_request, availability_status, is_urgent, draft_id, draft_body, processed_at
		FROM processed_emails
		WHERE user_id = $1
		ORDER BY processed_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// RecentMeetings returns the user's most recent meeting-request emails.
func (s *Store) RecentMeetings(ctx context.Context, userID string, limit int) ([]models.ProcessedEmailRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, thread_id, user_id, from_address, subject, snippet,
		       is_meeting_request, availability_status, is_urgent, draft_id, draft_body, processed_at
		FROM processed_emails
		WHERE user_id = $1 AND is_meeting_request = TRUE
		ORDER BY processed_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Since returns the user's processed emails newer than the cutoff, most
// recent first. Used by the brief.
func (s *Store) Since(ctx context.Context, userID string, cutoff time.Time) ([]models.ProcessedEmailRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, thread_id, user_id, from_address, subject, snippet,
		       is_meeting_request, availability_status, is_urgent, draft_id, draft_body, processed_at
		FROM processed_emails
		WHERE user_id = $1 AND processed_at >= $2
		ORDER BY processed_at DESC
	`, userID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Settings returns the user's settings, or the defaults when no row exists
// or the lookup fails. Settings are tuning, never a reason to fail triage.
func (s *Store) Settings(ctx context.Context, userID string) models.UserSettings {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, calendly_url, working_hours_start, working_hours_end, timezone, calendar_enabled
		FROM user_settings
		WHERE user_id = $1
	`, userID)

	var st models.UserSettings
	err := row.Scan(&st.UserID, &st.CalendlyURL, &st.WorkingHoursStart, &st.WorkingHoursEnd, &st.Timezone, &st.CalendarEnabled)
	if err == pgx.ErrNoRows {
		return models.DefaultSettings(userID)
	}
	if err != nil {
		slog.Error("settings lookup failed, using defaults", "user", userID, "error", err)
		return models.DefaultSettings(userID)
	}
	return st
}

// UpsertSettings inserts or updates a user's settings. Working hours are
// validated here: the store is the boundary that keeps start < end.
func (s *Store) UpsertSettings(ctx context.Context, st models.UserSettings) error {
	if st.WorkingHoursStart < 0 || st.WorkingHoursStart > 23 ||
		st.WorkingHoursEnd < 0 || st.WorkingHoursEnd > 23 {
		return fmt.Errorf("working hours must be within 0-23")
	}
	if st.WorkingHoursStart >= st.WorkingHoursEnd {
		return fmt.Errorf("working hours start (%d) must be before end (%d)", st.WorkingHoursStart, st.WorkingHoursEnd)
	}
	if st.Timezone == "" {
		st.Timezone = "UTC"
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_settings
			(user_id, calendly_url, working_hours_start, working_hours_end, timezone, calendar_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			calendly_url        = EXCLUDED.calendly_url,
			working_hours_start = EXCLUDED.working_hours_start,
			working_hours_end   = EXCLUDED.working_hours_end,
			timezone            = EXCLUDED.timezone,
			calendar_enabled    = EXCLUDED.calendar_enabled,
			updated_at          = NOW()
	`, st.UserID, st.CalendlyURL, st.WorkingHoursStart, st.WorkingHoursEnd, st.Timezone, st.CalendarEnabled)
	return err
}

// collectRecords scans multiple rows into a slice of records.
func collectRecords(rows pgx.Rows) ([]models.ProcessedEmailRecord, error) {
	var records []models.ProcessedEmailRecord
	for rows.Next() {
		var r models.ProcessedEmailRecord
		var status string
		if err := rows.Scan(
			&r.ID, &r.MessageID, &r.ThreadID, &r.UserID, &r.From, &r.Subject, &r.Snippet,
			&r.IsMeetingRequest, &status, &r.IsUrgent, &r.DraftID, &r.DraftBody, &r.ProcessedAt,
		); err != nil {
			return nil, err
		}
		r.AvailabilityStatus = models.AvailabilityStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}
