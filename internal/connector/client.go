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

// Package connector is a client for the OAuth connector broker that fronts
// each user's mailbox and calendar. The broker owns token storage and the
// provider OAuth dance; this service only executes actions against already
// connected accounts.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/draftwise/triage/internal/models"
)

// Client talks to the connector broker API. The http.Client must already
// carry service credentials (oauth2 client credentials transport).
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a connector broker client.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// Connection reports whether a user has an active provider connection.
type Connection struct {
	Connected    bool   `json:"connected"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// DraftRequest describes a mailbox draft to create.
type DraftRequest struct {
	Recipient string `json:"recipient_email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// BusyPeriod is one opaque busy interval from a free/busy query.
type BusyPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FreeBusyCalendar is the per-calendar slice of a free/busy response.
type FreeBusyCalendar struct {
	Busy []BusyPeriod `json:"busy"`
}

// FreeBusyResponse is keyed by calendar ID. The provider may key the entry
// by the account's literal email address rather than "primary".
type FreeBusyResponse struct {
	Calendars map[string]FreeBusyCalendar `json:"calendars"`
}

// EventRequest describes a calendar event to create.
type EventRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	StartTime       string   `json:"start_time"` // RFC 3339
	DurationMinutes int      `json:"duration_minutes"`
	Location        string   `json:"location,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`
}

// CheckMailboxConnection reports whether the user's mailbox is connected.
func (c *Client) CheckMailboxConnection(ctx context.Context, userID string) (Connection, error) {
	var conn Connection
	err := c.get(ctx, fmt.Sprintf("/connections/%s/mailbox", url.PathEscape(userID)), &conn)
	return conn, err
}

// CheckCalendarConnection reports whether the user's calendar is connected.
func (c *Client) CheckCalendarConnection(ctx context.Context, userID string) (Connection, error) {
	var conn Connection
	err := c.get(ctx, fmt.Sprintf("/connections/%s/calendar", url.PathEscape(userID)), &conn)
	return conn, err
}

// CreateDraft creates a reply draft in the user's mailbox and returns the
// provider's draft ID. Broker responses vary between draft_id and id.
func (c *Client) CreateDraft(ctx context.Context, userID string, draft DraftRequest) (string, error) {
	body := struct {
		UserID string `json:"user_id"`
		DraftRequest
	}{UserID: userID, DraftRequest: draft}

	var result struct {
		DraftID string `json:"draft_id"`
		ID      string `json:"id"`
	}
	if err := c.post(ctx, "/actions/mailbox/create-draft", body, &result); err != nil {
		return "", err
	}

	draftID := result.DraftID
	if draftID == "" {
		draftID = result.ID
	}
	return draftID, nil
}

// QueryFreeBusy returns the user's busy intervals between timeMin and timeMax.
func (c *Client) QueryFreeBusy(ctx context.Context, userID string, timeMin, timeMax time.Time) (FreeBusyResponse, error) {
	body := struct {
		UserID  string `json:"user_id"`
		TimeMin string `json:"time_min"`
		TimeMax string `json:"time_max"`
	}{
		UserID:  userID,
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
	}

	var result FreeBusyResponse
	err := c.post(ctx, "/actions/calendar/free-busy", body, &result)
	return result, err
}

// CreateCalendarEvent creates an event on the user's primary calendar.
func (c *Client) CreateCalendarEvent(ctx context.Context, userID string, event EventRequest) (string, error) {
	body := struct {
		UserID string `json:"user_id"`
		EventRequest
	}{UserID: userID, EventRequest: event}

	var result struct {
		Success bool   `json:"success"`
		EventID string `json:"event_id"`
		Error   string `json:"error"`
	}
	if err := c.post(ctx, "/actions/calendar/create-event", body, &result); err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("event creation rejected: %s", result.Error)
	}
	return result.EventID, nil
}

// GetUserProfile looks up a user's display name and address. Returns nil
// when the broker does not know the user.
func (c *Client) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var result struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	}
	err := c.get(ctx, fmt.Sprintf("/users/%s/profile", url.PathEscape(userID)), &result)
	if err != nil {
		if isNotFound(err) {
			slog.Warn("user profile not found", "user", userID)
			return nil, nil
		}
		return nil, err
	}
	return &models.UserProfile{
		ID:       result.ID,
		FullName: result.FullName,
		Email:    result.Email,
	}, nil
}

type notFoundError struct{ path string }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("connector returned 404 for %s", e.path)
}

func isNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connector %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return &notFoundError{path: path}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("connector %s returned HTTP %d: %s", path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode connector response for %s: %w", path, err)
	}
	return nil
}
