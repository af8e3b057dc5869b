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

// Package webhook is the HTTP boundary of the triage service. The inbound
// email webhook is processed synchronously so the caller learns the draft
// ID; responses are always a 200-shaped JSON body — retry policy belongs
// to the upstream sender, not to this service.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/draftwise/triage/internal/brief"
	"github.com/draftwise/triage/internal/models"
)

// Pipeline is the triage processor the handler drives.
type Pipeline interface {
	Process(ctx context.Context, email models.InboundEmailEvent) models.WebhookResult
}

// SettingsStore reads and writes per-user settings.
type SettingsStore interface {
	Settings(ctx context.Context, userID string) models.UserSettings
	UpsertSettings(ctx context.Context, settings models.UserSettings) error
}

// Briefer generates user briefs.
type Briefer interface {
	Generate(ctx context.Context, userID string) (*brief.Result, error)
}

// RecordStore reads processed-email history.
type RecordStore interface {
	RecentForUser(ctx context.Context, userID string, limit int) ([]models.ProcessedEmailRecord, error)
	RecentMeetings(ctx context.Context, userID string, limit int) ([]models.ProcessedEmailRecord, error)
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the webhook, brief, settings, and health endpoints.
type Handler struct {
	pipeline Pipeline
	settings SettingsStore
	briefer  Briefer
	records  RecordStore
	pingers  map[string]Pinger
}

// NewHandler creates the HTTP handler.
func NewHandler(pipeline Pipeline, settings SettingsStore, briefer Briefer, records RecordStore, pingers map[string]Pinger) *Handler {
	return &Handler{
		pipeline: pipeline,
		settings: settings,
		briefer:  briefer,
		records:  records,
		pingers:  pingers,
	}
}

// webhookResponse is the wire shape of a webhook reply.
type webhookResponse struct {
	Status    string `json:"status"`
	Processed bool   `json:"processed"`
	DraftID   string `json:"draftId,omitempty"`
	Message   string `json:"message"`
}

// ServeWebhook handles inbound email events. The body is a loosely shaped
// JSON object; extraction failures are reported in the response body, not
// as HTTP errors — the upstream sender must not retry malformed payloads.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, webhookResponse{Status: "error", Message: "POST required"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		writeJSON(w, webhookResponse{Status: "error", Message: "could not read request body"})
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Info("webhook body not valid JSON", "body_len", len(body))
		writeJSON(w, webhookResponse{Status: "error", Message: "invalid JSON payload"})
		return
	}

	event, reason := ExtractEvent(payload)
	if event == nil {
		slog.Info("webhook payload not processable", "reason", reason)
		writeJSON(w, webhookResponse{Status: "received", Message: reason})
		return
	}

	result := h.pipeline.Process(r.Context(), *event)

	status := "received"
	if result.Failed {
		status = "error"
	}
	writeJSON(w, webhookResponse{
		Status:    status,
		Processed: result.Processed,
		DraftID:   result.DraftID,
		Message:   result.Message,
	})
}

// ServeBrief handles GET /brief/{userId}.
func (h *Handler) ServeBrief(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := pathTail(r.URL.Path, "/brief/")
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	result, err := h.briefer.Generate(r.Context(), userID)
	if err != nil {
		slog.Error("brief generation failed", "user", userID, "error", err)
		http.Error(w, "brief generation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// defaultRecentLimit bounds the recent-email endpoints.
const defaultRecentLimit = 20

// ServeRecent handles GET /emails/{userId}/recent and
// GET /emails/{userId}/meetings.
func (h *Handler) ServeRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tail := pathTail(r.URL.Path, "/emails/")
	userID, view, _ := strings.Cut(tail, "/")
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	var (
		records []models.ProcessedEmailRecord
		err     error
	)
	switch view {
	case "recent":
		records, err = h.records.RecentForUser(r.Context(), userID, defaultRecentLimit)
	case "meetings":
		records, err = h.records.RecentMeetings(r.Context(), userID, defaultRecentLimit)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("recent email lookup failed", "user", userID, "view", view, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.ProcessedEmailRecord{}
	}
	writeJSON(w, records)
}

// ServeSettings handles GET and PUT /settings/{userId}.
func (h *Handler) ServeSettings(w http.ResponseWriter, r *http.Request) {
	userID := pathTail(r.URL.Path, "/settings/")
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.settings.Settings(r.Context(), userID))

	case http.MethodPut:
		var st models.UserSettings
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		st.UserID = userID
		if err := h.settings.UpsertSettings(r.Context(), st); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, h.settings.Settings(r.Context(), userID))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ServeHealth checks every backing service.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for name, pinger := range h.pingers {
		if err := pinger.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "backend", name, "error", err)
			http.Error(w, name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

func pathTail(path, prefix string) string {
	tail := strings.TrimPrefix(path, prefix)
	if tail == path {
		return ""
	}
	return strings.Trim(tail, "/")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", handler.ServeWebhook)
	mux.HandleFunc("/brief/", handler.ServeBrief)
	mux.HandleFunc("/emails/", handler.ServeRecent)
	mux.HandleFunc("/settings/", handler.ServeSettings)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
