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

package webhook

import (
	"encoding/json"
	"testing"
)

func mustPayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return m
}

// TestExtractEvent verifies key precedence and field normalisation across
// payload shapes.
func TestExtractEvent(t *testing.T) {
	t.Run("canonical gmail payload", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {
				"message_id": "msg-1",
				"thread_id": "thr-1",
				"sender": "Alice <alice@example.com>",
				"to": "bob@example.com",
				"subject": "Hello",
				"message_text": "Full body here",
				"snippet": "Full body..."
			}
		}`)

		event, reason := ExtractEvent(payload)
		if event == nil {
			t.Fatalf("extraction failed: %s", reason)
		}
		if event.UserID != "user-1" || event.MessageID != "msg-1" || event.ThreadID != "thr-1" {
			t.Errorf("ids = %q/%q/%q", event.UserID, event.MessageID, event.ThreadID)
		}
		if event.From != "Alice <alice@example.com>" {
			t.Errorf("From = %q", event.From)
		}
		if event.Body != "Full body here" {
			t.Errorf("Body = %q", event.Body)
		}
	})

	t.Run("camelCase alternative keys", func(t *testing.T) {
		payload := mustPayload(t, `{
			"triggerName": "email_received",
			"payload": {
				"messageId": "msg-2",
				"threadId": "thr-2",
				"user_id": "user-2",
				"from": "carol@example.com",
				"recipient": "bob@example.com",
				"subject": "Hi",
				"body": "camel body"
			}
		}`)

		event, reason := ExtractEvent(payload)
		if event == nil {
			t.Fatalf("extraction failed: %s", reason)
		}
		if event.MessageID != "msg-2" || event.ThreadID != "thr-2" || event.UserID != "user-2" {
			t.Errorf("ids = %q/%q/%q", event.MessageID, event.ThreadID, event.UserID)
		}
		if event.From != "carol@example.com" || event.To != "bob@example.com" {
			t.Errorf("addresses = %q/%q", event.From, event.To)
		}
		if event.Body != "camel body" {
			t.Errorf("Body = %q", event.Body)
		}
	})

	t.Run("snake_case wins over camelCase", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {
				"message_id": "snake-id",
				"messageId": "camel-id",
				"sender": "alice@example.com"
			}
		}`)

		event, reason := ExtractEvent(payload)
		if event == nil {
			t.Fatalf("extraction failed: %s", reason)
		}
		if event.MessageID != "snake-id" {
			t.Errorf("MessageID = %q, want snake-id", event.MessageID)
		}
	})

	t.Run("body falls back to snippet", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {
				"message_id": "msg-3",
				"sender": "alice@example.com",
				"snippet": "snippet only"
			}
		}`)

		event, reason := ExtractEvent(payload)
		if event == nil {
			t.Fatalf("extraction failed: %s", reason)
		}
		if event.Body != "snippet only" || event.Snippet != "snippet only" {
			t.Errorf("Body = %q, Snippet = %q", event.Body, event.Snippet)
		}
	})

	t.Run("snippet from nested preview", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {
				"message_id": "msg-4",
				"sender": "alice@example.com",
				"preview": {"body": "preview text"}
			}
		}`)

		event, reason := ExtractEvent(payload)
		if event == nil {
			t.Fatalf("extraction failed: %s", reason)
		}
		if event.Snippet != "preview text" {
			t.Errorf("Snippet = %q", event.Snippet)
		}
	})

	t.Run("non-email event is ignored", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "calendar_event_created",
			"userId": "user-1",
			"data": {"message_id": "msg-5", "sender": "a@b.c"}
		}`)

		event, reason := ExtractEvent(payload)
		if event != nil {
			t.Fatalf("expected nil event, got %+v", event)
		}
		if reason == "" {
			t.Error("expected a skip reason")
		}
	})

	t.Run("missing user id", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"data": {"message_id": "msg-6", "sender": "a@b.c"}
		}`)

		if event, _ := ExtractEvent(payload); event != nil {
			t.Fatalf("expected nil event, got %+v", event)
		}
	})

	t.Run("missing sender", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {"message_id": "msg-7", "subject": "no sender"}
		}`)

		if event, _ := ExtractEvent(payload); event != nil {
			t.Fatalf("expected nil event, got %+v", event)
		}
	})

	t.Run("missing message id", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {"sender": "a@b.c", "subject": "no id"}
		}`)

		if event, _ := ExtractEvent(payload); event != nil {
			t.Fatalf("expected nil event, got %+v", event)
		}
	})

	t.Run("no data object", func(t *testing.T) {
		payload := mustPayload(t, `{"type": "gmail_new_email", "userId": "user-1"}`)

		if event, _ := ExtractEvent(payload); event != nil {
			t.Fatalf("expected nil event, got %+v", event)
		}
	})

	t.Run("numeric message id is stringified", func(t *testing.T) {
		payload := mustPayload(t, `{
			"type": "gmail_new_email",
			"userId": "user-1",
			"data": {"id": 12345, "sender": "a@b.c"}
		}`)

		event, reason := ExtractEvent(payload)
		if event == nil {
			t.Fatalf("extraction failed: %s", reason)
		}
		if event.MessageID != "12345" {
			t.Errorf("MessageID = %q, want 12345", event.MessageID)
		}
	})
}
