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
	"fmt"
	"strings"

	"github.com/draftwise/triage/internal/models"
)

// The broker's webhook payload uses provider-specific field names that vary
// between trigger versions. Each logical field has a fixed precedence list
// of candidate keys, tried in order.
var (
	messageIDKeys = []string{"message_id", "messageId", "id"}
	threadIDKeys  = []string{"thread_id", "threadId"}
	fromKeys      = []string{"sender", "from"}
	toKeys        = []string{"to", "recipient"}
	subjectKeys   = []string{"subject"}
	bodyKeys      = []string{"message_text", "body"}
)

// firstString returns the first candidate key whose value is a non-empty
// string (or stringable scalar).
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%v", s)
		}
	}
	return ""
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// ExtractEvent parses a loosely shaped webhook payload into a normalised
// email event. Returns a non-empty reason when the payload should not be
// processed: wrong event type, no user, or missing required email fields.
func ExtractEvent(payload map[string]any) (*models.InboundEmailEvent, string) {
	eventType := firstString(payload, "type", "triggerName")
	lowered := strings.ToLower(eventType)
	if !strings.Contains(lowered, "gmail") && !strings.Contains(lowered, "email") {
		return nil, fmt.Sprintf("Ignored non-email event type: %s", eventType)
	}

	data := asMap(payload["data"])
	if data == nil {
		data = asMap(payload["payload"])
	}
	if data == nil {
		return nil, "Could not extract email data from payload"
	}

	userID := firstString(payload, "userId")
	if userID == "" {
		userID = firstString(data, "user_id")
	}
	if userID == "" {
		return nil, "No userId provided in webhook payload"
	}

	snippet := firstString(data, "snippet")
	if snippet == "" {
		if preview := asMap(data["preview"]); preview != nil {
			snippet = firstString(preview, "body")
		}
	}

	body := firstString(data, bodyKeys...)
	if body == "" {
		body = snippet
	}

	event := &models.InboundEmailEvent{
		EventType: eventType,
		UserID:    userID,
		MessageID: firstString(data, messageIDKeys...),
		ThreadID:  firstString(data, threadIDKeys...),
		From:      firstString(data, fromKeys...),
		To:        firstString(data, toKeys...),
		Subject:   firstString(data, subjectKeys...),
		Snippet:   snippet,
		Body:      body,
	}

	if event.From == "" || event.MessageID == "" {
		return nil, "Could not extract email data from payload"
	}

	return event, ""
}
