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

// Package classify decides what kind of email the service is looking at:
// whether it is urgent (cheap regex pass) and whether it is a meeting
// request (LLM structured-output pass), and normalises the loosely typed
// times the model extracts.
package classify

import "regexp"

// urgentPatterns is the fixed, ordered pattern table for urgency detection.
// Subject is scanned first; the body only when the subject does not match.
var urgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bASAP\b`),
	regexp.MustCompile(`(?i)\burgent(ly)?\b`),
	regexp.MustCompile(`(?i)\bimmediate(ly)?\b`),
	regexp.MustCompile(`(?i)\btime[- ]?sensitive\b`),
	regexp.MustCompile(`(?i)\bhigh[- ]?priority\b`),
	regexp.MustCompile(`(?i)\bpriority\b`),
	regexp.MustCompile(`(?i)\bdeadline\b`),
	regexp.MustCompile(`(?i)\bcritical\b`),
	regexp.MustCompile(`(?i)\bemergency\b`),
	regexp.MustCompile(`(?i)\baction required\b`),
	regexp.MustCompile(`(?i)\brespond (by|before|today)\b`),
	regexp.MustCompile(`(?i)\bneeds? (immediate|urgent)\b`),
	regexp.MustCompile(`(?i)\btoday\b.*\b(by|before|need)\b`),
	regexp.MustCompile(`(?i)\b(need|require)s? (your )?(immediate|urgent)\b`),
	regexp.MustCompile(`(?i)\bdon'?t delay\b`),
	regexp.MustCompile(`(?i)\btime is (running out|critical)\b`),
}

// DetectUrgency reports whether an email looks urgent based on its subject
// and body. Deterministic and offline — no model call.
func DetectUrgency(subject, body string) bool {
	for _, p := range urgentPatterns {
		if p.MatchString(subject) {
			return true
		}
	}
	for _, p := range urgentPatterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

// MatchedUrgencyPatterns returns the source of every pattern that matched,
// for debug logging.
func MatchedUrgencyPatterns(subject, body string) []string {
	text := subject + " " + body
	var matched []string
	for _, p := range urgentPatterns {
		if p.MatchString(text) {
			matched = append(matched, p.String())
		}
	}
	return matched
}
