// Package llm provides the transport contract for per-message email
// classification plus two implementations: an OpenAI-compatible HTTP client
// and an AWS Bedrock client. Transports return one structured verdict per
// message; the caller applies its own guards on top.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned by every transport when LLM calls are
	// switched off process-wide (DISABLE_LLM=1 or config).
	ErrDisabled = errors.New("llm: calls disabled")

	// ErrRateLimited signals a 429 that survived the retry budget.
	ErrRateLimited = errors.New("llm: rate limited")
)

// TransportError wraps a failed LLM call with its HTTP status when known.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: request failed (%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is the payload classified by a transport.
type Request struct {
	SenderEmail string `json:"sender_email"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	ReceivedAt  string `json:"received_at"`
}

// RawVerdict is the model's parsed answer before caller-side guards.
type RawVerdict struct {
	IsJobRelated bool    `json:"is_job_related"`
	Company      string  `json:"company"`
	Position     string  `json:"position"`
	EventType    string  `json:"event_type"`
	Confidence   float64 `json:"confidence"`
}

// Client classifies one message per call.
type Client interface {
	ClassifyOne(ctx context.Context, req Request) (RawVerdict, error)
}

// SystemPrompt instructs the model; the event_type enum and the
// interview-only-on-invite rule must match the caller's post-guards.
const SystemPrompt = "You classify job-search emails. " +
	"Return only a JSON object with keys: " +
	"is_job_related (boolean), company (string), position (string), " +
	"event_type (application|interview|rejection|offer|other), confidence (number 0..1). " +
	"For company, use the base brand name and drop org/legal suffixes such as group/inc/llc/ltd. " +
	"Count interview only when there is an explicit meeting invite/scheduled interview signal. " +
	"If not job-related, set is_job_related=false and event_type=other."

// Disabled reports whether the process-wide kill switch is set.
func Disabled() bool {
	return strings.TrimSpace(os.Getenv("DISABLE_LLM")) == "1"
}

var (
	fenceOpenRe  = regexp.MustCompile("^```[a-zA-Z0-9_-]*\n?")
	fenceCloseRe = regexp.MustCompile("\n?```$")
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseVerdict decodes the model's text answer, tolerating markdown fences
// and prose around the JSON object.
func parseVerdict(text string) (RawVerdict, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = fenceOpenRe.ReplaceAllString(s, "")
		s = fenceCloseRe.ReplaceAllString(s, "")
	}
	var v RawVerdict
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}
	m := jsonObjectRe.FindString(s)
	if m == "" {
		return RawVerdict{}, fmt.Errorf("llm: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(m), &v); err != nil {
		return RawVerdict{}, fmt.Errorf("llm: decoding verdict: %w", err)
	}
	return v, nil
}

func userPrompt(req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: encoding request: %w", err)
	}
	return "Classify this email:\n" + string(payload), nil
}

func latencyMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
