// Package drafter turns a free-text request into a structured email draft
// using the GenAI client, with defensive parsing of the model output.
package drafter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wayneworks/alfred/internal/genai"
	"github.com/wayneworks/alfred/internal/models"
)

// systemPrompt instructs the model to compose an email draft as strict JSON.
const systemPrompt = `You are Alfred, Batman's butler — witty, classy, but brief. Your task is to compose an email draft in JSON, based on the user's prompt.

Respond in exactly this format:

{
  "to": "recipient@example.com",
  "subject": "Elegant and clear subject line",
  "body": "A graceful, articulate, and courteous email body"
}

Instructions:
- Use polished, respectful, and eloquent language with a subtle touch of British wit.
- Greet appropriately ('Dear [Name]', 'Greetings', or 'Dear Sir/Madam').
- Maintain a formal tone but allow for warmth and charm when suitable.
- Avoid sender's name or any footer—leave that for the system.
- End with a graceful sign-off such as 'Warm regards', 'Respectfully yours', etc.
- DO NOT include markdown, explanations, or anything outside valid JSON.

You must return a valid JSON object ONLY.`

// draftPayload is the expected flat response shape, plus the legacy shape
// where the fields arrive wrapped in an "entities" object.
type draftPayload struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Entities *struct {
		Recipient string `json:"recipient"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
	} `json:"entities"`
}

// Drafter generates email drafts through a completion client.
type Drafter struct {
	client genai.ClientInterface
}

// New creates a Drafter backed by the given completion client.
func New(client genai.ClientInterface) *Drafter {
	return &Drafter{client: client}
}

// GenerateDraft asks the model for a draft and parses the result. Malformed
// output (non-JSON, or any missing field) is an error, never a partial
// draft; the caller decides whether to retry or abort.
func (d *Drafter) GenerateDraft(ctx context.Context, prompt string) (*models.Draft, error) {
	slog.Debug("Drafter.GenerateDraft: generating draft", "prompt_length", len(prompt))

	content, err := d.client.GeneratePromptWithContext(ctx, systemPrompt, prompt)
	if err != nil {
		slog.Error("Drafter.GenerateDraft: completion failed", "error", err)
		return nil, fmt.Errorf("draft completion failed: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		slog.Error("Drafter.GenerateDraft: empty completion content")
		return nil, models.ErrNoCompletionContent
	}

	draft, err := parseDraft(content)
	if err != nil {
		slog.Error("Drafter.GenerateDraft: malformed draft content", "error", err, "content_length", len(content))
		return nil, err
	}

	slog.Debug("Drafter.GenerateDraft: draft generated", "to", draft.To, "subject_length", len(draft.Subject), "body_length", len(draft.Body))
	return draft, nil
}

// parseDraft extracts the three required fields from model output, accepting
// the flat shape and the legacy entities wrapper. Models occasionally fence
// the JSON in markdown despite instructions; the fence is tolerated.
func parseDraft(content string) (*models.Draft, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload draftPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("draft content is not valid JSON: %w", err)
	}

	if payload.Entities != nil && payload.Entities.Recipient != "" && payload.Entities.Subject != "" && payload.Entities.Body != "" {
		return &models.Draft{
			To:      payload.Entities.Recipient,
			Subject: payload.Entities.Subject,
			Body:    payload.Entities.Body,
		}, nil
	}

	if payload.To == "" || payload.Subject == "" || payload.Body == "" {
		return nil, models.ErrMalformedDraft
	}
	return &models.Draft{To: payload.To, Subject: payload.Subject, Body: payload.Body}, nil
}
