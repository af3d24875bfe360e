// Package intent classifies free-text commands into the email action
// taxonomy used by the orchestration endpoint.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wayneworks/alfred/internal/genai"
)

// Intent is a recognized email action.
type Intent string

const (
	IntentSendEmail    Intent = "email.send"
	IntentReplyEmail   Intent = "email.reply"
	IntentForwardEmail Intent = "email.forward"
	IntentDeleteEmail  Intent = "email.delete"
	IntentArchiveEmail Intent = "email.archive"
	IntentLabelEmail   Intent = "email.label"
	IntentUnknown      Intent = "unknown"
)

// knownIntents guards against the model inventing taxonomy entries.
var knownIntents = map[Intent]bool{
	IntentSendEmail:    true,
	IntentReplyEmail:   true,
	IntentForwardEmail: true,
	IntentDeleteEmail:  true,
	IntentArchiveEmail: true,
	IntentLabelEmail:   true,
	IntentUnknown:      true,
}

// Entities are the slots extracted alongside an intent. Absent slots are
// empty strings.
type Entities struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Label     string `json:"label"`
}

// Classification is the validated result of classifying one command.
type Classification struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
}

const systemPrompt = `You are an intent classifier for an email assistant. Classify the user's command into exactly one of these intents:

- email.send: compose and send a new email
- email.reply: reply to an existing email
- email.forward: forward an existing email
- email.delete: delete an email
- email.archive: archive an email
- email.label: apply a label to an email
- unknown: anything else

Respond with valid JSON ONLY, in exactly this shape:

{"intent": "email.send", "entities": {"recipient": "", "subject": "", "body": "", "label": ""}}

Fill entity values from the command where present, otherwise leave them as empty strings. Do not add fields. Do not add explanations.`

// Classifier maps free-text commands onto the intent taxonomy via the
// completion client.
type Classifier struct {
	client genai.ClientInterface
}

// NewClassifier creates a Classifier backed by the given completion client.
func NewClassifier(client genai.ClientInterface) *Classifier {
	return &Classifier{client: client}
}

// Classify returns the validated classification for a command. Model output
// that is not valid JSON or names an unknown intent degrades to
// IntentUnknown rather than failing the request.
func (c *Classifier) Classify(ctx context.Context, command string) (*Classification, error) {
	content, err := c.client.GeneratePromptWithContext(ctx, systemPrompt, command)
	if err != nil {
		slog.Error("Classifier.Classify: completion failed", "error", err)
		return nil, fmt.Errorf("intent completion failed: %w", err)
	}

	result := parseClassification(content)
	slog.Debug("Classifier.Classify: classified", "intent", result.Intent)
	return result, nil
}

// parseClassification defensively parses model output. Anything malformed
// becomes IntentUnknown with empty entities.
func parseClassification(content string) *Classification {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var result Classification
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		slog.Warn("Classifier.parseClassification: output not valid JSON", "error", err)
		return &Classification{Intent: IntentUnknown}
	}
	if !knownIntents[result.Intent] {
		slog.Warn("Classifier.parseClassification: unrecognized intent from model", "intent", string(result.Intent))
		return &Classification{Intent: IntentUnknown}
	}
	return &result
}
