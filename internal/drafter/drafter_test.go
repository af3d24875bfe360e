package drafter

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/wayneworks/alfred/internal/models"
)

type mockCompleter struct {
	response string
	err      error

	lastSystem string
	lastUser   string
}

func (m *mockCompleter) GeneratePromptWithContext(_ context.Context, system, user string) (string, error) {
	m.lastSystem = system
	m.lastUser = user
	return m.response, m.err
}

func (m *mockCompleter) GenerateWithMessages(_ context.Context, _ []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.response, m.err
}

func TestGenerateDraftFlatFormat(t *testing.T) {
	mock := &mockCompleter{response: `{"to":"lucius@wayne.com","subject":"Board meeting","body":"Dear Lucius, the board convenes Thursday. Warm regards"}`}
	d := New(mock)

	draft, err := d.GenerateDraft(context.Background(), "tell lucius the board convenes thursday")
	if err != nil {
		t.Fatalf("GenerateDraft() error = %v", err)
	}
	if draft.To != "lucius@wayne.com" {
		t.Errorf("To = %q, want lucius@wayne.com", draft.To)
	}
	if draft.Subject != "Board meeting" {
		t.Errorf("Subject = %q", draft.Subject)
	}
	if mock.lastUser != "tell lucius the board convenes thursday" {
		t.Errorf("user prompt not passed through, got %q", mock.lastUser)
	}
}

func TestGenerateDraftLegacyEntitiesFormat(t *testing.T) {
	mock := &mockCompleter{response: `{"entities":{"recipient":"alfred@wayne.com","subject":"Supplies","body":"We need more tea."}}`}
	d := New(mock)

	draft, err := d.GenerateDraft(context.Background(), "email alfred about supplies")
	if err != nil {
		t.Fatalf("GenerateDraft() error = %v", err)
	}
	if draft.To != "alfred@wayne.com" || draft.Subject != "Supplies" || draft.Body != "We need more tea." {
		t.Errorf("unexpected draft from entities format: %+v", draft)
	}
}

func TestGenerateDraftMarkdownFencedJSON(t *testing.T) {
	mock := &mockCompleter{response: "```json\n{\"to\":\"a@b.com\",\"subject\":\"s\",\"body\":\"b\"}\n```"}
	d := New(mock)

	draft, err := d.GenerateDraft(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("GenerateDraft() error = %v", err)
	}
	if draft.To != "a@b.com" {
		t.Errorf("To = %q, want a@b.com", draft.To)
	}
}

func TestGenerateDraftMalformed(t *testing.T) {
	cases := []struct {
		name     string
		response string
	}{
		{"not JSON", "Certainly, I shall compose that for you."},
		{"missing body", `{"to":"a@b.com","subject":"s"}`},
		{"empty fields", `{"to":"","subject":"","body":""}`},
		{"incomplete entities", `{"entities":{"recipient":"a@b.com"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(&mockCompleter{response: tc.response})
			if _, err := d.GenerateDraft(context.Background(), "prompt"); err == nil {
				t.Error("GenerateDraft() error = nil, want parse error")
			}
		})
	}
}

func TestGenerateDraftCompletionError(t *testing.T) {
	wantErr := errors.New("api unavailable")
	d := New(&mockCompleter{err: wantErr})

	_, err := d.GenerateDraft(context.Background(), "prompt")
	if !errors.Is(err, wantErr) {
		t.Errorf("GenerateDraft() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestGenerateDraftEmptyContent(t *testing.T) {
	d := New(&mockCompleter{response: "   "})

	_, err := d.GenerateDraft(context.Background(), "prompt")
	if !errors.Is(err, models.ErrNoCompletionContent) {
		t.Errorf("GenerateDraft() error = %v, want ErrNoCompletionContent", err)
	}
}
