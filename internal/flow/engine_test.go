package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/session"
)

const testChannel = "+15550001111"

type fakeUsers struct {
	users map[string]*models.User
	err   error
}

func (f *fakeUsers) FindUserByWhatsAppNumber(ctx context.Context, number string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[number]; ok {
		return u, nil
	}
	return nil, models.ErrUserNotFound
}

type fakeDrafter struct {
	draft   *models.Draft
	err     error
	prompts []string
}

func (f *fakeDrafter) GenerateDraft(ctx context.Context, prompt string) (*models.Draft, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	d := *f.draft
	return &d, nil
}

type fakeEmail struct {
	created   []models.Draft
	sent      []models.Draft
	createErr error
	sendErr   error
}

func (f *fakeEmail) CreateDraft(ctx context.Context, userID string, draft *models.Draft) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, *draft)
	return "draft-1", nil
}

func (f *fakeEmail) SendDraft(ctx context.Context, userID string, draft *models.Draft) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, *draft)
	return nil
}

type fakeCompleter struct {
	reply string
	err   error
	calls [][]openai.ChatCompletionMessageParamUnion
}

func (f *fakeCompleter) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt), openai.UserMessage(userPrompt),
	})
}

func (f *fakeCompleter) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.calls = append(f.calls, messages)
	return f.reply, f.err
}

var errUnparsableReminder = errors.New("unparsable reminder")

type fakeReminders struct {
	confirmation string
	err          error
	requests     []string
}

func (f *fakeReminders) Set(ctx context.Context, channelID, request string) (string, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return "", f.err
	}
	return f.confirmation, nil
}

func (f *fakeReminders) Unparsable(err error) bool {
	return errors.Is(err, errUnparsableReminder)
}

type engineFixture struct {
	engine    *Engine
	sessions  *session.Store
	users     *fakeUsers
	drafter   *fakeDrafter
	email     *fakeEmail
	completer *fakeCompleter
	reminders *fakeReminders
}

func newFixture() *engineFixture {
	f := &engineFixture{
		sessions: session.NewStore(),
		users: &fakeUsers{users: map[string]*models.User{
			testChannel: {
				ID:             "user-1",
				WhatsAppNumber: testChannel,
				Email:          "bruce.wayne@wayne.com",
				Tokens:         models.GoogleTokens{AccessToken: "tok"},
			},
		}},
		drafter:   &fakeDrafter{draft: &models.Draft{To: "bob@wayne.com", Subject: "The Gala", Body: "Dear Bob, do come."}},
		email:     &fakeEmail{},
		completer: &fakeCompleter{reply: "Indeed, sir."},
		reminders: &fakeReminders{confirmation: "⏰ Noted. I shall remind you."},
	}
	f.engine = NewEngine(f.sessions, f.users, f.drafter, f.email, f.completer, f.reminders)
	return f
}

func (f *engineFixture) handle(t *testing.T, text string) []string {
	t.Helper()
	out, err := f.engine.HandleMessage(context.Background(), testChannel, text)
	if err != nil {
		t.Fatalf("HandleMessage(%q) returned error: %v", text, err)
	}
	return out
}

func (f *engineFixture) step(t *testing.T) session.Step {
	t.Helper()
	s := f.sessions.Get(testChannel)
	if s == nil {
		t.Fatal("expected a session")
	}
	return s.Step
}

func TestUnauthenticatedChannelGetsLoginPromptOnly(t *testing.T) {
	f := newFixture()
	for _, text := range []string{"hi", "send an email to bob@wayne.com", "who are you?"} {
		out, err := f.engine.HandleMessage(context.Background(), "+15559998888", text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 1 || !strings.Contains(out[0], "connect your Google account") {
			t.Errorf("expected exactly one login prompt for %q, got %v", text, out)
		}
	}
	if f.sessions.Len() != 0 {
		t.Errorf("expected no sessions for unauthenticated channels, got %d", f.sessions.Len())
	}
}

func TestGreetingFromFreshChannelShowsMenu(t *testing.T) {
	f := newFixture()
	out := f.handle(t, "hi")
	if len(out) != 1 || !strings.Contains(out[0], "I can assist with") {
		t.Fatalf("expected capability menu, got %v", out)
	}
	if !strings.Contains(out[0], "Master Bruce") {
		t.Errorf("expected display name in menu, got %q", out[0])
	}
	if got := f.step(t); got != session.StepWaitingForIntent {
		t.Errorf("expected waiting_for_intent, got %q", got)
	}
}

func TestGreetingResetsStepButKeepsHistory(t *testing.T) {
	f := newFixture()
	f.handle(t, "how are you this evening?") // free chat, builds history
	if got := f.step(t); got != session.StepChatting {
		t.Fatalf("expected chatting, got %q", got)
	}
	before := len(f.sessions.Get(testChannel).History)
	if before == 0 {
		t.Fatal("expected history to accumulate")
	}

	f.handle(t, "hello")
	if got := f.step(t); got != session.StepWaitingForIntent {
		t.Errorf("expected reset to waiting_for_intent, got %q", got)
	}
	if got := len(f.sessions.Get(testChannel).History); got != before {
		t.Errorf("greeting must not delete history: had %d, now %d", before, got)
	}
}

func TestAboutMeDoesNotAlterStep(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	if got := f.step(t); got != session.StepGetRecipient {
		t.Fatalf("expected get_recipient, got %q", got)
	}

	out := f.handle(t, "who are you?")
	if !strings.Contains(strings.Join(out, " "), "Alfred Pennyworth") {
		t.Errorf("expected persona description, got %v", out)
	}
	if got := f.step(t); got != session.StepGetRecipient {
		t.Errorf("about-me must not alter step, got %q", got)
	}
}

func TestRecipientValidation(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")

	out := f.handle(t, "not-an-email")
	if len(out) != 1 || !strings.Contains(out[0], "doesn’t look like an email address") {
		t.Errorf("expected re-prompt, got %v", out)
	}
	if got := f.step(t); got != session.StepGetRecipient {
		t.Errorf("step must be unchanged on invalid address, got %q", got)
	}

	f.handle(t, "bob@wayne.com")
	if got := f.step(t); got != session.StepGetPurpose {
		t.Errorf("expected get_purpose, got %q", got)
	}
	if got := f.sessions.Get(testChannel).Recipient; got != "bob@wayne.com" {
		t.Errorf("expected recipient stored, got %q", got)
	}
}

func TestPurposeTriggersDraftGeneration(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	out := f.handle(t, "invite him to the gala")

	if got := f.step(t); got != session.StepConfirmDraft {
		t.Fatalf("expected confirm_draft, got %q", got)
	}
	if len(f.drafter.prompts) != 1 || !strings.Contains(f.drafter.prompts[0], "To: bob@wayne.com") {
		t.Errorf("unexpected drafter prompts %v", f.drafter.prompts)
	}
	joined := strings.Join(out, "\n")
	if !strings.Contains(joined, "Subject: The Gala") || !strings.Contains(joined, `"send", "edit", or "cancel"`) {
		t.Errorf("expected draft presentation, got %v", out)
	}
}

func TestDraftGenerationFailureStaysInGetPurpose(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")

	f.drafter.err = errors.New("model exploded")
	out, err := f.engine.HandleMessage(context.Background(), testChannel, "invite him")
	if err == nil {
		t.Fatal("expected surfaced error")
	}
	if got := f.step(t); got != session.StepGetPurpose {
		t.Errorf("step must not advance past failed draft generation, got %q", got)
	}
	joined := strings.Join(out, " ")
	if strings.Contains(joined, "model exploded") {
		t.Error("raw error must never reach the channel")
	}
	if !strings.Contains(joined, "draft eluded me") {
		t.Errorf("expected persona apology, got %v", out)
	}
}

func TestConfirmDraftSendDeletesSession(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	f.handle(t, "invite him to the gala")

	out := f.handle(t, "please send this now")
	joined := strings.Join(out, " ")
	if !strings.Contains(joined, "sent with grace") {
		t.Errorf("expected success notice, got %v", out)
	}
	if len(f.email.created) != 1 || len(f.email.sent) != 1 {
		t.Errorf("expected create+send, got %d/%d", len(f.email.created), len(f.email.sent))
	}
	if f.sessions.Get(testChannel) != nil {
		t.Error("expected session deleted after send")
	}
}

func TestConfirmDraftTieBreakOrder(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	f.handle(t, "invite him")

	// "send" wins over "cancel" when both are present.
	out := f.handle(t, "cancel no wait send it")
	if !strings.Contains(strings.Join(out, " "), "sent with grace") {
		t.Errorf("expected send branch to win, got %v", out)
	}
}

func TestConfirmDraftCancelAndIdempotence(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	f.handle(t, "invite him")

	out := f.handle(t, "cancel")
	if !strings.Contains(out[0], "Draft discarded") {
		t.Errorf("expected discard notice, got %v", out)
	}
	if f.sessions.Get(testChannel) != nil {
		t.Fatal("expected session deleted after cancel")
	}

	// Repeating "cancel" after deletion starts a fresh session and must not
	// panic; the message simply falls through to free chat.
	out = f.handle(t, "cancel")
	if len(out) == 0 {
		t.Error("expected a reply for post-deletion message")
	}
	if got := f.step(t); got != session.StepChatting {
		t.Errorf("expected fresh session in chatting, got %q", got)
	}
}

func TestSendFailureKeepsSessionInConfirmDraft(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	f.handle(t, "invite him")

	f.email.sendErr = errors.New("gmail down")
	out, err := f.engine.HandleMessage(context.Background(), testChannel, "send")
	if err == nil {
		t.Fatal("expected surfaced error")
	}
	if got := f.step(t); got != session.StepConfirmDraft {
		t.Errorf("failed send must leave confirm_draft, got %q", got)
	}
	if !strings.Contains(strings.Join(out, " "), "dispatch did not go through") {
		t.Errorf("expected persona failure notice, got %v", out)
	}

	// Retry succeeds once the collaborator recovers.
	f.email.sendErr = nil
	f.handle(t, "send")
	if f.sessions.Get(testChannel) != nil {
		t.Error("expected session deleted after successful retry")
	}
}

func TestEditSubjectLeavesOtherFieldsIntact(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	f.handle(t, "invite him")

	f.handle(t, "edit")
	if got := f.step(t); got != session.StepEditDraft {
		t.Fatalf("expected edit_draft, got %q", got)
	}

	out := f.handle(t, "weather")
	if !strings.Contains(out[0], "subject, body, or recipient") {
		t.Errorf("expected edit field re-prompt, got %v", out)
	}

	f.handle(t, "subject")
	if got := f.step(t); got != session.StepEditSubject {
		t.Fatalf("expected edit_subject, got %q", got)
	}

	f.handle(t, "Gala Moved To Saturday")
	if got := f.step(t); got != session.StepConfirmDraft {
		t.Fatalf("expected confirm_draft after edit, got %q", got)
	}

	sess := f.sessions.Get(testChannel)
	draft, err := sess.Draft()
	if err != nil {
		t.Fatalf("unexpected draft error: %v", err)
	}
	if draft.Subject != "Gala Moved To Saturday" {
		t.Errorf("subject not updated: %q", draft.Subject)
	}
	if draft.To != "bob@wayne.com" || draft.Body != "Dear Bob, do come." {
		t.Errorf("editing subject must not alter to/body: %+v", draft)
	}

	// The edited draft is exactly what gets sent.
	f.handle(t, "send")
	if len(f.email.sent) != 1 || f.email.sent[0].Subject != "Gala Moved To Saturday" {
		t.Errorf("expected edited subject in sent draft, got %+v", f.email.sent)
	}
}

func TestGreetingSuppressedDuringDraftWorkflow(t *testing.T) {
	f := newFixture()
	f.handle(t, "write an email")
	f.handle(t, "bob@wayne.com")
	f.handle(t, "invite him")

	out := f.handle(t, "hi")
	if !strings.Contains(out[0], `"send", "edit", or "cancel"`) {
		t.Errorf("expected confirm re-prompt instead of menu, got %v", out)
	}
	if got := f.step(t); got != session.StepConfirmDraft {
		t.Errorf("greeting mid-draft must not reset step, got %q", got)
	}
}

func TestCompressedEmailRequestSkipsSlotFilling(t *testing.T) {
	f := newFixture()
	out := f.handle(t, "email bob@wayne.com about the gala")

	if got := f.step(t); got != session.StepConfirmDraft {
		t.Fatalf("expected confirm_draft, got %q", got)
	}
	sess := f.sessions.Get(testChannel)
	if sess.Recipient != "bob@wayne.com" {
		t.Errorf("expected extracted recipient, got %q", sess.Recipient)
	}
	if sess.Purpose != "about the gala" {
		t.Errorf("expected derived purpose, got %q", sess.Purpose)
	}
	if len(f.drafter.prompts) != 1 || !strings.Contains(f.drafter.prompts[0], "Message: about the gala") {
		t.Errorf("unexpected drafter prompt %v", f.drafter.prompts)
	}
	if !strings.Contains(strings.Join(out, "\n"), "message draft") {
		t.Errorf("expected draft presentation, got %v", out)
	}
}

func TestFreeChatFallbackUsesBoundedHistory(t *testing.T) {
	f := newFixture()
	for i := 0; i < 4; i++ {
		f.handle(t, "how goes the evening?")
	}

	if len(f.completer.calls) != 4 {
		t.Fatalf("expected 4 chat completions, got %d", len(f.completer.calls))
	}
	last := f.completer.calls[len(f.completer.calls)-1]
	// system + at most 5 history turns.
	if len(last) > 1+DefaultHistoryWindow {
		t.Errorf("expected bounded context, got %d messages", len(last))
	}
	sess := f.sessions.Get(testChannel)
	if len(sess.History) != 8 { // 4 user + 4 assistant turns
		t.Errorf("expected full history retained, got %d", len(sess.History))
	}
	if got := f.step(t); got != session.StepChatting {
		t.Errorf("expected chatting self-loop, got %q", got)
	}
}

func TestEmptyChatReplyAsksToRephrase(t *testing.T) {
	f := newFixture()
	f.completer.reply = "   "
	out := f.handle(t, "mumble mumble")
	if !strings.Contains(out[0], "rephrase") {
		t.Errorf("expected rephrase prompt, got %v", out)
	}
}

func TestReminderWorkflow(t *testing.T) {
	f := newFixture()
	out := f.handle(t, "remind me about patrol")
	if !strings.Contains(out[0], "reminded about") {
		t.Errorf("expected reminder prompt, got %v", out)
	}
	if got := f.step(t); got != session.StepSetReminder {
		t.Fatalf("expected set_reminder, got %q", got)
	}

	// Unparsable request re-prompts and stays put.
	f.reminders.err = errUnparsableReminder
	out = f.handle(t, "whenever feels right")
	if !strings.Contains(out[0], "in 20 minutes") {
		t.Errorf("expected format help, got %v", out)
	}
	if got := f.step(t); got != session.StepSetReminder {
		t.Errorf("expected to stay in set_reminder, got %q", got)
	}

	f.reminders.err = nil
	out = f.handle(t, "in 20 minutes patrol begins")
	if !strings.Contains(out[0], "I shall remind you") {
		t.Errorf("expected confirmation, got %v", out)
	}
	if got := f.step(t); got != session.StepWaitingForIntent {
		t.Errorf("expected return to intent menu, got %q", got)
	}
}

func TestReplyWorkflowPlaceholder(t *testing.T) {
	f := newFixture()
	f.handle(t, "reply to that email from lucius")
	if got := f.step(t); got != session.StepReplyEmail {
		t.Fatalf("expected reply_email, got %q", got)
	}

	out := f.handle(t, "the budget review")
	if !strings.Contains(out[0], "still perfecting") {
		t.Errorf("expected placeholder notice, got %v", out)
	}
	if got := f.step(t); got != session.StepWaitingForIntent {
		t.Errorf("expected return to intent menu, got %q", got)
	}
}
