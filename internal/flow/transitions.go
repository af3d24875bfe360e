package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/session"
)

// handleIntentSelection is the dispatcher for the initial, waiting_for_intent
// and chatting steps. Keyword intents can pull a channel out of free chat
// into a workflow at any time; anything else falls through to the persona
// chat with bounded history.
func (e *Engine) handleIntentSelection(ctx context.Context, channelID string, sess *session.Session, msg Message) ([]string, error) {
	switch {
	// A reply request always also contains the "email" keyword, so the more
	// specific predicate is tested first or reply_email is unreachable.
	case msg.IsReplyRequest():
		sess.Step = session.StepReplyEmail
		return []string{msgAskReplySubject}, nil
	case msg.IsEmailRequest():
		sess.Step = session.StepGetRecipient
		return []string{msgAskRecipient}, nil
	case msg.IsReminderRequest():
		sess.Step = session.StepSetReminder
		return []string{msgAskReminder}, nil
	default:
		return e.handleChat(ctx, channelID, sess, msg)
	}
}

// handleChat runs the free-chat fallback. The user turn is recorded before
// the completion call so history stays consistent even when the call fails.
func (e *Engine) handleChat(ctx context.Context, channelID string, sess *session.Session, msg Message) ([]string, error) {
	sess.Step = session.StepChatting
	sess.AppendTurn("user", msg.Raw)

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(ChatSystemPrompt)}
	for _, turn := range sess.RecentHistory(e.historyWindow) {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	reply, err := e.completer.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("Engine.handleChat: completion failed", "error", err, "channelID", channelID)
		return []string{msgChatFailed}, fmt.Errorf("completion failed: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return []string{msgChatUnsure}, nil
	}
	sess.AppendTurn("assistant", reply)
	return SplitBySentences(reply), nil
}

// handleCompressedEmailRequest services the one-shot form "email
// bob@wayne.com about the gala": recipient and purpose are extracted from a
// single message and the recipient/purpose prompts are skipped entirely.
func (e *Engine) handleCompressedEmailRequest(ctx context.Context, channelID string, sess *session.Session, msg Message, recipient string) ([]string, error) {
	purpose := msg.CompressedPurpose(recipient)
	if purpose == "" {
		purpose = "No message specified."
	}
	sess.Recipient = recipient
	sess.Purpose = purpose
	slog.Debug("Engine.handleCompressedEmailRequest: extracted slots", "channelID", channelID, "recipient", recipient)

	out := []string{msgDrafting}
	prompt := fmt.Sprintf("To: %s\nMessage: %s", recipient, purpose)
	draft, err := e.drafter.GenerateDraft(ctx, prompt)
	if err != nil {
		slog.Error("Engine.handleCompressedEmailRequest: draft generation failed", "error", err, "channelID", channelID)
		return append(out, msgDraftFailed), fmt.Errorf("draft generation failed: %w", err)
	}

	sess.SetDraft(draft)
	sess.Step = session.StepConfirmDraft
	return append(out, draftPresentation("📨 Here's your message draft:", draft.To, draft.Subject, draft.Body)), nil
}

func (e *Engine) handleGetRecipient(sess *session.Session, msg Message) ([]string, error) {
	if !models.IsEmailAddress(msg.Raw) {
		return []string{msgInvalidAddress}, nil
	}
	sess.Recipient = msg.Raw
	sess.Step = session.StepGetPurpose
	return []string{msgAskPurpose}, nil
}

func (e *Engine) handleGetPurpose(ctx context.Context, channelID string, sess *session.Session, msg Message) ([]string, error) {
	sess.Purpose = msg.Raw

	out := []string{msgPreparingDraft}
	prompt := fmt.Sprintf("To: %s\nPurpose: %s", sess.Recipient, sess.Purpose)
	draft, err := e.drafter.GenerateDraft(ctx, prompt)
	if err != nil {
		// Stay in get_purpose so the user can restate and retry.
		slog.Error("Engine.handleGetPurpose: draft generation failed", "error", err, "channelID", channelID)
		return append(out, msgDraftFailed), fmt.Errorf("draft generation failed: %w", err)
	}

	sess.SetDraft(draft)
	sess.Step = session.StepConfirmDraft
	return append(out, draftPresentation("📨 Here is your composed message:", draft.To, draft.Subject, draft.Body)), nil
}

// handleConfirmDraft resolves send/cancel/edit by substring containment on
// the normalized message, checked in that fixed order.
func (e *Engine) handleConfirmDraft(ctx context.Context, channelID string, sess *session.Session, msg Message) ([]string, error) {
	switch {
	case strings.Contains(msg.Normalized, "send"):
		return e.sendDraft(ctx, channelID, sess)
	case strings.Contains(msg.Normalized, "cancel"):
		e.sessions.Delete(channelID)
		return []string{msgDraftDiscarded}, nil
	case strings.Contains(msg.Normalized, "edit"):
		sess.Step = session.StepEditDraft
		return []string{msgAskEditField}, nil
	default:
		return []string{msgConfirmReprompt}, nil
	}
}

// sendDraft performs the side-effecting send. The session is deleted only
// after both collaborator calls succeed; any failure leaves the channel in
// confirm_draft with the draft intact so "send" can simply be retried.
func (e *Engine) sendDraft(ctx context.Context, channelID string, sess *session.Session) ([]string, error) {
	draft, err := sess.Draft()
	if err != nil {
		slog.Error("Engine.sendDraft: draft invariant violated", "error", err, "channelID", channelID)
		return []string{msgChatFailed}, err
	}

	out := []string{msgDispatching}
	if _, err := e.email.CreateDraft(ctx, sess.UserID, draft); err != nil {
		slog.Error("Engine.sendDraft: create draft failed", "error", err, "channelID", channelID)
		return append(out, msgSendFailed), fmt.Errorf("create draft failed: %w", err)
	}
	if err := e.email.SendDraft(ctx, sess.UserID, draft); err != nil {
		slog.Error("Engine.sendDraft: send failed", "error", err, "channelID", channelID)
		return append(out, msgSendFailed), fmt.Errorf("send draft failed: %w", err)
	}

	displayName := DisplayName(sess.Email)
	e.sessions.Delete(channelID)
	slog.Info("Engine.sendDraft: email sent, session completed", "channelID", channelID, "to", draft.To)
	return append(out, sendSuccess(displayName)), nil
}

func (e *Engine) handleEditDraft(sess *session.Session, msg Message) ([]string, error) {
	switch msg.Normalized {
	case "subject":
		sess.Step = session.StepEditSubject
		return []string{msgAskNewSubject}, nil
	case "body":
		sess.Step = session.StepEditBody
		return []string{msgAskNewBody}, nil
	case "recipient":
		sess.Step = session.StepEditRecipient
		return []string{msgAskNewRecipient}, nil
	default:
		return []string{msgEditFieldReprompt}, nil
	}
}

// handleEditField overwrites exactly the field being edited and returns to
// confirm_draft; the other draft fields are untouched.
func (e *Engine) handleEditField(sess *session.Session, msg Message) ([]string, error) {
	draft, err := sess.Draft()
	if err != nil {
		slog.Error("Engine.handleEditField: draft invariant violated", "error", err, "step", sess.Step)
		return []string{msgChatFailed}, err
	}

	step := sess.Step
	sess.Step = session.StepConfirmDraft
	switch step {
	case session.StepEditSubject:
		draft.Subject = msg.Raw
		return []string{msgSubjectUpdated}, nil
	case session.StepEditBody:
		draft.Body = msg.Raw
		return []string{msgBodyUpdated}, nil
	default: // session.StepEditRecipient
		draft.To = msg.Raw
		return []string{recipientUpdated(DisplayName(sess.Email))}, nil
	}
}

func (e *Engine) handleSetReminder(ctx context.Context, channelID string, sess *session.Session, msg Message) ([]string, error) {
	if strings.Contains(msg.Normalized, "cancel") {
		sess.Step = session.StepWaitingForIntent
		return []string{msgReminderDiscarded}, nil
	}

	confirmation, err := e.reminders.Set(ctx, channelID, msg.Raw)
	if err != nil {
		if e.reminders.Unparsable(err) {
			return []string{msgReminderHelp}, nil
		}
		slog.Error("Engine.handleSetReminder: scheduling failed", "error", err, "channelID", channelID)
		return []string{msgChatFailed}, fmt.Errorf("reminder scheduling failed: %w", err)
	}

	sess.Step = session.StepWaitingForIntent
	return []string{confirmation}, nil
}

// handleReplyEmail is the reply workflow placeholder: acknowledge gracefully
// and return to the intent menu rather than dead-ending the channel.
func (e *Engine) handleReplyEmail(sess *session.Session) ([]string, error) {
	sess.Step = session.StepWaitingForIntent
	return []string{msgReplyUnavailable}, nil
}
