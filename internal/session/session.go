// Package session holds per-channel conversation state for Alfred.
//
// A Session records where a WhatsApp channel currently is inside a workflow
// (drafting an email, editing it, free chat) together with the slot values
// accumulated so far. Sessions are in-memory and ephemeral; they do not
// survive a process restart.
package session

import (
	"fmt"

	"github.com/wayneworks/alfred/internal/models"
)

// Step is the enumerated workflow position of a session.
type Step string

const (
	StepInitial          Step = "initial"
	StepWaitingForIntent Step = "waiting_for_intent"
	StepGetRecipient     Step = "get_recipient"
	StepGetPurpose       Step = "get_purpose"
	StepConfirmDraft     Step = "confirm_draft"
	StepEditDraft        Step = "edit_draft"
	StepEditSubject      Step = "edit_subject"
	StepEditBody         Step = "edit_body"
	StepEditRecipient    Step = "edit_recipient"
	StepReplyEmail       Step = "reply_email"
	StepSetReminder      Step = "set_reminder"
	StepChatting         Step = "chatting"
)

// draftSteps are the states in which a populated draft is a structural
// requirement of the session.
var draftSteps = map[Step]bool{
	StepConfirmDraft:  true,
	StepEditDraft:     true,
	StepEditSubject:   true,
	StepEditBody:      true,
	StepEditRecipient: true,
}

// Session is the in-memory record of one channel's workflow position and
// accumulated slot data.
type Session struct {
	Step      Step
	UserID    string
	Email     string
	Recipient string
	Purpose   string
	History   []models.ChatTurn

	draft *models.Draft
}

// New returns a fresh session at the initial step for an authenticated user.
func New(userID, email string) *Session {
	return &Session{Step: StepInitial, UserID: userID, Email: email}
}

// DraftActive reports whether the session is inside the draft confirm/edit
// workflow. The greeting short-circuit is suppressed while this holds.
func (s *Session) DraftActive() bool {
	return draftSteps[s.Step]
}

// Draft returns the in-progress draft. Calling it outside the confirm/edit
// states, or before a draft has been stored, is a programming error and is
// surfaced as one rather than returning a nil draft to mutate.
func (s *Session) Draft() (*models.Draft, error) {
	if !draftSteps[s.Step] {
		return nil, fmt.Errorf("draft referenced in step %q", s.Step)
	}
	if s.draft == nil {
		return nil, fmt.Errorf("step %q entered without a stored draft", s.Step)
	}
	return s.draft, nil
}

// SetDraft stores the draft produced by the draft generator.
func (s *Session) SetDraft(d *models.Draft) {
	s.draft = d
}

// AppendTurn records one chat turn in the free-chat history. The full
// history is retained; only a bounded window is sent to the model.
func (s *Session) AppendTurn(role, content string) {
	s.History = append(s.History, models.ChatTurn{Role: role, Content: content})
}

// RecentHistory returns the last n turns of the conversation history,
// most-recent-last. It returns the whole history when it is shorter than n.
func (s *Session) RecentHistory(n int) []models.ChatTurn {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
