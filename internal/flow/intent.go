// Package flow implements Alfred's per-channel conversational state machine:
// intent classification, the session step transitions, and the outbound
// message shaping for WhatsApp delivery.
package flow

import (
	"regexp"
	"strings"
)

// Message is one inbound message in both raw and normalized form. The
// classifiers are pure predicates over this value, evaluated in a fixed
// priority order by the engine.
type Message struct {
	Raw        string
	Normalized string
}

// NewMessage normalizes an inbound message (trimmed, lower-cased).
func NewMessage(raw string) Message {
	trimmed := strings.TrimSpace(raw)
	return Message{Raw: trimmed, Normalized: strings.ToLower(trimmed)}
}

var (
	aboutMeRegex      = regexp.MustCompile(`(?i)(who (are|r) you|tell me about yourself|what do you do|introduce yourself)`)
	greetingOnlyRegex = regexp.MustCompile(`^(hi|hello|hey|greetings|alfred)[!.]*$`)
	inlineEmailRegex  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	emailIntentRegex  = regexp.MustCompile(`\b(send|write|compose|mail|email|message|tell|inform|reach out|contact)\b`)
	reminderRegex     = regexp.MustCompile(`(remind|reminder|remember)`)
	replyIntentRegex  = regexp.MustCompile(`reply.*email`)

	// fillers stripped from a compressed one-shot email request when
	// deriving the purpose from the remaining text.
	emailIDFillerRegex = regexp.MustCompile(`(?i)email.*id.*is`)
	leadingVerbRegex   = regexp.MustCompile(`(?i)^(please\s+)?(send|write|compose|mail|email|message|tell|inform|reach out to|contact)(\s+(an?|the))?(\s+(email|mail|message))?(\s+to)?\b`)
	spaceRunRegex      = regexp.MustCompile(`\s+`)
)

// IsAboutMe reports whether the message asks who the assistant is.
func (m Message) IsAboutMe() bool {
	return aboutMeRegex.MatchString(m.Raw)
}

// IsGreetingOnly reports whether the entire message is a greeting token,
// optionally followed by punctuation.
func (m Message) IsGreetingOnly() bool {
	return greetingOnlyRegex.MatchString(m.Normalized)
}

// InlineEmailAddress returns the first email-address substring found
// anywhere in the raw message.
func (m Message) InlineEmailAddress() (string, bool) {
	match := inlineEmailRegex.FindString(m.Raw)
	return match, match != ""
}

// IsEmailRequest reports whether the message contains an email-intent verb.
func (m Message) IsEmailRequest() bool {
	return emailIntentRegex.MatchString(m.Normalized)
}

// IsReminderRequest reports whether the message contains a reminder keyword.
func (m Message) IsReminderRequest() bool {
	return reminderRegex.MatchString(m.Normalized)
}

// IsReplyRequest reports whether the message asks to reply to an email.
func (m Message) IsReplyRequest() bool {
	return replyIntentRegex.MatchString(m.Normalized)
}

// CompressedPurpose derives the purpose of a one-shot email request by
// stripping the matched recipient address and filler phrases from the raw
// message. A false positive simply yields an empty purpose, which the
// engine replaces with a placeholder rather than failing.
func (m Message) CompressedPurpose(recipient string) string {
	s := strings.Replace(m.Raw, recipient, "", 1)
	s = replaceFirst(emailIDFillerRegex, s)
	s = strings.TrimSpace(spaceRunRegex.ReplaceAllString(s, " "))
	s = strings.TrimSpace(replaceFirst(leadingVerbRegex, s))
	return s
}

// replaceFirst removes the first match of re from s.
func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[1]:]
}
