package flow

import "fmt"

// ChatSystemPrompt is the persona system prompt for the free-chat fallback.
const ChatSystemPrompt = "You are Alfred, Batman's butler—elegant, witty, sarcastic but helpful. Always respond in character."

// aboutText is the fixed persona description sent for "about me" queries.
const aboutText = `I am Alfred Pennyworth, the ever-loyal butler to the Wayne family. I've dedicated my life to assisting Master Bruce (Batman) and ensuring that both the manor and mission run smoothly.

I offer strategic advice, medical support, and the occasional dry wit. If you require my assistance, I am at your service. 🕰️`

func loginPrompt(authURL, channelID string) string {
	return fmt.Sprintf("🔗 Kindly connect your Google account, %s.\n%s?whatsapp=%s\n\nThen simply return and say \"Hi\", and I shall attend to your digital needs.", Honorific, authURL, channelID)
}

func aboutReply(displayName string) string {
	return fmt.Sprintf("🎩 Ah, %s, a pleasure as always.\n\n%s", displayName, aboutText)
}

func capabilityMenu(displayName string) string {
	return fmt.Sprintf("🎩 At your service, %s.\n\nI can assist with:\n- 📧 Writing or replying to an email\n- ⏰ Setting a reminder\n\nJust say what you need done, and I shall handle the rest.", displayName)
}

func draftPresentation(intro string, to, subject, body string) string {
	return fmt.Sprintf("%s\n\nTo: %s\nSubject: %s\n\n%s\n\nShall I proceed? Just say \"send\", \"edit\", or \"cancel\".", intro, to, subject, body)
}

const (
	msgDrafting          = "⏳ Drafting your message, do give me a moment..."
	msgPreparingDraft    = "⏳ Allow me a moment to prepare your draft..."
	msgAskRecipient      = "📧 Very well. Whom shall I address this email to?"
	msgAskPurpose        = "📝 And what is the purpose or message you wish to convey?"
	msgAskReminder       = "⏰ What would you like to be reminded about, and when?"
	msgAskReplySubject   = "📨 Please tell me the subject of the email you wish to reply to."
	msgInvalidAddress    = "❌ That doesn’t look like an email address. Could you try again?"
	msgDispatching       = "📤 Dispatching your email..."
	msgDraftDiscarded    = "❌ Draft discarded. Should you wish again, you know where to find me."
	msgConfirmReprompt   = "Reply with \"send\", \"edit\", or \"cancel\", kind sir."
	msgAskEditField      = "🔧 What would you like to edit? (subject/body/recipient)"
	msgEditFieldReprompt = "Please specify what to edit: subject, body, or recipient."
	msgAskNewSubject     = "✏️ Please provide the new subject:"
	msgAskNewBody        = "✏️ Please provide the new email body:"
	msgAskNewRecipient   = "✏️ Please provide the new recipient email:"
	msgSubjectUpdated    = "✅ Subject updated. Ready to send, edit more, or cancel?"
	msgBodyUpdated       = "✅ Body updated. Shall I proceed to send?"
	msgChatUnsure        = "🤔 I’m a bit unsure how to proceed. Could you rephrase that, Master?"
	msgDraftFailed       = "🤖 My apologies — the draft eluded me this time. Might we try that once more?"
	msgSendFailed        = "⚠️ I regret the dispatch did not go through. The draft is safe; say \"send\" to try again."
	msgChatFailed        = "🤖 My circuits betray me momentarily. Do say that again in a moment."
	msgReplyUnavailable  = "📨 I fear replying to existing correspondence is a skill I am still perfecting. Might I draft a fresh email instead?"
	msgReminderDiscarded = "⏰ Very well, no reminder shall be set."
	msgReminderHelp      = "⏰ Do phrase it as \"in 20 minutes\" or \"every day at 07:30\", followed by what I should remind you of."
)

func sendSuccess(displayName string) string {
	return fmt.Sprintf("✅ Your message has been sent with grace. Anything else, %s?", displayName)
}

func recipientUpdated(displayName string) string {
	return fmt.Sprintf("✅ Recipient updated. All ready, %s.", displayName)
}
