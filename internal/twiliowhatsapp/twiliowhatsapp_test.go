package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("NewClient() error = nil, want missing credentials error")
	}
	if _, err := NewClient(WithAccountSID("sid"), WithAuthToken("token")); err == nil {
		t.Error("NewClient() error = nil, want missing from number error")
	}
	if _, err := NewClient(WithAccountSID("sid"), WithAuthToken("token"), WithFrom("whatsapp:+15551234567")); err != nil {
		t.Errorf("NewClient() error = %v", err)
	}
}

func TestMockClientRecordsSends(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+15551234567", "as you wish"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(m.SentMessages) != 1 || m.SentMessages[0].Body != "as you wish" {
		t.Errorf("SentMessages = %+v", m.SentMessages)
	}
}
