package mail

import (
	"errors"
	"strings"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

func TestNew_Defaults(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if m.config.FromEmail == "" || m.config.FromName == "" {
		t.Error("Defaults not applied")
	}
	if m.send != nil {
		t.Error("Expected console-only mode without an API key")
	}
}

func TestNew_RequiresSupportInboxWithKey(t *testing.T) {
	if _, err := New(Config{SendGridAPIKey: "sg-key"}); err == nil {
		t.Fatal("Expected error when SendGrid is enabled without a support inbox")
	}
}

func TestSendContact_ConsoleModeSucceeds(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = m.SendContact(ContactMessage{FromUID: "uid-1", Subject: "Help", Body: "It broke"})
	if err != nil {
		t.Errorf("Console-only send returned %v", err)
	}
}

func TestSendContact_BuildsMessage(t *testing.T) {
	m, err := New(Config{
		SendGridAPIKey: "sg-key",
		SupportEmail:   "support@sinu.app",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var captured *mail.SGMailV3
	m.send = func(msg *mail.SGMailV3) error {
		captured = msg
		return nil
	}

	err = m.SendContact(ContactMessage{
		FromUID:   "uid-1",
		FromEmail: "ada@example.com",
		Subject:   "Billing question",
		Body:      "Why <twice>?",
	})
	if err != nil {
		t.Fatalf("SendContact failed: %v", err)
	}
	if captured == nil {
		t.Fatal("send was not called")
	}
	if captured.Subject != "[Support] Billing question" {
		t.Errorf("Subject = %q", captured.Subject)
	}
	if captured.ReplyTo == nil || captured.ReplyTo.Address != "ada@example.com" {
		t.Errorf("ReplyTo = %+v", captured.ReplyTo)
	}

	var plain, html string
	for _, content := range captured.Content {
		switch content.Type {
		case "text/plain":
			plain = content.Value
		case "text/html":
			html = content.Value
		}
	}
	if !strings.Contains(plain, "Why <twice>?") {
		t.Errorf("Plain body missing message: %q", plain)
	}
	if strings.Contains(html, "<twice>") {
		t.Errorf("HTML body not escaped: %q", html)
	}
}

func TestSendContact_PropagatesSendError(t *testing.T) {
	m, err := New(Config{SendGridAPIKey: "sg-key", SupportEmail: "support@sinu.app"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sentinel := errors.New("delivery down")
	m.send = func(*mail.SGMailV3) error { return sentinel }

	if err := m.SendContact(ContactMessage{Subject: "x", Body: "y"}); !errors.Is(err, sentinel) {
		t.Errorf("Expected sentinel error back, got %v", err)
	}
}
