// Package mail delivers support-contact messages. With a SendGrid API key it
// sends real email; without one it logs the message instead, which is the
// development mode.
package mail

import (
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Config holds mailer configuration
type Config struct {
	// SendGridAPIKey enables real delivery; empty means console-only mode.
	SendGridAPIKey string

	// FromEmail and FromName identify the sender. FromEmail must be a
	// SendGrid-verified sender address.
	FromEmail string
	FromName  string

	// SupportEmail is the inbox that receives contact messages.
	SupportEmail string

	// Logger is used for structured logging (default: NoopLogger).
	Logger lifecycle.Logger
}

// Mailer sends support-contact email.
type Mailer struct {
	config Config
	send   func(*mail.SGMailV3) error
}

// New creates a new Mailer
func New(config Config) (*Mailer, error) {
	if config.SendGridAPIKey != "" && config.SupportEmail == "" {
		return nil, fmt.Errorf("support email is required when SendGrid is enabled")
	}
	if config.FromEmail == "" {
		config.FromEmail = "no-reply@sinu.app"
	}
	if config.FromName == "" {
		config.FromName = "Sinu"
	}
	if config.Logger == nil {
		config.Logger = &lifecycle.NoopLogger{}
	}

	m := &Mailer{config: config}
	if config.SendGridAPIKey != "" {
		client := sendgrid.NewSendClient(config.SendGridAPIKey)
		m.send = func(msg *mail.SGMailV3) error {
			response, err := client.Send(msg)
			if err != nil {
				return fmt.Errorf("failed to send email: %w", err)
			}
			if response.StatusCode >= 400 {
				return fmt.Errorf("sendgrid returned error status %d: %s", response.StatusCode, response.Body)
			}
			return nil
		}
	}
	return m, nil
}

// ContactMessage is one message submitted through the support form.
type ContactMessage struct {
	FromUID   string
	FromEmail string
	Subject   string
	Body      string
}

// SendContact forwards a support message to the support inbox. The sender's
// address goes into Reply-To so support can answer directly.
func (m *Mailer) SendContact(msg ContactMessage) error {
	if m.send == nil {
		m.config.Logger.Info("support message (console-only mode, not sent)",
			lifecycle.Field{Key: "from_uid", Value: msg.FromUID},
			lifecycle.Field{Key: "from_email", Value: msg.FromEmail},
			lifecycle.Field{Key: "subject", Value: msg.Subject})
		return nil
	}

	subject := "[Support] " + msg.Subject
	plain := fmt.Sprintf("From: %s (%s)\n\n%s", msg.FromEmail, msg.FromUID, msg.Body)
	htmlBody := fmt.Sprintf("<p><strong>From:</strong> %s (%s)</p><p>%s</p>",
		html.EscapeString(msg.FromEmail), html.EscapeString(msg.FromUID),
		html.EscapeString(msg.Body))

	from := mail.NewEmail(m.config.FromName, m.config.FromEmail)
	to := mail.NewEmail("Support", m.config.SupportEmail)
	message := mail.NewSingleEmail(from, subject, to, plain, htmlBody)
	if msg.FromEmail != "" {
		message.SetReplyTo(mail.NewEmail("", msg.FromEmail))
	}

	if err := m.send(message); err != nil {
		m.config.Logger.Error("support message delivery failed",
			lifecycle.Field{Key: "error", Value: err.Error()},
			lifecycle.Field{Key: "from_uid", Value: msg.FromUID})
		return err
	}
	return nil
}
