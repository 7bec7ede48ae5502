package notify

import (
	"context"
	"fmt"
	"log/slog"

	"assembler/core/schema"

	"gopkg.in/gomail.v2"
)

// EmailNotifier sends plain-text mail over SMTP.
type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailNotifier(host string, port int, username, password, from string) *EmailNotifier {
	return &EmailNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (e *EmailNotifier) Notify(ctx context.Context, user schema.User, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetAddressHeader("To", user.Email, user.FullName())
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := e.dialer.DialAndSend(m); err != nil {
		slog.Error("error sending notification email", "user_id", user.Id, "error", err)
		return fmt.Errorf("error sending notification email: %w", err)
	}

	return nil
}
