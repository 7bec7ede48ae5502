// Package notify delivers best-effort notifications to users over email and
// chat. Delivery is fire-and-forget from the caller's perspective: failures
// are logged and reported but never block or roll back the triggering change.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"assembler/core/schema"
)

type Message struct {
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, user schema.User, msg Message) error
}

// MultiNotifier fans a message out to every transport. Each transport is
// attempted even if an earlier one fails.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Notify(ctx context.Context, user schema.User, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, user, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only records the message. Used when no transport is configured
// and as the default in tests.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, user schema.User, msg Message) error {
	slog.Info("notification (no transport configured)", "user_id", user.Id, "email", user.Email, "subject", msg.Subject)
	return nil
}
