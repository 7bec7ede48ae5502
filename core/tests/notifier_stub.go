package tests

import (
	"context"
	"sync"

	"assembler/core/notify"
	"assembler/core/schema"
)

type sentNotification struct {
	Email   string
	Subject string
	Body    string
}

// notifierStub records notifications so tests can assert on fan-out without a
// real transport.
type notifierStub struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *notifierStub) Notify(ctx context.Context, user schema.User, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Email: user.Email, Subject: msg.Subject, Body: msg.Body})
	return nil
}

func (n *notifierStub) sentTo(email string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	matches := make([]sentNotification, 0)
	for _, s := range n.sent {
		if s.Email == email {
			matches = append(matches, s)
		}
	}
	return matches
}
