package notify

import (
	"context"
	"fmt"
	"log/slog"

	"assembler/core/schema"

	"github.com/slack-go/slack"
)

// chatClient abstracts the Slack API methods we use, enabling test fakes.
type chatClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// ChatNotifier posts messages to a user's linked chat channel. Users without
// a linked chat id are skipped silently.
type ChatNotifier struct {
	client chatClient
}

func NewChatNotifier(botToken string) *ChatNotifier {
	return &ChatNotifier{client: slack.New(botToken)}
}

func NewChatNotifierWithClient(client chatClient) *ChatNotifier {
	return &ChatNotifier{client: client}
}

func (c *ChatNotifier) Notify(ctx context.Context, user schema.User, msg Message) error {
	if user.ChatId == "" {
		return nil
	}

	text := msg.Subject
	if msg.Body != "" {
		text = fmt.Sprintf("*%v*\n%v", msg.Subject, msg.Body)
	}

	_, _, err := c.client.PostMessageContext(ctx, user.ChatId, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Error("error sending chat notification", "user_id", user.Id, "chat_id", user.ChatId, "error", err)
		return fmt.Errorf("error sending chat notification: %w", err)
	}

	return nil
}
