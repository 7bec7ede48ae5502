package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"assembler/core/schema"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []Message
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, user schema.User, msg Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestMultiNotifierFansOut(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}

	m := NewMultiNotifier(a, b)
	err := m.Notify(context.Background(), schema.User{Email: "x@mail.com"}, Message{Subject: "hello"})
	require.NoError(t, err)

	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}

func TestMultiNotifierAttemptsAllTransports(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("smtp down")}
	working := &recordingNotifier{}

	m := NewMultiNotifier(failing, working)
	err := m.Notify(context.Background(), schema.User{Email: "x@mail.com"}, Message{Subject: "hello"})
	assert.Error(t, err)

	// The failure of the first transport does not skip the second.
	assert.Len(t, working.sent, 1)
}

type fakeChatClient struct {
	channels []string
	err      error
}

func (f *fakeChatClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	return channelID, "", f.err
}

func TestChatNotifier(t *testing.T) {
	fake := &fakeChatClient{}
	n := NewChatNotifierWithClient(fake)

	user := schema.User{Email: "x@mail.com", ChatId: "U12345"}
	err := n.Notify(context.Background(), user, Message{Subject: "task done", Body: "details"})
	require.NoError(t, err)
	assert.Equal(t, []string{"U12345"}, fake.channels)
}

func TestChatNotifierSkipsUnlinkedUsers(t *testing.T) {
	fake := &fakeChatClient{}
	n := NewChatNotifierWithClient(fake)

	err := n.Notify(context.Background(), schema.User{Email: "x@mail.com"}, Message{Subject: "task done"})
	require.NoError(t, err)
	assert.Empty(t, fake.channels)
}

func TestChatNotifierReportsErrors(t *testing.T) {
	fake := &fakeChatClient{err: errors.New("channel_not_found")}
	n := NewChatNotifierWithClient(fake)

	user := schema.User{Email: "x@mail.com", ChatId: "U12345"}
	err := n.Notify(context.Background(), user, Message{Subject: "task done"})
	assert.Error(t, err)
}

func TestBuildWithoutTransports(t *testing.T) {
	n := Config{}.Build()
	assert.IsType(t, LogNotifier{}, n)
}

func TestBuildSelectsConfiguredTransports(t *testing.T) {
	n := Config{SmtpHost: "smtp.example.com", SlackBotToken: "xoxb-test"}.Build()
	assert.IsType(t, &MultiNotifier{}, n)
}

func TestLoadConfigYamlOverridesEnv(t *testing.T) {
	t.Setenv("SMTP_HOST", "env.example.com")
	t.Setenv("SMTP_PORT", "25")

	path := filepath.Join(t.TempDir(), "notify.yaml")
	require.NoError(t, os.WriteFile(path, []byte("smtp_host: file.example.com\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "file.example.com", cfg.SmtpHost)
	assert.Equal(t, 25, cfg.SmtpPort) // not overridden by the file
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 587, cfg.SmtpPort)
}
