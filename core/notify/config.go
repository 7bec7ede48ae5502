package notify

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config selects and configures the notification transports. Values come from
// the environment; an optional YAML file overrides them.
type Config struct {
	SmtpHost     string `env:"SMTP_HOST" yaml:"smtp_host"`
	SmtpPort     int    `env:"SMTP_PORT" envDefault:"587" yaml:"smtp_port"`
	SmtpUsername string `env:"SMTP_USERNAME" yaml:"smtp_username"`
	SmtpPassword string `env:"SMTP_PASSWORD" yaml:"smtp_password"`
	EmailFrom    string `env:"EMAIL_FROM" yaml:"email_from"`

	SlackBotToken string `env:"SLACK_BOT_TOKEN" yaml:"slack_bot_token"`
}

func LoadConfig(yamlPath string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing notification env config: %w", err)
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return cfg, fmt.Errorf("error reading notification config file '%v': %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing notification config file '%v': %w", yamlPath, err)
		}
	}

	return cfg, nil
}

// Build composes a notifier from the configured transports. With no transport
// configured notifications are logged only.
func (c Config) Build() Notifier {
	notifiers := make([]Notifier, 0, 2)

	if c.SmtpHost != "" {
		slog.Info("email notifications enabled", "host", c.SmtpHost, "port", c.SmtpPort)
		notifiers = append(notifiers, NewEmailNotifier(c.SmtpHost, c.SmtpPort, c.SmtpUsername, c.SmtpPassword, c.EmailFrom))
	}
	if c.SlackBotToken != "" {
		slog.Info("chat notifications enabled")
		notifiers = append(notifiers, NewChatNotifier(c.SlackBotToken))
	}

	if len(notifiers) == 0 {
		slog.Info("no notification transport configured, notifications will only be logged")
		return LogNotifier{}
	}

	return NewMultiNotifier(notifiers...)
}
