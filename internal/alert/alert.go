// Package alert delivers owner notifications for exchanges the
// automated reply could not close out.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Notifier delivers one owner notification.
type Notifier interface {
	Notify(ctx context.Context, subject string, body string) error
}

// Opts holds configuration options for the SendGrid notifier.
type Opts struct {
	APIKey   string
	To       string
	From     string
	FromName string
}

// Option defines a configuration option for the SendGrid notifier.
type Option func(*Opts)

// WithAPIKey sets the SendGrid API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTo sets the owner's notification address.
func WithTo(addr string) Option {
	return func(o *Opts) { o.To = addr }
}

// WithFrom sets the sending address. Must be a sender verified with
// SendGrid.
func WithFrom(addr string) Option {
	return func(o *Opts) { o.From = addr }
}

// SendGridNotifier sends notifications as plain-text email through the
// SendGrid API.
type SendGridNotifier struct {
	client *sendgrid.Client
	to     string
	from   string
	name   string
}

var _ Notifier = (*SendGridNotifier)(nil)

// NewSendGridNotifier creates a SendGrid-backed notifier from options,
// falling back to the SENDGRID_API_KEY, REPLYDESK_ALERT_TO and
// REPLYDESK_ALERT_FROM environment variables for anything not provided.
func NewSendGridNotifier(opts ...Option) (*SendGridNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("SENDGRID_API_KEY")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("REPLYDESK_ALERT_TO")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("REPLYDESK_ALERT_FROM")
	}
	if cfg.FromName == "" {
		cfg.FromName = "ReplyDesk"
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sendgrid API key must be provided")
	}
	if cfg.To == "" || cfg.From == "" {
		return nil, fmt.Errorf("alert to and from addresses must be provided")
	}

	return &SendGridNotifier{
		client: sendgrid.NewSendClient(cfg.APIKey),
		to:     cfg.To,
		from:   cfg.From,
		name:   cfg.FromName,
	}, nil
}

// Notify sends the notification email. Any non-2xx SendGrid status is
// an error so the dispatcher retries it.
func (n *SendGridNotifier) Notify(ctx context.Context, subject string, body string) error {
	from := mail.NewEmail(n.name, n.from)
	to := mail.NewEmail("", n.to)
	message := mail.NewSingleEmailPlainText(from, subject, to, body)

	resp, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		slog.Error("SendGridNotifier.Notify: send failed", "to", n.to, "error", err)
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("SendGridNotifier.Notify: non-2xx response", "to", n.to, "status", resp.StatusCode)
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	slog.Debug("SendGridNotifier.Notify: notification sent", "to", n.to, "subject", subject)
	return nil
}

// NewNotifierFromEnv returns a SendGrid notifier when the environment
// carries full credentials, and a NoopNotifier otherwise. Missing
// configuration downgrades alerting instead of failing startup; replies
// keep flowing either way.
func NewNotifierFromEnv() Notifier {
	n, err := NewSendGridNotifier()
	if err != nil {
		slog.Warn("Alert notifications disabled", "reason", err)
		return NoopNotifier{}
	}
	slog.Info("Alert notifications enabled via SendGrid")
	return n
}

// NoopNotifier drops notifications. Used when alerting is unconfigured.
type NoopNotifier struct{}

var _ Notifier = NoopNotifier{}

// Notify logs the dropped notification and succeeds.
func (NoopNotifier) Notify(ctx context.Context, subject string, body string) error {
	slog.Debug("NoopNotifier.Notify: dropping notification", "subject", subject)
	return nil
}

// Notification is one recorded MockNotifier delivery.
type Notification struct {
	Subject string
	Body    string
}

// MockNotifier records notifications for tests.
type MockNotifier struct {
	Err error // returned by Notify when set

	mu            sync.Mutex
	notifications []Notification
}

var _ Notifier = (*MockNotifier)(nil)

// NewMockNotifier creates a MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// Notify records the notification and returns the configured error.
func (m *MockNotifier) Notify(ctx context.Context, subject string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.notifications = append(m.notifications, Notification{Subject: subject, Body: body})
	return nil
}

// Notifications returns a copy of the recorded notifications.
func (m *MockNotifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notifications...)
}
