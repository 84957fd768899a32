// Package notify defines the outbound notification sink consumed by the
// authentication core. Delivery is fire-and-forget: failures are logged by
// the caller and never abort an authentication flow.
package notify

import (
	"context"

	"authly.org/internal/obs"
)

// Sink delivers out-of-band messages (reset links, MFA codes).
type Sink interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, body string) error
}

// LogSink writes would-be deliveries to the shared logger. Used when no
// real provider is configured and in tests.
type LogSink struct{}

func (LogSink) SendEmail(ctx context.Context, to, subject, body string) error {
	obs.Log(map[string]any{
		"type": "notify", "channel": "email", "to": to, "subject": subject,
	})
	return nil
}

func (LogSink) SendSMS(ctx context.Context, to, body string) error {
	obs.Log(map[string]any{
		"type": "notify", "channel": "sms", "to": to,
	})
	return nil
}
