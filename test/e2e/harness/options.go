package harness

import "time"

// Option configures the harness before the server is assembled.
type Option func(*Harness) error

// WithTimeout sets how long WaitForRun keeps polling. The default of one
// minute covers a clone plus a few quick shell steps on a loaded CI box.
//
// Example:
//
//	h := harness.New(t, harness.WithTimeout(2*time.Minute))
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) error {
		h.timeout = d
		return nil
	}
}

// WithWebhookSecret enables the GitHub webhook ingress. Without it the
// server rejects every delivery, matching a deployment that never
// configured github.webhook_secret.
//
// Example:
//
//	h := harness.New(t, harness.WithWebhookSecret("hush"))
func WithWebhookSecret(secret string) Option {
	return func(h *Harness) error {
		h.webhookSecret = secret
		return nil
	}
}
