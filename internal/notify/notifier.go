// Package notify defines the out-of-band notification collaborator. Sends
// are best-effort and single-attempt; the caller decides whether a failure
// matters.
package notify

import "context"

// Notifier delivers a text message to a destination contact (for the modem
// implementation, a phone number in international format).
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}
