// Package push delivers offline-recipient notifications. The hub hands a
// (user, summary) pair to a Notifier whenever a message event finds no live
// connection for a recipient.
package push

import (
	"context"

	"sonet/internal/domain"
)

// Noop discards notifications; used when push is disabled.
type Noop struct{}

// Notify implements domain.Notifier.
func (Noop) Notify(ctx context.Context, uid domain.UserID, summary string) error { return nil }

var _ domain.Notifier = Noop{}
