package alerting

import (
	"context"
	"fmt"
	"time"
)

// Kind classifies a failed delivery to one chat.
type Kind int

const (
	KindOther Kind = iota
	KindBlocked
	KindNotFound
	KindDeactivated
	KindRateLimited
	KindMigrated
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindNotFound:
		return "not_found"
	case KindDeactivated:
		return "deactivated"
	case KindRateLimited:
		return "rate_limited"
	case KindMigrated:
		return "migrated"
	case KindNetwork:
		return "network"
	default:
		return "other"
	}
}

// RecipientGone reports whether the chat will never accept messages again.
func (k Kind) RecipientGone() bool {
	return k == KindBlocked || k == KindNotFound || k == KindDeactivated
}

// DeliveryError is returned by a Messenger for classified failures.
type DeliveryError struct {
	Kind       Kind
	RetryAfter time.Duration
	MigrateTo  int64
	Err        error
}

func (e *DeliveryError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("delivery %s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	case KindMigrated:
		return fmt.Sprintf("delivery %s to %d: %v", e.Kind, e.MigrateTo, e.Err)
	default:
		return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Messenger is the chat platform client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Registry is the mutable set of chats a broadcast targets.
type Registry interface {
	AddChat(ctx context.Context, chatID int64) error
	RemoveChat(ctx context.Context, chatID int64) error
}
