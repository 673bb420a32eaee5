package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// Subscription names one set of subscribed chats.
type Subscription string

const (
	// Digest receives the weekly toad.
	Digest Subscription = "digest"
	// Crypto receives the rate report and trend alerts.
	Crypto Subscription = "crypto"
)

// Subscriptions lists every known set.
var Subscriptions = []Subscription{Digest, Crypto}

// ParseSubscription validates a subscription name.
func ParseSubscription(raw string) (Subscription, error) {
	switch s := Subscription(strings.ToLower(strings.TrimSpace(raw))); s {
	case Digest, Crypto:
		return s, nil
	default:
		return "", fmt.Errorf("unknown subscription %q", raw)
	}
}

func (s Subscription) table() (string, error) {
	switch s {
	case Digest:
		return "active_chats", nil
	case Crypto:
		return "active_crypto_chats", nil
	default:
		return "", fmt.Errorf("unknown subscription %q", string(s))
	}
}

// TrendAlert records one delivered trend notification.
type TrendAlert struct {
	ID         int64
	Symbol     string
	Rate       decimal.Decimal
	Grew       bool
	Recipients int
	CreatedAt  time.Time
}

// Direction renders Grew as "up" or "down".
func (a TrendAlert) Direction() string {
	if a.Grew {
		return "up"
	}
	return "down"
}

// ChatStore holds the subscribed chat sets and the display-name mapping.
type ChatStore interface {
	ListActiveChats(ctx context.Context, sub Subscription) ([]int64, error)
	AddChat(ctx context.Context, sub Subscription, chatID int64) error
	RemoveChat(ctx context.Context, sub Subscription, chatID int64) error
	DisplayNames(ctx context.Context) (map[int64]string, error)
	SetDisplayName(ctx context.Context, userID int64, name string) error
}

// TrendAlertStore defines operations for trend alert auditing.
type TrendAlertStore interface {
	InsertTrendAlert(ctx context.Context, alert TrendAlert) (TrendAlert, error)
	ListRecentTrendAlerts(ctx context.Context, limit int) ([]TrendAlert, error)
	ListTrendAlertsBetween(ctx context.Context, from, to time.Time) ([]TrendAlert, error)
	DeleteTrendAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// Backend is a complete storage implementation.
type Backend interface {
	ChatStore
	TrendAlertStore
	EnsureSchema(ctx context.Context) error
	Close()
}

// ChatSet binds a ChatStore to one subscription.
type ChatSet struct {
	Store ChatStore
	Sub   Subscription
}

// List returns the chats of the set.
func (c ChatSet) List(ctx context.Context) ([]int64, error) {
	return c.Store.ListActiveChats(ctx, c.Sub)
}

// AddChat registers chatID in the set.
func (c ChatSet) AddChat(ctx context.Context, chatID int64) error {
	return c.Store.AddChat(ctx, c.Sub, chatID)
}

// RemoveChat deregisters chatID from the set.
func (c ChatSet) RemoveChat(ctx context.Context, chatID int64) error {
	return c.Store.RemoveChat(ctx, c.Sub, chatID)
}
