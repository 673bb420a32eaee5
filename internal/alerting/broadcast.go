package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultMaxResends     = 5
	defaultNetworkBackoff = 10 * time.Second
	defaultRatePerSecond  = 25
	defaultRetryAfter     = time.Second
)

// BroadcastOptions tune fan-out delivery.
type BroadcastOptions struct {
	MaxResends     int
	NetworkBackoff time.Duration
	RatePerSecond  float64
}

// Report summarises one broadcast.
type Report struct {
	Delivered int
	Removed   []int64
	Migrated  map[int64]int64
}

// Broadcaster fans a message out to many chats and repairs the registry on
// recipient-specific failures.
type Broadcaster struct {
	messenger Messenger
	limiter   *rate.Limiter
	opts      BroadcastOptions
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger
}

// NewBroadcaster builds a Broadcaster; zero options take defaults.
func NewBroadcaster(messenger Messenger, opts BroadcastOptions, logger zerolog.Logger) *Broadcaster {
	if opts.MaxResends <= 0 {
		opts.MaxResends = defaultMaxResends
	}
	if opts.NetworkBackoff <= 0 {
		opts.NetworkBackoff = defaultNetworkBackoff
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = defaultRatePerSecond
	}
	return &Broadcaster{
		messenger: messenger,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		opts:      opts,
		sleep:     sleepContext,
		logger:    logger.With().Str("component", "broadcast").Logger(),
	}
}

// Broadcast sends text to every chat in order. Chats that are gone are
// removed from registry and skipped; migrated chats are re-registered and
// retried once. Any unclassified failure aborts the remaining fan-out.
func (b *Broadcaster) Broadcast(ctx context.Context, registry Registry, chatIDs []int64, text string) (Report, error) {
	report := Report{Migrated: map[int64]int64{}}
	for _, chatID := range chatIDs {
		if err := b.deliver(ctx, registry, chatID, text, &report); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", chatID).Int("delivered", report.Delivered).Msg("broadcast aborted")
			return report, err
		}
	}
	b.logger.Info().
		Int("chats", len(chatIDs)).
		Int("delivered", report.Delivered).
		Int("removed", len(report.Removed)).
		Int("migrated", len(report.Migrated)).
		Msg("broadcast finished")
	return report, nil
}

func (b *Broadcaster) deliver(ctx context.Context, registry Registry, chatID int64, text string, report *Report) error {
	log := b.logger.With().Int64("chat_id", chatID).Logger()
	resends := 0
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		err := b.messenger.SendMessage(ctx, chatID, text)
		if err == nil {
			report.Delivered++
			return nil
		}

		var de *DeliveryError
		if !errors.As(err, &de) {
			return fmt.Errorf("send to chat %d: %w", chatID, err)
		}

		switch {
		case de.Kind.RecipientGone():
			log.Warn().Str("kind", de.Kind.String()).Msg("chat unreachable, removing from active chats")
			if err := registry.RemoveChat(ctx, chatID); err != nil {
				return fmt.Errorf("remove chat %d: %w", chatID, err)
			}
			report.Removed = append(report.Removed, chatID)
			return nil

		case de.Kind == KindMigrated && de.MigrateTo != 0:
			return b.migrate(ctx, registry, chatID, de.MigrateTo, text, report)

		case de.Kind == KindRateLimited || de.Kind == KindNetwork:
			resends++
			if resends > b.opts.MaxResends {
				return fmt.Errorf("send to chat %d after %d resends: %w", chatID, b.opts.MaxResends, err)
			}
			wait := b.opts.NetworkBackoff
			if de.Kind == KindRateLimited {
				wait = de.RetryAfter
				if wait <= 0 {
					wait = defaultRetryAfter
				}
			}
			log.Warn().Str("kind", de.Kind.String()).Dur("wait", wait).Int("resend", resends).Msg("delivery deferred")
			if err := b.sleep(ctx, wait); err != nil {
				return err
			}

		default:
			return fmt.Errorf("send to chat %d: %w", chatID, err)
		}
	}
}

func (b *Broadcaster) migrate(ctx context.Context, registry Registry, from, to int64, text string, report *Report) error {
	log := b.logger.With().Int64("chat_id", from).Int64("migrate_to", to).Logger()
	log.Warn().Msg("chat migrated, replacing id")

	if err := registry.RemoveChat(ctx, from); err != nil {
		return fmt.Errorf("remove migrated chat %d: %w", from, err)
	}
	if err := registry.AddChat(ctx, to); err != nil {
		return fmt.Errorf("add migrated chat %d: %w", to, err)
	}
	report.Migrated[from] = to

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.messenger.SendMessage(ctx, to, text); err != nil {
		log.Warn().Err(err).Msg("resend to migrated chat failed")
		return nil
	}
	report.Delivered++
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
