package trend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wednesday-alerts/internal/cache"
	"wednesday-alerts/internal/fetcher"
	"wednesday-alerts/internal/retry"
)

// Asset describes one tracked instrument.
type Asset struct {
	Symbol     string
	Step       float64
	HistoryKey string
	Fetch      fetcher.PriceFunc
}

// Key returns the cache key holding the asset's history.
func (a Asset) Key() string {
	if a.HistoryKey != "" {
		return a.HistoryKey
	}
	return strings.ToUpper(a.Symbol) + "_LAST_RATE"
}

// Outcome classifies one detector pass.
type Outcome int

const (
	// Seeded means the history was empty and the first observation was stored.
	Seeded Outcome = iota
	// Unchanged means the price stayed inside the head's bucket; nothing was written.
	Unchanged
	// Recorded means a crossing was pushed but the confirmation gate held.
	Recorded
	// Notified means a crossing was pushed and confirmed the previous direction.
	Notified
)

func (o Outcome) String() string {
	switch o {
	case Seeded:
		return "seeded"
	case Unchanged:
		return "unchanged"
	case Recorded:
		return "recorded"
	case Notified:
		return "notified"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the result of evaluating one price against an asset history.
type Decision struct {
	Outcome    Outcome
	Rate       float64
	Grew       bool
	Bucket     int64
	PrevBucket int64
}

// Bucket quantises rate by step, rounding toward negative infinity.
func Bucket(rate, step float64) int64 {
	return decimal.NewFromFloat(rate).Div(decimal.NewFromFloat(step)).Floor().IntPart()
}

// Evaluate decides what to do with current given the stored history
// (newest first). It is free of side effects.
func Evaluate(prev []cache.Observation, current, step float64) Decision {
	bucket := Bucket(current, step)
	if len(prev) == 0 {
		return Decision{Outcome: Seeded, Rate: current, Grew: true, Bucket: bucket, PrevBucket: bucket}
	}

	head := prev[0]
	prevBucket := Bucket(head.Rate, step)
	d := Decision{Rate: current, Bucket: bucket, PrevBucket: prevBucket}
	if bucket == prevBucket {
		d.Outcome = Unchanged
		d.Grew = head.Grew
		return d
	}

	d.Grew = bucket > prevBucket
	length := len(prev) + 1
	if length > cache.MaxHistory {
		length = cache.MaxHistory
	}
	// Only the pre-update head is compared, not the whole window.
	if length >= cache.MaxHistory && d.Grew == head.Grew {
		d.Outcome = Notified
	} else {
		d.Outcome = Recorded
	}
	return d
}

// Notifier delivers a confirmed trend signal.
type Notifier interface {
	NotifyTrend(ctx context.Context, asset Asset, rate float64, grew bool) error
}

// Detector runs the read, decide, write cycle for tracked assets.
type Detector struct {
	store    cache.Store
	notifier Notifier
	policy   retry.Policy
	logger   zerolog.Logger
}

// NewDetector builds a detector. A zero policy falls back to retry.Default.
func NewDetector(store cache.Store, notifier Notifier, policy retry.Policy, logger zerolog.Logger) *Detector {
	if policy.Attempts == 0 {
		policy = retry.Default
	}
	return &Detector{
		store:    store,
		notifier: notifier,
		policy:   policy,
		logger:   logger.With().Str("component", "trend").Logger(),
	}
}

// Check fetches the asset price and advances its history.
func (d *Detector) Check(ctx context.Context, asset Asset) (Decision, error) {
	if asset.Fetch == nil {
		return Decision{}, fmt.Errorf("asset %s has no price source", asset.Symbol)
	}
	if err := validStep(asset); err != nil {
		return Decision{}, err
	}

	prev, err := d.store.History(ctx, asset.Key())
	if err != nil {
		return Decision{}, fmt.Errorf("load %s history: %w", asset.Symbol, err)
	}
	current, err := retry.Value(ctx, d.policy, asset.Fetch)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch %s price: %w", asset.Symbol, err)
	}
	if !finite(current) {
		return Decision{}, fmt.Errorf("asset %s: price %v is not finite", asset.Symbol, current)
	}
	return d.apply(ctx, asset, prev, current)
}

// Observe advances the history with an externally supplied price.
func (d *Detector) Observe(ctx context.Context, asset Asset, current float64) (Decision, error) {
	if err := validStep(asset); err != nil {
		return Decision{}, err
	}
	if !finite(current) {
		return Decision{}, fmt.Errorf("asset %s: price %v is not finite", asset.Symbol, current)
	}
	prev, err := d.store.History(ctx, asset.Key())
	if err != nil {
		return Decision{}, fmt.Errorf("load %s history: %w", asset.Symbol, err)
	}
	return d.apply(ctx, asset, prev, current)
}

func validStep(asset Asset) error {
	if !finite(asset.Step) || asset.Step <= 0 {
		return fmt.Errorf("asset %s has invalid step %v", asset.Symbol, asset.Step)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (d *Detector) apply(ctx context.Context, asset Asset, prev []cache.Observation, current float64) (Decision, error) {
	decision := Evaluate(prev, current, asset.Step)
	log := d.logger.With().
		Str("symbol", asset.Symbol).
		Float64("rate", current).
		Int64("bucket", decision.Bucket).
		Int64("prev_bucket", decision.PrevBucket).
		Logger()

	if decision.Outcome == Unchanged {
		log.Debug().Msg("price within bucket")
		return decision, nil
	}

	obs := cache.Observation{Rate: current, Grew: decision.Grew}
	if err := d.store.Push(ctx, asset.Key(), obs); err != nil {
		return decision, fmt.Errorf("store %s observation: %w", asset.Symbol, err)
	}
	log.Info().Str("outcome", decision.Outcome.String()).Bool("grew", decision.Grew).Msg("bucket crossed")

	if decision.Outcome != Notified {
		return decision, nil
	}
	if d.notifier == nil {
		return decision, errors.New("trend notifier not configured")
	}
	if err := d.notifier.NotifyTrend(ctx, asset, current, decision.Grew); err != nil {
		return decision, fmt.Errorf("notify %s trend: %w", asset.Symbol, err)
	}
	return decision, nil
}
