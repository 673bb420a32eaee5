package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wednesday-alerts/internal/alerting"
	"wednesday-alerts/internal/cache"
	"wednesday-alerts/internal/fetcher"
	"wednesday-alerts/internal/retry"
	"wednesday-alerts/internal/scheduler"
	"wednesday-alerts/internal/storage"
	"wednesday-alerts/internal/trend"
	"wednesday-alerts/internal/worker"
)

const (
	btcDominanceKey = "BTC_DOMINANCE"
	ethDominanceKey = "ETH_DOMINANCE"
	heartbeatKey    = "heartbeat"
)

// Broadcaster fans a message out to a chat set.
type Broadcaster interface {
	Broadcast(ctx context.Context, registry alerting.Registry, chatIDs []int64, text string) (alerting.Report, error)
}

// ToadPicker returns the weekly toad link.
type ToadPicker interface {
	Pick() string
}

// Options hold the report and heartbeat settings.
type Options struct {
	CoinGeckoID    string
	LamboThreshold float64
	DominanceTTL   time.Duration
	HeartbeatTTL   time.Duration
	FetchPolicy    retry.Policy
}

// Deps are the collaborators of a Service. Alerts, Dominance and Toads may be nil.
type Deps struct {
	Chats       storage.ChatStore
	Alerts      storage.TrendAlertStore
	Cache       cache.Store
	Broadcaster Broadcaster
	Change      fetcher.ChangeFetcher
	Dominance   fetcher.DominanceFetcher
	Toads       ToadPicker
	Assets      []trend.Asset
}

// Service implements the task handlers.
type Service struct {
	deps     Deps
	opts     Options
	detector *trend.Detector
	assets   map[string]trend.Asset
	notify   func(state string) (bool, error)
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs the service and its trend detector.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.FetchPolicy.Attempts == 0 {
		opts.FetchPolicy = retry.Default
	}
	if opts.CoinGeckoID == "" {
		opts.CoinGeckoID = "bitcoin"
	}
	s := &Service{
		deps:   deps,
		opts:   opts,
		assets: make(map[string]trend.Asset, len(deps.Assets)),
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		now:    time.Now,
		logger: logger.With().Str("component", "service").Logger(),
	}
	for _, a := range deps.Assets {
		s.assets[strings.ToUpper(a.Symbol)] = a
	}
	s.detector = trend.NewDetector(deps.Cache, s, opts.FetchPolicy, logger)
	return s
}

// Resolve maps a task token to its handler.
func (s *Service) Resolve(task scheduler.Task) (worker.Handler, bool) {
	switch task {
	case scheduler.TaskWednesday:
		return func(ctx context.Context, _ scheduler.Task) error { return s.SendWednesday(ctx) }, true
	case scheduler.TaskCrypto:
		return func(ctx context.Context, _ scheduler.Task) error { return s.SendRates(ctx) }, true
	case scheduler.TaskHeartbeat:
		return func(ctx context.Context, _ scheduler.Task) error { return s.Heartbeat(ctx) }, true
	}
	if symbol, ok := task.Asset(); ok {
		if _, known := s.assets[symbol]; known {
			return func(ctx context.Context, _ scheduler.Task) error { return s.CheckTrend(ctx, symbol) }, true
		}
	}
	return nil, false
}

// Rules returns the timer rules for the recurring broadcasts and every asset.
func (s *Service) Rules(wednesday, rates, heartbeat string, assetSchedules map[string]string) []scheduler.Rule {
	rules := []scheduler.Rule{
		{Name: "wednesday", Spec: wednesday, Task: scheduler.TaskWednesday},
		{Name: "crypto", Spec: rates, Task: scheduler.TaskCrypto},
		{Name: "heartbeat", Spec: heartbeat, Task: scheduler.TaskHeartbeat},
	}
	for _, a := range s.deps.Assets {
		symbol := strings.ToUpper(a.Symbol)
		rules = append(rules, scheduler.Rule{
			Name: "trend_" + strings.ToLower(symbol),
			Spec: assetSchedules[symbol],
			Task: scheduler.TrendTask(symbol),
		})
	}
	return rules
}

// SendWednesday broadcasts a random toad to the digest set.
func (s *Service) SendWednesday(ctx context.Context) error {
	if s.deps.Toads == nil {
		return errors.New("toad picker not configured")
	}
	link := s.deps.Toads.Pick()
	_, err := s.broadcast(ctx, storage.Digest, link)
	return err
}

// SendRates broadcasts the BTC price report to the crypto set.
func (s *Service) SendRates(ctx context.Context) error {
	if s.deps.Change == nil {
		return errors.New("rates fetcher not configured")
	}
	type quote struct{ price, change float64 }
	q, err := retry.Value(ctx, s.opts.FetchPolicy, func(ctx context.Context) (quote, error) {
		price, change, err := s.deps.Change.PriceWithChange(ctx, s.opts.CoinGeckoID)
		return quote{price, change}, err
	})
	if err != nil {
		return fmt.Errorf("fetch btc rate: %w", err)
	}

	report := alerting.RatesReport{
		BTC:            decimal.NewFromFloat(q.price),
		Change24h:      decimal.NewFromFloat(q.change),
		LamboThreshold: decimal.NewFromFloat(s.opts.LamboThreshold),
	}
	if btc, eth, err := s.Dominance(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("dominance unavailable, omitted from report")
	} else {
		b, e := decimal.NewFromFloat(btc), decimal.NewFromFloat(eth)
		report.BTCDominance, report.ETHDominance = &b, &e
	}

	_, err = s.broadcast(ctx, storage.Crypto, alerting.FormatRates(report))
	return err
}

// Dominance returns BTC and ETH dominance, reading through the scalar cache.
// The upstream is asked once; the values are cached for DominanceTTL.
func (s *Service) Dominance(ctx context.Context) (float64, float64, error) {
	if s.deps.Cache != nil {
		btc, okBTC, err := s.deps.Cache.Scalar(ctx, btcDominanceKey)
		if err != nil {
			return 0, 0, err
		}
		eth, okETH, err := s.deps.Cache.Scalar(ctx, ethDominanceKey)
		if err != nil {
			return 0, 0, err
		}
		if okBTC && okETH {
			return btc, eth, nil
		}
	}
	if s.deps.Dominance == nil {
		return 0, 0, errors.New("dominance fetcher not configured")
	}

	var btc, eth float64
	err := retry.Do(ctx, retry.Once, func(ctx context.Context) error {
		var err error
		btc, eth, err = s.deps.Dominance.Dominance(ctx)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("fetch dominance: %w", err)
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetScalar(ctx, btcDominanceKey, btc, s.opts.DominanceTTL); err != nil {
			s.logger.Warn().Err(err).Msg("cache btc dominance")
		}
		if err := s.deps.Cache.SetScalar(ctx, ethDominanceKey, eth, s.opts.DominanceTTL); err != nil {
			s.logger.Warn().Err(err).Msg("cache eth dominance")
		}
	}
	return btc, eth, nil
}

// CheckTrend runs the trend detector for one asset.
func (s *Service) CheckTrend(ctx context.Context, symbol string) error {
	asset, ok := s.assets[strings.ToUpper(symbol)]
	if !ok {
		return fmt.Errorf("asset %s is not tracked", symbol)
	}
	_, err := s.detector.Check(ctx, asset)
	return err
}

// NotifyTrend broadcasts a confirmed trend to the crypto set and records it.
func (s *Service) NotifyTrend(ctx context.Context, asset trend.Asset, rate float64, grew bool) error {
	report, err := s.broadcast(ctx, storage.Crypto, alerting.FormatTrend(asset.Symbol, rate, grew))
	if s.deps.Alerts != nil && report.Delivered > 0 {
		record := storage.TrendAlert{
			Symbol:     asset.Symbol,
			Rate:       decimal.NewFromFloat(rate),
			Grew:       grew,
			Recipients: report.Delivered,
		}
		if _, insertErr := s.deps.Alerts.InsertTrendAlert(ctx, record); insertErr != nil {
			s.logger.Error().Err(insertErr).Str("symbol", asset.Symbol).Msg("failed to persist trend alert")
		}
	}
	return err
}

// Heartbeat logs liveness, stamps the cache, and pings the systemd watchdog.
func (s *Service) Heartbeat(ctx context.Context) error {
	now := s.now().UTC()
	s.logger.Info().Time("at", now).Int("assets", len(s.assets)).Msg("heartbeat")

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetScalar(ctx, heartbeatKey, float64(now.Unix()), s.opts.HeartbeatTTL); err != nil {
			return fmt.Errorf("store heartbeat: %w", err)
		}
	}
	if sent, err := s.notify(daemon.SdNotifyWatchdog); err != nil {
		s.logger.Warn().Err(err).Msg("systemd watchdog notification failed")
	} else if sent {
		s.logger.Debug().Msg("systemd watchdog notified")
	}
	return nil
}

// LastHeartbeat returns the time of the last recorded heartbeat.
func (s *Service) LastHeartbeat(ctx context.Context) (time.Time, bool, error) {
	if s.deps.Cache == nil {
		return time.Time{}, false, nil
	}
	v, ok, err := s.deps.Cache.Scalar(ctx, heartbeatKey)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	return time.Unix(int64(v), 0).UTC(), true, nil
}

func (s *Service) broadcast(ctx context.Context, sub storage.Subscription, text string) (alerting.Report, error) {
	if s.deps.Chats == nil || s.deps.Broadcaster == nil {
		return alerting.Report{}, storage.ErrNotConfigured
	}
	set := storage.ChatSet{Store: s.deps.Chats, Sub: sub}
	ids, err := set.List(ctx)
	if err != nil {
		return alerting.Report{}, fmt.Errorf("list %s chats: %w", sub, err)
	}
	if len(ids) == 0 {
		s.logger.Info().Str("subscription", string(sub)).Msg("no active chats, skip broadcast")
		return alerting.Report{}, nil
	}
	report, err := s.deps.Broadcaster.Broadcast(ctx, set, ids, text)
	if err != nil {
		return report, fmt.Errorf("broadcast to %s chats: %w", sub, err)
	}
	return report, nil
}

var _ trend.Notifier = (*Service)(nil)
