package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"wednesday-alerts/internal/alerting"
	"wednesday-alerts/internal/cache"
	"wednesday-alerts/internal/config"
	"wednesday-alerts/internal/fetcher"
	"wednesday-alerts/internal/logging"
	"wednesday-alerts/internal/retry"
	"wednesday-alerts/internal/scheduler"
	"wednesday-alerts/internal/service"
	"wednesday-alerts/internal/storage"
	"wednesday-alerts/internal/toads"
	"wednesday-alerts/internal/trend"
	"wednesday-alerts/internal/version"
	"wednesday-alerts/internal/worker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) fetchOptions(baseURL, apiKey string) fetcher.Options {
	return fetcher.Options{
		BaseURL:   baseURL,
		Timeout:   a.Config.Fetch.RequestTimeout,
		UserAgent: a.userAgent(),
		APIKey:    apiKey,
	}
}

func (a *App) userAgent() string {
	if a.Config.Fetch.UserAgent != "" {
		return a.Config.Fetch.UserAgent
	}
	return version.UserAgent()
}

func (a *App) fetchPolicy() retry.Policy {
	return retry.Policy{Attempts: a.Config.Fetch.Attempts, Delay: a.Config.Fetch.RetryDelay}
}

// buildAssets binds every configured asset to its price provider.
func (a *App) buildAssets(coingecko *fetcher.CoinGecko) ([]trend.Asset, error) {
	binance := fetcher.NewBinance(a.fetchOptions(a.Config.Fetch.BinanceURL, ""), a.Logger)

	assets := make([]trend.Asset, 0, len(a.Config.Assets))
	for _, ac := range a.Config.Assets {
		id := ac.ProviderID
		if id == "" {
			id = ac.Symbol
		}
		var source fetcher.PriceFetcher
		switch strings.ToLower(ac.Provider) {
		case "binance":
			source = binance
		case "coingecko":
			source = coingecko
		default:
			return nil, fmt.Errorf("asset %s: unknown provider %q", ac.Symbol, ac.Provider)
		}
		assets = append(assets, trend.Asset{
			Symbol:     strings.ToUpper(ac.Symbol),
			Step:       ac.Step,
			HistoryKey: ac.HistoryKey,
			Fetch:      fetcher.Bind(source, id),
		})
	}
	return assets, nil
}

func (a *App) assetSchedules() map[string]string {
	out := make(map[string]string, len(a.Config.Assets))
	for _, ac := range a.Config.Assets {
		out[strings.ToUpper(ac.Symbol)] = ac.Schedule
	}
	return out
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	if a.Config.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn: %w", storage.ErrNotConfigured)
	}
	return storage.Open(ctx, a.Config.Database)
}

// runtime holds the wired collaborators of a running process.
type runtime struct {
	store   storage.Backend
	cache   *cache.Redis
	service *service.Service
	loop    *worker.Loop
}

func (rt *runtime) close() {
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

// wire connects storage, cache, and the bot, then assembles the service and
// its worker loop.
func (a *App) wire(ctx context.Context) (*runtime, error) {
	if err := a.Config.ValidateRuntime(); err != nil {
		return nil, err
	}

	rt := &runtime{}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store

	rt.cache, err = cache.NewRedis(ctx, cache.RedisOptions{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
		Prefix:   a.Config.Redis.Prefix,
	}, a.Logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	tg, err := alerting.NewTelegram(alerting.TelegramOptions{
		Token:   a.Config.Telegram.BotToken,
		APIBase: a.Config.Telegram.APIBase,
		Timeout: a.Config.Telegram.Timeout,
	}, a.Logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	broadcaster := alerting.NewBroadcaster(tg, alerting.BroadcastOptions{
		MaxResends:     a.Config.Telegram.MaxResends,
		NetworkBackoff: a.Config.Telegram.NetworkBackoff,
		RatePerSecond:  a.Config.Telegram.RatePerSec,
	}, a.Logger)

	coingecko := fetcher.NewCoinGecko(a.fetchOptions(a.Config.Fetch.CoinGeckoURL, ""), a.Logger)
	assets, err := a.buildAssets(coingecko)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.service = service.New(service.Deps{
		Chats:       store,
		Alerts:      store,
		Cache:       rt.cache,
		Broadcaster: broadcaster,
		Change:      coingecko,
		Dominance:   fetcher.NewCoinMarketCap(a.fetchOptions(a.Config.Fetch.CoinMarketCapURL, a.Config.Fetch.CoinMarketCapKey), a.Logger),
		Toads:       toads.NewPicker(),
		Assets:      assets,
	}, service.Options{
		CoinGeckoID:    a.Config.Rates.CoinGeckoID,
		LamboThreshold: a.Config.Rates.LamboThreshold,
		DominanceTTL:   a.Config.Rates.DominanceTTL,
		HeartbeatTTL:   a.Config.Scheduler.HeartbeatTTL,
		FetchPolicy:    a.fetchPolicy(),
	}, a.Logger)

	opts := worker.Options{TaskTimeout: a.Config.Scheduler.TaskTimeout}
	if locker, ok := store.(worker.Locker); ok {
		opts.Locker = locker
		opts.LockKey = a.Config.Scheduler.AdvisoryLockKey
	}
	rt.loop = worker.New(rt.service.Resolve, logging.NewLogReporter(a.Logger), opts, a.Logger)
	return rt, nil
}

// Run executes the long-running notification service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	loc, err := scheduler.ParseOffset(a.Config.Scheduler.UTCOffset)
	if err != nil {
		return err
	}
	rules := rt.service.Rules(a.Config.Scheduler.Wednesday, a.Config.Scheduler.Rates, a.Config.Scheduler.Heartbeat, a.assetSchedules())
	sched, err := scheduler.New(rules, scheduler.Options{Tick: a.Config.Scheduler.Tick, Location: loc}, a.Logger)
	if err != nil {
		return err
	}

	next := sched.Next(time.Now())
	for _, r := range sched.Rules() {
		a.Logger.Info().Str("rule", r.Name).Str("spec", r.Spec).Str("task", string(r.Task)).Time("next", next[r.Name]).Msg("rule scheduled")
	}

	queue := make(chan scheduler.Task, a.Config.Scheduler.QueueSize)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- rt.loop.Run(ctx, queue)
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.Logger.Warn().Err(err).Msg("systemd ready notification failed")
	} else if sent {
		a.Logger.Debug().Msg("systemd notified ready")
	}

	a.Logger.Info().Int("rules", len(rules)).Str("utc_offset", a.Config.Scheduler.UTCOffset).Str("version", version.String()).Msg("starting notification service")
	err = sched.Run(ctx, queue)
	cancel()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	select {
	case <-workerDone:
	case <-time.After(a.Config.Scheduler.TaskTimeout + time.Second):
		a.Logger.Warn().Msg("worker did not stop in time")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("notification service stopped")
	return nil
}

// Trigger runs one task synchronously through the worker loop.
func (a *App) Trigger(ctx context.Context, task scheduler.Task) error {
	rt, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, ok := rt.service.Resolve(task); !ok {
		return fmt.Errorf("task %s: %w", task, worker.ErrNoHandler)
	}
	return rt.loop.Execute(ctx, task)
}

// ExportOptions hold parameters for exporting the trend alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Symbol    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit       int
	PruneBefore *time.Time
}

// ChatsOptions configure the chats command.
type ChatsOptions struct {
	Subscription storage.Subscription
	Add          []int64
	Remove       []int64
}

// SimulateOptions configure a dry replay of prices through the detector.
type SimulateOptions struct {
	Symbol string
	Step   float64
	Prices []float64
}
