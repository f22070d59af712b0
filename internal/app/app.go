package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drawdown-alerts/internal/config"
	"drawdown-alerts/internal/engine"
	"drawdown-alerts/internal/notify"
	"drawdown-alerts/internal/quote"
	"drawdown-alerts/internal/scheduler"
	"drawdown-alerts/internal/storage"
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

func (a *App) watchlist() []engine.Asset {
	assets := make([]engine.Asset, 0, len(a.Config.Watchlist))
	for _, entry := range a.Config.Watchlist {
		assets = append(assets, engine.Asset{
			Symbol: entry.Symbol,
			Name:   entry.Name,
			Class:  quote.AssetClass(entry.Class),
		})
	}
	return assets
}

func (a *App) newQuoteFetcher() quote.Fetcher {
	yahoo := quote.NewYahoo(quote.YahooOptions{
		BaseURL:   a.Config.Yahoo.BaseURL,
		Timeout:   a.Config.Yahoo.RequestTimeout,
		UserAgent: a.Config.Yahoo.UserAgent,
	}, a.Logger)

	var onchain *quote.Chainlink
	if a.Config.Ethereum.RPCURL != "" && len(a.Config.Ethereum.Feeds) > 0 {
		onchain = quote.NewChainlink(quote.ChainlinkOptions{
			RPCURL:  a.Config.Ethereum.RPCURL,
			Feeds:   a.Config.Ethereum.Feeds,
			Timeout: a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
	}

	return quote.NewSelector(yahoo, onchain)
}

func (a *App) newNotifier() notify.Dispatcher {
	if !a.Config.Notification.Enabled {
		return nil
	}
	return notify.NewExpoDispatcher(a.Config.Notification.PushURL, a.Config.Notification.RequestTimeout, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) engineOptions() engine.Options {
	return engine.Options{
		ThresholdPct: decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		Cooldown:     a.Config.Alerting.Cooldown,
		Sound:        a.Config.Notification.Sound,
	}
}

func (a *App) newEngine(store *storage.Store, notifier notify.Dispatcher) *engine.Engine {
	var history storage.ObservationStore
	if a.Config.History.Enabled && store != nil {
		history = store
	}

	var (
		peaks  storage.PeakStore
		alerts storage.AlertStore
		execs  storage.ExecutionStore
		tokens storage.DeviceTokenStore
	)
	if store != nil {
		peaks = store
		alerts = store
		execs = store
		tokens = store
	}

	return engine.New(a.engineOptions(), a.newQuoteFetcher(), peaks, alerts, execs, tokens, history, notifier, a.Logger)
}

// Run executes the monitoring service: one pass per aligned interval, or a
// single pass when once is set (external-trigger mode).
func (a *App) Run(ctx context.Context, once bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the monitoring service")
	}
	if closeStore != nil {
		defer closeStore()
	}

	eng := a.newEngine(store, a.newNotifier())
	watchlist := a.watchlist()
	lockKey := a.Config.Scheduler.AdvisoryLockKey

	pass := func(ctx context.Context, startedAt time.Time) error {
		if lockKey != 0 {
			unlock, acquired, lockErr := store.TryAdvisoryLock(ctx, lockKey)
			if lockErr != nil {
				return lockErr
			}
			if !acquired {
				a.Logger.Debug().Time("started_at", startedAt).Msg("skip pass because advisory lock held elsewhere")
				return nil
			}
			defer unlock()
		}

		_, runErr := eng.RunPass(ctx, watchlist)
		return runErr
	}

	if once {
		a.Logger.Info().Msg("running single monitoring pass")
		return pass(ctx, time.Now().UTC())
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = sched.Run(ctx, pass)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// StatusOptions configure the status report.
type StatusOptions struct {
	SkipQuotes bool
}

// LogsOptions configure the execution log report.
type LogsOptions struct {
	Executions int
	Alerts     int
}

// SimulateOptions configure a simulated pass.
type SimulateOptions struct {
	Symbol string
	Name   string
	Class  string
	Price  decimal.Decimal
	Peak   decimal.Decimal
	DryRun bool
}

// ExportOptions hold parameters for exporting observation history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
