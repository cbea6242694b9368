package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gasfund/internal/alerting"
	"gasfund/internal/config"
	"gasfund/internal/feed"
	"gasfund/internal/metrics"
	"gasfund/internal/oracle"
	"gasfund/internal/predict"
	"gasfund/internal/risk"
	"gasfund/internal/scheduler"
	"gasfund/internal/service"
	"gasfund/internal/storage"
	"gasfund/internal/wallet"
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

// buildSources resolves the configured fee sources. RPC sources without
// an explicit URL or timeout inherit the ethereum block's values.
func (a *App) buildSources() ([]feed.Source, error) {
	cfgs := make([]feed.Config, 0, len(a.Config.Sources))
	for _, sc := range a.Config.Sources {
		if sc.Type == feed.TypeRPC && sc.URL == "" {
			sc.URL = a.Config.Ethereum.RPCURL
		}
		if sc.Timeout <= 0 {
			sc.Timeout = a.Config.Ethereum.RequestTimeout
		}
		cfgs = append(cfgs, sc)
	}
	return feed.Build(cfgs, a.Logger)
}

// newOracle wires the configured sources and a fresh predictor into an
// oracle. sink and history may be nil when persistence is unavailable.
func (a *App) newOracle(sink predict.Sink, history oracle.HistoryProvider) (*oracle.Oracle, error) {
	sources, err := a.buildSources()
	if err != nil {
		return nil, err
	}

	predictor := predict.New(a.Config.Prediction, sink, a.Logger)
	return oracle.New(sources, predictor, history, a.Config.Oracle, a.Logger), nil
}

func (a *App) newEngine(costs risk.CostSource) *risk.Engine {
	return risk.NewEngine(a.Config.Risk, costs, a.Logger)
}

func (a *App) newWallet() *wallet.Wallet {
	return wallet.New(wallet.Options{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
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

// Run executes the long-running fee watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sink predict.Sink
	var history oracle.HistoryProvider
	var quoteStore storage.QuoteStore
	var sampleStore storage.FeeSampleStore
	var alertStore storage.FeeAlertStore
	if store != nil {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = store
		history = store
		quoteStore = store
		sampleStore = store
		alertStore = store
	}

	orc, err := a.newOracle(sink, history)
	if err != nil {
		return err
	}

	metrics.Serve(ctx, a.Config.Metrics.Addr, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	notifier := a.newNotifier()

	svc := service.New(a.Config, sched, orc, quoteStore, sampleStore, alertStore, notifier, a.Logger)

	a.Logger.Info().Msg("starting fee watch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("fee watch service stopped")
	return nil
}

// QuoteOptions configure the one-shot quote command.
type QuoteOptions struct {
	GasLimit uint64
	MaxGwei  uint64
}

// PositionOptions configure position sizing advice. A zero Balance
// means the balance is fetched on-chain for Address (or the configured
// wallet address).
type PositionOptions struct {
	Balance  decimal.Decimal
	Address  string
	Price    decimal.Decimal
	Leverage float64
	Size     decimal.Decimal
	History  []float64
	GasLimit uint64
}

// ExportOptions hold parameters for exporting historical quotes.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
