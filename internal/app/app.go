// Package app wires sources, stores and services together.
package app

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/valutatrade/config"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/ledger"
	"github.com/vadiminshakov/valutatrade/internal/mirror"
	"github.com/vadiminshakov/valutatrade/internal/reconciler"
	"github.com/vadiminshakov/valutatrade/internal/sources"
	"github.com/vadiminshakov/valutatrade/internal/storage/journal"
	"github.com/vadiminshakov/valutatrade/internal/storage/portfolios"
	"github.com/vadiminshakov/valutatrade/internal/storage/ratecache"
	"github.com/vadiminshakov/valutatrade/internal/valuation"
	"go.uber.org/zap"
)

const (
	portfoliosDirName = "portfolios"
	journalDirName    = "journal"
)

// Mirror receives every committed rate table.
type Mirror interface {
	Publish(ctx context.Context, table *domain.RateTable) error
	Ping(ctx context.Context) error
	Close() error
}

// Option configures the App.
type Option func(*options)

type options struct {
	adapters []sources.Adapter
	mirror   Mirror
	now      func() time.Time
}

// WithAdapters replaces adapters built from config.
func WithAdapters(adapters ...sources.Adapter) Option {
	return func(o *options) {
		o.adapters = adapters
	}
}

// WithMirror replaces the redis mirror built from config.
func WithMirror(m Mirror) Option {
	return func(o *options) {
		o.mirror = m
	}
}

// WithClock overrides the clock of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// App owns the rate cache and the ledger of one data directory.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	reconciler *reconciler.Reconciler
	rates      *ratecache.Store
	valuation  *valuation.Service
	ledger     *ledger.Ledger
	journal    *journal.WALStore
	mirror     Mirror

	// refreshMu serializes reconciliation cycles.
	refreshMu sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// RefreshOutcome result of a committed refresh cycle.
type RefreshOutcome struct {
	Result *reconciler.RefreshResult
	Entry  domain.HistoryEntry
}

// New opens stores under cfg.DataDir and builds all services.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	adapters := o.adapters
	if adapters == nil {
		built, err := newAdapters(cfg, o.now, logger)
		if err != nil {
			return nil, err
		}
		adapters = built
	}

	rates, err := ratecache.Open(cfg.DataDir, cfg.BaseCurrency,
		ratecache.WithLogger(logger.Named("ratecache")),
		ratecache.WithClock(o.now))
	if err != nil {
		return nil, errors.Wrap(err, "open rate cache")
	}

	portfolioStore, err := portfolios.NewStore(filepath.Join(cfg.DataDir, portfoliosDirName))
	if err != nil {
		_ = rates.Close()
		return nil, errors.Wrap(err, "open portfolios")
	}

	tradeJournal, err := journal.NewWALStore(filepath.Join(cfg.DataDir, journalDirName))
	if err != nil {
		_ = rates.Close()
		return nil, errors.Wrap(err, "open trade journal")
	}

	vs := valuation.New(rates,
		valuation.WithMaxAge(cfg.RatesTTL),
		valuation.WithClock(o.now),
		valuation.WithLogger(logger.Named("valuation")))

	l, err := ledger.New(cfg.BaseCurrency, vs, portfolioStore,
		ledger.WithJournal(tradeJournal),
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithClock(o.now))
	if err != nil {
		_ = rates.Close()
		_ = tradeJournal.Close()
		return nil, err
	}

	m := o.mirror
	if m == nil && cfg.Redis.Addr != "" {
		m = mirror.NewRedis(mirror.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.RatesTTL,
		}, logger.Named("mirror"))
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		reconciler: reconciler.New(cfg.BaseCurrency, adapters, logger.Named("reconciler")),
		rates:      rates,
		valuation:  vs,
		ledger:     l,
		journal:    tradeJournal,
		mirror:     m,
	}, nil
}

// newAdapters builds one adapter per configured source, in merge order.
func newAdapters(cfg config.Config, now func() time.Time, logger *zap.Logger) ([]sources.Adapter, error) {
	opts := sources.HTTPOptions{
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		Now:     now,
	}

	adapters := make([]sources.Adapter, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		srcOpts := opts
		srcOpts.Logger = logger.Named(src.String())
		switch src {
		case domain.SourceCoinGecko:
			adapters = append(adapters, sources.NewCoinGecko(sources.CoinGeckoConfig{
				URL:        cfg.CoinGecko.URL,
				VsCurrency: cfg.BaseCurrency,
				IDs:        cfg.CoinGecko.IDs,
			}, srcOpts))
		case domain.SourceExchangeRate:
			adapters = append(adapters, sources.NewExchangeRate(sources.ExchangeRateConfig{
				URL:        cfg.ExchangeRate.URL,
				APIKey:     cfg.ExchangeRate.APIKey,
				Base:       cfg.BaseCurrency,
				Currencies: cfg.ExchangeRate.Currencies,
			}, srcOpts))
		default:
			return nil, errors.Errorf("unsupported rate source: %s", src)
		}
	}

	return adapters, nil
}

// RefreshRates runs one reconciliation cycle and commits its table.
// On ErrNoSourcesAvailable the partial result is returned with the error.
func (a *App) RefreshRates(ctx context.Context, filter domain.Source) (*RefreshOutcome, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	result, err := a.reconciler.Refresh(ctx, filter, a.rates.Current())
	if err != nil {
		return &RefreshOutcome{Result: result}, err
	}

	entry, err := a.rates.Commit(result.NewTable, result.Summary())
	if err != nil {
		return &RefreshOutcome{Result: result}, err
	}

	if a.mirror != nil {
		if err := a.mirror.Publish(ctx, result.NewTable); err != nil {
			a.logger.Warn("failed to mirror rates", zap.Error(err))
		}
	}

	return &RefreshOutcome{Result: result, Entry: entry}, nil
}

// MirrorStatus reports "disabled", "ok" or "unreachable".
func (a *App) MirrorStatus(ctx context.Context) string {
	if a.mirror == nil {
		return "disabled"
	}
	if err := a.mirror.Ping(ctx); err != nil {
		a.logger.Debug("mirror ping failed", zap.Error(err))
		return "unreachable"
	}
	return "ok"
}

// Sources lists configured sources in merge order.
func (a *App) Sources() []domain.Source {
	return a.reconciler.Sources()
}

func (a *App) Config() config.Config         { return a.cfg }
func (a *App) Rates() *ratecache.Store       { return a.rates }
func (a *App) Valuation() *valuation.Service { return a.valuation }
func (a *App) Ledger() *ledger.Ledger        { return a.ledger }
func (a *App) Journal() *journal.WALStore    { return a.journal }

// Close releases stores and the mirror. Repeated calls return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close()
	})
	return a.closeErr
}

func (a *App) close() error {
	var errs []error
	if err := a.rates.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close rate cache"))
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close trade journal"))
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close mirror"))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
