package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/valutatrade/config"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/sources"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var now = time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	mu     sync.Mutex
	source domain.Source
	quotes []domain.RateQuote
	err    error
}

func (f *fakeAdapter) Source() domain.Source { return f.source }

func (f *fakeAdapter) Fetch(context.Context) ([]domain.RateQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes, f.err
}

func (f *fakeAdapter) set(quotes []domain.RateQuote, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes, f.err = quotes, err
}

type fakeMirror struct {
	mu        sync.Mutex
	published []*domain.RateTable
	err       error
}

func (m *fakeMirror) Publish(_ context.Context, table *domain.RateTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, table)
	return m.err
}

func (m *fakeMirror) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *fakeMirror) Close() error { return nil }

func quote(currency, price string, source domain.Source) domain.RateQuote {
	return domain.RateQuote{
		Currency:  currency,
		Price:     decimal.RequireFromString(price),
		Base:      "USD",
		Source:    source,
		FetchedAt: now,
	}
}

func cryptoAdapter() *fakeAdapter {
	return &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("BTC", "50000", domain.SourceCoinGecko),
		quote("ETH", "3000", domain.SourceCoinGecko),
		quote("SOL", "150", domain.SourceCoinGecko),
	}}
}

func fiatAdapter() *fakeAdapter {
	return &fakeAdapter{source: domain.SourceExchangeRate, quotes: []domain.RateQuote{
		quote("EUR", "1.25", domain.SourceExchangeRate),
		quote("GBP", "2", domain.SourceExchangeRate),
		quote("RUB", "0.0125", domain.SourceExchangeRate),
	}}
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func newApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	a, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRefreshRates_ThreePlusThree(t *testing.T) {
	m := &fakeMirror{}
	a := newApp(t, testConfig(t), WithAdapters(cryptoAdapter(), fiatAdapter()), WithMirror(m))

	outcome, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)

	assert.Equal(t, 6, outcome.Result.UpdatedCount)
	assert.Equal(t, 6, a.Rates().Current().Len())
	assert.Equal(t, 6, outcome.Entry.TotalRatesWritten)
	require.Len(t, m.published, 1)
	assert.Equal(t, 6, m.published[0].Len())
}

func TestRefreshRates_Idempotent(t *testing.T) {
	a := newApp(t, testConfig(t), WithAdapters(cryptoAdapter(), fiatAdapter()))

	_, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)
	first := a.Rates().Current()

	_, err = a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)

	assert.True(t, first.Equal(a.Rates().Current()))
	history, err := a.Rates().History()
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.NotEqual(t, history[0].ID, history[1].ID)
}

func TestRefreshRates_NoSourcesKeepsCache(t *testing.T) {
	cg := cryptoAdapter()
	a := newApp(t, testConfig(t), WithAdapters(cg))

	_, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)

	cg.set(nil, &sources.FetchError{Source: domain.SourceCoinGecko, Kind: sources.ErrUnreachable})
	outcome, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoSourcesAvailable))
	require.NotNil(t, outcome.Result)
	assert.Equal(t, []domain.Source{domain.SourceCoinGecko}, outcome.Result.FailedSources())

	assert.Equal(t, 3, a.Rates().Current().Len())
	history, err := a.Rates().History()
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRefreshRates_MirrorFailureIsNotFatal(t *testing.T) {
	a := newApp(t, testConfig(t), WithAdapters(cryptoAdapter()), WithMirror(&fakeMirror{err: errors.New("redis down")}))

	_, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Rates().Current().Len())
}

func TestApp_TradeAfterRefresh(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg, WithAdapters(cryptoAdapter(), fiatAdapter()))
	ctx := context.Background()

	_, err := a.Ledger().Buy(ctx, "alice", "BTC", decimal.NewFromInt(1))
	require.True(t, errors.Is(err, domain.ErrEmptyCache))

	_, err = a.RefreshRates(ctx, domain.SourceAll)
	require.NoError(t, err)

	_, err = a.Ledger().Deposit(ctx, "alice", "USD", decimal.NewFromInt(10000))
	require.NoError(t, err)
	r, err := a.Ledger().Buy(ctx, "alice", "BTC", decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	assert.True(t, r.Value.Equal(decimal.NewFromInt(5000)))

	records, err := a.Journal().ReceiptsAfter(0, "alice")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.NoError(t, a.Close())

	reopened := newApp(t, cfg, WithAdapters(cryptoAdapter()))
	p, err := reopened.Ledger().Portfolio(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Balance("BTC").Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 6, reopened.Rates().Current().Len())
}

func TestRunRefresher_StopsOnCancel(t *testing.T) {
	a := newApp(t, testConfig(t), WithAdapters(cryptoAdapter()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.RunRefresher(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return a.Rates().Current().Len() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestNewAdapters_FollowConfigOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []domain.Source{domain.SourceExchangeRate, domain.SourceCoinGecko}

	adapters, err := newAdapters(cfg, time.Now, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, domain.SourceExchangeRate, adapters[0].Source())
	assert.Equal(t, domain.SourceCoinGecko, adapters[1].Source())
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "actions.log")
	logger, err := NewLogger(config.Log{Level: zapcore.InfoLevel, File: path})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()
	assert.FileExists(t, path)
}

func TestMirrorStatus(t *testing.T) {
	a := newApp(t, testConfig(t), WithAdapters(cryptoAdapter()))
	assert.Equal(t, "disabled", a.MirrorStatus(context.Background()))

	b := newApp(t, testConfig(t), WithAdapters(cryptoAdapter()), WithMirror(&fakeMirror{}))
	assert.Equal(t, "ok", b.MirrorStatus(context.Background()))

	c := newApp(t, testConfig(t), WithAdapters(cryptoAdapter()), WithMirror(&fakeMirror{err: errors.New("redis down")}))
	assert.Equal(t, "unreachable", c.MirrorStatus(context.Background()))
}
