package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/sources"
	"go.uber.org/zap"
)

var fetchedAt = time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	source domain.Source
	quotes []domain.RateQuote
	err    error
	calls  int
}

func (f *fakeAdapter) Source() domain.Source { return f.source }

func (f *fakeAdapter) Fetch(context.Context) ([]domain.RateQuote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func quote(currency, price, base string, source domain.Source) domain.RateQuote {
	return domain.RateQuote{
		Currency:  currency,
		Price:     decimal.RequireFromString(price),
		Base:      base,
		Source:    source,
		FetchedAt: fetchedAt,
	}
}

func cryptoAdapter() *fakeAdapter {
	return &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("BTC", "50000", "USD", domain.SourceCoinGecko),
		quote("ETH", "3000", "USD", domain.SourceCoinGecko),
		quote("SOL", "150", "USD", domain.SourceCoinGecko),
	}}
}

func fiatAdapter() *fakeAdapter {
	return &fakeAdapter{source: domain.SourceExchangeRate, quotes: []domain.RateQuote{
		quote("EUR", "1.25", "USD", domain.SourceExchangeRate),
		quote("GBP", "2", "USD", domain.SourceExchangeRate),
		quote("RUB", "0.0125", "USD", domain.SourceExchangeRate),
	}}
}

func newReconciler(adapters ...sources.Adapter) *Reconciler {
	return New("USD", adapters, zap.NewNop())
}

func TestRefresh_MergesAllSources(t *testing.T) {
	r := newReconciler(cryptoAdapter(), fiatAdapter())

	result, err := r.Refresh(context.Background(), domain.SourceAll, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, result.UpdatedCount)
	assert.Equal(t, 6, result.NewTable.Len())
	assert.Equal(t, []string{"BTC", "ETH", "EUR", "GBP", "RUB", "SOL"}, result.NewTable.Currencies())
	assert.Equal(t, []domain.Source{domain.SourceCoinGecko, domain.SourceExchangeRate}, result.Order)
	assert.Empty(t, result.FailedSources())

	summary := result.Summary()
	assert.Equal(t, 3, summary.SourceSummary[domain.SourceCoinGecko])
	assert.Equal(t, 3, summary.SourceSummary[domain.SourceExchangeRate])
	assert.Equal(t, 6, summary.TotalRatesWritten)
}

func TestRefresh_LaterSourceWins(t *testing.T) {
	first := &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("EUR", "1.10", "USD", domain.SourceCoinGecko),
	}}
	second := &fakeAdapter{source: domain.SourceExchangeRate, quotes: []domain.RateQuote{
		quote("EUR", "1.25", "USD", domain.SourceExchangeRate),
	}}

	result, err := newReconciler(first, second).Refresh(context.Background(), domain.SourceAll, nil)
	require.NoError(t, err)

	q, ok := result.NewTable.Quote("EUR")
	require.True(t, ok)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, domain.SourceExchangeRate, q.Source)
	assert.Equal(t, 1, result.UpdatedCount)
}

func TestRefresh_Deterministic(t *testing.T) {
	r := newReconciler(cryptoAdapter(), fiatAdapter())

	first, err := r.Refresh(context.Background(), domain.SourceAll, nil)
	require.NoError(t, err)
	second, err := r.Refresh(context.Background(), domain.SourceAll, first.NewTable)
	require.NoError(t, err)

	assert.True(t, first.NewTable.Equal(second.NewTable))
	assert.Equal(t, first.NewTable.RefreshedAt(), second.NewTable.RefreshedAt())
}

func TestRefresh_PartialFailure(t *testing.T) {
	failing := &fakeAdapter{
		source: domain.SourceExchangeRate,
		err:    &sources.FetchError{Source: domain.SourceExchangeRate, Kind: sources.ErrUnreachable},
	}
	r := newReconciler(cryptoAdapter(), failing)

	result, err := r.Refresh(context.Background(), domain.SourceAll, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.UpdatedCount)
	assert.Equal(t, []domain.Source{domain.SourceExchangeRate}, result.FailedSources())
	assert.Equal(t, []domain.Source{domain.SourceCoinGecko}, result.Succeeded())
	status := result.PerSourceStatus[domain.SourceExchangeRate]
	assert.False(t, status.OK())
	assert.True(t, errors.Is(status.Err, sources.ErrUnreachable))
}

func TestRefresh_AllSourcesFail(t *testing.T) {
	a := &fakeAdapter{source: domain.SourceCoinGecko, err: errors.New("boom")}
	b := &fakeAdapter{source: domain.SourceExchangeRate, err: errors.New("bang")}
	previous := domain.NewRateTable("USD", quote("BTC", "1", "USD", domain.SourceCoinGecko))

	result, err := newReconciler(a, b).Refresh(context.Background(), domain.SourceAll, previous)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoSourcesAvailable))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "bang")
	require.NotNil(t, result)
	assert.Nil(t, result.NewTable)
	assert.Len(t, result.FailedSources(), 2)
}

func TestRefresh_NoMatchingAdapter(t *testing.T) {
	cg := cryptoAdapter()
	_, err := newReconciler(cg).Refresh(context.Background(), domain.SourceExchangeRate, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoSourcesAvailable))
	assert.Zero(t, cg.calls)
}

func TestRefresh_FilterRunsOnlyMatchingAdapter(t *testing.T) {
	cg, er := cryptoAdapter(), fiatAdapter()

	result, err := newReconciler(cg, er).Refresh(context.Background(), domain.SourceCoinGecko, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, cg.calls)
	assert.Zero(t, er.calls)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, result.NewTable.Currencies())
}

func TestRefresh_ConvertsForeignBase(t *testing.T) {
	cg := &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("BTC", "40000", "EUR", domain.SourceCoinGecko),
	}}

	result, err := newReconciler(cg, fiatAdapter()).Refresh(context.Background(), domain.SourceAll, nil)
	require.NoError(t, err)

	q, ok := result.NewTable.Quote("BTC")
	require.True(t, ok)
	assert.Equal(t, "USD", q.Base)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(50000)), q.Price.String())
}

func TestRefresh_ConvertsWithPreviousTable(t *testing.T) {
	cg := &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("ETH", "1500", "GBP", domain.SourceCoinGecko),
	}}
	previous := domain.NewRateTable("USD", quote("GBP", "2", "USD", domain.SourceExchangeRate))

	result, err := newReconciler(cg).Refresh(context.Background(), domain.SourceAll, previous)
	require.NoError(t, err)

	q, ok := result.NewTable.Quote("ETH")
	require.True(t, ok)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(3000)), q.Price.String())
	assert.True(t, result.NewTable.Has("GBP"))
}

func TestRefresh_DropsInvalidQuotes(t *testing.T) {
	cg := &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("BTC", "50000", "USD", domain.SourceCoinGecko),
		quote("ETH", "0", "USD", domain.SourceCoinGecko),
		quote("SOL", "-1", "USD", domain.SourceCoinGecko),
		quote("USD", "1", "USD", domain.SourceCoinGecko),
		quote("DOGE", "0.1", "JPY", domain.SourceCoinGecko),
	}}

	result, err := newReconciler(cg).Refresh(context.Background(), domain.SourceAll, nil)
	require.NoError(t, err)

	status := result.PerSourceStatus[domain.SourceCoinGecko]
	assert.Equal(t, 1, status.Count)
	assert.Equal(t, 4, status.Dropped)
	assert.Equal(t, []string{"BTC"}, result.NewTable.Currencies())
}

func TestRefresh_SourceScopedEvictsStaleQuotes(t *testing.T) {
	previous := domain.NewRateTable("USD",
		quote("BTC", "40000", "USD", domain.SourceCoinGecko),
		quote("SOL", "100", "USD", domain.SourceCoinGecko),
		quote("EUR", "1.2", "USD", domain.SourceExchangeRate),
	)
	cg := &fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
		quote("BTC", "50000", "USD", domain.SourceCoinGecko),
	}}

	result, err := newReconciler(cg, fiatAdapter()).Refresh(context.Background(), domain.SourceCoinGecko, previous)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "EUR"}, result.NewTable.Currencies())
	assert.Equal(t, 1, result.UpdatedCount)
}

func TestRefresh_FullRefreshRetainsUnreported(t *testing.T) {
	previous := domain.NewRateTable("USD", quote("XRP", "0.5", "USD", domain.SourceCoinGecko))

	result, err := newReconciler(cryptoAdapter(), fiatAdapter()).Refresh(context.Background(), domain.SourceAll, previous)
	require.NoError(t, err)

	assert.Equal(t, 7, result.NewTable.Len())
	assert.True(t, result.NewTable.Has("XRP"))
	assert.Equal(t, 6, result.UpdatedCount)
}

func TestRefresh_IgnoresPreviousWithOtherBase(t *testing.T) {
	previous := domain.NewRateTable("EUR", quote("BTC", "40000", "EUR", domain.SourceCoinGecko))

	result, err := newReconciler(fiatAdapter()).Refresh(context.Background(), domain.SourceAll, previous)
	require.NoError(t, err)

	assert.Equal(t, "USD", result.NewTable.Base())
	assert.False(t, result.NewTable.Has("BTC"))
}
