package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/valutatrade/config"
	"github.com/vadiminshakov/valutatrade/internal/app"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

var now = time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	source domain.Source
	quotes []domain.RateQuote
}

func (f *fakeAdapter) Source() domain.Source { return f.source }

func (f *fakeAdapter) Fetch(context.Context) ([]domain.RateQuote, error) {
	return f.quotes, nil
}

func quote(currency, price string, source domain.Source) domain.RateQuote {
	return domain.RateQuote{
		Currency:  currency,
		Price:     decimal.RequireFromString(price),
		Base:      "USD",
		Source:    source,
		FetchedAt: now,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	a, err := app.New(cfg, zap.NewNop(),
		app.WithClock(func() time.Time { return now }),
		app.WithAdapters(
			&fakeAdapter{source: domain.SourceCoinGecko, quotes: []domain.RateQuote{
				quote("BTC", "50000", domain.SourceCoinGecko),
				quote("ETH", "3000", domain.SourceCoinGecko),
			}},
			&fakeAdapter{source: domain.SourceExchangeRate, quotes: []domain.RateQuote{
				quote("EUR", "1.25", domain.SourceExchangeRate),
			}},
		))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ts := httptest.NewServer(NewServer("", a, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)
	return ts, a
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	var resp healthResponse
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "USD", resp.Base)
	assert.Zero(t, resp.Rates)
	assert.Equal(t, "disabled", resp.Mirror)
}

func TestRates_EmptyCache(t *testing.T) {
	ts, _ := newTestServer(t)

	var resp errorResponse
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, ts.URL+"/rates", "", &resp))
	assert.Contains(t, resp.Error, "empty")

	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, ts.URL+"/rates/BTC/USD", "", nil))
}

func TestRefreshAndQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	var refresh refreshResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/rates/refresh", "", &refresh))
	assert.Equal(t, 3, refresh.Updated)
	assert.Equal(t, 3, refresh.Total)
	require.Len(t, refresh.Sources, 2)
	assert.True(t, refresh.Sources[0].OK)
	assert.NotEmpty(t, refresh.HistoryID)

	var rates ratesResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/rates?top=1", "", &rates))
	require.Len(t, rates.Rates, 1)
	assert.Equal(t, "BTC", rates.Rates[0].Currency)

	var pair pairResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/rates/eur/usd", "", &pair))
	assert.Equal(t, "EUR", pair.From)
	assert.True(t, pair.Rate.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, pair.Reverse.Equal(decimal.RequireFromString("0.8")))

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/rates/XRP/USD", "", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, http.MethodGet, ts.URL+"/rates/X/USD", "", nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/rates?top=abc", "", nil))

	var history []domain.HistoryEntry
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/history", "", &history))
	require.Len(t, history, 1)
	assert.Equal(t, refresh.HistoryID, history[0].ID)
}

func TestRefresh_UnknownSource(t *testing.T) {
	ts, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, ts.URL+"/rates/refresh?source=binance", "", nil))
}

func TestTrades(t *testing.T) {
	ts, a := newTestServer(t)
	_, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)

	var receipt domain.Receipt
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/portfolios/alice/deposit", `{"currency":"USD","amount":"10000"}`, &receipt))
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/portfolios/alice/buy", `{"currency":"BTC","amount":"0.1"}`, &receipt))
	assert.Equal(t, domain.SideBuy, receipt.Side)
	assert.True(t, receipt.Value.Equal(decimal.NewFromInt(5000)))

	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, ts.URL+"/portfolios/alice/sell", `{"currency":"ETH","amount":"1"}`, nil))
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, ts.URL+"/portfolios/alice/buy", `{"currency":"BTC","amount":"1"}`, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, http.MethodPost, ts.URL+"/portfolios/alice/buy", `{"currency":"BTC","amount":"-1"}`, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, http.MethodPost, ts.URL+"/portfolios/alice/buy", `{"currency":"USD","amount":"1"}`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, ts.URL+"/portfolios/alice/buy", `not json`, nil))

	var portfolio portfolioResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/portfolios/alice?base=EUR", "", &portfolio))
	assert.Equal(t, "EUR", portfolio.Base)
	require.Len(t, portfolio.Holdings, 2)
	assert.True(t, portfolio.Total.Equal(decimal.NewFromInt(8000)))

	var receipts []domain.Receipt
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/portfolios/alice/receipts", "", &receipts))
	assert.Len(t, receipts, 2)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnknownCurrency, http.StatusNotFound},
		{domain.ErrInsufficientFunds, http.StatusConflict},
		{domain.ErrInsufficientHoldings, http.StatusConflict},
		{domain.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{domain.ErrInvalidCurrency, http.StatusUnprocessableEntity},
		{domain.ErrEmptyCache, http.StatusServiceUnavailable},
		{domain.ErrStaleRate, http.StatusServiceUnavailable},
		{domain.ErrNoSourcesAvailable, http.StatusServiceUnavailable},
		{domain.ErrPersistence, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHistoryStream(t *testing.T) {
	ts, a := newTestServer(t)
	outcome, err := a.RefreshRates(context.Background(), domain.SourceAll)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/history/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: refresh\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var entry domain.HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry))
	assert.Equal(t, outcome.Entry.ID, entry.ID)
	assert.Equal(t, 3, entry.TotalRatesWritten)
}
