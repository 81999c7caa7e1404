package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

// DefaultCoinGeckoURL public simple price endpoint.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoConfig settings of the CoinGecko adapter.
type CoinGeckoConfig struct {
	URL string
	// VsCurrency currency prices are quoted in, e.g. USD.
	VsCurrency string
	// IDs maps tickers to CoinGecko coin ids, e.g. BTC -> bitcoin.
	IDs map[string]string
}

// CoinGecko adapter for crypto prices.
type CoinGecko struct {
	cfg     CoinGeckoConfig
	fetcher *httpFetcher
}

// NewCoinGecko creates the CoinGecko adapter.
func NewCoinGecko(cfg CoinGeckoConfig, opts HTTPOptions) *CoinGecko {
	if cfg.URL == "" {
		cfg.URL = DefaultCoinGeckoURL
	}
	cfg.VsCurrency = strings.ToUpper(cfg.VsCurrency)
	return &CoinGecko{cfg: cfg, fetcher: newHTTPFetcher(domain.SourceCoinGecko, opts)}
}

// Source implements Adapter.
func (c *CoinGecko) Source() domain.Source { return domain.SourceCoinGecko }

// Fetch implements Adapter.
func (c *CoinGecko) Fetch(ctx context.Context) ([]domain.RateQuote, error) {
	if len(c.cfg.IDs) == 0 {
		return nil, nil
	}

	tickers := make([]string, 0, len(c.cfg.IDs))
	ids := make([]string, 0, len(c.cfg.IDs))
	for ticker := range c.cfg.IDs {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	for _, ticker := range tickers {
		ids = append(ids, c.cfg.IDs[ticker])
	}

	vs := strings.ToLower(c.cfg.VsCurrency)
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", vs)

	// {"bitcoin": {"usd": 59337.21}, ...}
	var payload map[string]map[string]json.Number
	if err := c.fetcher.getJSON(ctx, c.cfg.URL+"?"+query.Encode(), &payload); err != nil {
		return nil, err
	}

	fetchedAt := c.fetcher.now().UTC()
	quotes := make([]domain.RateQuote, 0, len(tickers))
	for _, ticker := range tickers {
		node, ok := payload[c.cfg.IDs[ticker]]
		if !ok {
			continue
		}
		raw, ok := node[vs]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, newFetchError(domain.SourceCoinGecko, ErrMalformedResponse,
				errors.Wrapf(err, "parse %s price", ticker))
		}
		if !price.IsPositive() {
			c.fetcher.logger.Warn("skipping non-positive price", zap.String("currency", ticker))
			continue
		}
		quotes = append(quotes, domain.RateQuote{
			Currency:  strings.ToUpper(ticker),
			Price:     domain.RoundRate(price),
			Base:      c.cfg.VsCurrency,
			Source:    domain.SourceCoinGecko,
			FetchedAt: fetchedAt,
		})
	}

	return quotes, nil
}
